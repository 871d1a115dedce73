package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	StoreBackend      string
	FirebaseURL       string
	FirebaseAuth      string
	HTTPTimeout       time.Duration
	DBUser            string
	DBPassword        string
	DBName            string
	DBHost            string
	DBPort            string
	RedisHost         string
	RedisPort         string
	RedisPassword     string
	LockTTL           time.Duration
	BotToken          string
	APIAddr           string
	JWTSecret         string
	JWTTTL            time.Duration
	AdminPassword     string
	DefaultPrice      int64
	HeartbeatInterval time.Duration
	PresenceWindow    time.Duration
	ReaperInterval    time.Duration
	AdminAllowedCIDRs []string
	TrustedProxies    []string
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		StoreBackend:      getEnv("STORE_BACKEND", "firebase"),
		FirebaseURL:       getEnv("FIREBASE_DATABASE_URL", ""),
		FirebaseAuth:      getEnv("FIREBASE_AUTH", ""),
		HTTPTimeout:       getDuration("HTTP_TIMEOUT", 10*time.Second),
		DBUser:            getEnv("DB_USER", "postgres"),
		DBPassword:        getEnv("DB_PASSWORD", "postgres"),
		DBName:            getEnv("DB_NAME", "token_manager"),
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "5432"),
		RedisHost:         getEnv("REDIS_HOST", ""),
		RedisPort:         getEnv("REDIS_PORT", "6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		LockTTL:           getDuration("LOCK_TTL", 15*time.Second),
		BotToken:          getEnv("TELEGRAM_BOT_TOKEN", ""),
		APIAddr:           getEnv("API_ADDR", ":8080"),
		JWTSecret:         getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTTTL:            getDuration("JWT_TTL", 24*time.Hour),
		AdminPassword:     getEnv("ADMIN_PASSWORD", "admin2024"),
		DefaultPrice:      getInt64("DEFAULT_PRICE", 1500),
		HeartbeatInterval: getDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		PresenceWindow:    getDuration("PRESENCE_WINDOW", 120*time.Second),
		ReaperInterval:    getDuration("REAPER_INTERVAL", time.Minute),
		AdminAllowedCIDRs: getList("ADMIN_ALLOWED_CIDRS"),
		TrustedProxies:    getList("TRUSTED_PROXIES"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Invalid duration in %s=%q, using %s", key, value, fallback)
		return fallback
	}
	return d
}

func getInt64(key string, fallback int64) int64 {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		log.Printf("Invalid integer in %s=%q, using %d", key, value, fallback)
		return fallback
	}
	return n
}

// getList reads a comma separated value, dropping empty items.
func getList(key string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
