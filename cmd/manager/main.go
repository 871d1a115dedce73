package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"token-manager/internal/activity"
	"token-manager/internal/api"
	"token-manager/internal/bot"
	"token-manager/internal/config"
	"token-manager/internal/database"
	"token-manager/internal/firebase"
	"token-manager/internal/ledger"
	"token-manager/internal/lock"
	"token-manager/internal/presence"
	"token-manager/internal/store"
	"token-manager/internal/worker"
)

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "firebase":
		return firebase.Connect(ctx, cfg.FirebaseURL, cfg.FirebaseAuth, cfg.HTTPTimeout)
	case "postgres":
		db, err := database.ConnectPostgres(cfg)
		if err != nil {
			return nil, err
		}
		return database.NewDocuments(db), nil
	case "memory":
		log.Println("Using in-memory store, data is lost on exit")
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

func main() {
	// Load Configuration
	cfg := config.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to the document store
	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Could not connect to store: %v", err)
	}

	// Connect to Redis
	rdb, err := database.ConnectRedis(ctx, cfg)
	if err != nil {
		log.Fatalf("Could not connect to redis: %v", err)
	}
	var locker lock.Locker = lock.NewLocal()
	if rdb != nil {
		defer rdb.Close()
		locker = lock.NewRedis(rdb, cfg.LockTTL)
	} else {
		log.Println("REDIS_HOST not set, using in-process locks")
	}

	sink := activity.NewSink(st, nil)
	tracker := presence.New(st, sink,
		presence.WithInterval(cfg.HeartbeatInterval),
		presence.WithWindow(cfg.PresenceWindow),
	)
	defer tracker.Close()

	engine := ledger.New(st, sink, locker,
		ledger.WithDefaultPrice(cfg.DefaultPrice),
		ledger.WithOnlineCheck(tracker.IsOnline),
		ledger.WithOnDelete(tracker.Forget),
	)
	if err := engine.Initialize(ctx, cfg.AdminPassword); err != nil {
		log.Fatalf("Could not initialize database: %v", err)
	}

	reaper := worker.NewReaper(tracker, sink, cfg.ReaperInterval)
	go reaper.Start(ctx)

	var tgBot *bot.Bot
	if cfg.BotToken != "" {
		tgBot, err = bot.NewBot(cfg.BotToken, engine, tracker, sink)
		if err != nil {
			log.Fatalf("Could not create telegram bot: %v", err)
		}
		go func() {
			if err := tgBot.Start(ctx); err != nil {
				log.Printf("Telegram bot stopped: %v", err)
			}
		}()
	} else {
		log.Println("TELEGRAM_BOT_TOKEN not set, telegram bot disabled")
	}

	router := api.NewRouter(&api.Server{
		Ledger:         engine,
		Presence:       tracker,
		Sink:           sink,
		Secret:         []byte(cfg.JWTSecret),
		TokenTTL:       cfg.JWTTTL,
		AdminCIDRs:     cfg.AdminAllowedCIDRs,
		TrustedProxies: cfg.TrustedProxies,
	})
	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	log.Printf("Service started successfully, API listening on %s", cfg.APIAddr)
	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown: %v", err)
	}
	if tgBot != nil {
		tgBot.Shutdown(shutdownCtx)
	}
}
