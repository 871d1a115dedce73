// Package api exposes the ledger, presence and chat over a JSON HTTP API.
package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"token-manager/internal/activity"
	"token-manager/internal/auth"
	"token-manager/internal/ledger"
	"token-manager/internal/models"
	"token-manager/internal/presence"
	"token-manager/internal/store"
)

type Server struct {
	Ledger     *ledger.Engine
	Presence   *presence.Tracker
	Sink       *activity.Sink
	Secret     []byte
	TokenTTL   time.Duration
	AdminCIDRs []string
	// TrustedProxies may set X-Forwarded-For; with none, ClientIP is the peer address.
	TrustedProxies []string
}

// NewRouter returns a gin engine with logging, recovery and every route registered.
func NewRouter(s *Server) *gin.Engine {
	r := gin.New()
	if err := r.SetTrustedProxies(s.TrustedProxies); err != nil {
		log.Printf("Invalid trusted proxies %v, trusting none: %v", s.TrustedProxies, err)
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Logger(), gin.Recovery(), requestID())
	s.RegisterRoutes(r)
	return r
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.POST("/login", s.login)

	authed := r.Group("/", auth.RequireJWT(s.Secret))
	authed.POST("/tokens", s.addToken)
	authed.POST("/tokens/bulk", s.addBulkTokens)
	authed.GET("/tokens/available", s.availableCount)
	authed.GET("/stats", s.stats)
	authed.GET("/users/:username", s.getUser)
	authed.PUT("/users/:username/info", s.updateUserInfo)
	authed.PUT("/users/:username/password", s.updatePassword)
	authed.POST("/presence/online", s.setOnline)
	authed.POST("/presence/offline", s.setOffline)
	authed.GET("/presence/online", s.onlineUsers)
	authed.GET("/chat", s.listChat)
	authed.POST("/chat", s.sendChat)

	admin := authed.Group("/", auth.RequireRole(models.RoleAdmin), auth.RequireNetwork(s.AdminCIDRs))
	admin.POST("/tokens/take", s.takeTokens)
	admin.POST("/tokens/ban", s.banTokens)
	admin.GET("/tokens/check", s.checkToken)
	admin.POST("/users", s.createUser)
	admin.GET("/users", s.listUsers)
	admin.DELETE("/users/:username", s.deleteUser)
	admin.POST("/ledger/reconcile", s.reconcile)
	admin.PUT("/settings/price", s.updatePrice)
	admin.PUT("/settings/admin-password", s.updateAdminPassword)
	admin.GET("/activity", s.activity)
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func caller(c *gin.Context) (username, role string) {
	return c.GetString(auth.CtxUsernameKey), c.GetString(auth.CtxRoleKey)
}

// selfOrAdmin aborts unless the caller is the user named in the path or an admin.
func selfOrAdmin(c *gin.Context) (string, bool) {
	target := c.Param("username")
	username, role := caller(c)
	if role != models.RoleAdmin && username != target {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return "", false
	}
	return target, true
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrInvalidFormat),
		errors.Is(err, ledger.ErrInvalidCount),
		errors.Is(err, ledger.ErrInvalidPrice),
		errors.Is(err, ledger.ErrInvalidUsername),
		errors.Is(err, ledger.ErrEmptyPassword),
		errors.Is(err, activity.ErrEmptyMessage):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, ledger.ErrUserNotRegistered),
		errors.Is(err, presence.ErrUnknownUser),
		errors.Is(err, ledger.ErrTokenNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrDuplicateToken),
		errors.Is(err, ledger.ErrInsufficientAvailable),
		errors.Is(err, ledger.ErrUserExists),
		errors.Is(err, ledger.ErrUserHasTokens),
		errors.Is(err, ledger.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, store.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
