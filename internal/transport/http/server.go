package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/cliptube/signal-server/internal/auth"
	"github.com/cliptube/signal-server/internal/config"
	"github.com/cliptube/signal-server/internal/relay"
	"github.com/cliptube/signal-server/internal/store"
)

// NewServer builds the HTTP server: health, websocket relay endpoint, and
// the user directory / friend list API.
func NewServer(registry *relay.Registry, st store.Store, jwtConfig *auth.JWTConfig, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	router.GET("/ws", gin.WrapH(NewWSHandler(registry, logger)))

	router.GET("/api/presence", func(c *gin.Context) {
		c.JSON(stdhttp.StatusOK, gin.H{"online": registry.Online()})
	})

	users := NewUserHandlers(st, logger)
	router.GET("/api/users/:id", users.GetPublicProfile)

	friends := NewFriendHandlers(st, logger)
	limiter := newRateLimiter(60)

	api := router.Group("/api", AuthMiddleware(jwtConfig, logger))
	api.GET("/friends", friends.List)
	api.POST("/friends", RateLimitMiddleware(limiter), friends.Add)
	api.DELETE("/friends/:friendId", friends.Remove)

	server := &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	stop := make(chan struct{})
	limiter.startReset(stop)
	server.RegisterOnShutdown(func() { close(stop) })

	return server
}
