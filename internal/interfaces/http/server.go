package http

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/interfaces/http/handlers"
)

// idleTimeout is deliberately long: one streamed completion can legitimately
// stall for minutes on slow models.
const idleTimeout = 255 * time.Second

// Server is the inbound HTTP surface.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config tunes the listener.
type Config struct {
	Port               int
	Mode               string // debug, release
	RateLimitPerMinute int    // 0 = disabled
}

// NewServer wires the router and handlers.
func NewServer(cfg Config, deps *handlers.Deps, logger *zap.Logger) *Server {
	if cfg.Mode == "release" || cfg.Mode == "" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))
	if cfg.RateLimitPerMinute > 0 {
		router.Use(rateLimiter(cfg.RateLimitPerMinute))
	}

	openaiHandler := handlers.NewOpenAIHandler(deps)
	anthropicHandler := handlers.NewAnthropicHandler(deps)
	geminiHandler := handlers.NewGeminiHandler(deps)

	setupRoutes(router, deps, openaiHandler, anthropicHandler, geminiHandler)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     router,
		IdleTimeout: idleTimeout,
	}

	return &Server{server: server, logger: logger}
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func setupRoutes(router *gin.Engine, deps *handlers.Deps, openaiHandler *handlers.OpenAIHandler, anthropicHandler *handlers.AnthropicHandler, geminiHandler *handlers.GeminiHandler) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name": "kirogate",
			"endpoints": []string{
				"/v1/chat/completions",
				"/v1/messages",
				"/v1beta/models/{model}:generateContent",
				"/v1/models",
				"/health",
				"/metrics",
			},
		})
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": deps.Monitor.Uptime().Seconds(),
			"time":   time.Now().Unix(),
		})
	})

	router.GET("/metrics", gin.WrapH(deps.Monitor.PrometheusHandler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/chat/completions", openaiHandler.ChatCompletions)
		v1.POST("/messages", anthropicHandler.Messages)
		v1.GET("/models", openaiHandler.ListModels)
	}

	v1beta := router.Group("/v1beta")
	{
		// ":action" carries "{model}:generateContent" as one segment.
		v1beta.POST("/models/:action", geminiHandler.Generate)
	}
}

// ginLogger logs one line per request.
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}

// rateLimiter enforces a coarse global request budget per minute window.
func rateLimiter(perMinute int) gin.HandlerFunc {
	var mu sync.Mutex
	windowStart := time.Now()
	count := 0

	return func(c *gin.Context) {
		mu.Lock()
		now := time.Now()
		if now.Sub(windowStart) >= time.Minute {
			windowStart = now
			count = 0
		}
		count++
		over := count > perMinute
		mu.Unlock()

		if over {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"message": "rate limit exceeded",
					"type":    "rate_limit_error",
				},
			})
			return
		}
		c.Next()
	}
}
