package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"propfirm-risk-engine/internal/events"
	"propfirm-risk-engine/internal/pricecache"
)

// FeedStatus is what the health payload needs to know about the feed.
type FeedStatus interface {
	Connected() bool
	ReconnectAttempts() int64
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            int
	Host            string
	AllowedOrigins  []string
	ProductionMode  bool
	StaleAfter      time.Duration
	ShutdownTimeout time.Duration
}

// Server is the engine's HTTP surface: the liveness endpoint the hosting
// platform polls and the SSE price stream the dashboards consume. It never
// blocks the monitor loop.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     ServerConfig

	cache     *pricecache.Cache
	feed      FeedStatus
	sseHub    *sseHub
	startedAt time.Time
}

// NewServer creates the HTTP server and registers its routes.
func NewServer(config ServerConfig, cache *pricecache.Cache, feed FeedStatus, eventBus *events.EventBus) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(config.AllowedOrigins) == 0 || (len(config.AllowedOrigins) == 1 && config.AllowedOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = config.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:    router,
		config:    config,
		cache:     cache,
		feed:      feed,
		sseHub:    newSSEHub(eventBus),
		startedAt: time.Now(),
	}
	server.setupRoutes()

	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleHealth)
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/prices", s.handlePrices)
	s.router.GET("/prices/stream", s.sseHub.handleStream)
}

// handleHealth serves the liveness payload. No auth, by contract.
func (s *Server) handleHealth(c *gin.Context) {
	now := time.Now()
	c.JSON(http.StatusOK, gin.H{
		"status":             "ok",
		"uptime_seconds":     int64(now.Sub(s.startedAt).Seconds()),
		"feed_connected":     s.feed.Connected(),
		"price_cache_size":   s.cache.Size(),
		"fresh_prices":       s.cache.FreshCount(now, s.config.StaleAfter),
		"reconnect_attempts": s.feed.ReconnectAttempts(),
		"timestamp":          now.UTC().Format(time.RFC3339),
	})
}

// handlePrices serves a JSON snapshot of the price cache. Decimals go out
// as strings so consumers can reconstruct them without float rounding.
func (s *Server) handlePrices(c *gin.Context) {
	now := time.Now()
	ticks := s.cache.Snapshot()

	out := make([]gin.H, 0, len(ticks))
	for _, t := range ticks {
		out = append(out, gin.H{
			"symbol": t.Symbol,
			"bid":    t.Bid.String(),
			"ask":    t.Ask.String(),
			"last":   t.Last.String(),
			"ts":     t.Timestamp.UnixMilli(),
			"fresh":  t.Fresh(now, s.config.StaleAfter),
		})
	}
	c.JSON(http.StatusOK, gin.H{"prices": out, "count": len(out)})
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	log.Info().Str("component", "api").Str("addr", addr).Msg("http server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and disconnects SSE clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.sseHub.close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// SplitOrigins turns the comma-separated config value into a slice.
func SplitOrigins(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
