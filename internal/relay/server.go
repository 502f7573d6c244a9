package relay

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/api/middleware"
	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/infrastructure/monitoring"
	"github.com/weftlabs/weft/internal/infrastructure/tracing"
	"github.com/weftlabs/weft/internal/logging"
)

// Server wraps the relay HTTP server and its dependencies.
type Server struct {
	router  *gin.Engine
	hub     *Hub
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer
}

// NewServer assembles the relay from configuration.
func NewServer(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		logger = logging.NewDefault()
	}

	logger.Info("Initializing relay",
		zap.String("host", cfg.Relay.Host),
		zap.String("port", cfg.Relay.Port),
	)

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("relay", logger.Logger)
	hub := NewHub(logger, metrics)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
			"scopes": len(hub.Scopes()),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/documents/:scope", hub.HandleConnection)

	logger.Info("Relay initialized")

	return &Server{
		router:  router,
		hub:     hub,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
		tracer:  tracer,
	}, nil
}

// Hub exposes the hub, mainly for tests that mount the handler directly.
func (s *Server) Hub() *Hub { return s.hub }

// Router exposes the assembled gin engine.
func (s *Server) Router() *gin.Engine { return s.router }

// Run starts the HTTP server and blocks.
func (s *Server) Run() error {
	addr := s.config.Relay.Host + ":" + s.config.Relay.Port
	s.logger.Info("Starting relay", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Close flushes the logger. Open WebSocket connections drop when the
// process exits and clients reconnect with a fresh handshake.
func (s *Server) Close() error {
	s.logger.Info("Shutting down relay...")
	s.tracer.Close()
	s.logger.Sync()
	return nil
}
