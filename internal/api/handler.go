// Package api exposes the monitoring operations over HTTP.
package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"challenge-core/internal/challenge"
	"challenge-core/internal/events"
	"challenge-core/internal/monitor"
)

// Monitors is the registry surface the API drives.
type Monitors interface {
	Start(ctx context.Context, accountID string) error
	Stop(ctx context.Context, accountID string) error
	ActiveCount() int
	Monitors() []monitor.Info
}

// History reads accounts and their recorded metrics and violations.
type History interface {
	GetAccount(ctx context.Context, accountID string) (challenge.Account, error)
	ListMetrics(ctx context.Context, accountID string, limit int) ([]challenge.MetricsRecord, error)
	ListViolations(ctx context.Context, accountID string, limit int) ([]challenge.Violation, error)
}

// Options configures a Server. Bus, Registerer and Gatherer may be nil.
type Options struct {
	Monitors       Monitors
	History        History
	Bus            *events.Bus
	JWTSecret      string
	Registerer     prometheus.Registerer
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
	Logger         *zap.Logger
	Version        string
}

// Server wires HTTP endpoints around the monitor registry.
type Server struct {
	Router    *gin.Engine
	monitors  Monitors
	history   History
	bus       *events.Bus
	jwtSecret string
	gatherer  prometheus.Gatherer
	log       *zap.Logger
	version   string
	started   time.Time
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 90 * time.Second
	}
	log := opts.Logger.Named("api")

	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log, newHTTPMetrics(opts.Registerer))) // after ID is set
	r.Use(RateLimitMiddleware(newIPLimiter(20, 50, 5*time.Minute), log))
	r.Use(TimeoutMiddleware(opts.RequestTimeout))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		monitors:  opts.Monitors,
		history:   opts.History,
		bus:       opts.Bus,
		jwtSecret: opts.JWTSecret,
		gatherer:  opts.Gatherer,
		log:       log,
		version:   opts.Version,
		started:   time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	if s.gatherer != nil {
		s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := s.Router.Group("/api")
	api.Use(AuthMiddleware(s.jwtSecret))
	{
		api.GET("/monitoring", s.listMonitoring)

		api.POST("/accounts/:id/monitoring", s.startMonitoring)
		api.DELETE("/accounts/:id/monitoring", s.stopMonitoring)
		api.GET("/accounts/:id", s.getAccount)
		api.GET("/accounts/:id/metrics", s.listMetrics)
		api.GET("/accounts/:id/violations", s.listViolations)
	}
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{
		"status":          "ok",
		"version":         s.version,
		"uptime_seconds":  int64(time.Since(s.started).Seconds()),
		"active_monitors": s.monitors.ActiveCount(),
		"goroutines":      runtime.NumGoroutine(),
	}
	if s.bus != nil {
		body["events_dropped"] = s.bus.Dropped()
	}
	c.JSON(http.StatusOK, body)
}

// Handler exposes the router for http.Server.
func (s *Server) Handler() http.Handler {
	return s.Router
}
