// Package web serves the proctoring HTTP API and its WebSocket routes
package web

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-proctor/internal/log"
	"github.com/teslashibe/go-proctor/pkg/hub"
	"github.com/teslashibe/go-proctor/pkg/ingest"
	"github.com/teslashibe/go-proctor/pkg/metrics"
	"github.com/teslashibe/go-proctor/pkg/proctor"
	"github.com/teslashibe/go-proctor/pkg/store"
)

// Version is reported by /healthz
var Version = "0.1.0"

// Config configures the web server
type Config struct {
	Port      string
	Debug     bool   // log every request
	StaticDir string // optional dashboard assets served at /
	BodyLimit int    // max request body in bytes (frames are posted raw)
	Logger    *slog.Logger
}

// DefaultConfig returns the standard server configuration
func DefaultConfig() Config {
	return Config{
		Port:      "8080",
		BodyLimit: 8 * 1024 * 1024,
	}
}

// Option wires an optional collaborator into the server
type Option func(*Server)

// WithStore exposes finished sessions under /api/records
func WithStore(s store.Store) Option {
	return func(srv *Server) { srv.records = s }
}

// WithRooms enables live dashboards on /ws/events/:room
func WithRooms(r *hub.Rooms) Option {
	return func(srv *Server) { srv.rooms = r }
}

// WithIngest replaces the default candidate frame hub
func WithIngest(h *ingest.Hub) Option {
	return func(srv *Server) { srv.ingest = h }
}

// WithMetrics serves the registry on /metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(srv *Server) { srv.metrics = m }
}

// Server is the proctoring HTTP server
type Server struct {
	app    *fiber.App
	cfg    Config
	logger *slog.Logger

	manager *proctor.Manager
	records store.Store
	rooms   *hub.Rooms
	ingest  *ingest.Hub
	metrics *metrics.Metrics
}

// NewServer creates the server and registers every route
func NewServer(cfg Config, manager *proctor.Manager, opts ...Option) *Server {
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = DefaultConfig().BodyLimit
	}
	s := &Server{
		cfg:     cfg,
		logger:  log.Or(cfg.Logger, "web"),
		manager: manager,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ingest == nil {
		s.ingest = ingest.NewHub(cfg.Logger, s.metrics)
	}
	s.ingest.OnFrame(manager.PushFrame)

	app := fiber.New(fiber.Config{
		AppName:               "proctord",
		DisableStartupMessage: true,
		BodyLimit:             cfg.BodyLimit,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	if cfg.Debug {
		app.Use(logger.New())
	}

	// API routes
	api := app.Group("/api")
	api.Post("/sessions", s.handleStartSession)
	api.Get("/sessions", s.handleListSessions)
	api.Get("/sessions/:room", s.handleGetSession)
	api.Get("/sessions/:room/report", s.handleGetReport)
	api.Post("/sessions/:room/end", s.handleEndSession)
	api.Post("/sessions/:room/frames", s.handlePushFrame)
	api.Get("/tuning", s.handleGetTuning)
	api.Put("/tuning", s.handleSetTuning)
	api.Get("/records", s.handleListRecords)
	api.Get("/records/:id", s.handleGetRecord)
	s.ingest.RegisterAPIRoutes(api)

	// Candidate frames
	s.ingest.RegisterRoutes(app)

	// Dashboards
	if s.rooms != nil {
		app.Use("/ws/events", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/events/:room", websocket.New(s.handleEventsWS))
	}

	app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	app.Get("/healthz", s.handleHealth)

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	s.app = app
	return s
}

// App returns the underlying fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// Start starts the web server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info("http server listening", "port", s.cfg.Port)
	return s.app.Listen(":" + s.cfg.Port)
}

// StartAsync starts the web server in a goroutine
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("http server stopped", "error", err)
		}
	}()
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
