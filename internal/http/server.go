package http

import (
	"context"
	stdhttp "net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"afcstats/app/internal/stats"
)

// EventHandler processes one event to completion.
type EventHandler interface {
	Handle(ctx context.Context, event stats.Event) (stats.DispatchResult, error)
}

// ChartSource exposes the compiled charts.
type ChartSource interface {
	Sections(ctx context.Context) ([]stats.Section, error)
	Compile(ctx context.Context) ([]stats.Block, error)
}

// Options configures the HTTP server wiring.
type Options struct {
	Events    EventHandler
	Charts    ChartSource
	Database  *gorm.DB
	Metrics   stdhttp.Handler
	Logger    *logrus.Logger
	SentryHub *sentry.Hub
}

// Server wires the HTTP transport layer via Huma and templ components.
type Server struct {
	api     huma.API
	mux     *stdhttp.ServeMux
	events  EventHandler
	charts  ChartSource
	metrics stdhttp.Handler
	logger  *logrus.Logger
	sentry  *sentry.Hub
	db      *gorm.DB
}

// NewServer constructs the HTTP server.
func NewServer(opts Options) (*Server, error) {
	if opts.Events == nil {
		return nil, eris.New("event handler is required")
	}
	if opts.Charts == nil {
		return nil, eris.New("chart source is required")
	}
	if opts.Database == nil {
		return nil, eris.New("database is required")
	}

	mux := stdhttp.NewServeMux()
	config := huma.DefaultConfig("AfC statistics", "1.0.0")

	api := humago.New(mux, config)

	srv := &Server{
		api:     api,
		mux:     mux,
		events:  opts.Events,
		charts:  opts.Charts,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		sentry:  opts.SentryHub,
		db:      opts.Database,
	}

	srv.registerMiddlewares()
	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the underlying HTTP handler for wiring into the application.
func (s *Server) Handler() stdhttp.Handler {
	return s.mux
}

// API exposes the underlying Huma API instance.
func (s *Server) API() huma.API {
	return s.api
}

func (s *Server) registerMiddlewares() {
	s.api.UseMiddleware(
		s.sentryMiddleware(),
		s.recoveryMiddleware(),
		s.requestIDMiddleware(),
		s.loggingMiddleware(),
	)
}

func (s *Server) registerRoutes() {
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}

	s.registerChartsPageRoute()
	s.registerChartsRoute()
	s.registerEventsRoute()
	s.registerHealthRoute()
}

func (s *Server) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	s.mux.ServeHTTP(w, r)
}
