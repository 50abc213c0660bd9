package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hq-analytics/hqbridge/pkg/importer"
	"github.com/hq-analytics/hqbridge/pkg/middleware"
	"github.com/hq-analytics/hqbridge/pkg/observability"
	"github.com/hq-analytics/hqbridge/pkg/provision"
	"github.com/hq-analytics/hqbridge/pkg/session"
	"github.com/hq-analytics/hqbridge/pkg/webhook"
)

// Options collects the collaborators the HTTP surface is built from
type Options struct {
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Registry *prometheus.Registry

	Sessions session.Store
	Engine   *provision.Engine
	Imports  *importer.Service
	Webhook  *webhook.Handler

	// RoleSyncExpiry is how long a synced role set stays fresh before the
	// next request triggers a resync
	RoleSyncExpiry time.Duration

	// RedisClient backs the distributed role-sync throttle
	RedisClient *redis.Client
}

// Server is the bridge HTTP server
type Server struct {
	opts   Options
	router *mux.Router
}

// NewServer builds the router and middleware chain
func NewServer(opts Options) *Server {
	s := &Server{opts: opts, router: mux.NewRouter()}
	s.routes()
	return s
}

// Router exposes the configured router, mainly for tests
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(s.opts.Logger))
	r.Use(middleware.Recovery)
	if s.opts.Metrics != nil {
		r.Use(middleware.Metrics(s.opts.Metrics))
	}

	// endpoints HQ calls directly, no host session involved
	s.opts.Webhook.RegisterRoutes(r)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.opts.Registry != nil {
		r.Handle("/metrics", observability.Handler(s.opts.Registry)).Methods(http.MethodGet)
	}

	// domain selection endpoints need a session but no selected domain yet
	domains := r.PathPrefix("/domain").Subrouter()
	domains.Use(middleware.Session(s.opts.Sessions))
	domains.HandleFunc("/list", s.handleDomainList).Methods(http.MethodGet)
	domains.HandleFunc("/select/{name}", s.handleDomainSelect).Methods(http.MethodGet, http.MethodPost)

	// datasource endpoints require a selected domain with fresh roles
	data := r.PathPrefix("/hq_datasource").Subrouter()
	data.Use(middleware.Session(s.opts.Sessions))
	data.Use(middleware.NewDomainSelected(nil).Handler)
	data.Use(middleware.NewRoleSync(
		s.opts.Engine,
		s.opts.Sessions,
		s.opts.RedisClient,
		s.opts.RoleSyncExpiry,
		s.opts.Metrics,
		nil,
	).Handler)
	data.HandleFunc("/update/{id}", s.handleDatasourceUpdate).Methods(http.MethodPost)
}

// Run serves until the context is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string, readTimeout, writeTimeout, idleTimeout, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.WithField("addr", addr).Info("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
