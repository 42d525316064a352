package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"utp-reporta/config"
	"utp-reporta/core/auth"
	"utp-reporta/core/clock"
	"utp-reporta/core/notify"
	"utp-reporta/core/rbac"
	"utp-reporta/core/reports"
	"utp-reporta/core/store"
	"utp-reporta/core/utils"
	"utp-reporta/core/zones"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BackgroundWorker is anything the server starts alongside the listener and stops on shutdown.
type BackgroundWorker interface {
	StartWithContext(ctx context.Context)
	StopWithContext(ctx context.Context) error
}

type ServerDeps struct {
	Users      store.UsersStore
	Zones      store.ZonesStore
	Catalog    store.CatalogStore
	Deliveries store.DeliveriesStore
	ReportsSvc *reports.Service
	Tracker    *zones.Tracker
	Hub        *notify.Hub
	Clock      clock.Source
	Location   *time.Location
	Policy     *rbac.Policy
	Resolver   *auth.Resolver
	Gatherer   prometheus.Gatherer
}

type Server struct {
	cfg           *config.AppConfig
	logger        *utils.Logger
	users         store.UsersStore
	zonesStore    store.ZonesStore
	catalog       store.CatalogStore
	deliveries    store.DeliveriesStore
	reportsSvc    *reports.Service
	tracker       *zones.Tracker
	hub           *notify.Hub
	clock         clock.Source
	location      *time.Location
	policy        *rbac.Policy
	resolver      *auth.Resolver
	gatherer      prometheus.Gatherer
	createLimiter *submissionLimiter
	httpServer    *http.Server
}

func NewServer(cfg *config.AppConfig, deps ServerDeps, logger *utils.Logger) *Server {
	loc := deps.Location
	if loc == nil {
		loc = clock.LoadLocation(cfg.Site.Timezone)
	}
	s := &Server{
		cfg:        cfg,
		logger:     logger,
		users:      deps.Users,
		zonesStore: deps.Zones,
		catalog:    deps.Catalog,
		deliveries: deps.Deliveries,
		reportsSvc: deps.ReportsSvc,
		tracker:    deps.Tracker,
		hub:        deps.Hub,
		clock:      deps.Clock,
		location:   loc,
		policy:     deps.Policy,
		resolver:   deps.Resolver,
		gatherer:   deps.Gatherer,
	}
	burst, refill := cfg.Security.CreateBurst, cfg.Security.CreateRefill
	if burst > 0 && refill > 0 {
		s.createLimiter = newSubmissionLimiter(burst, refill)
	}
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.securityHeadersMiddleware)

	h := s.newRouteHandlers()
	r.Route("/api", func(apiRouter chi.Router) {
		apiRouter.Use(s.jsonMiddleware)
		s.registerReportsRoutes(apiRouter, h)
		s.registerZonesRoutes(apiRouter, h)
		s.registerNotificationsRoutes(apiRouter, h)
		apiRouter.MethodFunc("GET", "/time", h.time.Now)
	})
	r.MethodFunc("GET", "/ws", s.withIdentity(s.requirePermission(rbac.PermNotificationsWatch)(h.notifications.Watch)))
	r.MethodFunc("GET", "/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.gatherer != nil {
		r.Method("GET", "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	if s.logger != nil {
		s.logger.Printf("http: listening on %s", s.cfg.ListenAddr)
	}
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
