package api

import (
	"net/http"

	"utp-reporta/api/routegroups"
	"utp-reporta/core/rbac"

	"github.com/go-chi/chi/v5"
)

func (s *Server) guards() routegroups.Guards {
	return routegroups.Guards{
		WithSession:       s.withIdentity,
		RequirePermission: func(p string) func(http.HandlerFunc) http.HandlerFunc { return s.requirePermission(rbac.Permission(p)) },
		RateLimit:         s.rateLimitMiddleware,
	}
}

func (s *Server) registerReportsRoutes(apiRouter chi.Router, h routeHandlers) {
	routegroups.RegisterReports(apiRouter, s.guards(), h.reports)
}

func (s *Server) registerZonesRoutes(apiRouter chi.Router, h routeHandlers) {
	routegroups.RegisterZones(apiRouter, s.guards(), h.zones)
}

func (s *Server) registerNotificationsRoutes(apiRouter chi.Router, h routeHandlers) {
	routegroups.RegisterNotifications(apiRouter, s.guards(), h.notifications)
}
