package routegroups

import (
	"utp-reporta/api/handlers"

	"github.com/go-chi/chi/v5"
)

func RegisterReports(apiRouter chi.Router, g Guards, reports *handlers.ReportsHandler) {
	apiRouter.Route("/reportes", func(reportsRouter chi.Router) {
		reportsRouter.MethodFunc("GET", "/", g.SessionPerm("reports.view", reports.List))
		reportsRouter.MethodFunc("POST", "/", g.SessionPermLimited("reports.create", reports.Create))
		reportsRouter.MethodFunc("GET", "/{id:[0-9]+}", g.SessionPerm("reports.view", reports.Get))
		reportsRouter.MethodFunc("GET", "/tipos-incidente", g.SessionPerm("reports.view", reports.ListIncidentTypes))

		reportsRouter.MethodFunc("POST", "/gestion/{id:[0-9]+}", g.SessionPerm("reports.manage", reports.Manage))
		reportsRouter.MethodFunc("PUT", "/gestion/{id:[0-9]+}/ir-a-zona", g.SessionPerm("reports.security.handle", reports.EnRoute))
		reportsRouter.MethodFunc("PUT", "/gestion/{id:[0-9]+}/zona-ubicada", g.SessionPerm("reports.security.handle", reports.OnSite))
		reportsRouter.MethodFunc("PUT", "/gestion/{id:[0-9]+}/completar", g.SessionPerm("reports.security.handle", reports.Complete))
		reportsRouter.MethodFunc("PUT", "/gestion/{id:[0-9]+}/resolver", g.SessionPerm("reports.admin.review", reports.Resolve))
		reportsRouter.MethodFunc("PUT", "/gestion/{id:[0-9]+}/rechazar", g.SessionPerm("reports.admin.review", reports.Reject))
		reportsRouter.MethodFunc("PUT", "/gestion/{id:[0-9]+}/cancelar", g.SessionPerm("reports.admin.review", reports.Cancel))
	})
}

func RegisterZones(apiRouter chi.Router, g Guards, zones *handlers.ZonesHandler) {
	apiRouter.Route("/zonas", func(zonesRouter chi.Router) {
		zonesRouter.MethodFunc("GET", "/", g.SessionPerm("zones.view", zones.List))
		zonesRouter.MethodFunc("GET", "/{id:[0-9]+}/estado", g.SessionPerm("zones.view", zones.State))
		zonesRouter.MethodFunc("POST", "/sweep", g.SessionPerm("zones.sweep", zones.Sweep))
	})
}

func RegisterNotifications(apiRouter chi.Router, g Guards, notifications *handlers.NotificationsHandler) {
	apiRouter.Route("/notifications", func(notificationsRouter chi.Router) {
		notificationsRouter.MethodFunc("GET", "/deliveries", g.SessionPerm("notifications.deliveries.view", notifications.ListDeliveries))
	})
}
