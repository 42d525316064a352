package api

import "utp-reporta/api/handlers"

type routeHandlers struct {
	reports       *handlers.ReportsHandler
	zones         *handlers.ZonesHandler
	notifications *handlers.NotificationsHandler
	time          *handlers.TimeHandler
}

func (s *Server) newRouteHandlers() routeHandlers {
	return routeHandlers{
		reports:       handlers.NewReportsHandler(s.reportsSvc, s.catalog, s.logger),
		zones:         handlers.NewZonesHandler(s.zonesStore, s.tracker, s.logger),
		notifications: handlers.NewNotificationsHandler(s.deliveries, s.hub, s.policy, s.logger),
		time:          handlers.NewTimeHandler(s.clock, s.location),
	}
}
