package appbootstrap

import (
	"utp-reporta/api"
	"utp-reporta/config"
	"utp-reporta/core/auth"
	"utp-reporta/core/clock"
	"utp-reporta/core/metrics"
	"utp-reporta/core/notify"
	"utp-reporta/core/rbac"
	"utp-reporta/core/reports"
	"utp-reporta/core/store"
	"utp-reporta/core/utils"
	"utp-reporta/core/zones"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type runtimeComposition struct {
	serverDeps api.ServerDeps
	tracker    *zones.Tracker
	scheduler  *zones.Scheduler
	workers    []api.BackgroundWorker
}

func composeRuntime(cfg *config.AppConfig, db *store.DB, logger *utils.Logger) (*runtimeComposition, error) {
	users := store.NewUsersStore(db)
	zonesStore := store.NewZonesStore(db)
	reportsStore := store.NewReportsStore(db)
	catalog := store.NewCatalogStore(db)
	deliveries := store.NewDeliveriesStore(db)
	policy := rbac.NewPolicy(rbac.DefaultRoles())

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(registry)
	if err != nil {
		return nil, err
	}

	siteClock := clock.NewSiteClock(cfg.Site, logger)
	tracker := zones.NewTracker(zonesStore, siteClock, cfg.Zones, m, logger)
	scheduler := zones.NewScheduler(cfg.Scheduler, tracker, siteClock.Location(), logger)
	hub := notify.NewHub(cfg.Notifications.PushBufferSize, m, logger)

	dispatcherDeps := notify.DispatcherDeps{
		Users:      users,
		Deliveries: deliveries,
		Pusher:     hub,
		Policy:     policy,
		Clock:      siteClock,
		Metrics:    m,
		Logger:     logger,
	}
	if cfg.Notifications.EmailEnabled {
		mailer, err := notify.NewShoutrrrMailer(cfg.Notifications)
		if err != nil {
			return nil, err
		}
		dispatcherDeps.Mailer = mailer
	} else if logger != nil {
		logger.Printf("notify: email channel disabled")
	}
	dispatcher := notify.NewDispatcher(cfg.Notifications, dispatcherDeps)

	svc := reports.NewService(cfg.Reports, reports.Deps{
		Reports:  reportsStore,
		Users:    users,
		Zones:    zonesStore,
		Catalog:  catalog,
		Risk:     tracker,
		Notifier: dispatcher,
		Policy:   policy,
		Clock:    siteClock,
		Metrics:  m,
		Logger:   logger,
	})

	return &runtimeComposition{
		serverDeps: api.ServerDeps{
			Users:      users,
			Zones:      zonesStore,
			Catalog:    catalog,
			Deliveries: deliveries,
			ReportsSvc: svc,
			Tracker:    tracker,
			Hub:        hub,
			Clock:      siteClock,
			Location:   siteClock.Location(),
			Policy:     policy,
			Resolver:   auth.NewResolver(users, policy, cfg.Security.IdentityCacheTTL, logger),
			Gatherer:   registry,
		},
		tracker:   tracker,
		scheduler: scheduler,
		workers:   []api.BackgroundWorker{scheduler},
	}, nil
}
