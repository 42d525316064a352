package notify

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"utp-reporta/config"
	"utp-reporta/core/clock"
	"utp-reporta/core/metrics"
	"utp-reporta/core/rbac"
	"utp-reporta/core/store"
	"utp-reporta/core/utils"
	"utp-reporta/core/zones"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePusher struct {
	mu         sync.Mutex
	users      []string
	topics     []string
	failUsers  map[string]bool
	lastFrames []Envelope
}

func (p *fakePusher) PushToUser(ctx context.Context, username string, env Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = append(p.users, username)
	p.lastFrames = append(p.lastFrames, env)
	if p.failUsers[username] {
		return errors.New("socket closed")
	}
	return nil
}

func (p *fakePusher) PushBroadcast(ctx context.Context, topic string, env Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

type fakeMailer struct {
	mu     sync.Mutex
	sent   []Email
	failTo map[string]bool
}

func (m *fakeMailer) Send(ctx context.Context, msg Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	if m.failTo[msg.To] {
		return &DeliveryError{Channel: ChannelEmail, Recipient: msg.To, Err: errors.New("smtp 550")}
	}
	return nil
}

type dispatchEnv struct {
	d          *Dispatcher
	pusher     *fakePusher
	mailer     *fakeMailer
	users      store.UsersStore
	deliveries store.DeliveriesStore
	metrics    *metrics.Metrics
	siteA      int64
	siteB      int64
}

func newDispatchEnv(t *testing.T, siteScoped bool) *dispatchEnv {
	t.Helper()
	logger := utils.NewLogger()
	db, err := store.NewDB(&config.AppConfig{DBPath: filepath.Join(t.TempDir(), "notify.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	require.NoError(t, store.ApplyMigrations(ctx, db, logger))

	catalog := store.NewCatalogStore(db)
	a := &store.Site{Name: "Lima Centro"}
	b := &store.Site{Name: "Arequipa"}
	_, err = catalog.CreateSite(ctx, a)
	require.NoError(t, err)
	_, err = catalog.CreateSite(ctx, b)
	require.NoError(t, err)

	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	e := &dispatchEnv{
		pusher:     &fakePusher{failUsers: map[string]bool{}},
		mailer:     &fakeMailer{failTo: map[string]bool{}},
		users:      store.NewUsersStore(db),
		deliveries: store.NewDeliveriesStore(db),
		metrics:    m,
		siteA:      a.ID,
		siteB:      b.ID,
	}
	e.d = NewDispatcher(config.NotificationsConfig{ZoneAlertsSiteScoped: siteScoped}, DispatcherDeps{
		Users:      e.users,
		Deliveries: e.deliveries,
		Pusher:     e.pusher,
		Mailer:     e.mailer,
		Policy:     rbac.NewPolicy(rbac.DefaultRoles()),
		Clock:      clock.NewFixed(time.Date(2025, 5, 12, 10, 0, 0, 0, time.UTC)),
		Metrics:    m,
		Logger:     logger,
	})
	return e
}

func (e *dispatchEnv) user(t *testing.T, name string, site int64, roles ...string) *store.User {
	t.Helper()
	u := &store.User{Username: name, Email: name + "@utp.edu.pe", SiteID: &site, Roles: roles, Active: true}
	_, err := e.users.CreateUser(context.Background(), u)
	require.NoError(t, err)
	return u
}

func reportIn(state store.ReportState, userID int64) store.Report {
	return store.Report{ID: 7, ZoneID: 1, UserID: userID, Management: &store.ReportManagement{State: state}}
}

func TestNotifiableStates(t *testing.T) {
	want := map[store.ReportState]bool{
		store.StatePending:          false,
		store.StateLocating:         true,
		store.StateInvestigating:    true,
		store.StateAwaitingApproval: false,
		store.StateResolved:         true,
		store.StateCancelled:        true,
	}
	for state, ok := range want {
		assert.Equal(t, ok, Notifiable(state), string(state))
	}
}

func TestReportTransitionedFansOut(t *testing.T) {
	e := newDispatchEnv(t, true)
	u := e.user(t, "alumno", e.siteA, rbac.RoleUser)

	e.d.ReportTransitioned(context.Background(), reportIn(store.StateLocating, u.ID))

	assert.Equal(t, []string{"alumno"}, e.pusher.users)
	assert.Equal(t, []string{UserTopic("alumno")}, e.pusher.topics)
	require.Len(t, e.mailer.sent, 1)
	assert.Equal(t, TemplateReportStatus, e.mailer.sent[0].Template)
	assert.Equal(t, "El estado de tu reporte ha cambiado a UBICANDO.", e.pusher.lastFrames[0].Message)
	assert.NotEmpty(t, e.pusher.lastFrames[0].ID)

	items, err := e.deliveries.ListDeliveries(context.Background(), store.DeliveryFilter{})
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestReportTransitionedSkipsSilentStates(t *testing.T) {
	e := newDispatchEnv(t, true)
	u := e.user(t, "alumno", e.siteA, rbac.RoleUser)
	e.d.ReportTransitioned(context.Background(), reportIn(store.StateAwaitingApproval, u.ID))
	e.d.ReportTransitioned(context.Background(), reportIn(store.StatePending, u.ID))
	assert.Empty(t, e.pusher.users)
	assert.Empty(t, e.mailer.sent)
}

func TestZoneTransitionedOnlyOnEscalation(t *testing.T) {
	e := newDispatchEnv(t, true)
	e.user(t, "alumno", e.siteA, rbac.RoleUser)
	zone := store.Zone{ID: 1, Name: "Pabellon A", SiteID: &e.siteA, ReportCount: 5}

	e.d.ZoneTransitioned(context.Background(), zones.Change{Zone: zone, Previous: store.LevelSafe, Current: store.LevelSafe})
	e.d.ZoneTransitioned(context.Background(), zones.Change{Zone: zone, Previous: store.LevelDangerous, Current: store.LevelSafe})
	assert.Empty(t, e.pusher.topics)

	zone.ReportCount = 6
	e.d.ZoneTransitioned(context.Background(), zones.Change{Zone: zone, Previous: store.LevelSafe, Current: store.LevelCaution})
	assert.Equal(t, []string{TopicZoneStatus}, e.pusher.topics)
	require.Len(t, e.pusher.lastFrames, 1)
	assert.Equal(t, "Zona en precaución, mantener cuidado", e.pusher.lastFrames[0].Message)
}

func TestZoneRecipientsScopedBySiteAndRole(t *testing.T) {
	e := newDispatchEnv(t, true)
	e.user(t, "alumno_lima", e.siteA, rbac.RoleUser)
	e.user(t, "alumno_aqp", e.siteB, rbac.RoleUser)
	e.user(t, "guardia_lima", e.siteA, rbac.RoleSecurity)
	zone := store.Zone{ID: 1, Name: "Pabellon A", SiteID: &e.siteA, ReportCount: 11}

	e.d.ZoneTransitioned(context.Background(), zones.Change{Zone: zone, Previous: store.LevelCaution, Current: store.LevelDangerous})
	assert.Equal(t, []string{"alumno_lima"}, e.pusher.users)
	assert.Equal(t, "Zona peligrosa, evitar", e.pusher.lastFrames[0].Message)

	global := newDispatchEnv(t, false)
	global.user(t, "alumno_lima", global.siteA, rbac.RoleUser)
	global.user(t, "alumno_aqp", global.siteB, rbac.RoleUser)
	zone.SiteID = &global.siteA
	global.d.ZoneTransitioned(context.Background(), zones.Change{Zone: zone, Previous: store.LevelCaution, Current: store.LevelDangerous})
	assert.ElementsMatch(t, []string{"alumno_lima", "alumno_aqp"}, global.pusher.users)
}

func TestRecipientFailuresAreIsolated(t *testing.T) {
	e := newDispatchEnv(t, true)
	e.user(t, "uno", e.siteA, rbac.RoleUser)
	e.user(t, "dos", e.siteA, rbac.RoleUser)
	e.user(t, "tres", e.siteA, rbac.RoleUser)
	e.pusher.failUsers["uno"] = true
	e.mailer.failTo["dos@utp.edu.pe"] = true
	zone := store.Zone{ID: 1, Name: "Cafeteria", SiteID: &e.siteA, ReportCount: 6}

	e.d.ZoneTransitioned(context.Background(), zones.Change{Zone: zone, Previous: store.LevelSafe, Current: store.LevelCaution})

	assert.Len(t, e.pusher.users, 3)
	assert.Len(t, e.mailer.sent, 3)
	failed, err := e.deliveries.ListDeliveries(context.Background(), store.DeliveryFilter{Status: "failed"})
	require.NoError(t, err)
	require.Len(t, failed, 2)
	for _, f := range failed {
		assert.True(t, strings.Contains(f.Error, "delivery to"), f.Error)
	}
	assert.Equal(t, float64(2), testutil.ToFloat64(e.metrics.NotificationResults.WithLabelValues(ChannelPush, "sent")))
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.NotificationResults.WithLabelValues(ChannelEmail, "failed")))
}

func TestRenderEmailTemplates(t *testing.T) {
	tpl, err := LoadTemplates()
	require.NoError(t, err)
	body, err := RenderEmail(tpl, TemplateZoneStatus, map[string]any{"Name": "Ana", "Zone": "Patio", "Level": "ZONA_PELIGROSA", "Counter": 11, "Message": ZoneMessage(store.LevelDangerous)})
	require.NoError(t, err)
	assert.Contains(t, body, "Patio")
	assert.Contains(t, body, "Zona peligrosa, evitar")

	_, err = RenderEmail(tpl, "desconocido", nil)
	assert.Error(t, err)
}

func TestPreviewMessageTruncates(t *testing.T) {
	long := strings.Repeat("á", 250)
	got := previewMessage(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, 203, len([]rune(got)))
}
