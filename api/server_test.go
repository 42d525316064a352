package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiEnv struct {
	srv     *httptest.Server
	zoneID  int64
	typeID  int64
	guardID int64
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	cfg := &config.AppConfig{
		DBPath:         filepath.Join(t.TempDir(), "api.db"),
		IdentityHeader: "X-Auth-User",
		Site:           config.SiteConfig{Timezone: "America/Lima"},
		Reports:        config.ReportsConfig{DailyQuota: 3},
		Zones:          config.ZonesConfig{WindowDays: 7, CautionFrom: 6, DangerousFrom: 11},
		Security:       config.SecurityConfig{CreateBurst: 100, CreateRefill: time.Minute},
	}
	logger := utils.NewLogger()
	db, err := store.NewDB(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	require.NoError(t, store.ApplyMigrations(ctx, db, logger))

	users := store.NewUsersStore(db)
	zs := store.NewZonesStore(db)
	catalog := store.NewCatalogStore(db)
	deliveries := store.NewDeliveriesStore(db)
	policy := rbac.NewPolicy(rbac.DefaultRoles())
	loc := clock.LoadLocation(cfg.Site.Timezone)
	src := clock.NewFixed(time.Date(2025, 5, 12, 10, 0, 0, 0, loc))

	e := &apiEnv{}
	site := &store.Site{Name: "Lima Centro"}
	_, err = catalog.CreateSite(ctx, site)
	require.NoError(t, err)
	e.zoneID, err = zs.CreateZone(ctx, &store.Zone{Name: "Biblioteca", SiteID: &site.ID, Active: true})
	require.NoError(t, err)
	e.typeID, err = catalog.CreateIncidentType(ctx, &store.IncidentType{Name: "Robo"})
	require.NoError(t, err)
	for _, u := range []struct {
		name string
		role string
	}{{"alumno", rbac.RoleUser}, {"otro", rbac.RoleUser}, {"admin", rbac.RoleAdmin}, {"vigilante", rbac.RoleSecurity}, {"colega", rbac.RoleSecurity}} {
		id, err := users.CreateUser(ctx, &store.User{Username: u.name, Email: u.name + "@utp.edu.pe", SiteID: &site.ID, Roles: []string{u.role}, Active: true})
		require.NoError(t, err)
		if u.name == "vigilante" {
			e.guardID = id
		}
	}

	tracker := zones.NewTracker(zs, src, cfg.Zones, nil, logger)
	hub := notify.NewHub(8, nil, logger)
	dispatcher := notify.NewDispatcher(cfg.Notifications, notify.DispatcherDeps{
		Users: users, Deliveries: deliveries, Pusher: hub, Policy: policy, Clock: src, Logger: logger,
	})
	svc := reports.NewService(cfg.Reports, reports.Deps{
		Reports: store.NewReportsStore(db), Users: users, Zones: zs, Catalog: catalog,
		Risk: tracker, Notifier: dispatcher, Policy: policy, Clock: src, Logger: logger,
	})
	s := NewServer(cfg, ServerDeps{
		Users: users, Zones: zs, Catalog: catalog, Deliveries: deliveries, ReportsSvc: svc,
		Tracker: tracker, Hub: hub, Clock: src, Location: loc, Policy: policy,
		Resolver: auth.NewResolver(users, policy, time.Minute, logger),
	}, logger)
	e.srv = httptest.NewServer(s.Routes())
	t.Cleanup(e.srv.Close)
	t.Cleanup(hub.Close)
	return e
}

func (e *apiEnv) do(t *testing.T, user, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("X-Auth-User", user)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (e *apiEnv) createReport(t *testing.T, user string, anonymous bool) int64 {
	t.Helper()
	resp, body := e.do(t, user, http.MethodPost, "/api/reportes/", map[string]any{
		"tipo_incidente_id": e.typeID,
		"zona_id":           e.zoneID,
		"descripcion":       "mochila robada",
		"anonimo":           anonymous,
		"contacto":          "999888777",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	return int64(body["id"].(float64))
}

func stateOf(body map[string]any) string {
	m, _ := body["management"].(map[string]any)
	s, _ := m["state"].(string)
	return s
}

func TestAPIReportLifecycle(t *testing.T) {
	e := newAPIEnv(t)
	id := e.createReport(t, "alumno", false)

	resp, body := e.do(t, "alumno", http.MethodGet, fmt.Sprintf("/api/reportes/%d", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PENDIENTE", stateOf(body))

	resp, _ = e.do(t, "alumno", http.MethodPut, fmt.Sprintf("/api/reportes/gestion/%d/resolver", id), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = e.do(t, "admin", http.MethodPost, fmt.Sprintf("/api/reportes/gestion/%d", id), map[string]any{
		"estado": "UBICANDO", "prioridad": "ALTA", "seguridad_id": e.guardID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "UBICANDO", stateOf(body))

	resp, _ = e.do(t, "colega", http.MethodPut, fmt.Sprintf("/api/reportes/gestion/%d/zona-ubicada", id), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = e.do(t, "vigilante", http.MethodPut, fmt.Sprintf("/api/reportes/gestion/%d/zona-ubicada", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "INVESTIGANDO", stateOf(body))

	resp, body = e.do(t, "vigilante", http.MethodPut, fmt.Sprintf("/api/reportes/gestion/%d/completar?mensajeSeguridad=todo+en+orden", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "PENDIENTE_APROBACION", stateOf(body))
	assert.Equal(t, "todo en orden", body["security_message"])

	resp, body = e.do(t, "admin", http.MethodPut, fmt.Sprintf("/api/reportes/gestion/%d/resolver", id), map[string]any{"mensaje": "conforme"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "RESUELTO", stateOf(body))

	resp, body = e.do(t, "admin", http.MethodPut, fmt.Sprintf("/api/reportes/gestion/%d/cancelar", id), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	errBody, _ := body["error"].(map[string]any)
	assert.Equal(t, "RESUELTO", errBody["from"])

	resp, body = e.do(t, "alumno", http.MethodGet, fmt.Sprintf("/api/zonas/%d/estado", e.zoneID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["counter"])
	assert.Equal(t, "ZONA_SEGURA", body["level"])

	resp, body = e.do(t, "admin", http.MethodGet, "/api/notifications/deliveries?channel=push&recipient=alumno", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["items"], 3)
}

func TestAPIDailyQuota(t *testing.T) {
	e := newAPIEnv(t)
	for i := 0; i < 3; i++ {
		e.createReport(t, "alumno", false)
	}
	resp, body := e.do(t, "alumno", http.MethodPost, "/api/reportes/", map[string]any{
		"tipo_incidente_id": e.typeID, "zona_id": e.zoneID, "descripcion": "otra vez",
	})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "50400", resp.Header.Get("Retry-After"))
	errBody, _ := body["error"].(map[string]any)
	assert.EqualValues(t, 3, errBody["limit"])

	e.createReport(t, "admin", false)
}

func TestAPIVisibility(t *testing.T) {
	e := newAPIEnv(t)
	id := e.createReport(t, "alumno", true)

	resp, _ := e.do(t, "otro", http.MethodGet, fmt.Sprintf("/api/reportes/%d", id), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := e.do(t, "alumno", http.MethodGet, fmt.Sprintf("/api/reportes/%d", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "999888777", body["contact"])

	resp, body = e.do(t, "admin", http.MethodPost, fmt.Sprintf("/api/reportes/gestion/%d?estado=UBICANDO&seguridadId=%d", id, e.guardID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	resp, body = e.do(t, "vigilante", http.MethodGet, fmt.Sprintf("/api/reportes/%d", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, body, "user_id")
	assert.NotContains(t, body, "contact")

	resp, body = e.do(t, "otro", http.MethodGet, "/api/reportes/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["items"])

	resp, body = e.do(t, "vigilante", http.MethodGet, "/api/reportes/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["items"], 1)
}

func TestAPIRejectsUnknownIdentity(t *testing.T) {
	e := newAPIEnv(t)
	resp, _ := e.do(t, "", http.MethodGet, "/api/reportes/", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = e.do(t, "fantasma", http.MethodGet, "/api/reportes/", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPITimeAndHealth(t *testing.T) {
	e := newAPIEnv(t)
	resp, body := e.do(t, "", http.MethodGet, "/api/time", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2025-05-12", body["date"])
	assert.Equal(t, "America/Lima", body["timezone"])

	resp, err := http.Get(e.srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPISweepRequiresPermission(t *testing.T) {
	e := newAPIEnv(t)
	resp, _ := e.do(t, "admin", http.MethodPost, "/api/zonas/sweep", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
