package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"utp-reporta/core/rbac"
	"utp-reporta/core/reports"
	"utp-reporta/core/store"
	"utp-reporta/core/utils"
)

const maxReportPayloadBytes = 8 << 20

type ReportsHandler struct {
	svc     *reports.Service
	catalog store.CatalogStore
	logger  *utils.Logger
}

func NewReportsHandler(svc *reports.Service, catalog store.CatalogStore, logger *utils.Logger) *ReportsHandler {
	return &ReportsHandler{svc: svc, catalog: catalog, logger: logger}
}

type createReportPayload struct {
	IncidentTypeID int64   `json:"tipo_incidente_id"`
	ZoneID         int64   `json:"zona_id"`
	Description    string  `json:"descripcion"`
	Photo          []byte  `json:"foto"`
	Anonymous      bool    `json:"anonimo"`
	Contact        *string `json:"contacto"`
}

type managePayload struct {
	State      string `json:"estado"`
	Priority   string `json:"prioridad"`
	SecurityID *int64 `json:"seguridad_id"`
}

type messagePayload struct {
	Message string `json:"mensaje"`
}

func (h *ReportsHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	var payload createReportPayload
	r.Body = http.MaxBytesReader(w, r.Body, maxReportPayloadBytes)
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "common.payloadTooLarge", "common.error.payloadTooLarge")
			return
		}
		writeError(w, http.StatusBadRequest, "common.badRequest", errBadRequest)
		return
	}
	if payload.IncidentTypeID <= 0 || payload.ZoneID <= 0 {
		writeError(w, http.StatusBadRequest, "reports.missingReferences", "reports.error.missingReferences")
		return
	}
	rep, err := h.svc.CreateReport(r.Context(), reports.NewReport{
		UserID:         actor.UserID,
		IncidentTypeID: payload.IncidentTypeID,
		ZoneID:         payload.ZoneID,
		Description:    payload.Description,
		Photo:          payload.Photo,
		Anonymous:      payload.Anonymous,
		Contact:        payload.Contact,
	})
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, presentReport(rep, actor))
}

func (h *ReportsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "common.badRequest", errBadRequest)
		return
	}
	rep, err := h.svc.GetReport(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	actor := actorFrom(r)
	if !canSee(actor, rep) {
		writeError(w, http.StatusNotFound, "common.notFound", errNotFound)
		return
	}
	writeJSON(w, http.StatusOK, presentReport(rep, actor))
}

func (h *ReportsHandler) List(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	q := r.URL.Query()
	filter := store.ReportFilter{
		Limit:  parseIntDefault(q.Get("limit"), 100),
		Offset: parseIntDefault(q.Get("offset"), 0),
	}
	if raw := strings.TrimSpace(q.Get("estado")); raw != "" {
		state, ok := store.ParseReportState(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "reports.invalidState", "reports.error.invalidState")
			return
		}
		filter.State = state
	}
	if zoneID, ok := parseOptionalID(q.Get("zona_id")); ok {
		filter.ZoneID = &zoneID
	}
	switch {
	case actor.Can(rbac.PermReportsViewAll):
		if userID, ok := parseOptionalID(q.Get("usuario_id")); ok {
			filter.UserID = &userID
		}
		if secID, ok := parseOptionalID(q.Get("seguridad_id")); ok {
			filter.SecurityUserID = &secID
		}
	case actor.Can(rbac.CapAssignable):
		filter.SecurityUserID = &actor.UserID
	default:
		filter.UserID = &actor.UserID
	}
	items, err := h.svc.ListReports(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	out := make([]reportView, 0, len(items))
	for i := range items {
		out = append(out, presentReport(&items[i], actor))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *ReportsHandler) ListIncidentTypes(w http.ResponseWriter, r *http.Request) {
	items, err := h.catalog.ListIncidentTypes(r.Context())
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Manage is the generic gestion update: target state plus optional priority and assignee.
func (h *ReportsHandler) Manage(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "common.badRequest", errBadRequest)
		return
	}
	var payload managePayload
	if err := decodeOptional(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "common.badRequest", errBadRequest)
		return
	}
	q := r.URL.Query()
	if payload.State == "" {
		payload.State = q.Get("estado")
	}
	if payload.Priority == "" {
		payload.Priority = q.Get("prioridad")
	}
	if payload.SecurityID == nil {
		if secID, ok := parseOptionalID(q.Get("seguridadId")); ok {
			payload.SecurityID = &secID
		}
	}
	state, ok := store.ParseReportState(payload.State)
	if !ok {
		writeError(w, http.StatusBadRequest, "reports.invalidState", "reports.error.invalidState")
		return
	}
	var priority *store.Priority
	if strings.TrimSpace(payload.Priority) != "" {
		p, ok := store.ParsePriority(payload.Priority)
		if !ok {
			writeError(w, http.StatusBadRequest, "reports.invalidPriority", "reports.error.invalidPriority")
			return
		}
		priority = &p
	}
	rep, err := h.svc.Transition(r.Context(), id, state, priority, payload.SecurityID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, presentReport(rep, actorFrom(r)))
}

func (h *ReportsHandler) EnRoute(w http.ResponseWriter, r *http.Request) {
	h.securityAction(w, r, func(id int64, _ string) (*store.Report, error) {
		return h.svc.EnRoute(r.Context(), id)
	})
}

func (h *ReportsHandler) OnSite(w http.ResponseWriter, r *http.Request) {
	h.securityAction(w, r, func(id int64, _ string) (*store.Report, error) {
		return h.svc.OnSite(r.Context(), id)
	})
}

func (h *ReportsHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.securityAction(w, r, func(id int64, msg string) (*store.Report, error) {
		return h.svc.CompleteBySecurity(r.Context(), id, msg)
	})
}

func (h *ReportsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, func(id int64, msg string) (*store.Report, error) {
		return h.svc.ResolveByAdmin(r.Context(), id, msg)
	})
}

func (h *ReportsHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, func(id int64, msg string) (*store.Report, error) {
		return h.svc.RejectByAdmin(r.Context(), id, msg)
	})
}

func (h *ReportsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, func(id int64, msg string) (*store.Report, error) {
		return h.svc.Cancel(r.Context(), id, msg)
	})
}

// securityAction only lets a guard act on unassigned reports or those assigned to them.
func (h *ReportsHandler) securityAction(w http.ResponseWriter, r *http.Request, act func(int64, string) (*store.Report, error)) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "common.badRequest", errBadRequest)
		return
	}
	actor := actorFrom(r)
	if !actor.Can(rbac.PermReportsViewAll) {
		rep, err := h.svc.GetReport(r.Context(), id)
		if err != nil {
			writeServiceError(w, err, h.logger)
			return
		}
		if rep.SecurityUserID != nil && *rep.SecurityUserID != actor.UserID {
			writeError(w, http.StatusForbidden, "reports.notAssigned", "reports.error.notAssigned")
			return
		}
	}
	h.runAction(w, r, id, act, "mensajeSeguridad")
}

func (h *ReportsHandler) adminAction(w http.ResponseWriter, r *http.Request, act func(int64, string) (*store.Report, error)) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "common.badRequest", errBadRequest)
		return
	}
	h.runAction(w, r, id, act, "mensajeAdmin")
}

func (h *ReportsHandler) runAction(w http.ResponseWriter, r *http.Request, id int64, act func(int64, string) (*store.Report, error), queryKey string) {
	var payload messagePayload
	if err := decodeOptional(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "common.badRequest", errBadRequest)
		return
	}
	if payload.Message == "" {
		payload.Message = r.URL.Query().Get(queryKey)
	}
	rep, err := act(id, strings.TrimSpace(payload.Message))
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, presentReport(rep, actorFrom(r)))
}

type reportView struct {
	*store.Report
	UserID  *int64  `json:"user_id,omitempty"`
	Contact *string `json:"contact,omitempty"`
}

// presentReport hides the submitter of anonymous reports from everyone but the submitter
// and full-visibility staff.
func presentReport(rep *store.Report, actor *rbac.Actor) reportView {
	v := reportView{Report: rep}
	if !rep.Anonymous || actor.Can(rbac.PermReportsViewAll) || (actor != nil && actor.UserID == rep.UserID) {
		uid := rep.UserID
		v.UserID = &uid
		v.Contact = rep.Contact
	}
	return v
}

func canSee(actor *rbac.Actor, rep *store.Report) bool {
	if actor == nil {
		return false
	}
	if actor.Can(rbac.PermReportsViewAll) || rep.UserID == actor.UserID {
		return true
	}
	return rep.SecurityUserID != nil && *rep.SecurityUserID == actor.UserID
}

// decodeOptional accepts an empty body so query-parameter clients keep working.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func parseOptionalID(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parseIntDefault(val string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil || n < 0 {
		return def
	}
	return n
}
