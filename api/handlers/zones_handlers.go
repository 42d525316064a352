package handlers

import (
	"net/http"
	"strings"

	"utp-reporta/core/store"
	"utp-reporta/core/utils"
	"utp-reporta/core/zones"
)

type ZonesHandler struct {
	zones   store.ZonesStore
	tracker *zones.Tracker
	logger  *utils.Logger
}

func NewZonesHandler(zs store.ZonesStore, tracker *zones.Tracker, logger *utils.Logger) *ZonesHandler {
	return &ZonesHandler{zones: zs, tracker: tracker, logger: logger}
}

func (h *ZonesHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ZoneFilter{}
	if siteID, ok := parseOptionalID(q.Get("sede_id")); ok {
		filter.SiteID = &siteID
	}
	if raw := strings.ToUpper(strings.TrimSpace(q.Get("nivel"))); raw != "" {
		switch lvl := store.ZoneLevel(raw); lvl {
		case store.LevelSafe, store.LevelCaution, store.LevelDangerous:
			filter.Level = lvl
		default:
			writeError(w, http.StatusBadRequest, "zones.invalidLevel", "zones.error.invalidLevel")
			return
		}
	}
	items, err := h.zones.ListZones(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	out := make([]zones.State, 0, len(items))
	for _, z := range items {
		out = append(out, zones.StateOf(z))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *ZonesHandler) State(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "common.badRequest", errBadRequest)
		return
	}
	st, err := h.tracker.State(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Sweep runs the expiry pass on demand; the scheduler does the same at midnight.
func (h *ZonesHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	changes, err := h.tracker.ExpireWindows(r.Context())
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	out := make([]map[string]any, 0, len(changes))
	for _, c := range changes {
		out = append(out, map[string]any{
			"zone_id":  c.Zone.ID,
			"name":     c.Zone.Name,
			"previous": c.Previous,
			"current":  c.Current,
		})
	}
	if h.logger != nil {
		h.logger.Printf("zones: manual sweep reset %d zone(s)", len(changes))
	}
	writeJSON(w, http.StatusOK, map[string]any{"reset": out})
}
