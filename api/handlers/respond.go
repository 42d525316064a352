package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"utp-reporta/core/auth"
	"utp-reporta/core/rbac"
	"utp-reporta/core/reports"
	"utp-reporta/core/utils"
	"utp-reporta/core/zones"
)

const (
	errBadRequest  = "common.badRequest"
	errNotFound    = "common.notFound"
	errServerError = "common.serverError"
	errForbidden   = "common.forbidden"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, key string) {
	writeErrorWith(w, status, code, key, nil)
}

func writeErrorWith(w http.ResponseWriter, status int, code, key string, extra map[string]any) {
	body := map[string]any{
		"code":     code,
		"i18n_key": key,
	}
	for k, v := range extra {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, status, map[string]any{"error": body})
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error, logger *utils.Logger) {
	var quota *reports.QuotaError
	var transition *reports.TransitionError
	switch {
	case errors.As(err, &quota):
		retry := int(math.Ceil(quota.ResetIn.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeErrorWith(w, http.StatusTooManyRequests, "reports.dailyQuotaExceeded", reports.ErrQuotaExceeded.Error(), map[string]any{
			"limit":               quota.Limit,
			"retry_after_seconds": retry,
		})
	case errors.As(err, &transition):
		writeErrorWith(w, http.StatusConflict, "reports.invalidTransition", reports.ErrInvalidTransition.Error(), map[string]any{
			"from": transition.From,
			"to":   transition.To,
		})
	case errors.Is(err, reports.ErrNotFound), errors.Is(err, zones.ErrZoneNotFound):
		writeError(w, http.StatusNotFound, "common.notFound", errNotFound)
	case errors.Is(err, reports.ErrBadRequest):
		writeError(w, http.StatusBadRequest, "common.badRequest", errBadRequest)
	default:
		if logger != nil {
			logger.Errorf("handler: %v", err)
		}
		writeError(w, http.StatusInternalServerError, "common.serverError", errServerError)
	}
}

func parseID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(pathParams(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func actorFrom(r *http.Request) *rbac.Actor {
	return auth.ActorFrom(r.Context())
}
