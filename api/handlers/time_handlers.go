package handlers

import (
	"net/http"
	"time"

	"utp-reporta/core/clock"
)

type TimeHandler struct {
	clock    clock.Source
	location *time.Location
}

func NewTimeHandler(src clock.Source, loc *time.Location) *TimeHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &TimeHandler{clock: src, location: loc}
}

func (h *TimeHandler) Now(w http.ResponseWriter, r *http.Request) {
	now := h.clock.Now().In(h.location)
	writeJSON(w, http.StatusOK, map[string]string{
		"date":     now.Format(clock.DateLayout),
		"datetime": now.Format(time.RFC3339),
		"timezone": h.location.String(),
	})
}
