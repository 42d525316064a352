package handlers

import (
	"net/http"
	"strings"

	"utp-reporta/core/notify"
	"utp-reporta/core/rbac"
	"utp-reporta/core/store"
	"utp-reporta/core/utils"
)

type NotificationsHandler struct {
	deliveries store.DeliveriesStore
	hub        *notify.Hub
	policy     *rbac.Policy
	logger     *utils.Logger
}

func NewNotificationsHandler(deliveries store.DeliveriesStore, hub *notify.Hub, policy *rbac.Policy, logger *utils.Logger) *NotificationsHandler {
	return &NotificationsHandler{deliveries: deliveries, hub: hub, policy: policy, logger: logger}
}

func (h *NotificationsHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.DeliveryFilter{
		Channel:   strings.TrimSpace(q.Get("channel")),
		Status:    strings.TrimSpace(q.Get("status")),
		Recipient: strings.TrimSpace(q.Get("recipient")),
		Limit:     parseIntDefault(q.Get("limit"), 100),
	}
	items, err := h.deliveries.ListDeliveries(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Watch upgrades to a websocket subscribed to the actor's own queue plus the requested topics.
func (h *NotificationsHandler) Watch(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if actor == nil || h.hub == nil {
		writeError(w, http.StatusUnauthorized, "auth.unauthorized", "common.error.unauthorized")
		return
	}
	topics := []string{notify.TopicZoneStatus}
	for _, raw := range r.URL.Query()["topic"] {
		topic := strings.TrimSpace(raw)
		if topic == "" || topic == notify.TopicZoneStatus {
			continue
		}
		if !h.topicAllowed(actor, topic) {
			writeError(w, http.StatusForbidden, "auth.forbidden", "common.error.permissionDenied")
			return
		}
		topics = append(topics, topic)
	}
	if err := h.hub.Serve(w, r, actor.Username, topics); err != nil && h.logger != nil {
		h.logger.Errorf("notify: websocket %s: %v", actor.Username, err)
	}
}

func (h *NotificationsHandler) topicAllowed(actor *rbac.Actor, topic string) bool {
	if topic == notify.UserTopic(actor.Username) {
		return true
	}
	return h.policy != nil && h.policy.Allowed(actor.Roles, rbac.PermNotificationsView)
}
