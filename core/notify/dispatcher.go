package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"utp-reporta/config"
	"utp-reporta/core/clock"
	"utp-reporta/core/metrics"
	"utp-reporta/core/rbac"
	"utp-reporta/core/store"
	"utp-reporta/core/utils"
	"utp-reporta/core/zones"
)

var notifiableStates = map[store.ReportState]bool{
	store.StateLocating:      true,
	store.StateInvestigating: true,
	store.StateResolved:      true,
	store.StateCancelled:     true,
}

// Notifiable reports whether the submitter hears about a move into state.
func Notifiable(state store.ReportState) bool {
	return notifiableStates[state]
}

func ReportMessage(state store.ReportState) string {
	return fmt.Sprintf("El estado de tu reporte ha cambiado a %s.", state)
}

func ZoneMessage(level store.ZoneLevel) string {
	switch level {
	case store.LevelCaution:
		return "Zona en precaución, mantener cuidado"
	case store.LevelDangerous:
		return "Zona peligrosa, evitar"
	}
	return ""
}

// Dispatcher turns committed report and zone changes into push and email deliveries.
// Every recipient and channel is attempted independently and failures stay here.
type Dispatcher struct {
	users      store.UsersStore
	deliveries store.DeliveriesStore
	pusher     Pusher
	mailer     Mailer
	policy     *rbac.Policy
	clock      clock.Source
	siteScoped bool
	metrics    *metrics.Metrics
	logger     *utils.Logger
}

type DispatcherDeps struct {
	Users      store.UsersStore
	Deliveries store.DeliveriesStore
	Pusher     Pusher
	Mailer     Mailer
	Policy     *rbac.Policy
	Clock      clock.Source
	Metrics    *metrics.Metrics
	Logger     *utils.Logger
}

func NewDispatcher(cfg config.NotificationsConfig, deps DispatcherDeps) *Dispatcher {
	return &Dispatcher{
		users:      deps.Users,
		deliveries: deps.Deliveries,
		pusher:     deps.Pusher,
		mailer:     deps.Mailer,
		policy:     deps.Policy,
		clock:      deps.Clock,
		siteScoped: cfg.ZoneAlertsSiteScoped,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
	}
}

func (d *Dispatcher) ReportTransitioned(ctx context.Context, rep store.Report) {
	if rep.Management == nil || !Notifiable(rep.Management.State) {
		return
	}
	state := rep.Management.State
	user, err := d.users.GetUser(ctx, rep.UserID)
	if err != nil || user == nil {
		if d.logger != nil {
			d.logger.Errorf("notify: submitter %d of report %d: %v", rep.UserID, rep.ID, err)
		}
		return
	}
	msg := ReportMessage(state)
	env := NewEnvelope(EventReportStatus, msg, rep, d.clock.Now())
	d.pushUser(ctx, user.Username, EventReportStatus, env)
	d.broadcast(ctx, UserTopic(user.Username), EventReportStatus, env)
	d.email(ctx, user, EventReportStatus, Email{
		Subject:  "Actualización de tu reporte",
		Template: TemplateReportStatus,
		Data: map[string]any{
			"Name":     displayName(user),
			"ReportID": rep.ID,
			"State":    string(state),
			"Message":  msg,
		},
	})
}

func (d *Dispatcher) ZoneTransitioned(ctx context.Context, change zones.Change) {
	if !change.Escalated() {
		return
	}
	msg := ZoneMessage(change.Current)
	env := NewEnvelope(EventZoneStatus, msg, zones.StateOf(change.Zone), d.clock.Now())
	d.broadcast(ctx, TopicZoneStatus, EventZoneStatus, env)

	recipients, err := d.zoneRecipients(ctx, change.Zone)
	if err != nil {
		if d.logger != nil {
			d.logger.Errorf("notify: zone %d recipients: %v", change.Zone.ID, err)
		}
		return
	}
	if d.logger != nil {
		d.logger.Printf("notify: zone %d escalated %s -> %s, %d recipients", change.Zone.ID, change.Previous, change.Current, len(recipients))
	}
	for i := range recipients {
		u := &recipients[i]
		d.pushUser(ctx, u.Username, EventZoneStatus, env)
		d.email(ctx, u, EventZoneStatus, Email{
			Subject:  "Alerta de zona: " + change.Zone.Name,
			Template: TemplateZoneStatus,
			Data: map[string]any{
				"Name":    displayName(u),
				"Zone":    change.Zone.Name,
				"Level":   string(change.Current),
				"Counter": change.Zone.ReportCount,
				"Message": msg,
			},
		})
	}
}

func (d *Dispatcher) zoneRecipients(ctx context.Context, zone store.Zone) ([]store.User, error) {
	var site *int64
	if d.siteScoped {
		site = zone.SiteID
	}
	seen := map[int64]bool{}
	var out []store.User
	for _, role := range d.policy.RolesWith(rbac.CapZoneAlerts) {
		users, err := d.users.FindByRoleAndSite(ctx, role, site)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			if seen[u.ID] {
				continue
			}
			seen[u.ID] = true
			out = append(out, u)
		}
	}
	return out, nil
}

func (d *Dispatcher) pushUser(ctx context.Context, username, eventType string, env Envelope) {
	if d.pusher == nil {
		return
	}
	err := d.pusher.PushToUser(ctx, username, env)
	d.record(ctx, ChannelPush, username, eventType, env.Message, err)
}

func (d *Dispatcher) broadcast(ctx context.Context, topic, eventType string, env Envelope) {
	if d.pusher == nil {
		return
	}
	env.Topic = topic
	err := d.pusher.PushBroadcast(ctx, topic, env)
	d.record(ctx, ChannelBroadcast, topic, eventType, env.Message, err)
}

func (d *Dispatcher) email(ctx context.Context, u *store.User, eventType string, msg Email) {
	if d.mailer == nil {
		return
	}
	to := strings.TrimSpace(u.Email)
	if to == "" {
		return
	}
	msg.To = to
	err := d.mailer.Send(ctx, msg)
	preview, _ := msg.Data["Message"].(string)
	d.record(ctx, ChannelEmail, to, eventType, preview, err)
}

func (d *Dispatcher) record(ctx context.Context, channel, recipient, eventType, preview string, err error) {
	status := "sent"
	errText := ""
	if err != nil {
		status = "failed"
		var de *DeliveryError
		if !errors.As(err, &de) {
			err = &DeliveryError{Channel: channel, Recipient: recipient, Err: err}
		}
		errText = err.Error()
		if d.logger != nil {
			d.logger.Errorf("notify: %v", err)
		}
	}
	d.metrics.NotificationDelivered(channel, status)
	if d.deliveries == nil {
		return
	}
	if _, dbErr := d.deliveries.AddDelivery(ctx, &store.NotificationDelivery{
		Channel:     channel,
		Recipient:   recipient,
		EventType:   eventType,
		Status:      status,
		Error:       errText,
		BodyPreview: previewMessage(preview),
		CreatedAt:   d.clock.Now().UTC(),
	}); dbErr != nil && d.logger != nil {
		d.logger.Errorf("notify: delivery log: %v", dbErr)
	}
}

func displayName(u *store.User) string {
	if name := strings.TrimSpace(u.FullName); name != "" {
		return name
	}
	return u.Username
}

func previewMessage(text string) string {
	const limit = 200
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + "..."
}
