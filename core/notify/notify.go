package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
)

const (
	ChannelPush      = "push"
	ChannelBroadcast = "broadcast"
	ChannelEmail     = "email"

	EventReportStatus = "report.status"
	EventZoneStatus   = "zone.status"

	TopicZoneStatus = "/topic/zone-status"

	TemplateReportStatus = "reporte-estado"
	TemplateZoneStatus   = "zona-estado"
)

// UserTopic is the broadcast topic mirrored for a single user.
func UserTopic(username string) string {
	return "/topic/notifications/" + username
}

// Envelope is the frame pushed to websocket subscribers.
type Envelope struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Topic   string    `json:"topic,omitempty"`
	Message string    `json:"message"`
	Payload any       `json:"payload,omitempty"`
	SentAt  time.Time `json:"sent_at"`
}

func NewEnvelope(eventType, message string, payload any, now time.Time) Envelope {
	return Envelope{
		ID:      uuid.Must(uuid.NewV4()).String(),
		Type:    eventType,
		Message: message,
		Payload: payload,
		SentAt:  now.UTC(),
	}
}

type Email struct {
	To       string
	Subject  string
	Template string
	Data     map[string]any
}

type Pusher interface {
	PushToUser(ctx context.Context, username string, env Envelope) error
	PushBroadcast(ctx context.Context, topic string, env Envelope) error
}

type Mailer interface {
	Send(ctx context.Context, msg Email) error
}

// DeliveryError reports a failed delivery to one recipient on one channel.
type DeliveryError struct {
	Channel   string
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery to %s failed: %v", e.Channel, e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
