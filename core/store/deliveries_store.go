package store

import (
	"context"
	"strings"
	"time"
)

type DeliveriesStore interface {
	AddDelivery(ctx context.Context, item *NotificationDelivery) (int64, error)
	ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]NotificationDelivery, error)
}

type deliveriesStore struct {
	db *DB
}

func NewDeliveriesStore(db *DB) DeliveriesStore {
	return &deliveriesStore{db: db}
}

func (s *deliveriesStore) AddDelivery(ctx context.Context, item *NotificationDelivery) (int64, error) {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	var id int64
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		INSERT INTO notification_deliveries(channel, recipient, event_type, status, error, body_preview, created_at)
		VALUES(?,?,?,?,?,?,?) RETURNING id`),
		strings.ToLower(strings.TrimSpace(item.Channel)), strings.TrimSpace(item.Recipient), strings.TrimSpace(item.EventType),
		strings.ToLower(strings.TrimSpace(item.Status)), strings.TrimSpace(item.Error), item.BodyPreview, item.CreatedAt.UTC()).Scan(&id)
	if err != nil {
		return 0, err
	}
	item.ID = id
	return id, nil
}

func (s *deliveriesStore) ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]NotificationDelivery, error) {
	clauses := []string{}
	args := []any{}
	if v := strings.ToLower(strings.TrimSpace(filter.Channel)); v != "" {
		clauses = append(clauses, "channel=?")
		args = append(args, v)
	}
	if v := strings.ToLower(strings.TrimSpace(filter.Status)); v != "" {
		clauses = append(clauses, "status=?")
		args = append(args, v)
	}
	if v := strings.TrimSpace(filter.Recipient); v != "" {
		clauses = append(clauses, "recipient=?")
		args = append(args, v)
	}
	query := `SELECT id, channel, recipient, event_type, status, error, body_preview, created_at FROM notification_deliveries`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	limit := pageLimit(filter.Limit)
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []NotificationDelivery
	for rows.Next() {
		var d NotificationDelivery
		if err := rows.Scan(&d.ID, &d.Channel, &d.Recipient, &d.EventType, &d.Status, &d.Error, &d.BodyPreview, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
