// Package postgres provides PostgreSQL-backed stores for fleetrelay.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusgo/fleetrelay/internal/schema"
)

const (
	defaultListLimit = 128
	maxListLimit     = 1024
)

const (
	notificationInsertSQL = `
INSERT INTO notifications (
    id,
    sender_id,
    recipient_ids,
    category,
    title,
    message,
    is_urgent,
    created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING
    id,
    sender_id,
    recipient_ids,
    category,
    title,
    message,
    is_urgent,
    created_at;
`

	notificationListByRecipientSQL = `
SELECT
    id,
    sender_id,
    recipient_ids,
    category,
    title,
    message,
    is_urgent,
    created_at
FROM notifications
WHERE $1 = ANY(recipient_ids)
ORDER BY created_at DESC
LIMIT $2;
`
)

// NotificationStore persists notification records in PostgreSQL.
type NotificationStore struct {
	pool *pgxpool.Pool
}

// NewNotificationStore constructs a NotificationStore backed by the provided pool.
func NewNotificationStore(pool *pgxpool.Pool) *NotificationStore {
	return &NotificationStore{pool: pool}
}

// Create inserts the record. The id and creation time are assigned here when
// the caller left them empty.
func (s *NotificationStore) Create(ctx context.Context, record schema.NotificationRecord) (schema.NotificationRecord, error) {
	if s.pool == nil {
		return schema.NotificationRecord{}, fmt.Errorf("notification store: nil pool")
	}
	if err := record.Validate(); err != nil {
		return schema.NotificationRecord{}, fmt.Errorf("notification store: %w", err)
	}
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	recipients := record.RecipientIDs
	if recipients == nil {
		recipients = []string{}
	}

	row := s.pool.QueryRow(ctx, notificationInsertSQL,
		record.ID,
		record.SenderID,
		recipients,
		string(record.Category),
		record.Title,
		record.Message,
		record.IsUrgent,
		record.CreatedAt,
	)
	return scanNotification(row)
}

// ListForRecipient returns the most recent records addressed to the user.
func (s *NotificationStore) ListForRecipient(ctx context.Context, userID string, limit int) ([]schema.NotificationRecord, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("notification store: nil pool")
	}
	if limit <= 0 {
		limit = defaultListLimit
	} else if limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := s.pool.Query(ctx, notificationListByRecipientSQL, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("notification store: list: %w", err)
	}
	defer rows.Close()

	var records []schema.NotificationRecord
	for rows.Next() {
		record, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notification store: iterate: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (schema.NotificationRecord, error) {
	var record schema.NotificationRecord
	var category string
	if err := row.Scan(
		&record.ID,
		&record.SenderID,
		&record.RecipientIDs,
		&category,
		&record.Title,
		&record.Message,
		&record.IsUrgent,
		&record.CreatedAt,
	); err != nil {
		return schema.NotificationRecord{}, fmt.Errorf("notification store: scan: %w", err)
	}
	record.Category = schema.Category(category)
	return record, nil
}
