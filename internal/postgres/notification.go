package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vendora/bazaar/internal/domain/notify"
)

const insertNotificationSQL = `INSERT INTO notifications
	(id, recipient_id, ntype, level, title, message, order_id, target_url)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (recipient_id, title, order_id) DO NOTHING`

var _ notify.Dispatcher = (*NotificationStore)(nil)

// NotificationStore implements notify.Dispatcher on top of the notifications
// table. The (recipient, title, order) unique key makes NotifyOnce safe to
// call from every reconciliation path.
type NotificationStore struct {
	pool *pgxpool.Pool
}

// NewNotificationStore returns a NotificationStore that uses the given pool.
func NewNotificationStore(pool *pgxpool.Pool) *NotificationStore {
	return &NotificationStore{pool: pool}
}

// NotifyOnce inserts the notification, silently dropping duplicates.
func (s *NotificationStore) NotifyOnce(ctx context.Context, n notify.Notification) error {
	_, err := s.pool.Exec(ctx, insertNotificationSQL,
		uuid.NewString(), n.RecipientID, n.Type, n.Level,
		n.Title, n.Message, n.OrderID, n.TargetURL)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}
