package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/checkout-api/internal/domain/notify"
)

const insertNotificationSQL = `INSERT INTO notifications (id, user_id, message, category, created_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO NOTHING`

var _ notify.Store = (*NotificationRepository)(nil)

// NotificationRepository stores in-app notifications.
type NotificationRepository struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository returns a NotificationRepository that uses the given pool.
func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

// SaveNotification inserts n. Redelivered notifications with a known id are
// ignored.
func (r *NotificationRepository) SaveNotification(ctx context.Context, n notify.Notification) error {
	if _, err := r.pool.Exec(ctx, insertNotificationSQL,
		n.ID, n.UserID, n.Message, n.Category, n.CreatedAt,
	); err != nil {
		return errors.Wrap(err, "insert notification")
	}
	return nil
}
