package repository

import (
	"context"

	"github.com/kavehz/MentorAppBack/internal/models"
)

type PushSubscriptionRepository struct {
	db DBTX
}

func NewPushSubscriptionRepository(db DBTX) *PushSubscriptionRepository {
	return &PushSubscriptionRepository{db: db}
}

// Upsert registers a device endpoint for a user. Re-subscribing from the
// same browser replaces the key material instead of duplicating the row.
func (r *PushSubscriptionRepository) Upsert(
	ctx context.Context,
	userID int64,
	endpoint string,
	keyP256dh string,
	keyAuth string,
) (*models.PushSubscription, error) {
	query := `
		INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (endpoint)
		DO UPDATE SET user_id = EXCLUDED.user_id, p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth
		RETURNING id, user_id, endpoint, p256dh, auth, created_at
	`

	var sub models.PushSubscription
	err := r.db.QueryRow(ctx, query, userID, endpoint, keyP256dh, keyAuth).Scan(
		&sub.ID,
		&sub.UserID,
		&sub.Endpoint,
		&sub.KeyP256dh,
		&sub.KeyAuth,
		&sub.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &sub, nil
}

func (r *PushSubscriptionRepository) ListByUser(
	ctx context.Context,
	userID int64,
) ([]models.PushSubscription, error) {
	query := `
		SELECT id, user_id, endpoint, p256dh, auth, created_at
		FROM push_subscriptions
		WHERE user_id = $1
		ORDER BY id ASC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := make([]models.PushSubscription, 0)
	for rows.Next() {
		var sub models.PushSubscription
		if err := rows.Scan(
			&sub.ID,
			&sub.UserID,
			&sub.Endpoint,
			&sub.KeyP256dh,
			&sub.KeyAuth,
			&sub.CreatedAt,
		); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return subs, nil
}

func (r *PushSubscriptionRepository) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM push_subscriptions
		WHERE endpoint = $1
	`, endpoint)
	return err
}

func (r *PushSubscriptionRepository) DeleteForUser(ctx context.Context, userID int64, endpoint string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM push_subscriptions
		WHERE user_id = $1 AND endpoint = $2
	`, userID, endpoint)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
