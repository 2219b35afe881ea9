package repository

import (
	"context"

	"github.com/openclaw/realtime-server-go/internal/database"
)

type ContactRepository interface {
	IsAcceptedContact(ctx context.Context, userA, userB string) (bool, error)
	IsBlocked(ctx context.Context, blockerID, blockedID string) (bool, error)
	FindAcceptedContactIDs(ctx context.Context, userID string) ([]string, error)
}

type contactRepo struct {
	db database.DBTX
}

func NewContactRepository(db database.DBTX) ContactRepository {
	return &contactRepo{db: db}
}

func (r *contactRepo) IsAcceptedContact(ctx context.Context, userA, userB string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM contact_requests
			WHERE status = 'accepted'
			AND ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))
		)
	`, userA, userB)
	return exists, err
}

func (r *contactRepo) IsBlocked(ctx context.Context, blockerID, blockedID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM blocked_users WHERE blocker_id = $1 AND blocked_id = $2
		)
	`, blockerID, blockedID)
	return exists, err
}

func (r *contactRepo) FindAcceptedContactIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		SELECT DISTINCT CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END
		FROM contact_requests
		WHERE status = 'accepted' AND (sender_id = $1 OR receiver_id = $1)
	`, userID)
	return ids, err
}
