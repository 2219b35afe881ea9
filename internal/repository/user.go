package repository

import (
	"context"
	"time"

	"github.com/openclaw/realtime-server-go/internal/database"
	"github.com/openclaw/realtime-server-go/internal/model"
)

type UserRepository interface {
	SetOnline(ctx context.Context, userID string, online bool, lastSeen *time.Time) error
	FindAutoReplySettings(ctx context.Context, userID string) (*model.AutoReplySettings, error)
}

type userRepo struct {
	db database.DBTX
}

func NewUserRepository(db database.DBTX) UserRepository {
	return &userRepo{db: db}
}

// SetOnline keeps last_seen untouched when lastSeen is nil.
func (r *userRepo) SetOnline(ctx context.Context, userID string, online bool, lastSeen *time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET
			is_online = $2,
			last_seen = COALESCE($3, last_seen),
			updated_at = NOW()
		WHERE id = $1
	`, userID, online, lastSeen)
	return err
}

func (r *userRepo) FindAutoReplySettings(ctx context.Context, userID string) (*model.AutoReplySettings, error) {
	var settings model.AutoReplySettings
	err := r.db.GetContext(ctx, &settings, `
		SELECT auto_reply_enabled, auto_reply_mode, auto_reply_custom_text
		FROM users WHERE id = $1
	`, userID)
	return HandleNotFound(&settings, err)
}
