package repository

import (
	"context"
	"time"

	"github.com/lib/pq"

	"github.com/openclaw/realtime-server-go/internal/database"
	"github.com/openclaw/realtime-server-go/internal/model"
)

type CallRepository interface {
	FindByCallID(ctx context.Context, callID string) (*model.CallSession, error)
	Upsert(ctx context.Context, params model.UpsertCallParams) (*model.CallSession, error)
	MarkAccepted(ctx context.Context, callID string, connectedAt time.Time) (int64, error)
	Finalize(ctx context.Context, params model.FinalizeCallParams) (int64, error)
	FindStaleCalling(ctx context.Context, startedBefore time.Time, limit int) ([]model.CallSession, error)
}

type callRepo struct {
	db database.DBTX
}

func NewCallRepository(db database.DBTX) CallRepository {
	return &callRepo{db: db}
}

func (r *callRepo) FindByCallID(ctx context.Context, callID string) (*model.CallSession, error) {
	var call model.CallSession
	err := r.db.GetContext(ctx, &call, `SELECT * FROM call_sessions WHERE call_id = $1`, callID)
	return HandleNotFound(&call, err)
}

// Upsert creates the call in "calling". A repeated start for the same call id
// refreshes the participant set but never touches status or timestamps.
func (r *callRepo) Upsert(ctx context.Context, params model.UpsertCallParams) (*model.CallSession, error) {
	var call model.CallSession
	err := r.db.GetContext(ctx, &call, `
		INSERT INTO call_sessions
			(call_id, caller_id, receiver_id, participants, is_group, status, started_at, duration_seconds)
		VALUES ($1, $2, $3, $4, $5, 'calling', $6, 0)
		ON CONFLICT (call_id) DO UPDATE SET
			participants = EXCLUDED.participants,
			is_group = EXCLUDED.is_group,
			receiver_id = EXCLUDED.receiver_id,
			updated_at = NOW()
		RETURNING *
	`, params.CallID, params.CallerID, params.ReceiverID, pq.Array(params.Participants),
		params.IsGroup, params.StartedAt)
	if err != nil {
		return nil, err
	}
	return &call, nil
}

func (r *callRepo) MarkAccepted(ctx context.Context, callID string, connectedAt time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE call_sessions SET
			status = 'accepted',
			connected_at = $2,
			updated_at = NOW()
		WHERE call_id = $1 AND status = 'calling'
	`, callID, connectedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Finalize moves a live call into a terminal status. Calls that are already
// terminal are left alone and report zero affected rows.
func (r *callRepo) Finalize(ctx context.Context, params model.FinalizeCallParams) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE call_sessions SET
			status = $2,
			ended_at = $3,
			duration_seconds = $4,
			ended_by = $5,
			updated_at = NOW()
		WHERE call_id = $1 AND status IN ('calling', 'accepted')
	`, params.CallID, params.Status, params.EndedAt, params.DurationSeconds, params.EndedBy)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *callRepo) FindStaleCalling(ctx context.Context, startedBefore time.Time, limit int) ([]model.CallSession, error) {
	var calls []model.CallSession
	err := r.db.SelectContext(ctx, &calls, `
		SELECT * FROM call_sessions
		WHERE status = 'calling' AND started_at < $1
		ORDER BY started_at ASC
		LIMIT $2
	`, startedBefore, limit)
	return calls, err
}
