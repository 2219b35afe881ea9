package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/openclaw/realtime-server-go/internal/database"
	"github.com/openclaw/realtime-server-go/internal/model"
)

// ErrDuplicateClientMessage is returned by Create when the sender already
// stored a message under the same client message id.
var ErrDuplicateClientMessage = errors.New("client message id already stored")

type MessageRepository interface {
	Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, error)
	FindByClientMessageID(ctx context.Context, senderID, clientMessageID string) (*model.Message, error)
	FindUnreadIDs(ctx context.Context, senderID, receiverID string) ([]string, error)
	UpdateStatus(ctx context.Context, ids []string, status model.MessageStatus) (int64, error)
}

type messageRepo struct {
	db database.DBTX
}

func NewMessageRepository(db database.DBTX) MessageRepository {
	return &messageRepo{db: db}
}

func (r *messageRepo) Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, error) {
	var attachmentURL, attachmentName, attachmentType *string
	if params.Attachment != nil {
		attachmentURL = &params.Attachment.URL
		attachmentName = params.Attachment.Name
		attachmentType = params.Attachment.Type
	}

	var msg model.Message
	err := r.db.GetContext(ctx, &msg, `
		INSERT INTO messages
			(sender_id, receiver_id, text, attachment_url, attachment_name, attachment_type,
			 status, client_message_id, is_auto_reply)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (sender_id, client_message_id) DO NOTHING
		RETURNING *
	`, params.SenderID, params.ReceiverID, params.Text, attachmentURL, attachmentName,
		attachmentType, params.Status, params.ClientMessageID, params.IsAutoReply)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDuplicateClientMessage
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepo) FindByClientMessageID(ctx context.Context, senderID, clientMessageID string) (*model.Message, error) {
	var msg model.Message
	err := r.db.GetContext(ctx, &msg, `
		SELECT * FROM messages WHERE sender_id = $1 AND client_message_id = $2
	`, senderID, clientMessageID)
	return HandleNotFound(&msg, err)
}

func (r *messageRepo) FindUnreadIDs(ctx context.Context, senderID, receiverID string) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		SELECT id FROM messages
		WHERE sender_id = $1 AND receiver_id = $2 AND status <> 'read'
		ORDER BY created_at ASC
	`, senderID, receiverID)
	return ids, err
}

// UpdateStatus only touches rows whose status differs, so the returned count
// is the number of messages that actually transitioned.
func (r *messageRepo) UpdateStatus(ctx context.Context, ids []string, status model.MessageStatus) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE messages SET
			status = $2,
			read_at = CASE WHEN $2 = 'read' THEN NOW() ELSE read_at END,
			updated_at = NOW()
		WHERE id = ANY($1) AND status <> $2
	`, pq.Array(ids), status)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
