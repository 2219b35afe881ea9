package model

import (
	"time"
)

type Message struct {
	ID              string        `db:"id" json:"id"`
	SenderID        string        `db:"sender_id" json:"senderId"`
	ReceiverID      string        `db:"receiver_id" json:"receiverId"`
	Text            string        `db:"text" json:"text"`
	AttachmentURL   *string       `db:"attachment_url" json:"attachmentUrl,omitempty"`
	AttachmentName  *string       `db:"attachment_name" json:"attachmentName,omitempty"`
	AttachmentType  *string       `db:"attachment_type" json:"attachmentType,omitempty"`
	Status          MessageStatus `db:"status" json:"status"`
	ClientMessageID *string       `db:"client_message_id" json:"clientMessageId,omitempty"`
	IsAutoReply     bool          `db:"is_auto_reply" json:"isAutoReply"`
	CreatedAt       time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updatedAt"`
	ReadAt          *time.Time    `db:"read_at" json:"readAt,omitempty"`
}

func (m *Message) HasAttachment() bool {
	return m.AttachmentURL != nil && *m.AttachmentURL != ""
}

// Attachment references an already uploaded file.
type Attachment struct {
	URL  string  `json:"url"`
	Name *string `json:"name,omitempty"`
	Type *string `json:"type,omitempty"`
}

type CreateMessageParams struct {
	SenderID        string
	ReceiverID      string
	Text            string
	Attachment      *Attachment
	Status          MessageStatus
	ClientMessageID *string
	IsAutoReply     bool
}
