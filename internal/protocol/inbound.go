package protocol

import (
	"encoding/json"
	"strings"

	apperrors "github.com/openclaw/realtime-server-go/internal/errors"
	"github.com/openclaw/realtime-server-go/internal/model"
)

// Inbound is implemented by every event a client may send.
type Inbound interface {
	// EventType returns the wire type of the event.
	EventType() string
	// ActorID returns the user the event claims to act as.
	ActorID() string
	// Validate reports missing or malformed required fields.
	Validate() error
}

type RegisterIdentity struct {
	UserID string `json:"userId"`
}

func (e *RegisterIdentity) EventType() string { return TypeRegisterIdentity }
func (e *RegisterIdentity) ActorID() string   { return e.UserID }

func (e *RegisterIdentity) Validate() error {
	return requireFields(field{"userId", e.UserID})
}

type SendMessage struct {
	SenderID        string            `json:"senderId"`
	ReceiverID      string            `json:"receiverId"`
	Text            string            `json:"text"`
	Attachment      *model.Attachment `json:"attachment,omitempty"`
	ClientMessageID *string           `json:"clientMessageId,omitempty"`
}

func (e *SendMessage) EventType() string { return TypeSendMessage }
func (e *SendMessage) ActorID() string   { return e.SenderID }

func (e *SendMessage) Validate() error {
	if err := requireFields(field{"senderId", e.SenderID}, field{"receiverId", e.ReceiverID}); err != nil {
		return err
	}
	if e.Attachment != nil && strings.TrimSpace(e.Attachment.URL) == "" {
		return apperrors.MissingRequired("attachment.url")
	}
	if strings.TrimSpace(e.Text) == "" && e.Attachment == nil {
		return apperrors.ValidationError("text or attachment is required")
	}
	if e.ClientMessageID != nil && *e.ClientMessageID == "" {
		e.ClientMessageID = nil
	}
	return nil
}

type Typing struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	IsTyping   bool   `json:"isTyping"`
}

func (e *Typing) EventType() string { return TypeTyping }
func (e *Typing) ActorID() string   { return e.SenderID }

func (e *Typing) Validate() error {
	return requireFields(field{"senderId", e.SenderID}, field{"receiverId", e.ReceiverID})
}

type MarkRead struct {
	ReaderID      string `json:"readerId"`
	CounterpartID string `json:"counterpartId"`
}

func (e *MarkRead) EventType() string { return TypeMarkRead }
func (e *MarkRead) ActorID() string   { return e.ReaderID }

func (e *MarkRead) Validate() error {
	return requireFields(field{"readerId", e.ReaderID}, field{"counterpartId", e.CounterpartID})
}

type InitiateCall struct {
	CallID     string   `json:"callId"`
	CallerID   string   `json:"callerId"`
	InviteeIDs []string `json:"inviteeIds"`
	IsGroup    bool     `json:"isGroup"`
}

func (e *InitiateCall) EventType() string { return TypeInitiateCall }
func (e *InitiateCall) ActorID() string   { return e.CallerID }

func (e *InitiateCall) Validate() error {
	if err := requireFields(field{"callId", e.CallID}, field{"callerId", e.CallerID}); err != nil {
		return err
	}
	for _, id := range e.InviteeIDs {
		if id != "" && id != e.CallerID {
			return nil
		}
	}
	return apperrors.MissingRequired("inviteeIds")
}

// CallAction carries the fields shared by accept, reject, end and fail.
type CallAction struct {
	CallID string `json:"callId"`
	UserID string `json:"userId"`
}

func (e *CallAction) ActorID() string { return e.UserID }

func (e *CallAction) Validate() error {
	return requireFields(field{"callId", e.CallID}, field{"userId", e.UserID})
}

type AcceptCall struct{ CallAction }

func (e *AcceptCall) EventType() string { return TypeAcceptCall }

type RejectCall struct{ CallAction }

func (e *RejectCall) EventType() string { return TypeRejectCall }

type EndCall struct{ CallAction }

func (e *EndCall) EventType() string { return TypeEndCall }

// FailCall is sent by a client whose media negotiation failed before the call connected.
type FailCall struct {
	CallAction
	Reason string `json:"reason,omitempty"`
}

func (e *FailCall) EventType() string { return TypeFailCall }

type RelaySignal struct {
	CallID     string          `json:"callId"`
	FromUserID string          `json:"fromUserId"`
	ToUserID   string          `json:"toUserId"`
	Type       string          `json:"type"`
	SDP        json.RawMessage `json:"sdp,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
}

func (e *RelaySignal) EventType() string { return TypeRelaySignal }
func (e *RelaySignal) ActorID() string   { return e.FromUserID }

func (e *RelaySignal) Validate() error {
	return requireFields(
		field{"callId", e.CallID},
		field{"fromUserId", e.FromUserID},
		field{"toUserId", e.ToUserID},
		field{"type", e.Type},
	)
}

// Decode resolves an envelope into its typed event and validates it.
func Decode(env Envelope) (Inbound, error) {
	var event Inbound
	switch env.Type {
	case TypeRegisterIdentity:
		event = &RegisterIdentity{}
	case TypeSendMessage:
		event = &SendMessage{}
	case TypeTyping:
		event = &Typing{}
	case TypeMarkRead:
		event = &MarkRead{}
	case TypeInitiateCall:
		event = &InitiateCall{}
	case TypeAcceptCall:
		event = &AcceptCall{}
	case TypeRejectCall:
		event = &RejectCall{}
	case TypeEndCall:
		event = &EndCall{}
	case TypeFailCall:
		event = &FailCall{}
	case TypeRelaySignal:
		event = &RelaySignal{}
	case "":
		return nil, apperrors.MissingRequired("type")
	default:
		return nil, apperrors.InvalidInput("type", "unknown event "+env.Type)
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, apperrors.MissingRequired("data")
	}
	if err := json.Unmarshal(env.Data, event); err != nil {
		return nil, apperrors.InvalidInput("data", "malformed payload").WithCause(err)
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return event, nil
}

type field struct {
	name  string
	value string
}

func requireFields(fields ...field) error {
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return apperrors.MissingRequired(f.name)
		}
	}
	return nil
}
