package protocol

import (
	"encoding/json"
	"time"

	"github.com/openclaw/realtime-server-go/internal/model"
)

type MessagePayload struct {
	Message *model.Message `json:"message"`
}

type TypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type MessagesReadPayload struct {
	ReadBy string `json:"readBy"`
	Count  int64  `json:"count"`
}

type IncomingCallPayload struct {
	CallID         string    `json:"callId"`
	CallerID       string    `json:"callerId"`
	ParticipantIDs []string  `json:"participantIds"`
	IsGroup        bool      `json:"isGroup"`
	StartedAt      time.Time `json:"startedAt"`
}

type CallInitiatedPayload struct {
	CallID         string           `json:"callId"`
	ParticipantIDs []string         `json:"participantIds"`
	IsGroup        bool             `json:"isGroup"`
	StartedAt      time.Time        `json:"startedAt"`
	Status         model.CallStatus `json:"status"`
}

type CallConnectedPayload struct {
	CallID      string    `json:"callId"`
	ConnectedBy string    `json:"connectedBy"`
	ConnectedAt time.Time `json:"connectedAt"`
}

type CallAcceptedPayload struct {
	CallID     string    `json:"callId"`
	UserID     string    `json:"userId"`
	AcceptedAt time.Time `json:"acceptedAt"`
}

type CallRejectedPayload struct {
	CallID string `json:"callId"`
	UserID string `json:"userId"`
}

type CallEndedPayload struct {
	CallID          string    `json:"callId"`
	EndedBy         string    `json:"endedBy"`
	EndedAt         time.Time `json:"endedAt"`
	DurationSeconds int64     `json:"durationSeconds"`
}

type CallMissedPayload struct {
	CallID string    `json:"callId"`
	At     time.Time `json:"at"`
}

type CallFailedPayload struct {
	CallID   string    `json:"callId"`
	FailedBy string    `json:"failedBy,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// CallSignalPayload forwards negotiation data untouched.
type CallSignalPayload struct {
	CallID     string          `json:"callId"`
	FromUserID string          `json:"fromUserId"`
	ToUserID   string          `json:"toUserId"`
	Type       string          `json:"type"`
	SDP        json.RawMessage `json:"sdp,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
}

type UserOnlinePayload struct {
	UserID string `json:"userId"`
}

type UserOfflinePayload struct {
	UserID   string    `json:"userId"`
	LastSeen time.Time `json:"lastSeen"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
