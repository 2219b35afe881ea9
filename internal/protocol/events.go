package protocol

import (
	"encoding/json"
)

// Inbound event types
const (
	TypeRegisterIdentity = "register-identity"
	TypeSendMessage      = "send-message"
	TypeTyping           = "typing"
	TypeMarkRead         = "mark-read"
	TypeInitiateCall     = "initiate-call"
	TypeAcceptCall       = "accept-call"
	TypeRejectCall       = "reject-call"
	TypeEndCall          = "end-call"
	TypeFailCall         = "fail-call"
	TypeRelaySignal      = "relay-signal"
)

// Outbound event types
const (
	EventMessageSent    = "message-sent"
	EventReceiveMessage = "receive-message"
	EventUserTyping     = "user-typing"
	EventMessagesRead   = "messages-read"
	EventIncomingCall   = "incoming-call"
	EventCallInitiated  = "call-initiated"
	EventCallConnected  = "call-connected"
	EventCallAccepted   = "call-accepted"
	EventCallRejected   = "call-rejected"
	EventCallEnded      = "call-ended"
	EventCallMissed     = "call-missed"
	EventCallFailed     = "call-failed"
	EventCallSignal     = "call-signal"
	EventUserOnline     = "user-online"
	EventUserOffline    = "user-offline"
	EventError          = "error"
)

// Envelope is the wire frame used in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Event is an outbound envelope ready to be written to a session.
type Event = Envelope

// NewEvent marshals payload into an outbound event.
func NewEvent(eventType string, payload any) Event {
	data, _ := json.Marshal(payload)
	return Event{Type: eventType, Data: data}
}
