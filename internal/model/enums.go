package model

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

type CallStatus string

const (
	CallStatusCalling  CallStatus = "calling"
	CallStatusAccepted CallStatus = "accepted"
	CallStatusEnded    CallStatus = "ended"
	CallStatusMissed   CallStatus = "missed"
	CallStatusRejected CallStatus = "rejected"
	CallStatusFailed   CallStatus = "failed"
)

// IsTerminal reports whether no further lifecycle transition is allowed.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusEnded, CallStatusMissed, CallStatusRejected, CallStatusFailed:
		return true
	default:
		return false
	}
}

type AutoReplyMode string

const (
	AutoReplyModeOff    AutoReplyMode = "off"
	AutoReplyModeAway   AutoReplyMode = "away"
	AutoReplyModeBusy   AutoReplyMode = "busy"
	AutoReplyModeCustom AutoReplyMode = "custom"
)
