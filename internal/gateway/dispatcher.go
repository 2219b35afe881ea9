package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/realtime-server-go/internal/audit"
	"github.com/openclaw/realtime-server-go/internal/config"
	apperrors "github.com/openclaw/realtime-server-go/internal/errors"
	"github.com/openclaw/realtime-server-go/internal/metrics"
	"github.com/openclaw/realtime-server-go/internal/model"
	"github.com/openclaw/realtime-server-go/internal/presence"
	"github.com/openclaw/realtime-server-go/internal/protocol"
	"github.com/openclaw/realtime-server-go/internal/ratelimit"
	"github.com/openclaw/realtime-server-go/internal/service"
)

// Client is the connection as seen by the dispatcher.
type Client interface {
	presence.Session
	UserID() string
	Bind(userID string)
	RemoteIP() string
}

type Messaging interface {
	SendMessage(ctx context.Context, params service.SendMessageParams) (*model.Message, error)
	MarkRead(ctx context.Context, readerID, counterpartID string) (int64, error)
	Typing(ctx context.Context, senderID, receiverID string, isTyping bool)
}

type Calls interface {
	Initiate(ctx context.Context, params service.InitiateCallParams) (*model.CallSession, error)
	Accept(ctx context.Context, callID, userID string) error
	Reject(ctx context.Context, callID, userID string) error
	End(ctx context.Context, callID, userID string) error
	Fail(ctx context.Context, callID, userID, reason string) error
	RelaySignal(ctx context.Context, params service.RelaySignalParams) error
}

type Presence interface {
	Connect(ctx context.Context, userID string, session presence.Session)
	Disconnect(ctx context.Context, sessionID string)
}

type Limits struct {
	MessagesPerWindow int
	CallsPerWindow    int
	Window            time.Duration
}

// Dispatcher routes decoded inbound events of one connection to the services.
type Dispatcher struct {
	messages Messaging
	calls    Calls
	presence Presence
	limiter  ratelimit.Limiter
	limits   Limits
}

func NewDispatcher(messages Messaging, calls Calls, presence Presence, limiter ratelimit.Limiter, limits Limits) *Dispatcher {
	return &Dispatcher{
		messages: messages,
		calls:    calls,
		presence: presence,
		limiter:  limiter,
		limits:   limits,
	}
}

// Dispatch handles one raw frame. Failures are reported to the originating
// connection only and never affect other connections.
func (d *Dispatcher) Dispatch(ctx context.Context, client Client, raw []byte) {
	ctx, cancel := context.WithTimeout(ctx, config.EventTimeout)
	defer cancel()

	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		d.reject(client, "unknown", apperrors.InvalidInput("message", "malformed JSON"))
		return
	}

	event, err := protocol.Decode(env)
	if err != nil {
		d.reject(client, env.Type, err)
		return
	}

	if reg, ok := event.(*protocol.RegisterIdentity); ok {
		d.register(ctx, client, reg.UserID)
		return
	}

	bound := client.UserID()
	if bound == "" {
		d.reject(client, env.Type, apperrors.Unauthorized("Identity not registered"))
		return
	}
	if event.ActorID() != bound {
		audit.Log(ctx, audit.Event{
			Type:      audit.EventIdentityMismatch,
			UserID:    bound,
			SessionID: client.ID(),
			IP:        client.RemoteIP(),
			Details:   map[string]interface{}{"event": env.Type, "claimed": event.ActorID()},
		})
		d.reject(client, env.Type, apperrors.Unauthorized("Unauthorized"))
		return
	}

	if !d.allow(ctx, client, env.Type, bound) {
		return
	}

	if err := d.handle(ctx, client, event); err != nil {
		d.fail(client, env.Type, err)
		return
	}
	metrics.InboundEvents.WithLabelValues(metricLabel(env.Type), "ok").Inc()
}

func (d *Dispatcher) register(ctx context.Context, client Client, userID string) {
	bound := client.UserID()
	if bound != "" && bound != userID {
		audit.Log(ctx, audit.Event{
			Type:      audit.EventIdentityRebind,
			UserID:    bound,
			SessionID: client.ID(),
			IP:        client.RemoteIP(),
			Details:   map[string]interface{}{"claimed": userID},
		})
		d.reject(client, protocol.TypeRegisterIdentity, apperrors.Unauthorized("Identity already registered"))
		return
	}

	client.Bind(userID)
	d.presence.Connect(ctx, userID, client)
	metrics.InboundEvents.WithLabelValues(protocol.TypeRegisterIdentity, "ok").Inc()
}

func (d *Dispatcher) allow(ctx context.Context, client Client, eventType, userID string) bool {
	var limit int
	switch eventType {
	case protocol.TypeSendMessage:
		limit = d.limits.MessagesPerWindow
	case protocol.TypeInitiateCall:
		limit = d.limits.CallsPerWindow
	default:
		return true
	}
	if d.limiter == nil || limit <= 0 {
		return true
	}

	allowed, resetAt := d.limiter.Allow(ctx, fmt.Sprintf("%s:%s", eventType, userID), limit, d.limits.Window)
	if allowed {
		return true
	}

	metrics.RateLimitHits.WithLabelValues(eventType).Inc()
	audit.Log(ctx, audit.Event{
		Type:      audit.EventRateLimitExceed,
		UserID:    userID,
		SessionID: client.ID(),
		IP:        client.RemoteIP(),
		Details:   map[string]interface{}{"event": eventType, "resetAt": resetAt.Format(time.RFC3339)},
	})
	d.reject(client, eventType, apperrors.RateLimitExceeded().WithDetails(map[string]any{"resetAt": resetAt}))
	return false
}

func (d *Dispatcher) handle(ctx context.Context, client Client, event protocol.Inbound) error {
	switch e := event.(type) {
	case *protocol.SendMessage:
		_, err := d.messages.SendMessage(ctx, service.SendMessageParams{
			SenderID:        e.SenderID,
			ReceiverID:      e.ReceiverID,
			Text:            e.Text,
			Attachment:      e.Attachment,
			ClientMessageID: e.ClientMessageID,
		})
		if apperrors.GetCode(err) == apperrors.ErrCodeUnauthorized {
			audit.Log(ctx, audit.Event{
				Type:      audit.EventUnauthorizedMessage,
				UserID:    e.SenderID,
				SessionID: client.ID(),
				IP:        client.RemoteIP(),
				Details:   map[string]interface{}{"receiverId": e.ReceiverID},
			})
		}
		return err

	case *protocol.Typing:
		d.messages.Typing(ctx, e.SenderID, e.ReceiverID, e.IsTyping)
		return nil

	case *protocol.MarkRead:
		_, err := d.messages.MarkRead(ctx, e.ReaderID, e.CounterpartID)
		return err

	case *protocol.InitiateCall:
		_, err := d.calls.Initiate(ctx, service.InitiateCallParams{
			CallID:     e.CallID,
			CallerID:   e.CallerID,
			InviteeIDs: e.InviteeIDs,
			IsGroup:    e.IsGroup,
		})
		return err

	case *protocol.AcceptCall:
		return d.calls.Accept(ctx, e.CallID, e.UserID)

	case *protocol.RejectCall:
		return d.calls.Reject(ctx, e.CallID, e.UserID)

	case *protocol.EndCall:
		return d.calls.End(ctx, e.CallID, e.UserID)

	case *protocol.FailCall:
		return d.calls.Fail(ctx, e.CallID, e.UserID, e.Reason)

	case *protocol.RelaySignal:
		return d.calls.RelaySignal(ctx, service.RelaySignalParams{
			CallID:     e.CallID,
			FromUserID: e.FromUserID,
			ToUserID:   e.ToUserID,
			Type:       e.Type,
			SDP:        e.SDP,
			Candidate:  e.Candidate,
		})

	default:
		return apperrors.InvalidInput("type", "unsupported event "+event.EventType())
	}
}

// Disconnect is the implicit lifecycle event of a closed connection.
func (d *Dispatcher) Disconnect(ctx context.Context, client Client) {
	d.presence.Disconnect(ctx, client.ID())
}

// reject reports a refused event whose message is always safe to show.
func (d *Dispatcher) reject(client Client, eventType string, err error) {
	metrics.InboundEvents.WithLabelValues(metricLabel(eventType), "rejected").Inc()
	d.sendError(client, eventType, err)
}

func (d *Dispatcher) fail(client Client, eventType string, err error) {
	if apperrors.GetCode(err) == apperrors.ErrCodeUnauthorized {
		d.reject(client, eventType, err)
		return
	}
	metrics.InboundEvents.WithLabelValues(metricLabel(eventType), "failed").Inc()
	d.sendError(client, eventType, err)
}

func (d *Dispatcher) sendError(client Client, eventType string, err error) {
	payload := protocol.ErrorPayload{
		Message: "Failed to " + operationName(eventType),
		Code:    string(apperrors.ErrCodeInternal),
	}

	if appErr, ok := apperrors.AsAppError(err); ok && appErr.Exposed() {
		payload.Message = appErr.Message
		payload.Code = string(appErr.Code)
	} else {
		log.Error().
			Err(err).
			Str("sessionId", client.ID()).
			Str("userId", client.UserID()).
			Str("event", eventType).
			Msg("event handling failed")
	}

	if sendErr := client.Send(protocol.NewEvent(protocol.EventError, payload)); sendErr != nil {
		log.Debug().Err(sendErr).Str("sessionId", client.ID()).Msg("failed to deliver error event")
	}
}

func operationName(eventType string) string {
	switch eventType {
	case protocol.TypeSendMessage:
		return "send message"
	case protocol.TypeMarkRead:
		return "mark messages as read"
	case protocol.TypeInitiateCall:
		return "initiate call"
	case protocol.TypeAcceptCall:
		return "accept call"
	case protocol.TypeRejectCall:
		return "reject call"
	case protocol.TypeEndCall:
		return "end call"
	case protocol.TypeFailCall:
		return "report call failure"
	case protocol.TypeRelaySignal:
		return "relay signal"
	case protocol.TypeRegisterIdentity:
		return "register identity"
	default:
		return "process event"
	}
}

// metricLabel keeps client supplied type names out of metric labels.
func metricLabel(eventType string) string {
	switch eventType {
	case protocol.TypeRegisterIdentity, protocol.TypeSendMessage, protocol.TypeTyping,
		protocol.TypeMarkRead, protocol.TypeInitiateCall, protocol.TypeAcceptCall,
		protocol.TypeRejectCall, protocol.TypeEndCall, protocol.TypeFailCall,
		protocol.TypeRelaySignal:
		return eventType
	default:
		return "unknown"
	}
}
