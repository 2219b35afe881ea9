package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/realtime-server-go/internal/errors"
	"github.com/openclaw/realtime-server-go/internal/metrics"
	"github.com/openclaw/realtime-server-go/internal/model"
	"github.com/openclaw/realtime-server-go/internal/protocol"
	"github.com/openclaw/realtime-server-go/internal/repository"
)

const (
	autoReplyAwayText   = "I am away right now. I will reply soon."
	autoReplyBusyText   = "I am currently busy. I will get back to you later."
	autoReplyCustomText = "Thanks for your message. I will respond shortly."
)

type SendMessageParams struct {
	SenderID        string
	ReceiverID      string
	Text            string
	Attachment      *model.Attachment
	ClientMessageID *string
}

type MessageService struct {
	messageRepo repository.MessageRepository
	userRepo    repository.UserRepository
	gate        *ContactGate
	emitter     Emitter
	presence    PresenceChecker
}

func NewMessageService(
	messageRepo repository.MessageRepository,
	userRepo repository.UserRepository,
	gate *ContactGate,
	emitter Emitter,
	presence PresenceChecker,
) *MessageService {
	return &MessageService{
		messageRepo: messageRepo,
		userRepo:    userRepo,
		gate:        gate,
		emitter:     emitter,
		presence:    presence,
	}
}

// SendMessage persists and fans out a direct message, then injects the
// receiver's auto-reply when one is configured.
func (s *MessageService) SendMessage(ctx context.Context, params SendMessageParams) (*model.Message, error) {
	allowed, err := s.gate.CanMessage(ctx, params.SenderID, params.ReceiverID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if !allowed {
		metrics.UnauthorizedSends.Inc()
		return nil, apperrors.Unauthorized("Unauthorized")
	}

	if params.ClientMessageID != nil {
		existing, err := s.messageRepo.FindByClientMessageID(ctx, params.SenderID, *params.ClientMessageID)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		if existing != nil {
			return s.echoDuplicate(ctx, existing), nil
		}
	}

	msg, err := s.deliver(ctx, model.CreateMessageParams{
		SenderID:        params.SenderID,
		ReceiverID:      params.ReceiverID,
		Text:            params.Text,
		Attachment:      params.Attachment,
		ClientMessageID: params.ClientMessageID,
	})
	if errors.Is(err, repository.ErrDuplicateClientMessage) {
		// A concurrent retry stored it between the lookup and the insert.
		existing, findErr := s.messageRepo.FindByClientMessageID(ctx, params.SenderID, *params.ClientMessageID)
		if findErr != nil {
			return nil, apperrors.Database(findErr)
		}
		if existing == nil {
			return nil, err
		}
		return s.echoDuplicate(ctx, existing), nil
	}
	if err != nil {
		return nil, err
	}

	if !msg.HasAttachment() {
		s.autoReply(ctx, msg)
	}

	return msg, nil
}

// echoDuplicate answers a resend with the stored message, to the sender only.
func (s *MessageService) echoDuplicate(ctx context.Context, existing *model.Message) *model.Message {
	log.Debug().
		Str("messageId", existing.ID).
		Str("senderId", existing.SenderID).
		Msg("duplicate send, re-echoing stored message")
	s.emitter.Emit(ctx, existing.SenderID, protocol.NewEvent(protocol.EventMessageSent, protocol.MessagePayload{Message: existing}))
	return existing
}

// deliver stamps the status from the receiver's presence at this instant,
// persists the message, echoes it to the sender and delivers it to the receiver.
func (s *MessageService) deliver(ctx context.Context, params model.CreateMessageParams) (*model.Message, error) {
	params.Status = model.MessageStatusSent
	if s.presence.IsOnline(ctx, params.ReceiverID) {
		params.Status = model.MessageStatusDelivered
	}

	msg, err := s.messageRepo.Create(ctx, params)
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("create message: %w", err))
	}
	metrics.MessagesSent.WithLabelValues(string(msg.Status)).Inc()

	log.Info().
		Str("messageId", msg.ID).
		Str("senderId", msg.SenderID).
		Str("receiverId", msg.ReceiverID).
		Str("status", string(msg.Status)).
		Bool("autoReply", msg.IsAutoReply).
		Msg("message created")

	payload := protocol.MessagePayload{Message: msg}
	s.emitter.Emit(ctx, msg.SenderID, protocol.NewEvent(protocol.EventMessageSent, payload))
	s.emitter.Emit(ctx, msg.ReceiverID, protocol.NewEvent(protocol.EventReceiveMessage, payload))

	return msg, nil
}

// autoReply answers original on behalf of its receiver. It goes through
// deliver directly so a reply can never trigger another reply.
func (s *MessageService) autoReply(ctx context.Context, original *model.Message) {
	if original.IsAutoReply {
		return
	}

	settings, err := s.userRepo.FindAutoReplySettings(ctx, original.ReceiverID)
	if err != nil {
		log.Error().Err(err).Str("userId", original.ReceiverID).Msg("failed to load auto reply settings")
		return
	}

	text := autoReplyText(settings)
	if text == "" {
		return
	}

	reply, err := s.deliver(ctx, model.CreateMessageParams{
		SenderID:    original.ReceiverID,
		ReceiverID:  original.SenderID,
		Text:        text,
		IsAutoReply: true,
	})
	if err != nil {
		log.Error().Err(err).Str("messageId", original.ID).Msg("failed to send auto reply")
		return
	}
	metrics.AutoReplies.Inc()

	log.Debug().
		Str("messageId", reply.ID).
		Str("inReplyTo", original.ID).
		Msg("auto reply sent")
}

func autoReplyText(settings *model.AutoReplySettings) string {
	if settings == nil || !settings.Enabled {
		return ""
	}
	switch settings.Mode {
	case model.AutoReplyModeAway:
		return autoReplyAwayText
	case model.AutoReplyModeBusy:
		return autoReplyBusyText
	case model.AutoReplyModeCustom:
		if settings.CustomText != nil && *settings.CustomText != "" {
			return *settings.CustomText
		}
		return autoReplyCustomText
	default:
		return ""
	}
}

// MarkRead moves every unread message from counterpartID to readerID into
// "read" and tells the counterpart. Nothing pending returns 0.
func (s *MessageService) MarkRead(ctx context.Context, readerID, counterpartID string) (int64, error) {
	ids, err := s.messageRepo.FindUnreadIDs(ctx, counterpartID, readerID)
	if err != nil {
		return 0, apperrors.Database(fmt.Errorf("find unread messages: %w", err))
	}
	if len(ids) == 0 {
		return 0, nil
	}

	count, err := s.messageRepo.UpdateStatus(ctx, ids, model.MessageStatusRead)
	if err != nil {
		return 0, apperrors.Database(fmt.Errorf("mark messages read: %w", err))
	}
	if count == 0 {
		return 0, nil
	}
	metrics.MessagesRead.Add(float64(count))

	log.Debug().
		Str("readerId", readerID).
		Str("counterpartId", counterpartID).
		Int64("count", count).
		Msg("messages marked as read")

	s.emitter.Emit(ctx, counterpartID, protocol.NewEvent(protocol.EventMessagesRead, protocol.MessagesReadPayload{
		ReadBy: readerID,
		Count:  count,
	}))

	return count, nil
}

// Typing forwards a typing indicator to the receiver's sessions.
func (s *MessageService) Typing(ctx context.Context, senderID, receiverID string, isTyping bool) {
	s.emitter.Emit(ctx, receiverID, protocol.NewEvent(protocol.EventUserTyping, protocol.TypingPayload{
		UserID:   senderID,
		IsTyping: isTyping,
	}))
}
