package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/realtime-server-go/internal/config"
	apperrors "github.com/openclaw/realtime-server-go/internal/errors"
	"github.com/openclaw/realtime-server-go/internal/metrics"
	"github.com/openclaw/realtime-server-go/internal/model"
	"github.com/openclaw/realtime-server-go/internal/protocol"
	"github.com/openclaw/realtime-server-go/internal/repository"
	"github.com/openclaw/realtime-server-go/internal/scheduler"
)

type InitiateCallParams struct {
	CallID     string
	CallerID   string
	InviteeIDs []string
	IsGroup    bool
}

type RelaySignalParams struct {
	CallID     string
	FromUserID string
	ToUserID   string
	Type       string
	SDP        json.RawMessage
	Candidate  json.RawMessage
}

// CallService runs the call state machine. Every transition for a call id
// happens under that id's lock, and the store only applies a transition when
// the row is still in the expected status, so duplicates are no-ops.
type CallService struct {
	callRepo    repository.CallRepository
	emitter     Emitter
	timers      *scheduler.Scheduler
	ringTimeout time.Duration
	locks       *KeyedMutex
	now         func() time.Time
}

func NewCallService(
	callRepo repository.CallRepository,
	emitter Emitter,
	timers *scheduler.Scheduler,
	ringTimeout time.Duration,
) *CallService {
	return &CallService{
		callRepo:    callRepo,
		emitter:     emitter,
		timers:      timers,
		ringTimeout: ringTimeout,
		locks:       NewKeyedMutex(),
		now:         time.Now,
	}
}

// Initiate creates the call in "calling", rings every invitee and arms the
// missed timeout. A repeated start for the same id updates that call: new
// invitees are rung, existing state is kept.
func (s *CallService) Initiate(ctx context.Context, params InitiateCallParams) (*model.CallSession, error) {
	unlock := s.locks.Lock(params.CallID)
	defer unlock()

	participants := buildParticipants(params.CallerID, params.InviteeIDs)

	existing, err := s.callRepo.FindByCallID(ctx, params.CallID)
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("find call: %w", err))
	}
	if existing != nil {
		return s.reinitiate(ctx, existing, params, participants)
	}

	var receiverID string
	if !params.IsGroup && len(participants) > 1 {
		receiverID = participants[1]
	}

	call, err := s.callRepo.Upsert(ctx, model.UpsertCallParams{
		CallID:       params.CallID,
		CallerID:     params.CallerID,
		ReceiverID:   receiverID,
		Participants: participants,
		IsGroup:      params.IsGroup,
		StartedAt:    s.now(),
	})
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("create call: %w", err))
	}
	metrics.CallTransitions.WithLabelValues(string(model.CallStatusCalling)).Inc()

	log.Info().
		Str("callId", call.CallID).
		Str("callerId", call.CallerID).
		Int("participants", len(call.Participants)).
		Bool("isGroup", call.IsGroup).
		Msg("call initiated")

	s.ring(ctx, call, call.Invitees())

	if err := s.armTimeout(call.CallID); err != nil {
		s.failLocked(ctx, call, "", "scheduler unavailable")
		return nil, apperrors.Internal("Failed to initiate call").WithCause(err)
	}

	return call, nil
}

func (s *CallService) reinitiate(ctx context.Context, existing *model.CallSession, params InitiateCallParams, participants []string) (*model.CallSession, error) {
	logger := log.With().Str("callId", existing.CallID).Logger()

	if existing.CallerID != params.CallerID {
		logger.Debug().Str("callerId", params.CallerID).Msg("ignoring start from a different caller")
		return existing, nil
	}
	if existing.Status != model.CallStatusCalling {
		// Invitees added now could never accept.
		logger.Debug().Str("status", string(existing.Status)).Msg("ignoring start for call that is no longer ringing")
		return existing, nil
	}

	var added []string
	merged := append([]string(nil), existing.Participants...)
	for _, id := range participants {
		if !existing.HasParticipant(id) {
			added = append(added, id)
			merged = append(merged, id)
		}
	}

	call := existing
	if len(added) > 0 {
		updated, err := s.callRepo.Upsert(ctx, model.UpsertCallParams{
			CallID:       existing.CallID,
			CallerID:     existing.CallerID,
			ReceiverID:   existing.ReceiverID,
			Participants: merged,
			IsGroup:      existing.IsGroup || params.IsGroup,
			StartedAt:    existing.StartedAt,
		})
		if err != nil {
			return nil, apperrors.Database(fmt.Errorf("update call: %w", err))
		}
		call = updated
		logger.Info().Strs("added", added).Msg("call participants extended")
	}

	s.ring(ctx, call, added)

	if !s.timers.Pending(call.CallID) {
		if err := s.armTimeout(call.CallID); err != nil {
			logger.Warn().Err(err).Msg("failed to re-arm call timeout")
		}
	}

	return call, nil
}

// ring notifies invitees and confirms to every session of the caller.
func (s *CallService) ring(ctx context.Context, call *model.CallSession, invitees []string) {
	incoming := protocol.NewEvent(protocol.EventIncomingCall, protocol.IncomingCallPayload{
		CallID:         call.CallID,
		CallerID:       call.CallerID,
		ParticipantIDs: call.Participants,
		IsGroup:        call.IsGroup,
		StartedAt:      call.StartedAt,
	})
	for _, id := range invitees {
		s.emitter.Emit(ctx, id, incoming)
	}

	s.emitter.Emit(ctx, call.CallerID, protocol.NewEvent(protocol.EventCallInitiated, protocol.CallInitiatedPayload{
		CallID:         call.CallID,
		ParticipantIDs: call.Participants,
		IsGroup:        call.IsGroup,
		StartedAt:      call.StartedAt,
		Status:         call.Status,
	}))
}

func (s *CallService) armTimeout(callID string) error {
	return s.timers.Schedule(callID, s.ringTimeout, func() {
		ctx, cancel := context.WithTimeout(context.Background(), config.EventTimeout)
		defer cancel()

		if _, err := s.expire(ctx, callID); err != nil {
			log.Error().Err(err).Str("callId", callID).Msg("failed to expire call")
		}
	})
}

// Accept connects the call. Only an invitee may accept, and only while it is ringing.
func (s *CallService) Accept(ctx context.Context, callID, userID string) error {
	unlock := s.locks.Lock(callID)
	defer unlock()

	call, err := s.load(ctx, callID)
	if err != nil || call == nil {
		return err
	}
	if call.Status != model.CallStatusCalling || userID == call.CallerID || !call.HasParticipant(userID) {
		s.ignore(call, userID, "accept")
		return nil
	}

	connectedAt := s.now()
	rows, err := s.callRepo.MarkAccepted(ctx, callID, connectedAt)
	if err != nil {
		return apperrors.Database(fmt.Errorf("accept call: %w", err))
	}
	if rows == 0 {
		return nil
	}
	s.timers.Cancel(callID)
	metrics.CallTransitions.WithLabelValues(string(model.CallStatusAccepted)).Inc()

	log.Info().Str("callId", callID).Str("userId", userID).Msg("call accepted")

	connected := protocol.NewEvent(protocol.EventCallConnected, protocol.CallConnectedPayload{
		CallID:      callID,
		ConnectedBy: userID,
		ConnectedAt: connectedAt,
	})
	accepted := protocol.NewEvent(protocol.EventCallAccepted, protocol.CallAcceptedPayload{
		CallID:     callID,
		UserID:     userID,
		AcceptedAt: connectedAt,
	})
	for _, id := range call.Participants {
		s.emitter.Emit(ctx, id, connected)
		s.emitter.Emit(ctx, id, accepted)
	}
	return nil
}

// Reject declines a ringing call and tells everyone but the rejecter.
func (s *CallService) Reject(ctx context.Context, callID, userID string) error {
	unlock := s.locks.Lock(callID)
	defer unlock()

	call, err := s.load(ctx, callID)
	if err != nil || call == nil {
		return err
	}
	if call.Status != model.CallStatusCalling || !call.HasParticipant(userID) {
		s.ignore(call, userID, "reject")
		return nil
	}

	ok, err := s.finalize(ctx, call, model.CallStatusRejected, &userID, 0)
	if err != nil || !ok {
		return err
	}

	event := protocol.NewEvent(protocol.EventCallRejected, protocol.CallRejectedPayload{
		CallID: callID,
		UserID: userID,
	})
	for _, id := range call.ParticipantsExcept(userID) {
		s.emitter.Emit(ctx, id, event)
	}
	return nil
}

// End hangs up a live call. Duration counts from connect, or from start when
// nobody answered yet.
func (s *CallService) End(ctx context.Context, callID, userID string) error {
	unlock := s.locks.Lock(callID)
	defer unlock()

	call, err := s.load(ctx, callID)
	if err != nil || call == nil {
		return err
	}
	if call.IsTerminal() || !call.HasParticipant(userID) {
		s.ignore(call, userID, "end")
		return nil
	}

	endedAt := s.now()
	from := call.StartedAt
	if call.ConnectedAt != nil {
		from = *call.ConnectedAt
	}
	duration := model.CallDuration(from, endedAt)

	ok, err := s.finalizeAt(ctx, call, model.CallStatusEnded, &userID, duration, endedAt)
	if err != nil || !ok {
		return err
	}

	event := protocol.NewEvent(protocol.EventCallEnded, protocol.CallEndedPayload{
		CallID:          callID,
		EndedBy:         userID,
		EndedAt:         endedAt,
		DurationSeconds: duration,
	})
	for _, id := range call.ParticipantsExcept(userID) {
		s.emitter.Emit(ctx, id, event)
	}
	return nil
}

// Fail records a setup failure reported by a participant of a ringing call.
func (s *CallService) Fail(ctx context.Context, callID, userID, reason string) error {
	unlock := s.locks.Lock(callID)
	defer unlock()

	call, err := s.load(ctx, callID)
	if err != nil || call == nil {
		return err
	}
	if call.Status != model.CallStatusCalling || !call.HasParticipant(userID) {
		s.ignore(call, userID, "fail")
		return nil
	}

	s.failLocked(ctx, call, userID, reason)
	return nil
}

func (s *CallService) failLocked(ctx context.Context, call *model.CallSession, userID, reason string) {
	var endedBy *string
	if userID != "" {
		endedBy = &userID
	}

	at := s.now()
	ok, err := s.finalizeAt(ctx, call, model.CallStatusFailed, endedBy, 0, at)
	if err != nil {
		log.Error().Err(err).Str("callId", call.CallID).Msg("failed to mark call failed")
		return
	}
	if !ok {
		return
	}

	event := protocol.NewEvent(protocol.EventCallFailed, protocol.CallFailedPayload{
		CallID:   call.CallID,
		FailedBy: userID,
		Reason:   reason,
		At:       at,
	})
	for _, id := range call.Participants {
		s.emitter.Emit(ctx, id, event)
	}
}

// RelaySignal forwards negotiation data between two participants of a known
// call. Anything else is dropped without an error.
func (s *CallService) RelaySignal(ctx context.Context, params RelaySignalParams) error {
	call, err := s.callRepo.FindByCallID(ctx, params.CallID)
	if err != nil {
		return apperrors.Database(fmt.Errorf("find call: %w", err))
	}
	if call == nil || !call.HasParticipant(params.FromUserID) || !call.HasParticipant(params.ToUserID) {
		metrics.SignalsRelayed.WithLabelValues("dropped").Inc()
		log.Debug().
			Str("callId", params.CallID).
			Str("fromUserId", params.FromUserID).
			Str("toUserId", params.ToUserID).
			Msg("signal dropped")
		return nil
	}

	s.emitter.Emit(ctx, params.ToUserID, protocol.NewEvent(protocol.EventCallSignal, protocol.CallSignalPayload{
		CallID:     params.CallID,
		FromUserID: params.FromUserID,
		ToUserID:   params.ToUserID,
		Type:       params.Type,
		SDP:        params.SDP,
		Candidate:  params.Candidate,
	}))
	metrics.SignalsRelayed.WithLabelValues("relayed").Inc()
	return nil
}

// ExpireStale marks calls that kept ringing past startedBefore as missed. It
// covers timers lost with a restarted instance.
func (s *CallService) ExpireStale(ctx context.Context, startedBefore time.Time, limit int) (int, error) {
	calls, err := s.callRepo.FindStaleCalling(ctx, startedBefore, limit)
	if err != nil {
		return 0, fmt.Errorf("find stale calls: %w", err)
	}

	expired := 0
	for _, call := range calls {
		ok, err := s.expire(ctx, call.CallID)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

// expire is the missed transition shared by the timer and the stale sweep.
// It rechecks the current status, so a fire after accept is a no-op.
func (s *CallService) expire(ctx context.Context, callID string) (bool, error) {
	unlock := s.locks.Lock(callID)
	defer unlock()

	call, err := s.load(ctx, callID)
	if err != nil || call == nil {
		return false, err
	}
	if call.Status != model.CallStatusCalling {
		return false, nil
	}

	at := s.now()
	ok, err := s.finalizeAt(ctx, call, model.CallStatusMissed, nil, 0, at)
	if err != nil || !ok {
		return false, err
	}

	event := protocol.NewEvent(protocol.EventCallMissed, protocol.CallMissedPayload{
		CallID: callID,
		At:     at,
	})
	for _, id := range call.Participants {
		s.emitter.Emit(ctx, id, event)
	}
	return true, nil
}

func (s *CallService) load(ctx context.Context, callID string) (*model.CallSession, error) {
	call, err := s.callRepo.FindByCallID(ctx, callID)
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("find call: %w", err))
	}
	if call == nil {
		log.Debug().Str("callId", callID).Msg("event for unknown call dropped")
	}
	return call, nil
}

func (s *CallService) finalize(ctx context.Context, call *model.CallSession, status model.CallStatus, endedBy *string, duration int64) (bool, error) {
	return s.finalizeAt(ctx, call, status, endedBy, duration, s.now())
}

// finalizeAt writes the terminal status and clears the timer. It reports false
// when another path already finalized the call.
func (s *CallService) finalizeAt(ctx context.Context, call *model.CallSession, status model.CallStatus, endedBy *string, duration int64, endedAt time.Time) (bool, error) {
	rows, err := s.callRepo.Finalize(ctx, model.FinalizeCallParams{
		CallID:          call.CallID,
		Status:          status,
		EndedAt:         endedAt,
		DurationSeconds: duration,
		EndedBy:         endedBy,
	})
	if err != nil {
		return false, apperrors.Database(fmt.Errorf("finalize call: %w", err))
	}
	s.timers.Cancel(call.CallID)
	if rows == 0 {
		return false, nil
	}
	metrics.CallTransitions.WithLabelValues(string(status)).Inc()

	log.Info().
		Str("callId", call.CallID).
		Str("status", string(status)).
		Int64("durationSeconds", duration).
		Msg("call finalized")

	return true, nil
}

func (s *CallService) ignore(call *model.CallSession, userID, action string) {
	log.Debug().
		Str("callId", call.CallID).
		Str("userId", userID).
		Str("status", string(call.Status)).
		Str("action", action).
		Msg("call event ignored")
}

// buildParticipants returns the caller followed by the distinct invitees.
func buildParticipants(callerID string, inviteeIDs []string) []string {
	participants := []string{callerID}
	seen := map[string]bool{callerID: true}
	for _, id := range inviteeIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		participants = append(participants, id)
	}
	return participants
}
