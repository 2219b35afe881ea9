package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/realtime-server-go/internal/model"
	"github.com/openclaw/realtime-server-go/internal/protocol"
	"github.com/openclaw/realtime-server-go/internal/scheduler"
)

type callFixture struct {
	h      *harness
	repo   *memCallRepo
	timers *scheduler.Scheduler
	svc    *CallService
}

func newCallFixture(t *testing.T, ringTimeout time.Duration) *callFixture {
	h := newHarness()
	repo := newMemCallRepo()
	timers := scheduler.New()
	t.Cleanup(timers.Stop)
	return &callFixture{
		h:      h,
		repo:   repo,
		timers: timers,
		svc:    NewCallService(repo, h.broker, timers, ringTimeout),
	}
}

func (f *callFixture) initiate(t *testing.T, callID, callerID string, invitees ...string) *model.CallSession {
	t.Helper()
	call, err := f.svc.Initiate(context.Background(), InitiateCallParams{
		CallID:     callID,
		CallerID:   callerID,
		InviteeIDs: invitees,
		IsGroup:    len(invitees) > 1,
	})
	require.NoError(t, err)
	return call
}

func TestCallService_Initiate(t *testing.T) {
	f := newCallFixture(t, time.Minute)
	callerPhone := f.h.connect("C")
	callerLaptop := f.h.connect("C")
	invitee := f.h.connect("D")

	call, err := f.svc.Initiate(context.Background(), InitiateCallParams{
		CallID:     "call-1",
		CallerID:   "C",
		InviteeIDs: []string{"D", "D", "C", ""},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"C", "D"}, []string(call.Participants))
	assert.Equal(t, model.CallStatusCalling, call.Status)
	assert.Equal(t, "D", call.ReceiverID)
	assert.True(t, f.timers.Pending("call-1"))

	assert.Equal(t, 1, invitee.count(protocol.EventIncomingCall))
	assert.Equal(t, 1, callerPhone.count(protocol.EventCallInitiated))
	assert.Equal(t, 1, callerLaptop.count(protocol.EventCallInitiated))
	assert.Equal(t, 0, callerPhone.count(protocol.EventIncomingCall))

	event, ok := callerPhone.last(protocol.EventCallInitiated)
	require.True(t, ok)
	var payload protocol.CallInitiatedPayload
	require.NoError(t, json.Unmarshal(event.Data, &payload))
	assert.Equal(t, model.CallStatusCalling, payload.Status)
	assert.Equal(t, []string{"C", "D"}, payload.ParticipantIDs)
}

func TestCallService_GroupCallHasNoSingleReceiver(t *testing.T) {
	f := newCallFixture(t, time.Minute)

	call := f.initiate(t, "group-1", "C", "D", "E")
	assert.True(t, call.IsGroup)
	assert.Empty(t, call.ReceiverID)
	assert.Equal(t, []string{"D", "E"}, call.Invitees())
}

func TestCallService_ReinitiateIsAnUpdate(t *testing.T) {
	f := newCallFixture(t, time.Minute)
	d := f.h.connect("D")
	e := f.h.connect("E")

	first := f.initiate(t, "call-1", "C", "D")
	second := f.initiate(t, "call-1", "C", "D", "E")

	assert.Equal(t, first.StartedAt, second.StartedAt)
	assert.Equal(t, []string{"C", "D", "E"}, []string(second.Participants))
	assert.Equal(t, 1, d.count(protocol.EventIncomingCall))
	assert.Equal(t, 1, e.count(protocol.EventIncomingCall))
	assert.Equal(t, 1, f.timers.Len())

	t.Run("different caller is ignored", func(t *testing.T) {
		call := f.initiate(t, "call-1", "X", "D")
		assert.Equal(t, "C", call.CallerID)
		assert.Equal(t, 1, d.count(protocol.EventIncomingCall))
	})

	t.Run("accepted call does not ring new invitees", func(t *testing.T) {
		late := f.h.connect("F")
		require.NoError(t, f.svc.Accept(context.Background(), "call-1", "D"))

		call := f.initiate(t, "call-1", "C", "D", "E", "F")
		assert.Equal(t, model.CallStatusAccepted, call.Status)
		assert.Equal(t, []string{"C", "D", "E"}, []string(call.Participants))
		assert.Equal(t, 0, late.count(protocol.EventIncomingCall))
		assert.False(t, f.timers.Pending("call-1"))
	})

	t.Run("finished call is not revived", func(t *testing.T) {
		require.NoError(t, f.svc.End(context.Background(), "call-1", "C"))
		call := f.initiate(t, "call-1", "C", "D")
		assert.Equal(t, model.CallStatusEnded, call.Status)
		assert.False(t, f.timers.Pending("call-1"))
	})
}

func TestCallService_AcceptThenRejectStaysAccepted(t *testing.T) {
	f := newCallFixture(t, time.Minute)
	ctx := context.Background()
	caller := f.h.connect("C")
	invitee := f.h.connect("D")

	f.initiate(t, "call-1", "C", "D")

	require.NoError(t, f.svc.Accept(ctx, "call-1", "D"))
	assert.Equal(t, model.CallStatusAccepted, f.repo.status("call-1"))
	assert.False(t, f.timers.Pending("call-1"))

	for _, s := range []*recordingSession{caller, invitee} {
		assert.Equal(t, 1, s.count(protocol.EventCallConnected))
		assert.Equal(t, 1, s.count(protocol.EventCallAccepted))
	}

	require.NoError(t, f.svc.Reject(ctx, "call-1", "D"))
	assert.Equal(t, model.CallStatusAccepted, f.repo.status("call-1"))
	assert.Equal(t, 0, caller.count(protocol.EventCallRejected))

	require.NoError(t, f.svc.Accept(ctx, "call-1", "D"))
	assert.Equal(t, 1, caller.count(protocol.EventCallConnected))
}

func TestCallService_CallerCannotAccept(t *testing.T) {
	f := newCallFixture(t, time.Minute)

	f.initiate(t, "call-1", "C", "D")
	require.NoError(t, f.svc.Accept(context.Background(), "call-1", "C"))
	require.NoError(t, f.svc.Accept(context.Background(), "call-1", "stranger"))

	assert.Equal(t, model.CallStatusCalling, f.repo.status("call-1"))
	assert.True(t, f.timers.Pending("call-1"))
}

func TestCallService_Reject(t *testing.T) {
	f := newCallFixture(t, time.Minute)
	caller := f.h.connect("C")
	rejecter := f.h.connect("D")
	other := f.h.connect("E")

	f.initiate(t, "call-1", "C", "D", "E")
	require.NoError(t, f.svc.Reject(context.Background(), "call-1", "D"))

	call, err := f.repo.FindByCallID(context.Background(), "call-1")
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusRejected, call.Status)
	require.NotNil(t, call.EndedBy)
	assert.Equal(t, "D", *call.EndedBy)
	assert.Equal(t, int64(0), call.DurationSeconds)
	assert.False(t, f.timers.Pending("call-1"))

	assert.Equal(t, 1, caller.count(protocol.EventCallRejected))
	assert.Equal(t, 1, other.count(protocol.EventCallRejected))
	assert.Equal(t, 0, rejecter.count(protocol.EventCallRejected))
}

func TestCallService_EndTwice(t *testing.T) {
	f := newCallFixture(t, time.Minute)
	ctx := context.Background()
	caller := f.h.connect("C")
	ender := f.h.connect("D")

	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := start
	f.svc.now = func() time.Time { return clock }

	f.initiate(t, "call-1", "C", "D")

	clock = start.Add(2 * time.Second)
	require.NoError(t, f.svc.Accept(ctx, "call-1", "D"))

	clock = start.Add(9*time.Second + 700*time.Millisecond)
	require.NoError(t, f.svc.End(ctx, "call-1", "D"))

	call, err := f.repo.FindByCallID(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusEnded, call.Status)
	assert.Equal(t, int64(7), call.DurationSeconds)

	clock = start.Add(time.Hour)
	require.NoError(t, f.svc.End(ctx, "call-1", "C"))

	call, err = f.repo.FindByCallID(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), call.DurationSeconds)
	assert.Equal(t, "D", *call.EndedBy)

	assert.Equal(t, 1, caller.count(protocol.EventCallEnded))
	assert.Equal(t, 0, ender.count(protocol.EventCallEnded))

	event, ok := caller.last(protocol.EventCallEnded)
	require.True(t, ok)
	var payload protocol.CallEndedPayload
	require.NoError(t, json.Unmarshal(event.Data, &payload))
	assert.Equal(t, "D", payload.EndedBy)
	assert.Equal(t, int64(7), payload.DurationSeconds)
}

func TestCallService_CancelBeforeAccept(t *testing.T) {
	f := newCallFixture(t, time.Minute)
	ctx := context.Background()
	invitee := f.h.connect("D")

	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := start
	f.svc.now = func() time.Time { return clock }

	f.initiate(t, "call-1", "C", "D")
	clock = start.Add(1500 * time.Millisecond)
	require.NoError(t, f.svc.End(ctx, "call-1", "C"))

	call, err := f.repo.FindByCallID(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusEnded, call.Status)
	assert.Equal(t, int64(1), call.DurationSeconds)
	assert.False(t, f.timers.Pending("call-1"))
	assert.Equal(t, 1, invitee.count(protocol.EventCallEnded))
}

func TestCallService_MissedTimeout(t *testing.T) {
	f := newCallFixture(t, 50*time.Millisecond)
	caller := f.h.connect("C")
	invitee := f.h.connect("D")

	f.initiate(t, "call-1", "C", "D")

	assert.Eventually(t, func() bool {
		return f.repo.status("call-1") == model.CallStatusMissed
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return caller.count(protocol.EventCallMissed) == 1 && invitee.count(protocol.EventCallMissed) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, f.svc.Accept(context.Background(), "call-1", "D"))
	assert.Equal(t, model.CallStatusMissed, f.repo.status("call-1"))
	assert.Equal(t, 0, invitee.count(protocol.EventCallConnected))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, caller.count(protocol.EventCallMissed))
}

func TestCallService_TimerAfterAcceptIsNoop(t *testing.T) {
	f := newCallFixture(t, time.Minute)
	caller := f.h.connect("C")

	f.initiate(t, "call-1", "C", "D")
	require.NoError(t, f.svc.Accept(context.Background(), "call-1", "D"))

	ok, err := f.svc.expire(context.Background(), "call-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, model.CallStatusAccepted, f.repo.status("call-1"))
	assert.Equal(t, 0, caller.count(protocol.EventCallMissed))
}

func TestCallService_AcceptRacesTimeout(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newCallFixture(t, time.Minute)
		caller := f.h.connect("C")
		f.initiate(t, "call-1", "C", "D")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = f.svc.Accept(context.Background(), "call-1", "D")
		}()
		go func() {
			defer wg.Done()
			_, _ = f.svc.expire(context.Background(), "call-1")
		}()
		wg.Wait()

		switch f.repo.status("call-1") {
		case model.CallStatusAccepted:
			assert.Equal(t, 0, caller.count(protocol.EventCallMissed))
			assert.Equal(t, 1, caller.count(protocol.EventCallConnected))
		case model.CallStatusMissed:
			assert.Equal(t, 1, caller.count(protocol.EventCallMissed))
			assert.Equal(t, 0, caller.count(protocol.EventCallConnected))
		default:
			t.Fatalf("unexpected status %s", f.repo.status("call-1"))
		}
	}
}

func TestCallService_Fail(t *testing.T) {
	f := newCallFixture(t, time.Minute)
	ctx := context.Background()
	caller := f.h.connect("C")
	invitee := f.h.connect("D")

	f.initiate(t, "call-1", "C", "D")
	require.NoError(t, f.svc.Fail(ctx, "call-1", "D", "ice failed"))

	assert.Equal(t, model.CallStatusFailed, f.repo.status("call-1"))
	assert.False(t, f.timers.Pending("call-1"))
	assert.Equal(t, 1, caller.count(protocol.EventCallFailed))
	assert.Equal(t, 1, invitee.count(protocol.EventCallFailed))

	event, ok := caller.last(protocol.EventCallFailed)
	require.True(t, ok)
	var payload protocol.CallFailedPayload
	require.NoError(t, json.Unmarshal(event.Data, &payload))
	assert.Equal(t, "ice failed", payload.Reason)
	assert.Equal(t, "D", payload.FailedBy)

	require.NoError(t, f.svc.Fail(ctx, "call-1", "D", "again"))
	assert.Equal(t, 1, caller.count(protocol.EventCallFailed))
}

func TestCallService_InitiateAfterSchedulerStopFails(t *testing.T) {
	f := newCallFixture(t, time.Minute)
	caller := f.h.connect("C")
	f.timers.Stop()

	_, err := f.svc.Initiate(context.Background(), InitiateCallParams{
		CallID:     "call-1",
		CallerID:   "C",
		InviteeIDs: []string{"D"},
	})
	require.Error(t, err)
	assert.Equal(t, model.CallStatusFailed, f.repo.status("call-1"))
	assert.Equal(t, 1, caller.count(protocol.EventCallFailed))
}

func TestCallService_UnknownCallIsDropped(t *testing.T) {
	f := newCallFixture(t, time.Minute)
	ctx := context.Background()

	assert.NoError(t, f.svc.Accept(ctx, "ghost", "D"))
	assert.NoError(t, f.svc.Reject(ctx, "ghost", "D"))
	assert.NoError(t, f.svc.End(ctx, "ghost", "D"))
	assert.NoError(t, f.svc.Fail(ctx, "ghost", "D", ""))
}

func TestCallService_RelaySignal(t *testing.T) {
	f := newCallFixture(t, time.Minute)
	ctx := context.Background()
	caller := f.h.connect("C")
	invitee := f.h.connect("D")
	outsider := f.h.connect("X")

	f.initiate(t, "call-1", "C", "D")

	sdp := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)

	t.Run("forwards between participants", func(t *testing.T) {
		require.NoError(t, f.svc.RelaySignal(ctx, RelaySignalParams{
			CallID: "call-1", FromUserID: "C", ToUserID: "D", Type: "offer", SDP: sdp,
		}))

		event, ok := invitee.last(protocol.EventCallSignal)
		require.True(t, ok)
		var payload protocol.CallSignalPayload
		require.NoError(t, json.Unmarshal(event.Data, &payload))
		assert.Equal(t, "offer", payload.Type)
		assert.JSONEq(t, string(sdp), string(payload.SDP))
		assert.Empty(t, payload.Candidate)
		assert.Equal(t, 0, caller.count(protocol.EventCallSignal))
	})

	t.Run("drops when target is not a participant", func(t *testing.T) {
		require.NoError(t, f.svc.RelaySignal(ctx, RelaySignalParams{
			CallID: "call-1", FromUserID: "C", ToUserID: "X", Type: "offer", SDP: sdp,
		}))
		assert.Equal(t, 0, outsider.count(protocol.EventCallSignal))
	})

	t.Run("drops when sender is not a participant", func(t *testing.T) {
		require.NoError(t, f.svc.RelaySignal(ctx, RelaySignalParams{
			CallID: "call-1", FromUserID: "X", ToUserID: "D", Type: "candidate",
		}))
		assert.Equal(t, 1, invitee.count(protocol.EventCallSignal))
	})

	t.Run("drops for unknown call", func(t *testing.T) {
		require.NoError(t, f.svc.RelaySignal(ctx, RelaySignalParams{
			CallID: "ghost", FromUserID: "C", ToUserID: "D", Type: "offer",
		}))
		assert.Equal(t, 1, invitee.count(protocol.EventCallSignal))
	})
}

func TestCallService_ExpireStale(t *testing.T) {
	f := newCallFixture(t, time.Minute)
	ctx := context.Background()
	now := time.Now()

	f.repo.put(model.CallSession{
		CallID:       "old",
		CallerID:     "C",
		Participants: []string{"C", "D"},
		Status:       model.CallStatusCalling,
		StartedAt:    now.Add(-10 * time.Minute),
	})
	f.repo.put(model.CallSession{
		CallID:       "fresh",
		CallerID:     "C",
		Participants: []string{"C", "D"},
		Status:       model.CallStatusCalling,
		StartedAt:    now,
	})
	f.repo.put(model.CallSession{
		CallID:       "live",
		CallerID:     "C",
		Participants: []string{"C", "D"},
		Status:       model.CallStatusAccepted,
		StartedAt:    now.Add(-10 * time.Minute),
	})

	expired, err := f.svc.ExpireStale(ctx, now.Add(-2*time.Minute), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	assert.Equal(t, model.CallStatusMissed, f.repo.status("old"))
	assert.Equal(t, model.CallStatusCalling, f.repo.status("fresh"))
	assert.Equal(t, model.CallStatusAccepted, f.repo.status("live"))
}

func TestBuildParticipants(t *testing.T) {
	assert.Equal(t, []string{"C", "D", "E"}, buildParticipants("C", []string{"D", "", "C", "E", "D"}))
	assert.Equal(t, []string{"C"}, buildParticipants("C", nil))
}
