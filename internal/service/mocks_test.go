package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/openclaw/realtime-server-go/internal/broker"
	"github.com/openclaw/realtime-server-go/internal/model"
	"github.com/openclaw/realtime-server-go/internal/presence"
	"github.com/openclaw/realtime-server-go/internal/protocol"
)

// Mock contact repository
type mockContactRepo struct {
	mock.Mock
}

func (m *mockContactRepo) IsAcceptedContact(ctx context.Context, userA, userB string) (bool, error) {
	args := m.Called(ctx, userA, userB)
	return args.Bool(0), args.Error(1)
}

func (m *mockContactRepo) IsBlocked(ctx context.Context, blockerID, blockedID string) (bool, error) {
	args := m.Called(ctx, blockerID, blockedID)
	return args.Bool(0), args.Error(1)
}

func (m *mockContactRepo) FindAcceptedContactIDs(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// Mock message repository
type mockMessageRepo struct {
	mock.Mock
}

func (m *mockMessageRepo) Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *mockMessageRepo) FindByClientMessageID(ctx context.Context, senderID, clientMessageID string) (*model.Message, error) {
	args := m.Called(ctx, senderID, clientMessageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *mockMessageRepo) FindUnreadIDs(ctx context.Context, senderID, receiverID string) ([]string, error) {
	args := m.Called(ctx, senderID, receiverID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockMessageRepo) UpdateStatus(ctx context.Context, ids []string, status model.MessageStatus) (int64, error) {
	args := m.Called(ctx, ids, status)
	return args.Get(0).(int64), args.Error(1)
}

// Mock user repository
type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) SetOnline(ctx context.Context, userID string, online bool, lastSeen *time.Time) error {
	args := m.Called(ctx, userID, online, lastSeen)
	return args.Error(0)
}

func (m *mockUserRepo) FindAutoReplySettings(ctx context.Context, userID string) (*model.AutoReplySettings, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AutoReplySettings), args.Error(1)
}

// memCallRepo applies the same guarded transitions as the postgres repository.
type memCallRepo struct {
	mu    sync.Mutex
	calls map[string]model.CallSession
}

func newMemCallRepo() *memCallRepo {
	return &memCallRepo{calls: make(map[string]model.CallSession)}
}

func (r *memCallRepo) FindByCallID(_ context.Context, callID string) (*model.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.calls[callID]
	if !ok {
		return nil, nil
	}
	return cloneCall(call), nil
}

func (r *memCallRepo) Upsert(_ context.Context, params model.UpsertCallParams) (*model.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, ok := r.calls[params.CallID]
	if !ok {
		call = model.CallSession{
			CallID:    params.CallID,
			CallerID:  params.CallerID,
			Status:    model.CallStatusCalling,
			StartedAt: params.StartedAt,
			CreatedAt: params.StartedAt,
		}
	}
	call.ReceiverID = params.ReceiverID
	call.Participants = append([]string(nil), params.Participants...)
	call.IsGroup = params.IsGroup
	call.UpdatedAt = time.Now()
	r.calls[params.CallID] = call
	return cloneCall(call), nil
}

func (r *memCallRepo) MarkAccepted(_ context.Context, callID string, connectedAt time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, ok := r.calls[callID]
	if !ok || call.Status != model.CallStatusCalling {
		return 0, nil
	}
	call.Status = model.CallStatusAccepted
	call.ConnectedAt = &connectedAt
	r.calls[callID] = call
	return 1, nil
}

func (r *memCallRepo) Finalize(_ context.Context, params model.FinalizeCallParams) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, ok := r.calls[params.CallID]
	if !ok || call.Status.IsTerminal() {
		return 0, nil
	}
	endedAt := params.EndedAt
	call.Status = params.Status
	call.EndedAt = &endedAt
	call.DurationSeconds = params.DurationSeconds
	call.EndedBy = params.EndedBy
	r.calls[params.CallID] = call
	return 1, nil
}

func (r *memCallRepo) FindStaleCalling(_ context.Context, startedBefore time.Time, limit int) ([]model.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []model.CallSession
	for _, call := range r.calls {
		if call.Status == model.CallStatusCalling && call.StartedAt.Before(startedBefore) {
			stale = append(stale, *cloneCall(call))
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].StartedAt.Before(stale[j].StartedAt) })
	if len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (r *memCallRepo) put(call model.CallSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[call.CallID] = call
}

func (r *memCallRepo) status(callID string) model.CallStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[callID].Status
}

func cloneCall(call model.CallSession) *model.CallSession {
	call.Participants = append([]string(nil), call.Participants...)
	return &call
}

// recordingSession captures everything delivered to one connection.
type recordingSession struct {
	id     string
	mu     sync.Mutex
	events []protocol.Event
}

func (s *recordingSession) ID() string { return s.id }

func (s *recordingSession) Send(event protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSession) count(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func (s *recordingSession) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, 0, len(s.events))
	for _, e := range s.events {
		types = append(types, e.Type)
	}
	return types
}

func (s *recordingSession) last(eventType string) (protocol.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Type == eventType {
			return s.events[i], true
		}
	}
	return protocol.Event{}, false
}

// harness wires a real registry and a local broker.
type harness struct {
	registry *presence.Registry
	broker   *broker.Broker
}

func newHarness() *harness {
	registry := presence.NewRegistry()
	return &harness{
		registry: registry,
		broker:   broker.New(registry, nil),
	}
}

func (h *harness) connect(userID string) *recordingSession {
	session := &recordingSession{id: uuid.NewString()}
	h.registry.Register(userID, session)
	return session
}
