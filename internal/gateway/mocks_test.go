package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/realtime-server-go/internal/model"
	"github.com/openclaw/realtime-server-go/internal/presence"
	"github.com/openclaw/realtime-server-go/internal/protocol"
	"github.com/openclaw/realtime-server-go/internal/service"
)

type mockMessaging struct {
	mock.Mock
}

func (m *mockMessaging) SendMessage(ctx context.Context, params service.SendMessageParams) (*model.Message, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *mockMessaging) MarkRead(ctx context.Context, readerID, counterpartID string) (int64, error) {
	args := m.Called(ctx, readerID, counterpartID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockMessaging) Typing(ctx context.Context, senderID, receiverID string, isTyping bool) {
	m.Called(ctx, senderID, receiverID, isTyping)
}

type mockCalls struct {
	mock.Mock
}

func (m *mockCalls) Initiate(ctx context.Context, params service.InitiateCallParams) (*model.CallSession, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CallSession), args.Error(1)
}

func (m *mockCalls) Accept(ctx context.Context, callID, userID string) error {
	return m.Called(ctx, callID, userID).Error(0)
}

func (m *mockCalls) Reject(ctx context.Context, callID, userID string) error {
	return m.Called(ctx, callID, userID).Error(0)
}

func (m *mockCalls) End(ctx context.Context, callID, userID string) error {
	return m.Called(ctx, callID, userID).Error(0)
}

func (m *mockCalls) Fail(ctx context.Context, callID, userID, reason string) error {
	return m.Called(ctx, callID, userID, reason).Error(0)
}

func (m *mockCalls) RelaySignal(ctx context.Context, params service.RelaySignalParams) error {
	return m.Called(ctx, params).Error(0)
}

type mockPresence struct {
	mock.Mock
}

func (m *mockPresence) Connect(ctx context.Context, userID string, session presence.Session) {
	m.Called(ctx, userID, session)
}

func (m *mockPresence) Disconnect(ctx context.Context, sessionID string) {
	m.Called(ctx, sessionID)
}

// fakeClient records what the dispatcher sends back.
type fakeClient struct {
	id     string
	mu     sync.Mutex
	userID string
	events []protocol.Event
}

func (c *fakeClient) ID() string       { return c.id }
func (c *fakeClient) RemoteIP() string { return "127.0.0.1" }

func (c *fakeClient) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *fakeClient) Bind(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

func (c *fakeClient) Send(event protocol.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *fakeClient) errors(t *testing.T) []protocol.ErrorPayload {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []protocol.ErrorPayload
	for _, e := range c.events {
		if e.Type != protocol.EventError {
			continue
		}
		var payload protocol.ErrorPayload
		require.NoError(t, json.Unmarshal(e.Data, &payload))
		out = append(out, payload)
	}
	return out
}

func frame(t *testing.T, eventType string, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	out, err := json.Marshal(protocol.Envelope{Type: eventType, Data: raw})
	require.NoError(t, err)
	return out
}
