package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCallStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   CallStatus
		terminal bool
	}{
		{CallStatusCalling, false},
		{CallStatusAccepted, false},
		{CallStatusEnded, true},
		{CallStatusMissed, true},
		{CallStatusRejected, true},
		{CallStatusFailed, true},
	}

	for _, tc := range tests {
		t.Run(string(tc.status), func(t *testing.T) {
			assert.Equal(t, tc.terminal, tc.status.IsTerminal())
		})
	}
}

func TestCallSession_Participants(t *testing.T) {
	call := &CallSession{
		CallerID:     "caller",
		Participants: []string{"caller", "a", "b"},
	}

	assert.True(t, call.HasParticipant("a"))
	assert.False(t, call.HasParticipant("z"))
	assert.Equal(t, []string{"a", "b"}, call.Invitees())
	assert.Equal(t, []string{"caller", "b"}, call.ParticipantsExcept("a"))
}

func TestCallDuration(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("floors to whole seconds", func(t *testing.T) {
		assert.Equal(t, int64(4), CallDuration(start, start.Add(4999*time.Millisecond)))
	})

	t.Run("sub-second is zero", func(t *testing.T) {
		assert.Equal(t, int64(0), CallDuration(start, start.Add(300*time.Millisecond)))
	})

	t.Run("clock skew clamps to zero", func(t *testing.T) {
		assert.Equal(t, int64(0), CallDuration(start, start.Add(-time.Minute)))
	})
}

func TestMessage_HasAttachment(t *testing.T) {
	empty := ""
	url := "https://cdn.example/file.png"

	assert.False(t, (&Message{}).HasAttachment())
	assert.False(t, (&Message{AttachmentURL: &empty}).HasAttachment())
	assert.True(t, (&Message{AttachmentURL: &url}).HasAttachment())
}
