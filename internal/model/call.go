package model

import (
	"time"

	"github.com/lib/pq"
)

type CallSession struct {
	CallID          string         `db:"call_id" json:"callId"`
	CallerID        string         `db:"caller_id" json:"callerId"`
	ReceiverID      string         `db:"receiver_id" json:"receiverId"`
	Participants    pq.StringArray `db:"participants" json:"participantIds"`
	IsGroup         bool           `db:"is_group" json:"isGroup"`
	Status          CallStatus     `db:"status" json:"status"`
	StartedAt       time.Time      `db:"started_at" json:"startedAt"`
	ConnectedAt     *time.Time     `db:"connected_at" json:"connectedAt,omitempty"`
	EndedAt         *time.Time     `db:"ended_at" json:"endedAt,omitempty"`
	DurationSeconds int64          `db:"duration_seconds" json:"durationSeconds"`
	EndedBy         *string        `db:"ended_by" json:"endedBy,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updatedAt"`
}

func (c *CallSession) IsTerminal() bool {
	return c.Status.IsTerminal()
}

func (c *CallSession) HasParticipant(userID string) bool {
	for _, id := range c.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// Invitees returns the participants other than the caller. This is the
// authoritative invitee set for both direct and group calls; ReceiverID is
// only kept for two-party call history.
func (c *CallSession) Invitees() []string {
	invitees := make([]string, 0, len(c.Participants))
	for _, id := range c.Participants {
		if id != c.CallerID {
			invitees = append(invitees, id)
		}
	}
	return invitees
}

// ParticipantsExcept returns every participant but userID.
func (c *CallSession) ParticipantsExcept(userID string) []string {
	others := make([]string, 0, len(c.Participants))
	for _, id := range c.Participants {
		if id != userID {
			others = append(others, id)
		}
	}
	return others
}

type UpsertCallParams struct {
	CallID       string
	CallerID     string
	ReceiverID   string
	Participants []string
	IsGroup      bool
	StartedAt    time.Time
}

type FinalizeCallParams struct {
	CallID          string
	Status          CallStatus
	EndedAt         time.Time
	DurationSeconds int64
	EndedBy         *string
}

// CallDuration returns whole elapsed seconds between from and to, never negative.
func CallDuration(from, to time.Time) int64 {
	ms := to.Sub(from).Milliseconds()
	if ms <= 0 {
		return 0
	}
	return ms / 1000
}
