package service

import (
	"context"

	"github.com/openclaw/realtime-server-go/internal/protocol"
)

// Emitter delivers an event to every live session of a user, wherever it is connected.
type Emitter interface {
	Emit(ctx context.Context, userID string, event protocol.Event)
}

// PresenceChecker answers whether a user currently has a live session on any instance.
type PresenceChecker interface {
	IsOnline(ctx context.Context, userID string) bool
}

// Cluster tracks which users are connected anywhere. Join and Leave are
// called on a user's first and last session on this instance and report
// whether the user just came online or went offline everywhere.
type Cluster interface {
	Join(ctx context.Context, userID string) bool
	Leave(ctx context.Context, userID string) bool
}
