package presence

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/realtime-server-go/internal/protocol"
)

// Session is one live client connection.
type Session interface {
	ID() string
	Send(event protocol.Event) error
}

// Registry maps user ids to their live sessions. A user is present in the
// registry iff it has at least one session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]Session // userID -> sessionID -> session
	owners   map[string]string             // sessionID -> userID
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]Session),
		owners:   make(map[string]string),
	}
}

// Register adds session to userID's set and reports whether the user just
// came online. Registering the same pair again is a no-op. A session that
// belonged to another user is moved.
func (r *Registry) Register(userID string, session Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID := session.ID()
	if owner, ok := r.owners[sessionID]; ok {
		if owner == userID {
			return false
		}
		r.removeLocked(owner, sessionID)
	}

	set, ok := r.sessions[userID]
	if !ok {
		set = make(map[string]Session)
		r.sessions[userID] = set
	}
	set[sessionID] = session
	r.owners[sessionID] = userID

	becameOnline := len(set) == 1

	log.Debug().
		Str("userId", userID).
		Str("sessionId", sessionID).
		Int("sessionCount", len(set)).
		Msg("session registered")

	return becameOnline
}

// Unregister removes the session from whichever user owns it. It returns the
// owning user id and whether that user has no sessions left. Unknown sessions
// return an empty user id.
func (r *Registry) Unregister(sessionID string) (userID string, nowOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.owners[sessionID]
	if !ok {
		return "", false
	}
	offline := r.removeLocked(owner, sessionID)

	log.Debug().
		Str("userId", owner).
		Str("sessionId", sessionID).
		Bool("offline", offline).
		Msg("session unregistered")

	return owner, offline
}

func (r *Registry) removeLocked(userID, sessionID string) bool {
	delete(r.owners, sessionID)

	set, ok := r.sessions[userID]
	if !ok {
		return false
	}
	delete(set, sessionID)
	if len(set) > 0 {
		return false
	}

	delete(r.sessions, userID)
	return true
}

// Emit sends event to every session of userID and returns how many accepted
// it. Sends happen outside the lock on a snapshot of the set.
func (r *Registry) Emit(userID string, event protocol.Event) int {
	r.mu.RLock()
	set := r.sessions[userID]
	targets := make([]Session, 0, len(set))
	for _, session := range set {
		targets = append(targets, session)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, session := range targets {
		if err := session.Send(event); err != nil {
			log.Warn().
				Err(err).
				Str("userId", userID).
				Str("sessionId", session.ID()).
				Str("event", event.Type).
				Msg("failed to deliver event to session")
			continue
		}
		delivered++
	}
	return delivered
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[userID]) > 0
}

// UserOf returns the user owning sessionID, if any.
func (r *Registry) UserOf(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.owners[sessionID]
	return userID, ok
}

func (r *Registry) SessionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[userID])
}

func (r *Registry) TotalSessions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}

func (r *Registry) OnlineUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
