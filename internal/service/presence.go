package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/realtime-server-go/internal/metrics"
	"github.com/openclaw/realtime-server-go/internal/presence"
	"github.com/openclaw/realtime-server-go/internal/protocol"
	"github.com/openclaw/realtime-server-go/internal/repository"
)

// PresenceService owns the connection lifecycle around the registry. The
// online and offline side effects run once per transition, never per session.
type PresenceService struct {
	registry    *presence.Registry
	userRepo    repository.UserRepository
	contactRepo repository.ContactRepository
	emitter     Emitter
	cluster     Cluster
	locks       *KeyedMutex
	now         func() time.Time
}

func NewPresenceService(
	registry *presence.Registry,
	userRepo repository.UserRepository,
	contactRepo repository.ContactRepository,
	emitter Emitter,
	cluster Cluster,
) *PresenceService {
	return &PresenceService{
		registry:    registry,
		userRepo:    userRepo,
		contactRepo: contactRepo,
		emitter:     emitter,
		cluster:     cluster,
		locks:       NewKeyedMutex(),
		now:         time.Now,
	}
}

// Connect binds session to userID. The first session of a user across all
// instances marks the user online and tells its accepted contacts.
func (s *PresenceService) Connect(ctx context.Context, userID string, session presence.Session) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	firstLocal := s.registry.Register(userID, session)
	s.updateGauges()
	if !firstLocal || !s.cluster.Join(ctx, userID) {
		return
	}

	if err := s.userRepo.SetOnline(ctx, userID, true, nil); err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to persist online status")
	}

	log.Info().Str("userId", userID).Msg("user online")
	s.broadcast(ctx, userID, protocol.NewEvent(protocol.EventUserOnline, protocol.UserOnlinePayload{UserID: userID}))
}

// Disconnect drops a session. When it was the user's last one on every
// instance the user is persisted offline with a last-seen stamp and contacts
// are told once.
func (s *PresenceService) Disconnect(ctx context.Context, sessionID string) {
	owner, ok := s.registry.UserOf(sessionID)
	if !ok {
		return
	}

	unlock := s.locks.Lock(owner)
	defer unlock()

	userID, offline := s.registry.Unregister(sessionID)
	s.updateGauges()
	if userID == "" || !offline || !s.cluster.Leave(ctx, userID) {
		return
	}

	lastSeen := s.now()
	if err := s.userRepo.SetOnline(ctx, userID, false, &lastSeen); err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to persist offline status")
	}

	log.Info().Str("userId", userID).Msg("user offline")
	s.broadcast(ctx, userID, protocol.NewEvent(protocol.EventUserOffline, protocol.UserOfflinePayload{
		UserID:   userID,
		LastSeen: lastSeen,
	}))
}

func (s *PresenceService) broadcast(ctx context.Context, userID string, event protocol.Event) {
	contacts, err := s.contactRepo.FindAcceptedContactIDs(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Str("event", event.Type).Msg("failed to load contacts for presence broadcast")
		return
	}
	for _, contactID := range contacts {
		s.emitter.Emit(ctx, contactID, event)
	}
}

func (s *PresenceService) updateGauges() {
	metrics.ActiveSessions.Set(float64(s.registry.TotalSessions()))
	metrics.OnlineUsers.Set(float64(s.registry.OnlineUsers()))
}
