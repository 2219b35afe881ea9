package service

import (
	"context"
	"fmt"

	"github.com/openclaw/realtime-server-go/internal/repository"
)

// ContactGate decides whether one user may message another. It is consulted
// on every send and never caches.
type ContactGate struct {
	contacts repository.ContactRepository
}

func NewContactGate(contacts repository.ContactRepository) *ContactGate {
	return &ContactGate{contacts: contacts}
}

// CanMessage requires an accepted contact relationship and no block in either
// direction. Any lookup failure denies.
func (g *ContactGate) CanMessage(ctx context.Context, senderID, receiverID string) (bool, error) {
	if senderID == "" || receiverID == "" || senderID == receiverID {
		return false, nil
	}

	accepted, err := g.contacts.IsAcceptedContact(ctx, senderID, receiverID)
	if err != nil {
		return false, fmt.Errorf("check contact: %w", err)
	}
	if !accepted {
		return false, nil
	}

	blocked, err := g.contacts.IsBlocked(ctx, senderID, receiverID)
	if err != nil {
		return false, fmt.Errorf("check block: %w", err)
	}
	if blocked {
		return false, nil
	}

	blocked, err = g.contacts.IsBlocked(ctx, receiverID, senderID)
	if err != nil {
		return false, fmt.Errorf("check block: %w", err)
	}
	return !blocked, nil
}
