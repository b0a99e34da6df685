package services

import (
	"context"
	"time"

	"cipherchat/contract"
	"cipherchat/domain"
)

type IPresenceService interface {
	Online(ctx context.Context, userID domain.UserID) bool
	LastSeen(ctx context.Context, userID domain.UserID) (time.Time, error)
}

// PresenceService answers "is user X online" for REST callers. The
// in-process registry is authoritative for sockets this process holds; the
// durable store covers connections owned by another process.
type PresenceService struct {
	registry contract.IRegistry
	gateway  contract.Gateway
}

func NewPresenceService(registry contract.IRegistry, gateway contract.Gateway) *PresenceService {
	return &PresenceService{registry: registry, gateway: gateway}
}

func (s *PresenceService) Online(ctx context.Context, userID domain.UserID) bool {
	if len(s.registry.ConnectionsFor(userID)) > 0 {
		return true
	}
	_, err := s.gateway.GetUserConnection(ctx, userID)
	return err == nil
}

func (s *PresenceService) LastSeen(ctx context.Context, userID domain.UserID) (time.Time, error) {
	user, err := s.gateway.GetUser(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	return user.LastSeen, nil
}
