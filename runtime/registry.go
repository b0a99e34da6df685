// Package runtime holds the realtime core: the connection registry and the
// message router. It moves events, never business rules about their content.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"cipherchat/contract"
	"cipherchat/domain"
	cherrors "cipherchat/errors"
)

type Set map[string]struct{}

// Registry owns the live socket-to-user mapping. It is the only place that
// mutates it, and every mutation also maintains the durable presence rows so
// a REST caller in another process can answer "is user X online".
//
// Two indexes are kept in lockstep under one mutex:
//  1. connections, keyed by socket id, answers "whose socket is this".
//  2. userSockets, keyed by user id, answers "which sockets does X hold" —
//     the fan-out path, which must address every socket, not the first found.
type Registry struct {
	mu          sync.RWMutex
	log         *slog.Logger
	presence    contract.PresenceStore
	connections map[string]domain.UserID
	userSockets map[domain.UserID]Set
	sinks       map[string]contract.EventSink
}

func NewRegistry(log *slog.Logger, presence contract.PresenceStore) *Registry {
	return &Registry{
		log:         log,
		presence:    presence,
		connections: make(map[string]domain.UserID),
		userSockets: make(map[domain.UserID]Set),
		sinks:       make(map[string]contract.EventSink),
	}
}

// Bind records that socketID belongs to userID. Binding the same socket to
// the same user again is a no-op; binding it to a different user is a
// protocol violation because a connection authenticates exactly once.
// The durable row is written before the in-process index so a failed write
// leaves no half-bound state behind.
func (r *Registry) Bind(ctx context.Context, socketID string, userID domain.UserID, sink contract.EventSink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if bound, ok := r.connections[socketID]; ok {
		if bound == userID {
			return nil
		}
		return fmt.Errorf("%w (socket %s)", cherrors.ErrSocketRebind, socketID)
	}

	if err := r.presence.AddConnection(ctx, userID, socketID); err != nil {
		return err
	}

	r.connections[socketID] = userID
	if _, ok := r.userSockets[userID]; !ok {
		r.userSockets[userID] = make(Set)
	}
	r.userSockets[userID][socketID] = struct{}{}
	r.sinks[socketID] = sink
	return nil
}

// Unbind removes the mapping. An unknown socket id is a no-op, not an error,
// because shutdown races are expected. The durable presence row is removed
// best-effort: the in-process index is authoritative for same-process
// fan-out, so a failed row removal only delays the cross-process view.
func (r *Registry) Unbind(ctx context.Context, socketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.connections[socketID]
	if !ok {
		return
	}
	delete(r.connections, socketID)
	delete(r.sinks, socketID)
	if sockets, ok := r.userSockets[userID]; ok {
		delete(sockets, socketID)
		if len(sockets) == 0 {
			delete(r.userSockets, userID)
		}
	}

	if _, err := r.presence.RemoveConnection(ctx, socketID); err != nil {
		r.log.Warn("Durable connection row removal failed", "socketId", socketID, "err", err)
	}
	// Disconnecting is the moment the user was last seen.
	if _, err := r.presence.UpdateUserLastSeen(ctx, userID); err != nil {
		r.log.Debug("Last seen touch failed on unbind", "userId", userID, "err", err)
	}
}

// ConnectionsFor returns every currently live socket id for the user,
// empty when there is none.
func (r *Registry) ConnectionsFor(userID domain.UserID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sockets, ok := r.userSockets[userID]
	if !ok {
		return nil
	}
	socketIDs := make([]string, 0, len(sockets))
	for socketID := range sockets {
		socketIDs = append(socketIDs, socketID)
	}
	return socketIDs
}

// SinksFor resolves the user's live sockets into their outbound lanes.
// It is called at fan-out time, never earlier, so a recipient disconnecting
// between persistence and fan-out simply drops out of the result.
func (r *Registry) SinksFor(userID domain.UserID) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sockets, ok := r.userSockets[userID]
	if !ok {
		return nil
	}
	var activeSinks []contract.EventSink
	for socketID := range sockets {
		if sink, exists := r.sinks[socketID]; exists {
			activeSinks = append(activeSinks, sink)
		}
	}
	return activeSinks
}
