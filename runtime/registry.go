// Package runtime owns the shared mutable state of the chat server: the
// session registry, the chatroom directory, and the dispatch machinery that
// connects inbound envelopes to them.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"wediscuss/contract"
	"wediscuss/domain"
	"wediscuss/errors"
	"wediscuss/protocol"
)

// Registry maps authenticated user IDs to their live outbound sink.
// At most one sink per user at any time: a new login replaces the prior
// entry, it never creates two. The superseded connection is closed by its
// own handler, not by the registry.
type Registry struct {
	mu              sync.RWMutex
	sessions        map[domain.UserID]contract.Sink
	deliveryTimeout time.Duration
	log             *slog.Logger
}

func NewRegistry(log *slog.Logger, deliveryTimeout time.Duration) *Registry {
	return &Registry{
		sessions:        make(map[domain.UserID]contract.Sink),
		deliveryTimeout: deliveryTimeout,
		log:             log,
	}
}

// Register installs sink as the live channel for userID, replacing any
// existing one. It succeeds unconditionally.
func (r *Registry) Register(userID domain.UserID, sink contract.Sink) {
	r.mu.Lock()
	prior := r.sessions[userID]
	r.sessions[userID] = sink
	r.mu.Unlock()

	if prior != nil {
		r.log.Info("session replaced by new login", "user_id", userID)
	}
}

// Unregister removes the mapping for userID, but only if it still points at
// sink. A connection evicted by a newer login must not tear down the entry
// that superseded it. No-op if absent.
func (r *Registry) Unregister(userID domain.UserID, sink contract.Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.sessions[userID]; ok && current == sink {
		delete(r.sessions, userID)
	}
}

func (r *Registry) Lookup(userID domain.UserID) (contract.Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sink, ok := r.sessions[userID]
	return sink, ok
}

// Deliver enqueues e on userID's sink, bounded by the delivery timeout.
// An absent mapping, a closed sink, or an expired timeout are all reported
// to the caller as an unreachable-recipient failure; nothing is thrown at
// unrelated operations.
func (r *Registry) Deliver(ctx context.Context, userID domain.UserID, e protocol.Envelope) error {
	sink, ok := r.Lookup(userID)
	if !ok {
		return fmt.Errorf("%w: user %d offline", errors.ErrUnreachable, userID)
	}

	ctx, cancel := context.WithTimeout(ctx, r.deliveryTimeout)
	defer cancel()

	if err := sink.Consume(ctx, e); err != nil {
		return fmt.Errorf("%w: user %d: %v", errors.ErrUnreachable, userID, err)
	}
	return nil
}

func (r *Registry) ConnectedIDs() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]domain.UserID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
