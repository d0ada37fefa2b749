package runtime

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"wediscuss/contract"
	"wediscuss/domain"
	"wediscuss/protocol"
)

// Fanout delivers one envelope to many recipient sessions through the
// registry. Delivery is best-effort: a per-recipient failure (offline,
// full sink, expired timeout) is logged and never aborts the remaining
// recipients, and never fails the request that triggered the broadcast.
//
// Concurrency is bounded so one broadcast to a large room cannot grow the
// number of in-flight goroutines without limit. Broadcast joins before
// returning, which keeps per-recipient delivery order aligned with the
// order requests were accepted.
type Fanout struct {
	registry      contract.Registry
	maxConcurrent int
	log           *slog.Logger
}

func NewFanout(log *slog.Logger, registry contract.Registry, maxConcurrent int) *Fanout {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Fanout{registry: registry, maxConcurrent: maxConcurrent, log: log}
}

// Broadcast fans e out to every recipient, excluding none; callers compute
// the audience. It returns the number of recipients actually reached.
func (f *Fanout) Broadcast(ctx context.Context, recipients []domain.UserID, e protocol.Envelope) int {
	if len(recipients) == 0 {
		return 0
	}

	delivered := make(chan domain.UserID, len(recipients))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.maxConcurrent)
	for _, userID := range recipients {
		g.Go(func() error {
			if err := f.registry.Deliver(ctx, userID, e); err != nil {
				f.log.Debug("broadcast delivery failed",
					"user_id", userID,
					"kind", e.Kind,
					"error", err)
				return nil
			}
			delivered <- userID
			return nil
		})
	}
	_ = g.Wait()
	close(delivered)

	reached := 0
	for range delivered {
		reached++
	}
	return reached
}
