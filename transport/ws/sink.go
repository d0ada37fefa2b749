package ws

import (
	"context"
	"sync"

	"wediscuss/errors"
	"wediscuss/protocol"
)

// ChannelSink is the per-connection outbound buffer. Consume is called by
// the registry and the fan-out; the connection's write pump drains Outbound
// onto the wire.
type ChannelSink struct {
	Outbound  chan protocol.Envelope
	done      chan struct{}
	closeOnce sync.Once
}

func NewChannelSink(bufferSize int) *ChannelSink {
	return &ChannelSink{
		Outbound: make(chan protocol.Envelope, bufferSize),
		done:     make(chan struct{}),
	}
}

// Consume enqueues an envelope for this session. A full buffer blocks until
// the caller's delivery timeout expires; enqueue order is the order the
// write pump sends, so per-recipient ordering is preserved.
func (s *ChannelSink) Consume(ctx context.Context, e protocol.Envelope) error {
	select {
	case <-s.done:
		return errors.ErrSinkClosed
	default:
	}

	select {
	case s.Outbound <- e:
		return nil
	case <-s.done:
		return errors.ErrSinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the sink dead so pending and future Consume calls return
// immediately instead of waiting out their timeout. Both the read loop and
// the write pump close the sink on their way out; only the first wins.
func (s *ChannelSink) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *ChannelSink) Done() <-chan struct{} {
	return s.done
}
