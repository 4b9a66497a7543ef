package source

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// Latest is a single-slot mailbox between a frame producer and a slower
// consumer. Publish never blocks and overwrites an unconsumed frame, so the
// consumer always sees the newest frame and at most one frame is pending.
type Latest struct {
	mu      sync.Mutex
	pending *Frame
	closed  bool
	ready   chan struct{}

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewLatest creates an empty mailbox.
func NewLatest() *Latest {
	return &Latest{ready: make(chan struct{}, 1)}
}

// Publish stores f, replacing any frame the consumer has not taken yet.
func (l *Latest) Publish(f Frame) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	if l.pending != nil {
		l.dropped.Add(1)
	}
	l.pending = &f
	l.mu.Unlock()
	l.published.Add(1)

	select {
	case l.ready <- struct{}{}:
	default:
	}
}

// Close wakes the consumer; Next returns io.EOF once the pending frame (if
// any) has been taken.
func (l *Latest) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	select {
	case l.ready <- struct{}{}:
	default:
	}
}

// Next implements Source.
func (l *Latest) Next(ctx context.Context) (Frame, error) {
	for {
		l.mu.Lock()
		if l.pending != nil {
			f := *l.pending
			l.pending = nil
			l.mu.Unlock()
			return f, nil
		}
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return Frame{}, io.EOF
		}

		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-l.ready:
		}
	}
}

// LatestStats is a snapshot of mailbox counters.
type LatestStats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
}

// Stats returns the mailbox counters.
func (l *Latest) Stats() LatestStats {
	return LatestStats{
		Published: l.published.Load(),
		Dropped:   l.dropped.Load(),
	}
}

// Pump copies frames from src into l until src is exhausted or ctx ends, then
// closes l. io.EOF from src is not an error.
func Pump(ctx context.Context, src Source, l *Latest) error {
	defer l.Close()
	for {
		f, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		l.Publish(f)
	}
}
