// Package notify delivers catalog events to external subscribers without
// blocking the caller.
package notify

import (
	"context"
	"sync"
	"time"

	"srcsnap/internal/snap"
)

// DefaultBufferSize is the number of pending events held before new ones are
// dropped.
const DefaultBufferSize = 64

// publishTimeout bounds a single delivery attempt.
const publishTimeout = 5 * time.Second

// Publisher delivers one event. It may block.
type Publisher interface {
	Publish(ctx context.Context, ev snap.Event) error
}

// AsyncNotifier queues events and hands them to a Publisher from a single
// goroutine, so Notify never waits on the subscriber. Events are delivered in
// the order they were queued. A full queue drops the event.
type AsyncNotifier struct {
	pub    Publisher
	logger snap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan snap.Event
	done   chan struct{}
}

// NewAsyncNotifier starts the delivery goroutine. Call Close to drain and
// stop it.
func NewAsyncNotifier(pub Publisher, bufferSize int, logger snap.Logger) *AsyncNotifier {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = snap.NewNopLogger()
	}
	n := &AsyncNotifier{
		pub:    pub,
		logger: logger,
		queue:  make(chan snap.Event, bufferSize),
		done:   make(chan struct{}),
	}
	go n.run()
	return n
}

// Notify queues ev for delivery.
func (n *AsyncNotifier) Notify(_ context.Context, ev snap.Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.logger.Warn("notifier closed, dropping event", "event", ev.Event, "snapshot_id", ev.SnapshotID)
		return
	}
	select {
	case n.queue <- ev:
	default:
		n.logger.Warn("notification queue full, dropping event", "event", ev.Event, "snapshot_id", ev.SnapshotID)
	}
}

func (n *AsyncNotifier) run() {
	defer close(n.done)
	for ev := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := n.pub.Publish(ctx, ev); err != nil {
			n.logger.Warn("failed to deliver event", "event", ev.Event, "snapshot_id", ev.SnapshotID, "error", err)
		} else {
			n.logger.Debug("event delivered", "event", ev.Event, "snapshot_id", ev.SnapshotID)
		}
		cancel()
	}
}

// Close stops accepting events and waits until the queued ones have been
// handed to the Publisher. It is safe to call more than once.
func (n *AsyncNotifier) Close() error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()
	<-n.done
	return nil
}

var _ snap.Notifier = (*AsyncNotifier)(nil)
