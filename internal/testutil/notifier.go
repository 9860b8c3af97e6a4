package testutil

import (
	"context"
	"sync"

	"srcsnap/internal/snap"
)

// RecordingNotifier keeps every event it is given, in order.
type RecordingNotifier struct {
	mu     sync.Mutex
	events []snap.Event
}

func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

func (n *RecordingNotifier) Notify(_ context.Context, ev snap.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

// Events returns a copy of the recorded events.
func (n *RecordingNotifier) Events() []snap.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]snap.Event(nil), n.events...)
}

// Named returns the snapshot ids of recorded events with the given name.
func (n *RecordingNotifier) Named(event string) []string {
	var ids []string
	for _, ev := range n.Events() {
		if ev.Event == event {
			ids = append(ids, ev.SnapshotID)
		}
	}
	return ids
}

// Reset forgets all recorded events.
func (n *RecordingNotifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = nil
}

var _ snap.Notifier = (*RecordingNotifier)(nil)
