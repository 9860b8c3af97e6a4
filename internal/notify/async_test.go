package notify

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"srcsnap/internal/snap"
	"srcsnap/internal/testutil"
)

type recordingPublisher struct {
	mu      sync.Mutex
	events  []snap.Event
	err     error
	started chan struct{}
	release chan struct{}
}

func (p *recordingPublisher) Publish(_ context.Context, ev snap.Event) error {
	if p.started != nil {
		p.started <- struct{}{}
	}
	if p.release != nil {
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) ids() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []string
	for _, ev := range p.events {
		ids = append(ids, ev.SnapshotID)
	}
	return ids
}

func created(id string) snap.Event {
	return snap.Event{Event: snap.EventSnapshotCreated, SnapshotID: id, RepositoryID: "repo"}
}

func TestAsyncNotifier_DeliversInOrder(t *testing.T) {
	pub := &recordingPublisher{}
	n := NewAsyncNotifier(pub, 16, nil)

	for _, id := range []string{"s1", "s2", "s3"} {
		n.Notify(context.Background(), created(id))
	}
	if err := n.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got, want := pub.ids(), []string{"s1", "s2", "s3"}; !reflect.DeepEqual(got, want) {
		t.Errorf("delivered %v, want %v", got, want)
	}
}

func TestAsyncNotifier_DropsWhenFull(t *testing.T) {
	logger := testutil.NewRecordingLogger()
	pub := &recordingPublisher{started: make(chan struct{}, 4), release: make(chan struct{})}
	n := NewAsyncNotifier(pub, 1, logger)

	n.Notify(context.Background(), created("s1"))
	<-pub.started // s1 is being delivered, queue is empty
	n.Notify(context.Background(), created("s2"))
	n.Notify(context.Background(), created("s3"))

	close(pub.release)
	n.Close()

	if got, want := pub.ids(), []string{"s1", "s2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("delivered %v, want %v", got, want)
	}
	if !logger.Has("WARN", "queue full") {
		t.Errorf("expected a dropped-event warning, got:\n%s", logger)
	}
}

func TestAsyncNotifier_PublishFailureIsLogged(t *testing.T) {
	logger := testutil.NewRecordingLogger()
	pub := &recordingPublisher{err: errors.New("connection refused")}
	n := NewAsyncNotifier(pub, 0, logger)

	n.Notify(context.Background(), created("s1"))
	n.Close()

	if !logger.Has("WARN", "failed to deliver") {
		t.Errorf("expected delivery warning, got:\n%s", logger)
	}
}

func TestAsyncNotifier_Close(t *testing.T) {
	logger := testutil.NewRecordingLogger()
	pub := &recordingPublisher{}
	n := NewAsyncNotifier(pub, 4, logger)

	if err := n.Close(); err != nil {
		t.Fatal(err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	n.Notify(context.Background(), created("late"))
	if len(pub.ids()) != 0 {
		t.Errorf("event delivered after Close: %v", pub.ids())
	}
	if !logger.Has("WARN", "notifier closed") {
		t.Errorf("expected closed warning, got:\n%s", logger)
	}
}
