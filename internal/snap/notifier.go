package snap

import "context"

// Event names emitted by the Catalog.
const (
	EventSnapshotCreated = "snapshot_created"
	EventSnapshotDeleted = "snapshot_deleted"
)

// Event is a fire-and-forget notification about a catalog change.
type Event struct {
	Event        string `json:"event"`
	SnapshotID   string `json:"snapshot_id"`
	RepositoryID string `json:"repository_id,omitempty"`
}

// Notifier delivers events to subscribers. Notify must not block on
// subscriber availability and reports no error to the caller.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) {}
