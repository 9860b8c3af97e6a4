package testutil

import (
	"testing"
	"time"

	"srcsnap/internal/catalog"
	"srcsnap/internal/contentstore"
	"srcsnap/internal/snap"
	"srcsnap/internal/workspace"
)

// Harness is a fully wired in-memory snapshot service.
type Harness struct {
	Service      *snap.Service
	Catalog      *snap.Catalog
	CatalogStore snap.CatalogStore
	Store        *contentstore.MemoryStore
	Source       *workspace.MemorySource
	Notifier     *RecordingNotifier
	Clock        *StubClock
	IDs          *StubIDGenerator
	Logger       *RecordingLogger
}

// NewTestCatalogStore creates an in-memory SQLite catalog with migrations
// applied. It is closed when the test completes.
func NewTestCatalogStore(t *testing.T) snap.CatalogStore {
	t.Helper()
	store, err := catalog.NewSQLiteStore(":memory:", nil)
	if err != nil {
		t.Fatalf("failed to open catalog: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// NewHarness wires a Service over memory backends. Ids are "id-1",
// "id-2", ... and the clock advances a second per call.
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	return newHarness(t, catalog.NewMemoryStore())
}

// NewSQLiteHarness is NewHarness with an in-memory SQLite catalog.
func NewSQLiteHarness(t *testing.T) *Harness {
	t.Helper()
	return newHarness(t, NewTestCatalogStore(t))
}

func newHarness(t *testing.T, cs snap.CatalogStore) *Harness {
	t.Helper()
	h := &Harness{
		CatalogStore: cs,
		Store:        contentstore.NewMemoryStore("memory"),
		Source:       workspace.NewMemorySource(),
		Notifier:     NewRecordingNotifier(),
		Clock:        TickingClock(time.Second),
		IDs:          NewStubIDGenerator(),
		Logger:       NewRecordingLogger(),
	}
	h.Catalog = snap.NewCatalog(cs, h.Notifier, h.IDs, h.Clock, h.Logger)
	h.Service = snap.NewService(h.Catalog, h.Store, h.Source, snap.NewBuilder(h.Store, 4, h.Logger), h.Logger)
	return h
}

// Tree builds a MemoryTree from path -> content pairs.
func Tree(files map[string]string) *workspace.MemoryTree {
	return workspace.NewMemoryTree(files)
}
