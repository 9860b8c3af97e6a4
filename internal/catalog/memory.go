package catalog

import (
	"context"
	"sort"
	"sync"

	"srcsnap/internal/snap"
)

// MemoryStore is an in-memory snap.CatalogStore for tests and throwaway
// catalogs. It is safe for concurrent use.
type MemoryStore struct {
	mu           sync.RWMutex
	repositories map[string]*snap.Repository // id -> repository
	repoByURL    map[string]string           // url -> id
	snapshots    map[string]*memorySnapshot  // id -> snapshot
	byAggregate  map[string]string           // repository id + aggregate hash -> id
	seq          int64
}

type memorySnapshot struct {
	snap *snap.Snapshot
	seq  int64
}

// NewMemoryStore creates an empty catalog.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		repositories: make(map[string]*snap.Repository),
		repoByURL:    make(map[string]string),
		snapshots:    make(map[string]*memorySnapshot),
		byAggregate:  make(map[string]string),
	}
}

func aggregateKey(repositoryID, hash string) string {
	return repositoryID + "\x00" + hash
}

func copyRepository(r *snap.Repository) *snap.Repository {
	c := *r
	return &c
}

func (m *MemoryStore) FindRepositoryByURL(_ context.Context, url string) (*snap.Repository, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.repoByURL[url]
	if !ok {
		return nil, nil
	}
	return copyRepository(m.repositories[id]), nil
}

func (m *MemoryStore) GetRepository(_ context.Context, id string) (*snap.Repository, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.repositories[id]
	if !ok {
		return nil, &snap.Error{Kind: snap.ErrNotFound, Op: "get repository", Path: id}
	}
	return copyRepository(r), nil
}

func (m *MemoryStore) CreateRepository(_ context.Context, repo *snap.Repository) (*snap.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.repoByURL[repo.URL]; ok {
		return copyRepository(m.repositories[id]), nil
	}
	stored := copyRepository(repo)
	m.repositories[stored.ID] = stored
	m.repoByURL[stored.URL] = stored.ID
	return copyRepository(stored), nil
}

func (m *MemoryStore) UpdateDefaultBranch(_ context.Context, repositoryID, branch string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repositories[repositoryID]
	if !ok {
		return &snap.Error{Kind: snap.ErrNotFound, Op: "update repository", Path: repositoryID}
	}
	r.DefaultBranch = branch
	return nil
}

// Snapshots are immutable, so the same pointer is handed to every reader.

func (m *MemoryStore) InsertSnapshot(_ context.Context, sn *snap.Snapshot) (*snap.Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := aggregateKey(sn.RepositoryID, sn.AggregateHash)
	if id, ok := m.byAggregate[key]; ok {
		return m.snapshots[id].snap, false, nil
	}
	if _, ok := m.repositories[sn.RepositoryID]; !ok {
		return nil, false, &snap.Error{Kind: snap.ErrNotFound, Op: "insert snapshot", SnapshotID: sn.ID, Path: sn.RepositoryID}
	}
	if _, ok := m.snapshots[sn.ID]; ok {
		return nil, false, snap.ConflictError("insert snapshot", sn.ID, errDuplicateID)
	}
	for _, ref := range sn.Files.ReferencedSnapshots() {
		if _, ok := m.snapshots[ref]; !ok {
			return nil, false, snap.IntegrityError("insert snapshot", sn.ID, "", missingAncestor(ref))
		}
	}

	m.seq++
	m.snapshots[sn.ID] = &memorySnapshot{snap: sn, seq: m.seq}
	m.byAggregate[key] = sn.ID
	return sn, true, nil
}

func (m *MemoryStore) GetSnapshot(_ context.Context, id string) (*snap.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[id]
	if !ok {
		return nil, snap.NotFoundError("get snapshot", id, "")
	}
	return s.snap, nil
}

func (m *MemoryStore) FindSnapshotByAggregateHash(_ context.Context, repositoryID, hash string) (*snap.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byAggregate[aggregateKey(repositoryID, hash)]
	if !ok {
		return nil, nil
	}
	return m.snapshots[id].snap, nil
}

func (m *MemoryStore) LatestSnapshot(ctx context.Context, repositoryID string) (*snap.Snapshot, error) {
	list, _ := m.ListSnapshots(ctx, repositoryID)
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (m *MemoryStore) ListSnapshots(_ context.Context, repositoryID string) ([]*snap.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []*memorySnapshot
	for _, s := range m.snapshots {
		if s.snap.RepositoryID == repositoryID {
			entries = append(entries, s)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.snap.CreatedAt.Equal(b.snap.CreatedAt) {
			return a.snap.CreatedAt.After(b.snap.CreatedAt)
		}
		return a.seq > b.seq
	})

	out := make([]*snap.Snapshot, len(entries))
	for i, e := range entries {
		out[i] = e.snap
	}
	return out, nil
}

func (m *MemoryStore) DeleteSnapshot(_ context.Context, id string, cascade bool) ([]*snap.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, err := deletionOrder(id, cascade, m.dependantsLocked, func(id string) (bool, error) {
		_, ok := m.snapshots[id]
		return ok, nil
	})
	if err != nil {
		return nil, err
	}

	removed := make([]*snap.Snapshot, 0, len(order))
	for _, victim := range order {
		s := m.snapshots[victim].snap
		delete(m.snapshots, victim)
		delete(m.byAggregate, aggregateKey(s.RepositoryID, s.AggregateHash))
		removed = append(removed, s)
	}
	return removed, nil
}

// dependantsLocked returns the snapshots holding referenced records that
// point at id, sorted. Callers hold m.mu.
func (m *MemoryStore) dependantsLocked(id string) ([]string, error) {
	var out []string
	for sid, s := range m.snapshots {
		if sid == id {
			continue
		}
		for _, ref := range s.snap.Files.ReferencedSnapshots() {
			if ref == id {
				out = append(out, sid)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) IsContentReferenced(_ context.Context, hash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.snapshots {
		for _, h := range s.snap.Files.ContentHashes() {
			if h == hash {
				return true, nil
			}
		}
	}
	return false, nil
}

func (m *MemoryStore) Close() error { return nil }

var _ snap.CatalogStore = (*MemoryStore)(nil)
