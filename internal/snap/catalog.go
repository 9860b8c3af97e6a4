package snap

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Catalog is the durable registry of repositories and snapshots. It assigns
// identity, enforces snapshot-level dedup and emits change events.
type Catalog struct {
	store    CatalogStore
	notifier Notifier
	ids      IDGenerator
	clock    Clock
	logger   Logger
}

// NewCatalog creates a Catalog over store. Nil collaborators fall back to
// NopNotifier, UUIDGenerator, RealClock and NopLogger.
func NewCatalog(store CatalogStore, notifier Notifier, ids IDGenerator, clock Clock, logger Logger) *Catalog {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if ids == nil {
		ids = UUIDGenerator{}
	}
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Catalog{
		store:    store,
		notifier: notifier,
		ids:      ids,
		clock:    clock,
		logger:   logger,
	}
}

// CanonicalURL trims whitespace, trailing slashes and a ".git" suffix so the
// usual spellings of one repository map to the same record.
func CanonicalURL(raw string) string {
	u := strings.TrimSpace(raw)
	u = strings.TrimRight(u, "/")
	u = strings.TrimSuffix(u, ".git")
	return u
}

// EnsureRepository returns the repository registered for url, creating it on
// first use. The default branch is only set when the repository is created.
func (c *Catalog) EnsureRepository(ctx context.Context, url, defaultBranch string) (*Repository, error) {
	url = CanonicalURL(url)
	if url == "" {
		return nil, fmt.Errorf("repository url is empty")
	}

	repo, err := c.store.FindRepositoryByURL(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("finding repository %s: %w", url, err)
	}
	if repo != nil {
		return repo, nil
	}

	repo, err = c.store.CreateRepository(ctx, &Repository{
		ID:            c.ids.New(),
		Name:          path.Base(url),
		URL:           url,
		DefaultBranch: defaultBranch,
		CreatedAt:     c.clock.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating repository %s: %w", url, err)
	}
	c.logger.Info("repository registered", "repository_id", repo.ID, "url", repo.URL)
	return repo, nil
}

// FindRepository returns the repository registered for url, or nil.
func (c *Catalog) FindRepository(ctx context.Context, url string) (*Repository, error) {
	return c.store.FindRepositoryByURL(ctx, CanonicalURL(url))
}

// Repository returns a repository by id.
func (c *Catalog) Repository(ctx context.Context, id string) (*Repository, error) {
	return c.store.GetRepository(ctx, id)
}

// SetDefaultBranch changes the default branch of a repository.
func (c *Catalog) SetDefaultBranch(ctx context.Context, repositoryID, branch string) error {
	if err := c.store.UpdateDefaultBranch(ctx, repositoryID, branch); err != nil {
		return fmt.Errorf("updating default branch of %s: %w", repositoryID, err)
	}
	return nil
}

// Register persists s and returns the snapshot now in the catalog. If the
// repository already holds a snapshot with the same aggregate hash, that
// snapshot is returned and nothing is written.
//
// Referenced records must point at snapshots of the catalog that store the
// same bytes for the same path; anything else is rejected as an integrity
// error so a broken chain is never persisted.
func (c *Catalog) Register(ctx context.Context, s *Snapshot) (*Snapshot, error) {
	if s == nil || s.Files == nil {
		return nil, fmt.Errorf("registering snapshot: no file index")
	}
	if s.RepositoryID == "" {
		return nil, fmt.Errorf("registering snapshot: no repository")
	}
	if got := AggregateHash(s.Files); s.AggregateHash != got {
		return nil, IntegrityError("register", s.ID, "",
			fmt.Errorf("aggregate hash %s does not match file index (%s)", s.AggregateHash, got))
	}

	existing, err := c.store.FindSnapshotByAggregateHash(ctx, s.RepositoryID, s.AggregateHash)
	if err != nil {
		return nil, fmt.Errorf("checking for duplicate snapshot: %w", err)
	}
	if existing != nil {
		c.logger.Info("snapshot deduplicated", "snapshot_id", existing.ID, "aggregate_hash", s.AggregateHash)
		return existing, nil
	}

	if err := c.checkReferences(ctx, s); err != nil {
		return nil, err
	}

	id := s.ID
	if id == "" {
		id = c.ids.New()
	}
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = c.clock.Now()
	}

	stored, inserted, err := c.store.InsertSnapshot(ctx, s.withIdentity(id, createdAt))
	if err != nil {
		return nil, fmt.Errorf("inserting snapshot %s: %w", id, err)
	}
	if !inserted {
		// Lost a race with a concurrent register of the same tree.
		c.logger.Info("snapshot deduplicated", "snapshot_id", stored.ID, "aggregate_hash", s.AggregateHash)
		return stored, nil
	}

	c.logger.Info("snapshot registered",
		"snapshot_id", stored.ID,
		"repository_id", stored.RepositoryID,
		"files", stored.FileCount(),
	)
	c.notifier.Notify(ctx, Event{
		Event:        EventSnapshotCreated,
		SnapshotID:   stored.ID,
		RepositoryID: stored.RepositoryID,
	})
	return stored, nil
}

// checkReferences verifies every referenced record points at a stored record
// with the same hash in an existing snapshot.
func (c *Catalog) checkReferences(ctx context.Context, s *Snapshot) error {
	ancestors := make(map[string]*Snapshot)
	for _, id := range s.Files.ReferencedSnapshots() {
		a, err := c.store.GetSnapshot(ctx, id)
		if err != nil {
			return IntegrityError("register", s.ID, "", fmt.Errorf("referenced snapshot %s: %w", id, err))
		}
		ancestors[id] = a
	}
	for _, r := range s.Files.Records() {
		if r.Mode != ModeReferenced {
			continue
		}
		held, ok := ancestors[r.RefSnapshotID].Files.Get(r.Path)
		switch {
		case !ok:
			return IntegrityError("register", s.ID, r.Path,
				fmt.Errorf("referenced snapshot %s has no such path", r.RefSnapshotID))
		case held.Mode != ModeStored:
			return IntegrityError("register", s.ID, r.Path,
				fmt.Errorf("referenced snapshot %s does not store the bytes", r.RefSnapshotID))
		case held.ContentHash != r.ContentHash:
			return IntegrityError("register", s.ID, r.Path,
				fmt.Errorf("content hash differs from referenced snapshot %s", r.RefSnapshotID))
		}
	}
	return nil
}

// Get returns a snapshot by id, or an ErrNotFound error.
func (c *Catalog) Get(ctx context.Context, id string) (*Snapshot, error) {
	return c.store.GetSnapshot(ctx, id)
}

// FindByAggregateHash returns the snapshot of repositoryID with the given
// aggregate hash, or nil.
func (c *Catalog) FindByAggregateHash(ctx context.Context, repositoryID, hash string) (*Snapshot, error) {
	return c.store.FindSnapshotByAggregateHash(ctx, repositoryID, hash)
}

// Latest returns the newest snapshot of repositoryID, or nil.
func (c *Catalog) Latest(ctx context.Context, repositoryID string) (*Snapshot, error) {
	return c.store.LatestSnapshot(ctx, repositoryID)
}

// List returns all snapshots of repositoryID, newest first.
func (c *Catalog) List(ctx context.Context, repositoryID string) ([]*Snapshot, error) {
	return c.store.ListSnapshots(ctx, repositoryID)
}

// Delete removes a snapshot. Without cascade it fails with an ErrConflict
// error while any other snapshot references it. It returns every snapshot
// removed, dependants first when cascading.
func (c *Catalog) Delete(ctx context.Context, id string, cascade bool) ([]*Snapshot, error) {
	removed, err := c.store.DeleteSnapshot(ctx, id, cascade)
	if err != nil {
		return nil, err
	}
	for _, s := range removed {
		c.logger.Info("snapshot deleted", "snapshot_id", s.ID, "cascade", cascade)
		c.notifier.Notify(ctx, Event{
			Event:        EventSnapshotDeleted,
			SnapshotID:   s.ID,
			RepositoryID: s.RepositoryID,
		})
	}
	return removed, nil
}

// IsContentReferenced reports whether any snapshot still names hash.
func (c *Catalog) IsContentReferenced(ctx context.Context, hash string) (bool, error) {
	return c.store.IsContentReferenced(ctx, hash)
}
