package snap

import "context"

// CatalogStore is the persistence backend behind a Catalog.
// Lookups that find nothing return (nil, nil) unless documented otherwise.
type CatalogStore interface {
	// Repository operations

	// FindRepositoryByURL returns the repository with the given canonical URL.
	FindRepositoryByURL(ctx context.Context, url string) (*Repository, error)

	// GetRepository returns a repository by id, or an ErrNotFound error.
	GetRepository(ctx context.Context, id string) (*Repository, error)

	// CreateRepository inserts a repository. If one with the same URL already
	// exists, the existing row is returned instead.
	CreateRepository(ctx context.Context, repo *Repository) (*Repository, error)

	// UpdateDefaultBranch changes the default branch of a repository.
	UpdateDefaultBranch(ctx context.Context, repositoryID, branch string) error

	// Snapshot operations

	// InsertSnapshot atomically inserts snap unless a snapshot of the same
	// repository with the same aggregate hash exists. It returns the snapshot
	// now in the catalog and whether snap was the one inserted.
	InsertSnapshot(ctx context.Context, snap *Snapshot) (*Snapshot, bool, error)

	// GetSnapshot returns a snapshot with its FileIndex, or an ErrNotFound error.
	GetSnapshot(ctx context.Context, id string) (*Snapshot, error)

	// FindSnapshotByAggregateHash returns the snapshot of a repository with
	// the given aggregate hash.
	FindSnapshotByAggregateHash(ctx context.Context, repositoryID, hash string) (*Snapshot, error)

	// LatestSnapshot returns the most recently created snapshot of a repository.
	LatestSnapshot(ctx context.Context, repositoryID string) (*Snapshot, error)

	// ListSnapshots returns all snapshots of a repository, newest first.
	ListSnapshots(ctx context.Context, repositoryID string) ([]*Snapshot, error)

	// DeleteSnapshot removes a snapshot. If other snapshots hold referenced
	// records pointing at it, an ErrConflict error is returned and nothing
	// changes, unless cascade is set, in which case those dependants (and
	// theirs, transitively) are removed as well. It returns every snapshot
	// removed.
	DeleteSnapshot(ctx context.Context, id string, cascade bool) ([]*Snapshot, error)

	// IsContentReferenced reports whether any snapshot still contains a
	// record with the given content hash.
	IsContentReferenced(ctx context.Context, hash string) (bool, error)

	// Close releases the backend.
	Close() error
}
