package snap

import (
	"context"
	"fmt"
	"sync"
)

// Service is the public operations surface of the snapshot system.
type Service struct {
	catalog  *Catalog
	store    ContentStore
	source   Source
	builder  *Builder
	resolver *Resolver
	differ   *Differ
	logger   Logger

	// gcMu keeps blob collection from racing in-process builds: a build may
	// rely on a blob already being present and skip writing it.
	gcMu sync.RWMutex
}

// NewService wires the snapshot components together.
func NewService(catalog *Catalog, store ContentStore, source Source, builder *Builder, logger Logger) *Service {
	if logger == nil {
		logger = NewNopLogger()
	}
	resolver := NewResolver(catalog, store)
	return &Service{
		catalog:  catalog,
		store:    store,
		source:   source,
		builder:  builder,
		resolver: resolver,
		differ:   NewDiffer(resolver),
		logger:   logger,
	}
}

// CreateSnapshot checks out repoURL at ref, builds a snapshot against the
// repository's latest snapshot and registers it. If an identical tree is
// already registered the existing snapshot is returned.
func (s *Service) CreateSnapshot(ctx context.Context, repoURL, ref string) (*Snapshot, error) {
	s.gcMu.RLock()
	defer s.gcMu.RUnlock()

	checkout, err := s.source.Checkout(ctx, repoURL, ref)
	if err != nil {
		return nil, fmt.Errorf("checking out %s at %q: %w", repoURL, ref, err)
	}
	defer func() {
		if err := checkout.Close(); err != nil {
			s.logger.Warn("failed to release checkout", "repo", repoURL, "error", err)
		}
	}()

	repo, err := s.catalog.EnsureRepository(ctx, repoURL, checkout.Branch())
	if err != nil {
		return nil, err
	}
	log := WithAttrs(s.logger, "repository_id", repo.ID)

	parent, err := s.catalog.Latest(ctx, repo.ID)
	if err != nil {
		return nil, fmt.Errorf("finding parent snapshot: %w", err)
	}
	if parent != nil {
		log.Debug("building against parent", "parent_id", parent.ID)
	}

	built, err := s.builder.Build(ctx, checkout, parent)
	if err != nil {
		return nil, err
	}
	built.RepositoryID = repo.ID
	built.CommitSHA = checkout.CommitSHA()
	built.Branch = checkout.Branch()
	built.StorageRoot = s.store.Name()

	snap, err := s.catalog.Register(ctx, built)
	if err != nil {
		return nil, err
	}
	log.Info("snapshot ready", "snapshot_id", snap.ID, "commit", snap.CommitSHA, "files", snap.FileCount())
	return snap, nil
}

// GetSnapshot returns a snapshot by id.
func (s *Service) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	return s.catalog.Get(ctx, id)
}

// ListSnapshots returns the snapshots of the repository at repoURL, newest
// first.
func (s *Service) ListSnapshots(ctx context.Context, repoURL string) ([]*Snapshot, error) {
	repo, err := s.catalog.FindRepository(ctx, repoURL)
	if err != nil {
		return nil, fmt.Errorf("finding repository %s: %w", repoURL, err)
	}
	if repo == nil {
		return nil, &Error{Kind: ErrNotFound, Op: "list snapshots", Path: CanonicalURL(repoURL)}
	}
	return s.catalog.List(ctx, repo.ID)
}

// GetFile returns the bytes of path in snapshot id.
func (s *Service) GetFile(ctx context.Context, id, path string) ([]byte, error) {
	return s.resolver.ResolveFile(ctx, id, path)
}

// ListFiles returns the sorted paths of snapshot id.
func (s *Service) ListFiles(ctx context.Context, id string) ([]string, error) {
	snap, err := s.catalog.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return snap.Files.Paths(), nil
}

// CompareSnapshots summarises the changes from snapshot idA to idB.
func (s *Service) CompareSnapshots(ctx context.Context, idA, idB string) (DiffSummary, error) {
	a, b, err := s.pair(ctx, idA, idB)
	if err != nil {
		return DiffSummary{}, err
	}
	return s.differ.Compare(a, b), nil
}

// DiffFile returns a unified diff of path between snapshots idA and idB.
func (s *Service) DiffFile(ctx context.Context, idA, idB, path string) (string, error) {
	a, b, err := s.pair(ctx, idA, idB)
	if err != nil {
		return "", err
	}
	return s.differ.LineDiff(ctx, a, b, path)
}

func (s *Service) pair(ctx context.Context, idA, idB string) (*Snapshot, *Snapshot, error) {
	a, err := s.catalog.Get(ctx, idA)
	if err != nil {
		return nil, nil, err
	}
	b, err := s.catalog.Get(ctx, idB)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

// DeleteSnapshot removes snapshot id (and, with cascade, every snapshot that
// depends on it), then deletes blobs no remaining snapshot names. Blob
// collection failures are logged; the catalog change stands either way.
func (s *Service) DeleteSnapshot(ctx context.Context, id string, cascade bool) ([]*Snapshot, error) {
	s.gcMu.Lock()
	defer s.gcMu.Unlock()

	removed, err := s.catalog.Delete(ctx, id, cascade)
	if err != nil {
		return nil, err
	}

	candidates := make(map[string]bool)
	for _, snap := range removed {
		for _, r := range snap.Files.Records() {
			if r.Mode == ModeStored {
				candidates[r.ContentHash] = true
			}
		}
	}

	var collected int
	for hash := range candidates {
		inUse, err := s.catalog.IsContentReferenced(ctx, hash)
		if err != nil {
			s.logger.Warn("skipping blob collection", "hash", hash, "error", err)
			continue
		}
		if inUse {
			continue
		}
		if _, err := s.store.Delete(ctx, PointerFor(hash)); err != nil {
			s.logger.Warn("failed to delete blob", "hash", hash, "backend", s.store.Name(), "error", err)
			continue
		}
		collected++
	}

	s.logger.Info("snapshots deleted", "snapshot_id", id, "removed", len(removed), "blobs_collected", collected)
	return removed, nil
}
