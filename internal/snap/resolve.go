package snap

import (
	"context"
	"errors"
	"fmt"
)

// SnapshotGetter is the read side of a Catalog used by the resolver.
type SnapshotGetter interface {
	Get(ctx context.Context, id string) (*Snapshot, error)
}

// Resolver reconstructs file bytes from a snapshot.
type Resolver struct {
	snapshots SnapshotGetter
	store     ContentStore
}

// NewResolver creates a Resolver.
func NewResolver(snapshots SnapshotGetter, store ContentStore) *Resolver {
	return &Resolver{snapshots: snapshots, store: store}
}

// ResolveFile returns the bytes of path in snapshotID.
func (r *Resolver) ResolveFile(ctx context.Context, snapshotID, path string) ([]byte, error) {
	s, err := r.snapshots.Get(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	return r.Resolve(ctx, s, path)
}

// Resolve returns the bytes of path in s. Referenced records take exactly one
// hop to the ancestor that stores the bytes. The bytes are checked against
// the recorded hash before being returned.
func (r *Resolver) Resolve(ctx context.Context, s *Snapshot, path string) ([]byte, error) {
	p, err := NormalizePath(path)
	if err != nil {
		return nil, NotFoundError("resolve", s.ID, path)
	}
	rec, ok := s.Files.Get(p)
	if !ok {
		return nil, NotFoundError("resolve", s.ID, p)
	}

	holder := rec
	if rec.Mode == ModeReferenced {
		holder, err = r.ancestorRecord(ctx, s.ID, rec)
		if err != nil {
			return nil, err
		}
	}

	ptr := holder.Pointer
	if ptr == "" {
		ptr = PointerFor(holder.ContentHash)
	}
	data, err := r.store.Get(ctx, ptr)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, IntegrityError("resolve", s.ID, p, fmt.Errorf("blob %s is missing from %s", ptr, r.store.Name()))
		}
		return nil, err
	}

	if got := ContentHash(data); got != rec.ContentHash {
		return nil, IntegrityError("resolve", s.ID, p,
			fmt.Errorf("content hash mismatch: recorded %s, got %s", rec.ContentHash, got))
	}
	return data, nil
}

// ancestorRecord loads the stored record a referenced record points at.
func (r *Resolver) ancestorRecord(ctx context.Context, snapshotID string, rec FileRecord) (FileRecord, error) {
	ancestor, err := r.snapshots.Get(ctx, rec.RefSnapshotID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return FileRecord{}, IntegrityError("resolve", snapshotID, rec.Path,
				fmt.Errorf("referenced snapshot %s no longer exists", rec.RefSnapshotID))
		}
		return FileRecord{}, err
	}
	held, ok := ancestor.Files.Get(rec.Path)
	if !ok || held.Mode != ModeStored {
		return FileRecord{}, IntegrityError("resolve", snapshotID, rec.Path,
			fmt.Errorf("referenced snapshot %s does not store this path", rec.RefSnapshotID))
	}
	if held.ContentHash != rec.ContentHash {
		return FileRecord{}, IntegrityError("resolve", snapshotID, rec.Path,
			fmt.Errorf("referenced snapshot %s holds hash %s, want %s", rec.RefSnapshotID, held.ContentHash, rec.ContentHash))
	}
	return held, nil
}
