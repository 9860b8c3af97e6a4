package snap

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Builder turns a working tree into an unregistered Snapshot, writing only
// the blobs its parent does not already hold.
type Builder struct {
	store   ContentStore
	workers int
	logger  Logger
}

// NewBuilder creates a Builder. workers bounds the number of files hashed
// concurrently; zero or less means one worker per CPU. A nil logger
// discards output.
func NewBuilder(store ContentStore, workers int, logger Logger) *Builder {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Builder{store: store, workers: workers, logger: logger}
}

// indexCollector gathers records from concurrent workers.
type indexCollector struct {
	mu         sync.Mutex
	records    []FileRecord
	stored     int
	referenced int
}

func (c *indexCollector) add(r FileRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r)
	if r.Mode == ModeStored {
		c.stored++
	} else {
		c.referenced++
	}
}

// Build hashes every file of tree. Files whose hash equals the parent's
// record for the same path become referenced records pointing at the
// ancestor that stores the bytes; all others are written to the store.
//
// Any single read failure aborts the whole build. The returned snapshot has
// no id and must be registered with a Catalog. Blobs written before a failure
// stay behind, which is safe since puts are idempotent.
func (b *Builder) Build(ctx context.Context, tree Codebase, parent *Snapshot) (*Snapshot, error) {
	if parent != nil && parent.ID == "" {
		return nil, fmt.Errorf("parent snapshot is not registered")
	}

	listed, err := tree.ListFiles(ctx)
	if err != nil {
		return nil, BuildAbortedError("", fmt.Errorf("listing files: %w", err))
	}

	// Normalise up front so duplicates surface before any I/O.
	normalized := make(map[string]string, len(listed))
	for _, raw := range listed {
		p, err := NormalizePath(raw)
		if err != nil {
			return nil, BuildAbortedError(raw, err)
		}
		if prev, dup := normalized[p]; dup {
			return nil, BuildAbortedError(raw, fmt.Errorf("path collides with %q after normalisation", prev))
		}
		normalized[p] = raw
	}

	collector := &indexCollector{records: make([]FileRecord, 0, len(normalized))}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	for p, raw := range normalized {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return BuildAbortedError(p, err)
			}
			rec, err := b.buildRecord(gctx, tree, p, raw, parent)
			if err != nil {
				return err
			}
			collector.add(rec)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		b.logger.Warn("build aborted", "error", err)
		return nil, err
	}

	idx, err := NewFileIndex(collector.records)
	if err != nil {
		return nil, BuildAbortedError("", err)
	}

	snap := &Snapshot{
		AggregateHash: AggregateHash(idx),
		Files:         idx,
	}
	if parent != nil {
		snap.ParentSnapshotID = parent.ID
	}

	b.logger.Info("build complete",
		"files", idx.Len(),
		"stored", collector.stored,
		"referenced", collector.referenced,
		"aggregate_hash", snap.AggregateHash,
	)
	return snap, nil
}

// buildRecord reads and hashes one file and decides store-vs-reference.
func (b *Builder) buildRecord(ctx context.Context, tree Codebase, path, raw string, parent *Snapshot) (FileRecord, error) {
	data, err := tree.ReadFile(ctx, raw)
	if err != nil {
		return FileRecord{}, BuildAbortedError(path, err)
	}

	rec := FileRecord{
		Path:        path,
		ContentHash: ContentHash(data),
		Size:        int64(len(data)),
		Language:    DetectLanguage(path),
	}

	if parent != nil {
		if prev, ok := parent.Files.Get(path); ok && prev.ContentHash == rec.ContentHash {
			rec.Mode = ModeReferenced
			rec.RefSnapshotID = parent.ID
			if prev.Mode == ModeReferenced {
				// Point at the holder of the bytes, never at another reference.
				rec.RefSnapshotID = prev.RefSnapshotID
			}
			b.logger.Debug("file unchanged", "path", path, "ref", rec.RefSnapshotID)
			return rec, nil
		}
	}

	ptr, err := b.store.Put(ctx, rec.ContentHash, data)
	if err != nil {
		return FileRecord{}, fmt.Errorf("storing %s: %w", path, err)
	}
	rec.Mode = ModeStored
	rec.Pointer = ptr
	b.logger.Debug("file stored", "path", path, "hash", rec.ContentHash)
	return rec, nil
}
