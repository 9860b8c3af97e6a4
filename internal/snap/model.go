package snap

import (
	"fmt"
	"sort"
	"time"
)

// Repository identifies a source repository by its canonical URL.
// Repositories are created on the first snapshot of a URL; only DefaultBranch
// changes afterwards.
type Repository struct {
	ID            string
	Name          string
	URL           string
	DefaultBranch string
	CreatedAt     time.Time
}

// StorageMode says where the bytes of a FileRecord live.
type StorageMode string

const (
	// ModeStored records keep their bytes under their own pointer.
	ModeStored StorageMode = "stored"
	// ModeReferenced records borrow the bytes of an ancestor snapshot.
	ModeReferenced StorageMode = "referenced"
)

// Valid reports whether m is a known storage mode.
func (m StorageMode) Valid() bool {
	return m == ModeStored || m == ModeReferenced
}

// FileRecord describes one file of a snapshot.
//
// For ModeReferenced records, RefSnapshotID names the nearest ancestor that
// holds the bytes as ModeStored, and ContentHash equals that ancestor's hash
// for the same path.
type FileRecord struct {
	Path          string
	ContentHash   string
	Size          int64
	Language      string
	Mode          StorageMode
	RefSnapshotID string
	Pointer       Pointer
}

// Validate checks the internal consistency of a single record.
func (r FileRecord) Validate() error {
	if _, err := NormalizePath(r.Path); err != nil {
		return err
	}
	if !ValidHash(r.ContentHash) {
		return fmt.Errorf("record %q: invalid content hash %q", r.Path, r.ContentHash)
	}
	if r.Size < 0 {
		return fmt.Errorf("record %q: negative size", r.Path)
	}
	switch r.Mode {
	case ModeStored:
		if r.RefSnapshotID != "" {
			return fmt.Errorf("record %q: stored record must not reference a snapshot", r.Path)
		}
	case ModeReferenced:
		if r.RefSnapshotID == "" {
			return fmt.Errorf("record %q: referenced record without ancestor id", r.Path)
		}
	default:
		return fmt.Errorf("record %q: unknown storage mode %q", r.Path, r.Mode)
	}
	return nil
}

// FileIndex maps paths to FileRecords. It is immutable once constructed and
// safe for concurrent readers.
type FileIndex struct {
	records map[string]FileRecord
	paths   []string
}

// NewFileIndex builds an index from records. Duplicate paths and invalid
// records are rejected.
func NewFileIndex(records []FileRecord) (*FileIndex, error) {
	idx := &FileIndex{
		records: make(map[string]FileRecord, len(records)),
		paths:   make([]string, 0, len(records)),
	}
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if _, dup := idx.records[r.Path]; dup {
			return nil, fmt.Errorf("duplicate path in file index: %s", r.Path)
		}
		idx.records[r.Path] = r
		idx.paths = append(idx.paths, r.Path)
	}
	sort.Strings(idx.paths)
	return idx, nil
}

// EmptyFileIndex returns an index with no files.
func EmptyFileIndex() *FileIndex {
	return &FileIndex{records: map[string]FileRecord{}}
}

// Get returns the record for path.
func (idx *FileIndex) Get(path string) (FileRecord, bool) {
	if idx == nil {
		return FileRecord{}, false
	}
	r, ok := idx.records[path]
	return r, ok
}

// Len returns the number of files in the index.
func (idx *FileIndex) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.paths)
}

// Paths returns all paths in sorted order. The slice is a copy.
func (idx *FileIndex) Paths() []string {
	if idx == nil {
		return nil
	}
	out := make([]string, len(idx.paths))
	copy(out, idx.paths)
	return out
}

// Records returns all records ordered by path. The slice is a copy.
func (idx *FileIndex) Records() []FileRecord {
	if idx == nil {
		return nil
	}
	out := make([]FileRecord, len(idx.paths))
	for i, p := range idx.paths {
		out[i] = idx.records[p]
	}
	return out
}

// ReferencedSnapshots returns the distinct ancestor ids named by referenced
// records, sorted.
func (idx *FileIndex) ReferencedSnapshots() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range idx.Records() {
		if r.Mode == ModeReferenced && !seen[r.RefSnapshotID] {
			seen[r.RefSnapshotID] = true
			out = append(out, r.RefSnapshotID)
		}
	}
	sort.Strings(out)
	return out
}

// ContentHashes returns the distinct content hashes in the index, sorted.
func (idx *FileIndex) ContentHashes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range idx.Records() {
		if !seen[r.ContentHash] {
			seen[r.ContentHash] = true
			out = append(out, r.ContentHash)
		}
	}
	sort.Strings(out)
	return out
}

// Snapshot is an immutable record of a working tree at a point in time.
// Snapshots returned by a Catalog must not be modified by callers.
type Snapshot struct {
	ID               string
	RepositoryID     string
	CommitSHA        string
	Branch           string
	ParentSnapshotID string
	AggregateHash    string
	CreatedAt        time.Time
	StorageRoot      string
	Files            *FileIndex
}

// FileCount returns the number of files in the snapshot.
func (s *Snapshot) FileCount() int {
	return s.Files.Len()
}

// withIdentity returns a shallow copy carrying the catalog-assigned fields.
// The FileIndex is shared since it is immutable.
func (s *Snapshot) withIdentity(id string, createdAt time.Time) *Snapshot {
	c := *s
	c.ID = id
	c.CreatedAt = createdAt
	return &c
}
