package snap

import (
	"encoding/json"
	"fmt"
	"time"
)

// document is the persisted form of a snapshot: one JSON object holding the
// metadata and the complete file index.
type document struct {
	ID               string           `json:"id"`
	RepositoryID     string           `json:"repository_id"`
	CommitSHA        string           `json:"commit_sha"`
	Branch           string           `json:"branch,omitempty"`
	ParentSnapshotID string           `json:"parent_snapshot_id,omitempty"`
	AggregateHash    string           `json:"aggregate_hash"`
	CreatedAt        time.Time        `json:"created_at"`
	StorageRoot      string           `json:"storage_root,omitempty"`
	FileIndex        []documentRecord `json:"file_index"`
}

type documentRecord struct {
	Path           string      `json:"path"`
	ContentHash    string      `json:"content_hash"`
	Size           int64       `json:"size"`
	Language       string      `json:"language,omitempty"`
	Mode           StorageMode `json:"mode"`
	RefSnapshotID  string      `json:"ref_snapshot_id,omitempty"`
	StoragePointer Pointer     `json:"storage_pointer,omitempty"`
}

// EncodeDocument serialises s, file index included. Records are written in
// path order so equal snapshots encode to equal bytes.
func EncodeDocument(s *Snapshot) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("encoding nil snapshot")
	}
	doc := document{
		ID:               s.ID,
		RepositoryID:     s.RepositoryID,
		CommitSHA:        s.CommitSHA,
		Branch:           s.Branch,
		ParentSnapshotID: s.ParentSnapshotID,
		AggregateHash:    s.AggregateHash,
		CreatedAt:        s.CreatedAt.UTC(),
		StorageRoot:      s.StorageRoot,
		FileIndex:        make([]documentRecord, 0, s.Files.Len()),
	}
	for _, r := range s.Files.Records() {
		doc.FileIndex = append(doc.FileIndex, documentRecord{
			Path:           r.Path,
			ContentHash:    r.ContentHash,
			Size:           r.Size,
			Language:       r.Language,
			Mode:           r.Mode,
			RefSnapshotID:  r.RefSnapshotID,
			StoragePointer: r.Pointer,
		})
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot %s: %w", s.ID, err)
	}
	return data, nil
}

// DecodeDocument parses a document written by EncodeDocument. The aggregate
// hash is recomputed and must match the stored value.
func DecodeDocument(data []byte) (*Snapshot, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding snapshot document: %w", err)
	}
	if doc.ID == "" {
		return nil, fmt.Errorf("decoding snapshot document: missing id")
	}

	records := make([]FileRecord, 0, len(doc.FileIndex))
	for _, r := range doc.FileIndex {
		records = append(records, FileRecord{
			Path:          r.Path,
			ContentHash:   r.ContentHash,
			Size:          r.Size,
			Language:      r.Language,
			Mode:          r.Mode,
			RefSnapshotID: r.RefSnapshotID,
			Pointer:       r.StoragePointer,
		})
	}
	idx, err := NewFileIndex(records)
	if err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", doc.ID, err)
	}

	if got := AggregateHash(idx); got != doc.AggregateHash {
		return nil, IntegrityError("decode", doc.ID, "",
			fmt.Errorf("aggregate hash %s does not match file index (%s)", doc.AggregateHash, got))
	}

	return &Snapshot{
		ID:               doc.ID,
		RepositoryID:     doc.RepositoryID,
		CommitSHA:        doc.CommitSHA,
		Branch:           doc.Branch,
		ParentSnapshotID: doc.ParentSnapshotID,
		AggregateHash:    doc.AggregateHash,
		CreatedAt:        doc.CreatedAt,
		StorageRoot:      doc.StorageRoot,
		Files:            idx,
	}, nil
}
