package contentstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"srcsnap/internal/snap"
)

// FileSystemStore keeps blobs as files named by their content hash:
//
//	<root>/
//	  content/
//	    <hh>/
//	      <hash>     (blob, fanned out by the first two hex digits)
type FileSystemStore struct {
	name       string
	root       string
	contentDir string
}

// NewFileSystemStore creates a store rooted at root, creating the directory
// structure if needed.
func NewFileSystemStore(name, root string) (*FileSystemStore, error) {
	contentDir := filepath.Join(root, "content")
	if err := os.MkdirAll(contentDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create content directory: %w", err)
	}
	return &FileSystemStore{name: name, root: root, contentDir: contentDir}, nil
}

func (s *FileSystemStore) Name() string { return s.name }

// Root returns the directory the store lives in.
func (s *FileSystemStore) Root() string { return s.root }

func (s *FileSystemStore) blobPath(ptr snap.Pointer) (string, error) {
	h := string(ptr)
	if !snap.ValidHash(h) {
		return "", fmt.Errorf("invalid pointer %q", h)
	}
	return filepath.Join(s.contentDir, h[:2], h), nil
}

// Put writes data atomically. If the blob already exists the call is a no-op.
func (s *FileSystemStore) Put(_ context.Context, hash string, data []byte) (snap.Pointer, error) {
	ptr := snap.PointerFor(hash)
	dest, err := s.blobPath(ptr)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(dest); err == nil {
		return ptr, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", snap.BackendError("put", s.name, fmt.Errorf("creating fan-out directory: %w", err))
	}
	if err := writeFileAtomic(dest, data); err != nil {
		return "", snap.BackendError("put", s.name, err)
	}
	return ptr, nil
}

func (s *FileSystemStore) Get(_ context.Context, ptr snap.Pointer) ([]byte, error) {
	src, err := s.blobPath(ptr)
	if err != nil {
		return nil, &snap.Error{Kind: snap.ErrNotFound, Op: "get", Path: string(ptr), Backend: s.name, Err: err}
	}
	data, err := os.ReadFile(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &snap.Error{Kind: snap.ErrNotFound, Op: "get", Path: string(ptr), Backend: s.name}
		}
		return nil, snap.BackendError("get", s.name, err)
	}
	return data, nil
}

func (s *FileSystemStore) Delete(_ context.Context, ptr snap.Pointer) (bool, error) {
	p, err := s.blobPath(ptr)
	if err != nil {
		return false, nil
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, snap.BackendError("delete", s.name, err)
	}
	return true, nil
}

// writeFileAtomic writes data to destPath via a temp file in the same
// directory and a rename, so readers never observe a partial blob.
func writeFileAtomic(destPath string, data []byte) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Compile-time check that FileSystemStore implements snap.ContentStore interface
var _ snap.ContentStore = (*FileSystemStore)(nil)
