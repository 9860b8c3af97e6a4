package snap

import "context"

// Pointer locates a blob inside a ContentStore.
//
// Pointers are derived globally from the content hash: two snapshots holding
// the same bytes share one blob. A blob may therefore only be deleted once no
// snapshot in the catalog names its hash.
type Pointer string

// PointerFor returns the pointer under which content with hash is stored.
func PointerFor(hash string) Pointer {
	return Pointer(hash)
}

// ContentStore is hash-addressed blob storage.
// Implementations must be safe for concurrent use.
type ContentStore interface {
	// Put stores data under hash and returns its pointer.
	// Writing an existing hash is a no-op that still succeeds.
	Put(ctx context.Context, hash string, data []byte) (Pointer, error)

	// Get returns the bytes stored under ptr, or an ErrNotFound error.
	Get(ctx context.Context, ptr Pointer) ([]byte, error)

	// Delete removes the blob and reports whether it existed.
	Delete(ctx context.Context, ptr Pointer) (bool, error)

	// Name identifies the backend in error messages and logs.
	Name() string
}
