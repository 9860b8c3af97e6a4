package snap

import "context"

// Codebase is the enumerable byte source a snapshot is built from.
// Both methods are finite and may be called any number of times.
type Codebase interface {
	// ListFiles returns the relative paths of every file in the tree.
	ListFiles(ctx context.Context) ([]string, error)

	// ReadFile returns the raw bytes of a file listed by ListFiles.
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

// Checkout is a working tree materialised at a given ref. Close releases any
// scratch space and is safe to call more than once.
type Checkout interface {
	Codebase

	// CommitSHA is the commit the tree was produced from, if known.
	CommitSHA() string

	// Branch is the branch the ref named, if any.
	Branch() string

	Close() error
}

// Source produces working trees for a repository reference.
type Source interface {
	// Checkout materialises repoURL at ref (a commit SHA or branch name).
	Checkout(ctx context.Context, repoURL, ref string) (Checkout, error)
}
