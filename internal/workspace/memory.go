package workspace

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"srcsnap/internal/snap"
)

// MemoryTree is an in-memory snap.Codebase. It is safe for concurrent use.
type MemoryTree struct {
	mu         sync.RWMutex
	files      map[string][]byte
	readErrors map[string]error
}

// NewMemoryTree creates a tree holding files (path -> content).
func NewMemoryTree(files map[string]string) *MemoryTree {
	t := &MemoryTree{
		files:      make(map[string][]byte, len(files)),
		readErrors: make(map[string]error),
	}
	for p, content := range files {
		t.files[p] = []byte(content)
	}
	return t
}

// Set adds or replaces a file.
func (t *MemoryTree) Set(path string, content []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files[path] = append([]byte(nil), content...)
}

// Remove deletes a file.
func (t *MemoryTree) Remove(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.files, path)
}

// FailRead makes ReadFile of path fail with err.
func (t *MemoryTree) FailRead(path string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readErrors[path] = err
}

// Clone returns an independent copy of the tree.
func (t *MemoryTree) Clone() *MemoryTree {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c := &MemoryTree{
		files:      make(map[string][]byte, len(t.files)),
		readErrors: make(map[string]error, len(t.readErrors)),
	}
	for p, data := range t.files {
		c.files[p] = data
	}
	for p, err := range t.readErrors {
		c.readErrors[p] = err
	}
	return c
}

func (t *MemoryTree) ListFiles(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	paths := make([]string, 0, len(t.files))
	for p := range t.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func (t *MemoryTree) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.readErrors[path]; err != nil {
		return nil, err
	}
	data, ok := t.files[path]
	if !ok {
		return nil, fmt.Errorf("reading %s: %w", path, os.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

// MemorySource serves registered MemoryTrees as checkouts. Refs resolve to
// registered revisions; an empty ref picks the most recently registered one.
type MemorySource struct {
	mu        sync.Mutex
	revisions map[string][]memoryRevision // repository url -> revisions, oldest first
	open      int
}

type memoryRevision struct {
	tree   *MemoryTree
	commit string
	branch string
}

// NewMemorySource creates an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{revisions: make(map[string][]memoryRevision)}
}

// Add registers tree as revision commit on branch of repoURL. The tree is
// cloned so later edits do not change the revision.
func (s *MemorySource) Add(repoURL, commit, branch string, tree *MemoryTree) {
	s.mu.Lock()
	defer s.mu.Unlock()
	url := snap.CanonicalURL(repoURL)
	s.revisions[url] = append(s.revisions[url], memoryRevision{tree: tree.Clone(), commit: commit, branch: branch})
}

// Open returns the number of checkouts not yet closed.
func (s *MemorySource) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *MemorySource) Checkout(ctx context.Context, repoURL, ref string) (snap.Checkout, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	revs := s.revisions[snap.CanonicalURL(repoURL)]
	if len(revs) == 0 {
		return nil, snap.NotFoundError("checkout", "", repoURL)
	}
	for i := len(revs) - 1; i >= 0; i-- {
		r := revs[i]
		if ref == "" || ref == r.commit || ref == r.branch {
			s.open++
			return &memoryCheckout{MemoryTree: r.tree, rev: r, source: s}, nil
		}
	}
	return nil, snap.NotFoundError("checkout", "", repoURL+"@"+ref)
}

type memoryCheckout struct {
	*MemoryTree
	rev    memoryRevision
	source *MemorySource
	once   sync.Once
}

func (c *memoryCheckout) CommitSHA() string { return c.rev.commit }
func (c *memoryCheckout) Branch() string    { return c.rev.branch }

func (c *memoryCheckout) Close() error {
	c.once.Do(func() {
		c.source.mu.Lock()
		c.source.open--
		c.source.mu.Unlock()
	})
	return nil
}

var (
	_ snap.Codebase = (*MemoryTree)(nil)
	_ snap.Source   = (*MemorySource)(nil)
)
