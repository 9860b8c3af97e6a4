// Package workspace provides the working trees snapshots are built from.
package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"unicode/utf8"

	"github.com/denormal/go-gitignore"

	"srcsnap/internal/snap"
)

// TreeOptions controls which files of a directory make up a tree.
type TreeOptions struct {
	// Ignore holds extra glob patterns, see IgnoreMatcher.
	Ignore []string
	// IgnoreGitignore disables .gitignore handling.
	IgnoreGitignore bool
	// Logger receives a warning for every file left out because its name
	// is not valid UTF-8.
	Logger snap.Logger
}

// DirTree is a snap.Codebase over a directory on the local filesystem.
// The .git directory is never part of the tree.
type DirTree struct {
	root      string
	matcher   *IgnoreMatcher
	gitignore gitignore.GitIgnore
	logger    snap.Logger
	skipped   int
}

// NewDirTree creates a tree rooted at root. Patterns from the root's
// ignore file are added to opts.Ignore.
func NewDirTree(root string, opts TreeOptions) (*DirTree, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving tree root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat tree root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("tree root is not a directory: %s", abs)
	}

	filePatterns, err := ParseIgnoreFile(filepath.Join(abs, IgnoreFile))
	if err != nil {
		return nil, err
	}
	patterns := append(append([]string{}, opts.Ignore...), filePatterns...)

	logger := opts.Logger
	if logger == nil {
		logger = snap.NewNopLogger()
	}
	t := &DirTree{root: abs, matcher: NewIgnoreMatcher(patterns), logger: logger}
	if !opts.IgnoreGitignore {
		repo, err := gitignore.NewRepository(abs)
		if err != nil {
			return nil, fmt.Errorf("loading .gitignore files: %w", err)
		}
		t.gitignore = repo
	}
	return t, nil
}

// Root returns the absolute tree root.
func (t *DirTree) Root() string {
	return t.root
}

func (t *DirTree) ignored(abs, rel string, isDir bool) bool {
	if t.matcher.Match(rel) {
		return true
	}
	if t.gitignore == nil {
		return false
	}
	m := t.gitignore.Absolute(abs, isDir)
	return m != nil && m.Ignore()
}

// Skipped returns how many entries the last ListFiles left out because
// their names are not valid UTF-8.
func (t *DirTree) Skipped() int {
	return t.skipped
}

// ListFiles returns the slash-separated paths of every regular file in the
// tree, sorted. Symlinks and other special files are skipped, as are files
// and directories whose names are not valid UTF-8.
func (t *DirTree) ListFiles(ctx context.Context) ([]string, error) {
	var paths []string
	t.skipped = 0
	err := filepath.WalkDir(t.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == t.root {
			return nil
		}
		rel, err := filepath.Rel(t.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if !utf8.ValidString(d.Name()) {
			t.skipped++
			t.logger.Warn("skipping entry with non UTF-8 name", "path", fmt.Sprintf("%q", rel))
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" || t.ignored(p, rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || d.Name() == ".git" {
			return nil
		}
		if t.ignored(p, rel, false) {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", t.root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadFile returns the bytes of rel. The file is stat'ed before and after
// the read; a file that changed in between is reported as an error so a
// build never records a torn read.
func (t *DirTree) ReadFile(ctx context.Context, rel string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	native := filepath.FromSlash(rel)
	if !filepath.IsLocal(native) {
		return nil, fmt.Errorf("path escapes tree root: %s", rel)
	}
	full := filepath.Join(t.root, native)

	before, err := os.Lstat(full)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", rel, err)
	}
	if !before.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", rel)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rel, err)
	}

	after, err := os.Lstat(full)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", rel, err)
	}
	if after.Size() != before.Size() || !after.ModTime().Equal(before.ModTime()) || int64(len(data)) != after.Size() {
		return nil, fmt.Errorf("%s changed while reading", rel)
	}
	return data, nil
}

var _ snap.Codebase = (*DirTree)(nil)
