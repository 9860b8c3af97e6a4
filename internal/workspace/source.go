package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"srcsnap/internal/config"
	"srcsnap/internal/snap"
)

// DirSource checks out repositories that already exist as local working
// trees. The repository URL is a directory path or a file:// URL, and the
// ref must name what the tree currently has checked out.
type DirSource struct {
	opts    TreeOptions
	scratch bool
	logger  snap.Logger
}

// NewDirSource creates a DirSource.
func NewDirSource(cfg config.WorkspaceConfig, logger snap.Logger) *DirSource {
	if logger == nil {
		logger = snap.NewNopLogger()
	}
	return &DirSource{
		opts:    TreeOptions{Ignore: cfg.Ignore, IgnoreGitignore: cfg.IgnoreGitignore, Logger: logger},
		scratch: cfg.Scratch,
		logger:  logger,
	}
}

// LocalPath turns a repository URL into a directory path.
func LocalPath(repoURL string) (string, error) {
	u := strings.TrimSpace(repoURL)
	if rest, ok := strings.CutPrefix(u, "file://"); ok {
		u = rest
	} else if strings.Contains(u, "://") || strings.HasPrefix(u, "git@") {
		return "", fmt.Errorf("remote repositories are not supported: %s", repoURL)
	}
	if u == "" {
		return "", fmt.Errorf("empty repository path")
	}
	return filepath.Abs(u)
}

// Checkout opens the tree at repoURL. An empty ref takes whatever HEAD
// points at. A full commit SHA or a branch name must match HEAD.
func (s *DirSource) Checkout(ctx context.Context, repoURL, ref string) (snap.Checkout, error) {
	dir, err := LocalPath(repoURL)
	if err != nil {
		return nil, err
	}

	commit, branch, err := s.resolve(dir, ref)
	if err != nil {
		return nil, err
	}

	tree, err := NewDirTree(dir, s.opts)
	if err != nil {
		return nil, err
	}
	co := &dirCheckout{DirTree: tree, commit: commit, branch: branch}

	if s.scratch {
		if err := co.copyToScratch(ctx, s.opts); err != nil {
			co.Close()
			return nil, err
		}
	}

	s.logger.Debug("checkout ready", "dir", dir, "root", co.Root(), "commit", commit, "branch", branch)
	return co, nil
}

func (s *DirSource) resolve(dir, ref string) (commit, branch string, err error) {
	gd, isRepo, err := gitDir(dir)
	if err != nil {
		return "", "", err
	}
	if !isRepo {
		if isFullSHA(ref) {
			return ref, "", nil
		}
		return "", strings.TrimPrefix(ref, "refs/heads/"), nil
	}

	head, err := readHead(gd)
	if err != nil {
		return "", "", err
	}
	switch {
	case ref == "" || ref == "HEAD":
		return head.Commit, head.Branch, nil
	case isFullSHA(ref):
		if ref != head.Commit {
			return "", "", fmt.Errorf("working tree %s is at %s, not %s", dir, head.Commit, ref)
		}
		return ref, head.Branch, nil
	default:
		name := strings.TrimPrefix(ref, "refs/heads/")
		if name != head.Branch {
			return "", "", fmt.Errorf("working tree %s has %q checked out, not %q", dir, head.Branch, name)
		}
		return head.Commit, head.Branch, nil
	}
}

type dirCheckout struct {
	*DirTree
	commit string
	branch string

	scratchDir string
	closeOnce  sync.Once
	closeErr   error
}

func (c *dirCheckout) CommitSHA() string { return c.commit }
func (c *dirCheckout) Branch() string    { return c.branch }

// copyToScratch copies every tree file into a private directory and
// switches the checkout over to it, so later edits to the original do not
// leak into the build.
func (c *dirCheckout) copyToScratch(ctx context.Context, opts TreeOptions) error {
	dir, err := os.MkdirTemp("", "srcsnap-checkout-*")
	if err != nil {
		return fmt.Errorf("creating scratch directory: %w", err)
	}
	c.scratchDir = dir

	paths, err := c.DirTree.ListFiles(ctx)
	if err != nil {
		return err
	}
	for _, rel := range paths {
		data, err := c.DirTree.ReadFile(ctx, rel)
		if err != nil {
			return err
		}
		dest := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return fmt.Errorf("creating scratch directory for %s: %w", rel, err)
		}
		if err := os.WriteFile(dest, data, 0644); err != nil {
			return fmt.Errorf("copying %s: %w", rel, err)
		}
	}

	tree, err := NewDirTree(dir, opts)
	if err != nil {
		return err
	}
	c.DirTree = tree
	return nil
}

// Close removes the scratch copy, if any. Safe to call more than once.
func (c *dirCheckout) Close() error {
	c.closeOnce.Do(func() {
		if c.scratchDir != "" {
			c.closeErr = os.RemoveAll(c.scratchDir)
		}
	})
	return c.closeErr
}

var (
	_ snap.Source   = (*DirSource)(nil)
	_ snap.Checkout = (*dirCheckout)(nil)
)
