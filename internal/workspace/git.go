package workspace

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// gitHead describes what HEAD of a local git checkout points at.
type gitHead struct {
	Branch string // empty when detached
	Commit string // empty on an unborn branch
}

// gitDir returns the git directory of the working tree at dir, following
// "gitdir:" files used by worktrees and submodules. ok is false when dir is
// not a git checkout.
func gitDir(dir string) (string, bool, error) {
	dotGit := filepath.Join(dir, ".git")
	info, err := os.Stat(dotGit)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("stat .git: %w", err)
	}
	if info.IsDir() {
		return dotGit, true, nil
	}

	data, err := os.ReadFile(dotGit)
	if err != nil {
		return "", false, fmt.Errorf("reading .git file: %w", err)
	}
	line := strings.TrimSpace(string(data))
	target, ok := strings.CutPrefix(line, "gitdir:")
	if !ok {
		return "", false, fmt.Errorf("malformed .git file: %q", line)
	}
	target = strings.TrimSpace(target)
	if !filepath.IsAbs(target) {
		target = filepath.Join(dir, target)
	}
	return target, true, nil
}

// readHead parses HEAD inside gitDir.
func readHead(dir string) (gitHead, error) {
	data, err := os.ReadFile(filepath.Join(dir, "HEAD"))
	if err != nil {
		return gitHead{}, fmt.Errorf("reading HEAD: %w", err)
	}
	content := strings.TrimSpace(string(data))

	ref, symbolic := strings.CutPrefix(content, "ref:")
	if !symbolic {
		if !isFullSHA(content) {
			return gitHead{}, fmt.Errorf("malformed HEAD: %q", content)
		}
		return gitHead{Commit: content}, nil
	}

	ref = strings.TrimSpace(ref)
	commit, err := resolveRef(dir, ref)
	if err != nil {
		return gitHead{}, err
	}
	return gitHead{Branch: strings.TrimPrefix(ref, "refs/heads/"), Commit: commit}, nil
}

// resolveRef looks ref up as a loose ref, then in packed-refs. An unknown
// ref resolves to "".
func resolveRef(dir, ref string) (string, error) {
	common := dir
	if data, err := os.ReadFile(filepath.Join(dir, "commondir")); err == nil {
		common = strings.TrimSpace(string(data))
		if !filepath.IsAbs(common) {
			common = filepath.Join(dir, common)
		}
	}

	for _, base := range []string{dir, common} {
		data, err := os.ReadFile(filepath.Join(base, filepath.FromSlash(ref)))
		if err == nil {
			sha := strings.TrimSpace(string(data))
			if !isFullSHA(sha) {
				return "", fmt.Errorf("malformed ref %s: %q", ref, sha)
			}
			return sha, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("reading ref %s: %w", ref, err)
		}
	}

	return packedRef(common, ref)
}

func packedRef(dir, ref string) (string, error) {
	f, err := os.Open(filepath.Join(dir, "packed-refs"))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("opening packed-refs: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' || line[0] == '^' {
			continue
		}
		sha, name, ok := strings.Cut(line, " ")
		if ok && name == ref {
			return sha, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading packed-refs: %w", err)
	}
	return "", nil
}

// isFullSHA reports whether s is a 40 character lowercase hex object id.
func isFullSHA(s string) bool {
	if len(s) != 40 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}
