package snap

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DiffSummary is the path-level comparison of two snapshots.
type DiffSummary struct {
	Added          []string `json:"added"`
	Removed        []string `json:"removed"`
	Modified       []string `json:"modified"`
	UnchangedCount int      `json:"unchanged_count"`
}

// Empty reports whether the two snapshots hold the same tree.
func (d DiffSummary) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

const (
	diffContextLines = 3
	// binarySniffLen matches git's heuristic: a NUL within the first 8000
	// bytes marks a file as binary.
	binarySniffLen = 8000
)

// Differ compares snapshots.
type Differ struct {
	resolver *Resolver
}

// NewDiffer creates a Differ that fetches bytes through resolver.
func NewDiffer(resolver *Resolver) *Differ {
	return &Differ{resolver: resolver}
}

// Compare computes the path-level difference from a to b using only the two
// file indexes. All slices are sorted and non-nil.
func (d *Differ) Compare(a, b *Snapshot) DiffSummary {
	return CompareIndexes(a.Files, b.Files)
}

// CompareIndexes is Compare over bare indexes.
func CompareIndexes(a, b *FileIndex) DiffSummary {
	sum := DiffSummary{
		Added:    []string{},
		Removed:  []string{},
		Modified: []string{},
	}
	for _, ra := range a.Records() {
		rb, ok := b.Get(ra.Path)
		switch {
		case !ok:
			sum.Removed = append(sum.Removed, ra.Path)
		case rb.ContentHash != ra.ContentHash:
			sum.Modified = append(sum.Modified, ra.Path)
		default:
			sum.UnchangedCount++
		}
	}
	for _, p := range b.Paths() {
		if _, ok := a.Get(p); !ok {
			sum.Added = append(sum.Added, p)
		}
	}
	return sum
}

// LineDiff returns a unified diff of path between a and b. A path present on
// only one side is diffed against empty content. Identical content yields an
// empty string.
func (d *Differ) LineDiff(ctx context.Context, a, b *Snapshot, path string) (string, error) {
	p, err := NormalizePath(path)
	if err != nil {
		return "", NotFoundError("diff", a.ID, path)
	}
	ra, inA := a.Files.Get(p)
	rb, inB := b.Files.Get(p)
	if !inA && !inB {
		return "", NotFoundError("diff", a.ID+".."+b.ID, p)
	}
	if inA && inB && ra.ContentHash == rb.ContentHash {
		return "", nil
	}

	fromName, toName := "a/"+p, "b/"+p
	var before, after []byte
	if inA {
		if before, err = d.resolver.Resolve(ctx, a, p); err != nil {
			return "", err
		}
	} else {
		fromName = "/dev/null"
	}
	if inB {
		if after, err = d.resolver.Resolve(ctx, b, p); err != nil {
			return "", err
		}
	} else {
		toName = "/dev/null"
	}

	if isBinary(before) || isBinary(after) {
		return fmt.Sprintf("Binary files %s and %s differ\n", fromName, toName), nil
	}

	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLines(before),
		B:        splitLines(after),
		FromFile: fromName,
		ToFile:   toName,
		Context:  diffContextLines,
	})
	if err != nil {
		return "", fmt.Errorf("diffing %s: %w", p, err)
	}
	return text, nil
}

func isBinary(data []byte) bool {
	if len(data) > binarySniffLen {
		data = data[:binarySniffLen]
	}
	return bytes.IndexByte(data, 0) >= 0
}

// splitLines splits data after each newline. Empty input has no lines and a
// missing final newline is supplied so every hunk line is terminated.
func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	lines := strings.SplitAfter(string(data), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	} else {
		lines[len(lines)-1] += "\n"
	}
	return lines
}
