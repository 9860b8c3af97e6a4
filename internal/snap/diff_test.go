package snap_test

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"

	"srcsnap/internal/snap"
	"srcsnap/internal/testutil"
)

func newDiffer(h *testutil.Harness) *snap.Differ {
	return snap.NewDiffer(snap.NewResolver(h.Catalog, h.Store))
}

func TestDiffer_Compare(t *testing.T) {
	h := testutil.NewHarness(t)
	f := newCatalogFixture(t, h)
	d := newDiffer(h)

	s1 := f.register(map[string]string{"a.py": "x", "b.py": "y"}, nil)
	s2 := f.register(map[string]string{"a.py": "x", "b.py": "z"}, s1)
	s3 := f.register(map[string]string{"a.py": "x", "b.py": "z", "c.py": "new"}, s2)
	other := f.register(map[string]string{"b.py": "y", "d/e.py": "e", "f.py": "f"}, nil)

	t.Run("self comparison is empty", func(t *testing.T) {
		got := d.Compare(s3, s3)
		want := snap.DiffSummary{Added: []string{}, Removed: []string{}, Modified: []string{}, UnchangedCount: 3}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %+v, want %+v", got, want)
		}
		if !got.Empty() {
			t.Error("Empty() = false")
		}
	})

	t.Run("modified file", func(t *testing.T) {
		got := d.Compare(s1, s2)
		if !reflect.DeepEqual(got.Modified, []string{"b.py"}) || len(got.Added) != 0 || len(got.Removed) != 0 || got.UnchangedCount != 1 {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("added file", func(t *testing.T) {
		got := d.Compare(s2, s3)
		if !reflect.DeepEqual(got.Added, []string{"c.py"}) || len(got.Modified) != 0 || got.UnchangedCount != 2 {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("added and removed are symmetric", func(t *testing.T) {
		all := []*snap.Snapshot{s1, s2, s3, other}
		for _, a := range all {
			for _, b := range all {
				ab, ba := d.Compare(a, b), d.Compare(b, a)
				if !reflect.DeepEqual(ab.Added, ba.Removed) || !reflect.DeepEqual(ab.Removed, ba.Added) {
					t.Errorf("%s vs %s: %+v / %+v", a.ID, b.ID, ab, ba)
				}
				if !reflect.DeepEqual(ab.Modified, ba.Modified) || ab.UnchangedCount != ba.UnchangedCount {
					t.Errorf("%s vs %s: modified/unchanged differ", a.ID, b.ID)
				}
				if !sort.StringsAreSorted(ab.Added) || !sort.StringsAreSorted(ab.Removed) || !sort.StringsAreSorted(ab.Modified) {
					t.Errorf("%s vs %s: unsorted output %+v", a.ID, b.ID, ab)
				}
			}
		}
	})
}

func TestDiffer_LineDiff(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewHarness(t)
	f := newCatalogFixture(t, h)
	d := newDiffer(h)

	s1 := f.register(map[string]string{
		"a.py":    "x",
		"lib.py":  "one\ntwo\nthree\n",
		"old.txt": "bye\n",
		"bin.dat": "\x00\x01",
	}, nil)
	s2 := f.register(map[string]string{
		"a.py":    "x",
		"lib.py":  "one\nTWO\nthree\n",
		"new.txt": "hi\nthere",
		"bin.dat": "\x00\x02",
	}, s1)

	tests := []struct {
		name string
		a, b *snap.Snapshot
		path string
		want string
	}{
		{
			name: "modified lines",
			a:    s1, b: s2, path: "lib.py",
			want: "--- a/lib.py\n+++ b/lib.py\n@@ -1,3 +1,3 @@\n one\n-two\n+TWO\n three\n",
		},
		{
			name: "added file diffs against nothing",
			a:    s1, b: s2, path: "new.txt",
			want: "--- /dev/null\n+++ b/new.txt\n@@ -0,0 +1,2 @@\n+hi\n+there\n",
		},
		{
			name: "removed file diffs to nothing",
			a:    s1, b: s2, path: "old.txt",
			want: "--- a/old.txt\n+++ /dev/null\n@@ -1 +0,0 @@\n-bye\n",
		},
		{
			name: "unchanged file",
			a:    s1, b: s2, path: "a.py",
			want: "",
		},
		{
			name: "binary content",
			a:    s1, b: s2, path: "bin.dat",
			want: "Binary files a/bin.dat and b/bin.dat differ\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.LineDiff(ctx, tt.a, tt.b, tt.path)
			if err != nil {
				t.Fatalf("LineDiff: %v", err)
			}
			if got != tt.want {
				t.Errorf("got:\n%s\nwant:\n%s", got, tt.want)
			}
		})
	}

	t.Run("path in neither snapshot", func(t *testing.T) {
		if _, err := d.LineDiff(ctx, s1, s2, "nope.py"); !errors.Is(err, snap.ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})
}
