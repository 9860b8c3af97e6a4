package snap_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"srcsnap/internal/snap"
	"srcsnap/internal/testutil"
)

const repoURL = "https://example.com/org/app.git"

func addRevision(h *testutil.Harness, commit string, files map[string]string) {
	h.Source.Add(repoURL, commit, "main", testutil.Tree(files))
}

func createSnapshot(t *testing.T, h *testutil.Harness, ref string) *snap.Snapshot {
	t.Helper()
	s, err := h.Service.CreateSnapshot(context.Background(), repoURL, ref)
	if err != nil {
		t.Fatalf("CreateSnapshot(%s): %v", ref, err)
	}
	return s
}

func TestService_Scenario(t *testing.T) {
	for name, newHarness := range map[string]func(*testing.T) *testutil.Harness{
		"memory": testutil.NewHarness,
		"sqlite": testutil.NewSQLiteHarness,
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t)
			addRevision(h, "c1", map[string]string{"a.py": "x", "b.py": "y"})
			addRevision(h, "c2", map[string]string{"a.py": "x", "b.py": "z"})
			addRevision(h, "c3", map[string]string{"a.py": "x", "b.py": "z", "c.py": "new"})

			s1 := createSnapshot(t, h, "c1")
			if s1.ParentSnapshotID != "" || s1.CommitSHA != "c1" || s1.Branch != "main" || s1.StorageRoot != "memory" {
				t.Errorf("S1 = %+v", s1)
			}

			s2 := createSnapshot(t, h, "c2")
			if s2.ParentSnapshotID != s1.ID {
				t.Errorf("S2 parent = %q, want %s", s2.ParentSnapshotID, s1.ID)
			}
			if r, _ := s2.Files.Get("a.py"); r.Mode != snap.ModeReferenced || r.RefSnapshotID != s1.ID {
				t.Errorf("S2 a.py = %+v, want referenced to S1", r)
			}
			if r, _ := s2.Files.Get("b.py"); r.Mode != snap.ModeStored {
				t.Errorf("S2 b.py = %+v, want stored", r)
			}

			sum, err := h.Service.CompareSnapshots(ctx, s1.ID, s2.ID)
			if err != nil {
				t.Fatal(err)
			}
			if len(sum.Added) != 0 || len(sum.Removed) != 0 || !reflect.DeepEqual(sum.Modified, []string{"b.py"}) {
				t.Errorf("compare(S1, S2) = %+v", sum)
			}

			data, err := h.Service.GetFile(ctx, s2.ID, "a.py")
			if err != nil || string(data) != "x" {
				t.Errorf("GetFile(S2, a.py) = %q, %v", data, err)
			}

			putsBefore := h.Store.PutCalls()
			s3 := createSnapshot(t, h, "c3")
			if got := h.Store.PutCalls() - putsBefore; got != 1 {
				t.Errorf("S3 made %d puts, want 1 (c.py)", got)
			}
			sum, err = h.Service.CompareSnapshots(ctx, s2.ID, s3.ID)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(sum.Added, []string{"c.py"}) {
				t.Errorf("compare(S2, S3).added = %v", sum.Added)
			}

			paths, err := h.Service.ListFiles(ctx, s3.ID)
			if err != nil || !reflect.DeepEqual(paths, []string{"a.py", "b.py", "c.py"}) {
				t.Errorf("ListFiles(S3) = %v, %v", paths, err)
			}

			list, err := h.Service.ListSnapshots(ctx, "https://example.com/org/app")
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 3 {
				t.Fatalf("ListSnapshots = %d snapshots, want 3", len(list))
			}
			if list[0].ID != s3.ID {
				t.Errorf("newest snapshot = %s, want %s", list[0].ID, s3.ID)
			}

			diff, err := h.Service.DiffFile(ctx, s1.ID, s3.ID, "b.py")
			if err != nil {
				t.Fatal(err)
			}
			if want := "--- a/b.py\n+++ b/b.py\n@@ -1 +1 @@\n-y\n+z\n"; diff != want {
				t.Errorf("DiffFile = %q, want %q", diff, want)
			}

			if h.Source.Open() != 0 {
				t.Errorf("%d checkouts left open", h.Source.Open())
			}
		})
	}
}

func TestService_StorageDoesNotGrowForUnchangedFiles(t *testing.T) {
	h := testutil.NewHarness(t)
	files := map[string]string{"a.py": "x", "b.py": "y", "c.py": "z"}

	var prev *snap.Snapshot
	for i, commit := range []string{"c1", "c2", "c3", "c4", "c5"} {
		next := map[string]string{"counter.txt": commit}
		for k, v := range files {
			next[k] = v
		}
		addRevision(h, commit, next)
		s := createSnapshot(t, h, commit)
		if prev != nil && s.ParentSnapshotID != prev.ID {
			t.Errorf("snapshot %d parent = %s, want %s", i, s.ParentSnapshotID, prev.ID)
		}
		prev = s
	}

	// 3 unchanged files stored once plus one counter blob per snapshot.
	if got := h.Store.PutCalls(); got != 3+5 {
		t.Errorf("PutCalls() = %d, want 8", got)
	}
	for path, want := range files {
		got, err := h.Service.GetFile(context.Background(), prev.ID, path)
		if err != nil || string(got) != want {
			t.Errorf("GetFile(%s) = %q, %v", path, got, err)
		}
	}
}

func TestService_SnapshotTimestamps(t *testing.T) {
	h := testutil.NewHarness(t)
	addRevision(h, "c1", map[string]string{"a.py": "x"})
	addRevision(h, "c2", map[string]string{"a.py": "y"})

	s1 := createSnapshot(t, h, "c1")
	h.Clock.Advance(24 * time.Hour)
	s2 := createSnapshot(t, h, "c2")

	if gap := s2.CreatedAt.Sub(s1.CreatedAt); gap < 24*time.Hour {
		t.Errorf("created_at gap = %v, want at least 24h", gap)
	}
	latest, err := h.Catalog.Latest(context.Background(), s2.RepositoryID)
	if err != nil || latest.ID != s2.ID {
		t.Errorf("Latest = %v, %v; want %s", latest, err, s2.ID)
	}
}

func TestService_CreateSnapshotDeduplicates(t *testing.T) {
	h := testutil.NewHarness(t)
	addRevision(h, "c1", map[string]string{"a.py": "x"})
	addRevision(h, "c2", map[string]string{"a.py": "y"})
	addRevision(h, "c3", map[string]string{"a.py": "x"})

	s1 := createSnapshot(t, h, "c1")
	createSnapshot(t, h, "c2")
	h.Notifier.Reset()

	// c3 reverts to c1's tree.
	again := createSnapshot(t, h, "c3")
	if again.ID != s1.ID {
		t.Errorf("reverted tree got %s, want existing %s", again.ID, s1.ID)
	}
	if len(h.Notifier.Events()) != 0 {
		t.Errorf("dedup emitted events: %v", h.Notifier.Events())
	}
}

func TestService_CreateSnapshotErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown ref", func(t *testing.T) {
		h := testutil.NewHarness(t)
		addRevision(h, "c1", map[string]string{"a.py": "x"})
		if _, err := h.Service.CreateSnapshot(ctx, repoURL, "nope"); !errors.Is(err, snap.ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})

	t.Run("build failure leaves catalog empty and closes checkout", func(t *testing.T) {
		h := testutil.NewHarness(t)
		tree := testutil.Tree(map[string]string{"a.py": "x", "b.py": "y"})
		tree.FailRead("b.py", errors.New("io error"))
		h.Source.Add(repoURL, "c1", "main", tree)

		if _, err := h.Service.CreateSnapshot(ctx, repoURL, "c1"); !errors.Is(err, snap.ErrBuildAborted) {
			t.Fatalf("got %v, want ErrBuildAborted", err)
		}
		list, err := h.Service.ListSnapshots(ctx, repoURL)
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 0 {
			t.Errorf("catalog holds %d snapshots after failed build", len(list))
		}
		if h.Source.Open() != 0 {
			t.Error("checkout not closed after failed build")
		}
		if len(h.Notifier.Events()) != 0 {
			t.Errorf("failed build emitted events: %v", h.Notifier.Events())
		}
	})

	t.Run("unknown repository listing", func(t *testing.T) {
		h := testutil.NewHarness(t)
		if _, err := h.Service.ListSnapshots(ctx, "https://example.com/none"); !errors.Is(err, snap.ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})

	t.Run("unknown snapshot", func(t *testing.T) {
		h := testutil.NewHarness(t)
		if _, err := h.Service.GetSnapshot(ctx, "nope"); !errors.Is(err, snap.ErrNotFound) {
			t.Errorf("GetSnapshot: got %v", err)
		}
		if _, err := h.Service.ListFiles(ctx, "nope"); !errors.Is(err, snap.ErrNotFound) {
			t.Errorf("ListFiles: got %v", err)
		}
		if _, err := h.Service.CompareSnapshots(ctx, "nope", "nope"); !errors.Is(err, snap.ErrNotFound) {
			t.Errorf("CompareSnapshots: got %v", err)
		}
		if _, err := h.Service.DiffFile(ctx, "nope", "nope", "a"); !errors.Is(err, snap.ErrNotFound) {
			t.Errorf("DiffFile: got %v", err)
		}
	})
}

func TestService_DeleteSnapshot(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*testutil.Harness, []*snap.Snapshot) {
		h := testutil.NewSQLiteHarness(t)
		addRevision(h, "c1", map[string]string{"a.py": "x", "b.py": "y"})
		addRevision(h, "c2", map[string]string{"a.py": "x", "b.py": "z"})
		addRevision(h, "c3", map[string]string{"a.py": "x", "b.py": "z", "c.py": "new"})
		return h, []*snap.Snapshot{createSnapshot(t, h, "c1"), createSnapshot(t, h, "c2"), createSnapshot(t, h, "c3")}
	}
	blob := func(content string) snap.Pointer { return snap.PointerFor(snap.ContentHash([]byte(content))) }
	hasBlob := func(h *testutil.Harness, content string) bool {
		_, err := h.Store.Get(ctx, blob(content))
		return err == nil
	}

	t.Run("referenced snapshot conflicts", func(t *testing.T) {
		h, snaps := setup(t)
		if _, err := h.Service.DeleteSnapshot(ctx, snaps[0].ID, false); !errors.Is(err, snap.ErrConflict) {
			t.Fatalf("got %v, want ErrConflict", err)
		}
		for _, content := range []string{"x", "y", "z", "new"} {
			if !hasBlob(h, content) {
				t.Errorf("blob %q collected after refused delete", content)
			}
		}
		data, err := h.Service.GetFile(ctx, snaps[2].ID, "a.py")
		if err != nil || string(data) != "x" {
			t.Errorf("GetFile after refused delete = %q, %v", data, err)
		}
	})

	t.Run("leaf delete collects its unique blobs", func(t *testing.T) {
		h, snaps := setup(t)
		removed, err := h.Service.DeleteSnapshot(ctx, snaps[2].ID, false)
		if err != nil {
			t.Fatal(err)
		}
		if len(removed) != 1 || removed[0].ID != snaps[2].ID {
			t.Errorf("removed = %v", removed)
		}
		if hasBlob(h, "new") {
			t.Error("blob only S3 named should be collected")
		}
		for _, content := range []string{"x", "y", "z"} {
			if !hasBlob(h, content) {
				t.Errorf("blob %q still in use was collected", content)
			}
		}
	})

	t.Run("cascade removes everything", func(t *testing.T) {
		h, snaps := setup(t)
		removed, err := h.Service.DeleteSnapshot(ctx, snaps[0].ID, true)
		if err != nil {
			t.Fatal(err)
		}
		if len(removed) != 3 {
			t.Errorf("removed %d, want 3", len(removed))
		}
		if h.Store.Len() != 0 {
			t.Errorf("%d blobs left after deleting every snapshot", h.Store.Len())
		}
		if got := h.Notifier.Named(snap.EventSnapshotDeleted); len(got) != 3 {
			t.Errorf("deleted events = %v", got)
		}
	})

	t.Run("shared content survives in another repository", func(t *testing.T) {
		h, snaps := setup(t)
		h.Source.Add("https://example.com/org/fork", "f1", "main", testutil.Tree(map[string]string{"copy.py": "new"}))
		if _, err := h.Service.CreateSnapshot(ctx, "https://example.com/org/fork", "f1"); err != nil {
			t.Fatal(err)
		}
		if _, err := h.Service.DeleteSnapshot(ctx, snaps[2].ID, false); err != nil {
			t.Fatal(err)
		}
		if !hasBlob(h, "new") {
			t.Error("blob named by the fork was collected")
		}
	})

	t.Run("next snapshot after delete builds against the new latest", func(t *testing.T) {
		h, snaps := setup(t)
		if _, err := h.Service.DeleteSnapshot(ctx, snaps[2].ID, false); err != nil {
			t.Fatal(err)
		}
		addRevision(h, "c4", map[string]string{"a.py": "x", "b.py": "z", "c.py": "new"})
		s4 := createSnapshot(t, h, "c4")
		if s4.ParentSnapshotID != snaps[1].ID {
			t.Errorf("parent = %s, want %s", s4.ParentSnapshotID, snaps[1].ID)
		}
		data, err := h.Service.GetFile(ctx, s4.ID, "c.py")
		if err != nil || string(data) != "new" {
			t.Errorf("GetFile(c.py) = %q, %v", data, err)
		}
	})
}
