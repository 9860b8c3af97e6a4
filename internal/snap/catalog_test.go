package snap_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"srcsnap/internal/snap"
	"srcsnap/internal/testutil"
)

func TestCanonicalURL(t *testing.T) {
	tests := map[string]string{
		"https://github.com/org/app":         "https://github.com/org/app",
		"https://github.com/org/app.git":     "https://github.com/org/app",
		"https://github.com/org/app/":        "https://github.com/org/app",
		"  https://github.com/org/app.git  ": "https://github.com/org/app",
		"/srv/repos/app/":                    "/srv/repos/app",
	}
	for in, want := range tests {
		if got := snap.CanonicalURL(in); got != want {
			t.Errorf("CanonicalURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCatalog_EnsureRepository(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewHarness(t)

	repo, err := h.Catalog.EnsureRepository(ctx, "https://github.com/org/app.git", "main")
	if err != nil {
		t.Fatalf("EnsureRepository: %v", err)
	}
	if repo.Name != "app" || repo.URL != "https://github.com/org/app" || repo.DefaultBranch != "main" {
		t.Errorf("repo = %+v", repo)
	}

	again, err := h.Catalog.EnsureRepository(ctx, "https://github.com/org/app/", "develop")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != repo.ID || again.DefaultBranch != "main" {
		t.Errorf("second EnsureRepository = %+v, want existing %s on main", again, repo.ID)
	}

	if err := h.Catalog.SetDefaultBranch(ctx, repo.ID, "trunk"); err != nil {
		t.Fatal(err)
	}
	got, err := h.Catalog.Repository(ctx, repo.ID)
	if err != nil || got.DefaultBranch != "trunk" {
		t.Errorf("Repository() = %+v, %v", got, err)
	}

	if _, err := h.Catalog.EnsureRepository(ctx, "  ", "main"); err == nil {
		t.Error("expected error for empty url")
	}
	missing, err := h.Catalog.FindRepository(ctx, "https://github.com/org/other")
	if err != nil || missing != nil {
		t.Errorf("FindRepository(unknown) = %v, %v", missing, err)
	}
}

// catalogFixture builds unregistered snapshots for one repository.
type catalogFixture struct {
	t       *testing.T
	h       *testutil.Harness
	repo    *snap.Repository
	builder *snap.Builder
}

func newCatalogFixture(t *testing.T, h *testutil.Harness) *catalogFixture {
	t.Helper()
	repo, err := h.Catalog.EnsureRepository(context.Background(), "https://example.com/org/app", "main")
	if err != nil {
		t.Fatal(err)
	}
	return &catalogFixture{t: t, h: h, repo: repo, builder: snap.NewBuilder(h.Store, 2, nil)}
}

func (f *catalogFixture) build(files map[string]string, parent *snap.Snapshot) *snap.Snapshot {
	f.t.Helper()
	s := mustBuild(f.t, f.builder, testutil.Tree(files), parent)
	s.RepositoryID = f.repo.ID
	return s
}

func (f *catalogFixture) register(files map[string]string, parent *snap.Snapshot) *snap.Snapshot {
	f.t.Helper()
	s, err := f.h.Catalog.Register(context.Background(), f.build(files, parent))
	if err != nil {
		f.t.Fatalf("Register: %v", err)
	}
	return s
}

func TestCatalog_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns identity and emits event", func(t *testing.T) {
		h := testutil.NewHarness(t)
		f := newCatalogFixture(t, h)

		s := f.register(map[string]string{"a.py": "x"}, nil)
		if s.ID == "" || s.CreatedAt.IsZero() {
			t.Errorf("registered snapshot lacks identity: %+v", s)
		}
		if got := h.Notifier.Named(snap.EventSnapshotCreated); !reflect.DeepEqual(got, []string{s.ID}) {
			t.Errorf("created events = %v, want [%s]", got, s.ID)
		}
		ev := h.Notifier.Events()[0]
		if ev.RepositoryID != f.repo.ID {
			t.Errorf("event repository = %q", ev.RepositoryID)
		}

		got, err := h.Catalog.Get(ctx, s.ID)
		if err != nil || got.AggregateHash != s.AggregateHash {
			t.Errorf("Get() = %+v, %v", got, err)
		}
	})

	t.Run("identical trees deduplicate even with different parents", func(t *testing.T) {
		h := testutil.NewHarness(t)
		f := newCatalogFixture(t, h)

		base := f.register(map[string]string{"a.py": "x", "b.py": "y"}, nil)
		mid := f.register(map[string]string{"a.py": "x", "b.py": "z"}, base)
		h.Notifier.Reset()

		// Same tree as mid, built once against base and once from scratch.
		fromBase, err := h.Catalog.Register(ctx, f.build(map[string]string{"a.py": "x", "b.py": "z"}, base))
		if err != nil {
			t.Fatal(err)
		}
		fromScratch, err := h.Catalog.Register(ctx, f.build(map[string]string{"b.py": "z", "a.py": "x"}, nil))
		if err != nil {
			t.Fatal(err)
		}
		if fromBase.ID != mid.ID || fromScratch.ID != mid.ID {
			t.Errorf("dedup returned %s and %s, want %s", fromBase.ID, fromScratch.ID, mid.ID)
		}
		if events := h.Notifier.Events(); len(events) != 0 {
			t.Errorf("dedup should emit no events, got %v", events)
		}
		list, _ := h.Catalog.List(ctx, f.repo.ID)
		if len(list) != 2 {
			t.Errorf("catalog holds %d snapshots, want 2", len(list))
		}
	})

	t.Run("rejects aggregate hash mismatch", func(t *testing.T) {
		h := testutil.NewHarness(t)
		f := newCatalogFixture(t, h)
		s := f.build(map[string]string{"a.py": "x"}, nil)
		s.AggregateHash = snap.ContentHash([]byte("wrong"))
		if _, err := h.Catalog.Register(ctx, s); !errors.Is(err, snap.ErrIntegrity) {
			t.Errorf("got %v, want ErrIntegrity", err)
		}
	})

	t.Run("rejects broken references and changes nothing", func(t *testing.T) {
		h := testutil.NewHarness(t)
		f := newCatalogFixture(t, h)
		base := f.register(map[string]string{"a.py": "x"}, nil)

		ghostParent := &snap.Snapshot{ID: "ghost", Files: base.Files}
		orphan := f.build(map[string]string{"a.py": "x", "b.py": "new"}, ghostParent)
		if _, err := h.Catalog.Register(ctx, orphan); !errors.Is(err, snap.ErrIntegrity) {
			t.Errorf("missing ancestor: got %v, want ErrIntegrity", err)
		}

		// Claims base holds b.py, which it does not.
		lying := f.build(map[string]string{"b.py": "y"}, &snap.Snapshot{ID: base.ID, Files: mustIndexFor(t, map[string]string{"b.py": "y"})})
		if _, err := h.Catalog.Register(ctx, lying); !errors.Is(err, snap.ErrIntegrity) {
			t.Errorf("bad reference: got %v, want ErrIntegrity", err)
		}

		list, _ := h.Catalog.List(ctx, f.repo.ID)
		if len(list) != 1 {
			t.Errorf("catalog holds %d snapshots, want 1", len(list))
		}
	})

	t.Run("requires repository and index", func(t *testing.T) {
		h := testutil.NewHarness(t)
		if _, err := h.Catalog.Register(ctx, &snap.Snapshot{}); err == nil {
			t.Error("expected error without file index")
		}
		if _, err := h.Catalog.Register(ctx, &snap.Snapshot{Files: snap.EmptyFileIndex(), AggregateHash: snap.AggregateHash(snap.EmptyFileIndex())}); err == nil {
			t.Error("expected error without repository")
		}
	})

	t.Run("empty tree is a valid snapshot", func(t *testing.T) {
		h := testutil.NewHarness(t)
		f := newCatalogFixture(t, h)
		s := f.register(map[string]string{}, nil)
		if s.FileCount() != 0 {
			t.Errorf("FileCount() = %d", s.FileCount())
		}
	})
}

// mustIndexFor builds a stored-only index for files.
func mustIndexFor(t *testing.T, files map[string]string) *snap.FileIndex {
	t.Helper()
	var records []snap.FileRecord
	for p, c := range files {
		h := snap.ContentHash([]byte(c))
		records = append(records, snap.FileRecord{Path: p, ContentHash: h, Size: int64(len(c)), Mode: snap.ModeStored, Pointer: snap.PointerFor(h)})
	}
	idx, err := snap.NewFileIndex(records)
	if err != nil {
		t.Fatal(err)
	}
	return idx
}

func TestCatalog_LatestAndList(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewSQLiteHarness(t)
	f := newCatalogFixture(t, h)

	if latest, err := h.Catalog.Latest(ctx, f.repo.ID); err != nil || latest != nil {
		t.Fatalf("Latest on empty repository = %v, %v", latest, err)
	}

	s1 := f.register(map[string]string{"a": "1"}, nil)
	s2 := f.register(map[string]string{"a": "2"}, s1)
	h.Clock.Advance(time.Hour)
	s3 := f.register(map[string]string{"a": "3"}, s2)

	latest, err := h.Catalog.Latest(ctx, f.repo.ID)
	if err != nil || latest.ID != s3.ID {
		t.Errorf("Latest() = %v, %v, want %s", latest, err, s3.ID)
	}
	list, err := h.Catalog.List(ctx, f.repo.ID)
	if err != nil {
		t.Fatal(err)
	}
	got := []string{list[0].ID, list[1].ID, list[2].ID}
	if want := []string{s3.ID, s2.ID, s1.ID}; !reflect.DeepEqual(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}

	byHash, err := h.Catalog.FindByAggregateHash(ctx, f.repo.ID, s2.AggregateHash)
	if err != nil || byHash.ID != s2.ID {
		t.Errorf("FindByAggregateHash = %v, %v", byHash, err)
	}
}

func TestCatalog_Delete(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*testutil.Harness, []*snap.Snapshot) {
		h := testutil.NewSQLiteHarness(t)
		f := newCatalogFixture(t, h)
		s1 := f.register(map[string]string{"a.py": "x", "b.py": "y"}, nil)
		s2 := f.register(map[string]string{"a.py": "x", "b.py": "z"}, s1)
		s3 := f.register(map[string]string{"a.py": "x", "b.py": "z", "c.py": "new"}, s2)
		h.Notifier.Reset()
		return h, []*snap.Snapshot{s1, s2, s3}
	}

	t.Run("live descendant conflicts and leaves catalog unchanged", func(t *testing.T) {
		h, snaps := setup(t)
		_, err := h.Catalog.Delete(ctx, snaps[0].ID, false)
		if !errors.Is(err, snap.ErrConflict) {
			t.Fatalf("got %v, want ErrConflict", err)
		}
		for _, s := range snaps {
			if _, err := h.Catalog.Get(ctx, s.ID); err != nil {
				t.Errorf("%s gone after refused delete: %v", s.ID, err)
			}
		}
		if len(h.Notifier.Events()) != 0 {
			t.Errorf("refused delete emitted events: %v", h.Notifier.Events())
		}
	})

	t.Run("cascade emits an event per removed snapshot", func(t *testing.T) {
		h, snaps := setup(t)
		removed, err := h.Catalog.Delete(ctx, snaps[0].ID, true)
		if err != nil {
			t.Fatal(err)
		}
		if len(removed) != 3 {
			t.Fatalf("removed %d snapshots, want 3", len(removed))
		}
		if got := h.Notifier.Named(snap.EventSnapshotDeleted); len(got) != 3 || got[2] != snaps[0].ID {
			t.Errorf("deleted events = %v", got)
		}
	})

	t.Run("leaf delete", func(t *testing.T) {
		h, snaps := setup(t)
		if _, err := h.Catalog.Delete(ctx, snaps[2].ID, false); err != nil {
			t.Fatal(err)
		}
		if _, err := h.Catalog.Get(ctx, snaps[2].ID); !errors.Is(err, snap.ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
		if got := h.Notifier.Named(snap.EventSnapshotDeleted); !reflect.DeepEqual(got, []string{snaps[2].ID}) {
			t.Errorf("deleted events = %v", got)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		h, _ := setup(t)
		if _, err := h.Catalog.Delete(ctx, "nope", false); !errors.Is(err, snap.ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})
}

// ancestorDroppingStore deletes victim right before every insert, like a
// concurrent delete landing between the reference check and the write.
type ancestorDroppingStore struct {
	snap.CatalogStore
	victim string
}

func (s *ancestorDroppingStore) InsertSnapshot(ctx context.Context, sn *snap.Snapshot) (*snap.Snapshot, bool, error) {
	if _, err := s.CatalogStore.DeleteSnapshot(ctx, s.victim, false); err != nil {
		return nil, false, err
	}
	return s.CatalogStore.InsertSnapshot(ctx, sn)
}

func TestCatalog_RegisterAfterAncestorDeleted(t *testing.T) {
	for name, newHarness := range map[string]func(*testing.T) *testutil.Harness{
		"memory": testutil.NewHarness,
		"sqlite": testutil.NewSQLiteHarness,
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t)
			f := newCatalogFixture(t, h)
			s1 := f.register(map[string]string{"a.py": "x", "b.py": "y"}, nil)
			child := f.build(map[string]string{"a.py": "x", "b.py": "z"}, s1)
			if r, _ := child.Files.Get("a.py"); r.RefSnapshotID != s1.ID {
				t.Fatalf("child a.py = %+v, want a reference to %s", r, s1.ID)
			}

			racing := snap.NewCatalog(&ancestorDroppingStore{CatalogStore: h.CatalogStore, victim: s1.ID},
				h.Notifier, h.IDs, h.Clock, nil)
			h.Notifier.Reset()
			if _, err := racing.Register(ctx, child); !errors.Is(err, snap.ErrIntegrity) {
				t.Fatalf("Register = %v, want ErrIntegrity", err)
			}

			list, err := h.Catalog.List(ctx, f.repo.ID)
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 0 {
				t.Errorf("catalog holds %d snapshots, want none", len(list))
			}
			if got := h.Notifier.Named(snap.EventSnapshotCreated); len(got) != 0 {
				t.Errorf("created events = %v", got)
			}
		})
	}
}

func TestCatalog_ConcurrentRegisterOfIdenticalTrees(t *testing.T) {
	const writers = 16
	files := map[string]string{"a.py": "x", "b.py": "y", "lib/c.py": "z"}

	for name, newHarness := range map[string]func(*testing.T) *testutil.Harness{
		"memory": testutil.NewHarness,
		"sqlite": testutil.NewSQLiteHarness,
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t)
			f := newCatalogFixture(t, h)

			ids := make([]string, writers)
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					built, err := f.builder.Build(ctx, testutil.Tree(files), nil)
					if err != nil {
						t.Errorf("writer %d: Build: %v", i, err)
						return
					}
					built.RepositoryID = f.repo.ID
					s, err := h.Catalog.Register(ctx, built)
					if err != nil {
						t.Errorf("writer %d: Register: %v", i, err)
						return
					}
					ids[i] = s.ID
				}(i)
			}
			wg.Wait()

			distinct := make(map[string]bool)
			for _, id := range ids {
				distinct[id] = true
			}
			if len(distinct) != 1 {
				t.Errorf("writers got %d distinct ids: %v", len(distinct), ids)
			}
			if got := h.Notifier.Named(snap.EventSnapshotCreated); len(got) != 1 {
				t.Errorf("created events = %v, want exactly one", got)
			}
			list, err := h.Catalog.List(ctx, f.repo.ID)
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 1 {
				t.Errorf("catalog holds %d snapshots, want 1", len(list))
			}
		})
	}
}
