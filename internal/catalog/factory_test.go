package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"srcsnap/internal/config"
	"srcsnap/internal/snap"
)

func TestNewCatalogStoreFromConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		store, err := NewCatalogStoreFromConfig(ctx, config.CatalogConfig{Type: "memory"}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := store.(*MemoryStore); !ok {
			t.Errorf("got %T, want *MemoryStore", store)
		}
	})

	t.Run("sqlite creates data dir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "db")
		store, err := NewCatalogStoreFromConfig(ctx, config.CatalogConfig{Type: "sqlite", DataDir: dir}, nil)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { store.Close() })
		sqlite, ok := store.(*SQLiteStore)
		if !ok {
			t.Fatalf("got %T, want *SQLiteStore", store)
		}
		if sqlite.Path() != filepath.Join(dir, DatabaseFile) {
			t.Errorf("Path() = %s", sqlite.Path())
		}
		if _, err := os.Stat(sqlite.Path()); err != nil {
			t.Errorf("database file not created: %v", err)
		}
	})

	tests := []struct {
		name    string
		cfg     config.CatalogConfig
		wantErr string
	}{
		{name: "sqlite without data dir", cfg: config.CatalogConfig{Type: "sqlite"}, wantErr: "data_dir"},
		{name: "postgres without dsn", cfg: config.CatalogConfig{Type: "postgres"}, wantErr: "postgres_dsn"},
		{name: "postgres with invalid dsn", cfg: config.CatalogConfig{Type: "postgres", PostgresDSN: "postgres://%zz"}, wantErr: "parse database URL"},
		{name: "unknown type", cfg: config.CatalogConfig{Type: "mongodb"}, wantErr: "unknown catalog type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalogStoreFromConfig(ctx, tt.cfg, nil)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDeletionOrder(t *testing.T) {
	graph := map[string][]string{
		"root": {"a", "b"},
		"a":    {"c"},
		"b":    {"c"},
		"c":    nil,
		"lone": nil,
	}
	dependants := func(id string) ([]string, error) { return graph[id], nil }
	exists := func(id string) (bool, error) { _, ok := graph[id]; return ok, nil }

	tests := []struct {
		name     string
		id       string
		cascade  bool
		want     []string
		wantKind error
	}{
		{name: "leaf", id: "lone", want: []string{"lone"}},
		{name: "cascade closure furthest first", id: "root", cascade: true, want: []string{"c", "b", "a", "root"}},
		{name: "cascade from middle", id: "a", cascade: true, want: []string{"c", "a"}},
		{name: "referenced without cascade", id: "root", wantKind: snap.ErrConflict},
		{name: "missing", id: "ghost", cascade: true, wantKind: snap.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := deletionOrder(tt.id, tt.cascade, dependants, exists)
			if tt.wantKind != nil {
				if !errors.Is(err, tt.wantKind) {
					t.Errorf("error = %v, want %v", err, tt.wantKind)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("conflict names dependants", func(t *testing.T) {
		_, err := deletionOrder("root", false, dependants, exists)
		if err == nil || !strings.Contains(err.Error(), "a, b") {
			t.Errorf("error = %v, want dependants listed", err)
		}
	})

	t.Run("lookup failure", func(t *testing.T) {
		boom := errors.New("db down")
		_, err := deletionOrder("root", true, dependants, func(string) (bool, error) { return false, boom })
		if !errors.Is(err, boom) {
			t.Errorf("error = %v, want wrapped lookup failure", err)
		}
	})
}
