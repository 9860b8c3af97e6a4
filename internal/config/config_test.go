package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		BaseDir:  "/home/user/.local/share/srcsnap",
		LogDir:   "/home/user/.local/share/srcsnap/log",
		LogLevel: "debug",
		Store: StoreConfig{
			Type:        "s3",
			Name:        "remote",
			S3Bucket:    "snapshots",
			S3Prefix:    "blobs/",
			S3Region:    "eu-west-1",
			S3Endpoint:  "http://localhost:9000",
			S3PathStyle: true,
			MaxRetries:  5,
			Encrypt:     true,
		},
		Catalog: CatalogConfig{Type: "postgres", PostgresDSN: "postgres://localhost/srcsnap"},
		Notify:  NotifyConfig{Type: "redis", RedisAddr: "localhost:6379", RedisChannel: "snapshots"},
		Encryption: EncryptionConfig{
			PublicKeyPath:  "/keys/srcsnap.pub",
			PrivateKeyPath: "/keys/srcsnap.key",
		},
		Build:     BuildConfig{Workers: 8},
		Workspace: WorkspaceConfig{Ignore: []string{"*.log", "node_modules"}},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", got.LogLevel, "debug")
	}
	if got.Store != original.Store {
		t.Errorf("Store = %+v, want %+v", got.Store, original.Store)
	}
	if got.Catalog != original.Catalog {
		t.Errorf("Catalog = %+v, want %+v", got.Catalog, original.Catalog)
	}
	if got.Notify != original.Notify {
		t.Errorf("Notify = %+v, want %+v", got.Notify, original.Notify)
	}
	if got.Encryption != original.Encryption {
		t.Errorf("Encryption = %+v, want %+v", got.Encryption, original.Encryption)
	}
	if got.Build.Workers != 8 {
		t.Errorf("Build.Workers = %d, want 8", got.Build.Workers)
	}
	if len(got.Workspace.Ignore) != 2 {
		t.Fatalf("len(Workspace.Ignore) = %d, want 2", len(got.Workspace.Ignore))
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/srcsnap")

	if cfg.LogDir != "/data/srcsnap/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/srcsnap/log")
	}
	if cfg.Store.FSRoot != "/data/srcsnap/store" {
		t.Errorf("Store.FSRoot = %q, want %q", cfg.Store.FSRoot, "/data/srcsnap/store")
	}
	if cfg.Catalog.DataDir != "/data/srcsnap/db" {
		t.Errorf("Catalog.DataDir = %q, want %q", cfg.Catalog.DataDir, "/data/srcsnap/db")
	}
	if cfg.Encryption.PrivateKeyPath != "/data/srcsnap/keys/srcsnap.key" {
		t.Errorf("Encryption.PrivateKeyPath = %q", cfg.Encryption.PrivateKeyPath)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"memory backends", func(c *Config) {
			c.Store = StoreConfig{Type: "memory"}
			c.Catalog = CatalogConfig{Type: "memory"}
		}, ""},
		{"unknown store", func(c *Config) { c.Store.Type = "ftp" }, "unknown store type"},
		{"filesystem without root", func(c *Config) { c.Store.FSRoot = "" }, "fs_root"},
		{"s3 without bucket", func(c *Config) { c.Store = StoreConfig{Type: "s3"} }, "s3_bucket"},
		{"negative retries", func(c *Config) { c.Store.MaxRetries = -1 }, "max_retries"},
		{"sqlite without dir", func(c *Config) { c.Catalog.DataDir = "" }, "data_dir"},
		{"postgres without dsn", func(c *Config) { c.Catalog = CatalogConfig{Type: "postgres"} }, "postgres_dsn"},
		{"unknown catalog", func(c *Config) { c.Catalog.Type = "mysql" }, "unknown catalog type"},
		{"redis without addr", func(c *Config) { c.Notify = NotifyConfig{Type: "redis"} }, "redis_addr"},
		{"unknown notify", func(c *Config) { c.Notify.Type = "kafka" }, "unknown notify type"},
		{"negative workers", func(c *Config) { c.Build.Workers = -2 }, "workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("/data")
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "srcsnap.toml")

		if err := Init(path, NewConfig(dir)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "srcsnap.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		dir := t.TempDir()
		cfg := NewConfig(dir)
		cfg.Store.Type = "bogus"

		if err := Init(filepath.Join(dir, "srcsnap.toml"), cfg); err == nil {
			t.Fatal("Init() expected error for invalid config")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "srcsnap.toml")
		cfg := NewConfig(dir)
		cfg.Catalog = CatalogConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Catalog.Type != "memory" {
			t.Errorf("Catalog.Type = %q, want %q", got.Catalog.Type, "memory")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/srcsnap.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})

	t.Run("returns error for invalid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "srcsnap.toml")
		body := "[store]\ntype = \"filesystem\"\n\n[catalog]\ntype = \"memory\"\n"
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := ReadFromFile(path); err == nil {
			t.Fatal("ReadFromFile() expected validation error")
		}
	})
}
