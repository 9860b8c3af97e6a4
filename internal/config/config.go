package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for srcsnap.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level"` // debug, info (default), warn, error
	Store      StoreConfig      `toml:"store"`
	Catalog    CatalogConfig    `toml:"catalog"`
	Notify     NotifyConfig     `toml:"notify"`
	Encryption EncryptionConfig `toml:"encryption"`
	Build      BuildConfig      `toml:"build"`
	Workspace  WorkspaceConfig  `toml:"workspace"`
}

// StoreConfig selects the content store backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type string `toml:"type"` // "memory", "filesystem" or "s3"
	Name string `toml:"name"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`   // S3-compatible servers
	S3PathStyle bool   `toml:"s3_path_style,omitempty"` // needed by most S3-compatible servers
	// Static credentials; when empty the default AWS credential chain is used.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// Common decorators
	MaxRetries int  `toml:"max_retries"` // backend retries on transient errors, 0 disables
	Encrypt    bool `toml:"encrypt"`     // encrypt blobs at rest with the [encryption] keys
	Metrics    bool `toml:"metrics"`     // count and time store operations
}

// CatalogConfig selects the snapshot catalog backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type CatalogConfig struct {
	Type        string `toml:"type"`                   // "sqlite", "postgres" or "memory"
	DataDir     string `toml:"data_dir,omitempty"`     // only used for type=sqlite
	PostgresDSN string `toml:"postgres_dsn,omitempty"` // only used for type=postgres
}

// NotifyConfig selects where snapshot events are delivered.
type NotifyConfig struct {
	Type          string `toml:"type"` // "none" (default) or "redis"
	RedisAddr     string `toml:"redis_addr,omitempty"`
	RedisPassword string `toml:"redis_password,omitempty"`
	RedisDB       int    `toml:"redis_db,omitempty"`
	RedisChannel  string `toml:"redis_channel,omitempty"`
	BufferSize    int    `toml:"buffer_size,omitempty"` // pending events before new ones are dropped
}

// EncryptionConfig holds paths to the age key pair used for encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// BuildConfig tunes snapshot builds.
type BuildConfig struct {
	Workers int `toml:"workers"` // concurrent file readers; 0 means one per CPU
}

// WorkspaceConfig controls which files of a working tree are snapshotted.
type WorkspaceConfig struct {
	Ignore          []string `toml:"ignore"`
	IgnoreGitignore bool     `toml:"ignore_gitignore"` // do not honour .gitignore files
	Scratch         bool     `toml:"scratch"`          // copy the tree to a scratch dir before building
}

// NewConfig creates a new Config rooted at baseDir with local backends and
// default key paths.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Store: StoreConfig{
			Type:       "filesystem",
			Name:       "local",
			FSRoot:     filepath.Join(baseDir, "store"),
			MaxRetries: 3,
		},
		Catalog: CatalogConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Notify: NotifyConfig{Type: "none"},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "srcsnap.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "srcsnap.key"),
		},
	}
}

// Validate checks that the selected backends have the fields they need.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "memory":
	case "filesystem":
		if c.Store.FSRoot == "" {
			return fmt.Errorf("filesystem store requires fs_root to be set")
		}
	case "s3":
		if c.Store.S3Bucket == "" {
			return fmt.Errorf("s3 store requires s3_bucket to be set")
		}
	default:
		return fmt.Errorf("unknown store type: %q", c.Store.Type)
	}
	if c.Store.MaxRetries < 0 {
		return fmt.Errorf("store max_retries must not be negative")
	}

	switch c.Catalog.Type {
	case "memory":
	case "sqlite":
		if c.Catalog.DataDir == "" {
			return fmt.Errorf("sqlite catalog requires data_dir to be set")
		}
	case "postgres":
		if c.Catalog.PostgresDSN == "" {
			return fmt.Errorf("postgres catalog requires postgres_dsn to be set")
		}
	default:
		return fmt.Errorf("unknown catalog type: %q", c.Catalog.Type)
	}

	switch c.Notify.Type {
	case "", "none":
	case "redis":
		if c.Notify.RedisAddr == "" {
			return fmt.Errorf("redis notifier requires redis_addr to be set")
		}
	default:
		return fmt.Errorf("unknown notify type: %q", c.Notify.Type)
	}

	if c.Build.Workers < 0 {
		return fmt.Errorf("build workers must not be negative")
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads and validates a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path. It refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
