package contentstore

import (
	"context"
	"fmt"

	metrics "github.com/rcrowley/go-metrics"

	"srcsnap/internal/config"
	"srcsnap/internal/snap"
)

// Options carries the collaborators the configured decorators need.
type Options struct {
	Encryptor snap.Encryptor // required when cfg.Encrypt is set
	Decrypter snap.Decrypter // optional; without it an encrypted store is write-only
	Registry  metrics.Registry
	Logger    snap.Logger
}

// NewStoreFromConfig creates the ContentStore selected by cfg.Type and wraps
// it, innermost first, with retries, encryption and metrics as configured.
func NewStoreFromConfig(ctx context.Context, cfg config.StoreConfig, opts Options) (snap.ContentStore, error) {
	if opts.Logger == nil {
		opts.Logger = snap.NewNopLogger()
	}
	name := cfg.Name
	if name == "" {
		name = cfg.Type
	}

	var store snap.ContentStore
	switch cfg.Type {
	case "memory":
		store = NewMemoryStore(name)
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem store requires fs_root to be set")
		}
		fs, err := NewFileSystemStore(name, cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		store = fs
	case "s3":
		s3, err := NewS3Store(ctx, name, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			UsePathStyle:    cfg.S3PathStyle,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		store = s3
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}

	if cfg.MaxRetries > 0 {
		store = NewRetryingStore(store, cfg.MaxRetries, opts.Logger)
	}
	if cfg.Encrypt {
		if opts.Encryptor == nil {
			return nil, fmt.Errorf("store %s is configured to encrypt but no encryptor is set up", name)
		}
		store = NewEncryptedStore(store, opts.Encryptor, opts.Decrypter)
	}
	if cfg.Metrics {
		store = NewInstrumentedStore(store, opts.Registry)
	}
	return store, nil
}
