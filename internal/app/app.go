package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	metrics "github.com/rcrowley/go-metrics"

	"srcsnap/internal/catalog"
	"srcsnap/internal/config"
	"srcsnap/internal/contentstore"
	"srcsnap/internal/encryption"
	"srcsnap/internal/notify"
	"srcsnap/internal/snap"
	"srcsnap/internal/workspace"
)

// Options tune how NewSnapApp wires the service.
type Options struct {
	// Passphrase unlocks the private key so encrypted blobs can be read.
	// Commands that only write may leave it nil.
	Passphrase func() (string, error)
	// Console receives warnings and errors. Defaults to os.Stderr.
	Console io.Writer
	// Source overrides the checkout source built from the workspace config.
	Source snap.Source
	// Clock overrides the wall clock.
	Clock snap.Clock
}

// SnapApp is the application layer between the CLI and the snapshot service.
// It constructs all dependencies from config, exposes the service operations
// and releases the backends on Close.
type SnapApp struct {
	cfg      *config.Config
	catalog  snap.CatalogStore
	store    snap.ContentStore
	notifier notify.Notifier
	registry metrics.Registry
	service  *snap.Service
	clock    snap.Clock
	op       *Operation
	logger   snap.Logger
	logFile  *os.File
}

// NewSnapApp creates a fully wired SnapApp from the given config.
// operation identifies the CLI command being run (e.g. "CreateSnapshot").
// The caller must call Close when done.
func NewSnapApp(ctx context.Context, cfg *config.Config, operation string, opts Options) (*SnapApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Console == nil {
		opts.Console = os.Stderr
	}
	if opts.Clock == nil {
		opts.Clock = snap.RealClock{}
	}

	op := NewOperation(operation, opts.Clock)
	sl, logFile, err := newLogger(cfg.LogDir, op.ID, cfg.LogLevel, opts.Console)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := snap.WithAttrs(&slogAdapter{l: sl}, "operation", operation)

	a := &SnapApp{cfg: cfg, clock: opts.Clock, op: op, logger: logger, logFile: logFile}
	if err := a.wire(ctx, opts); err != nil {
		a.closeBackends()
		logFile.Close()
		return nil, err
	}
	logger.Debug("operation started", "store", a.store.Name(), "catalog", cfg.Catalog.Type)
	return a, nil
}

func (a *SnapApp) wire(ctx context.Context, opts Options) error {
	storeOpts := contentstore.Options{Logger: a.logger}
	if a.cfg.Store.Encrypt {
		enc, err := encryption.NewEncryptorFromConfig(a.cfg.Encryption)
		if err != nil {
			return fmt.Errorf("creating encryptor: %w", err)
		}
		if !enc.IsConfigured() {
			return fmt.Errorf("store %q encrypts blobs but no keys exist: run `srcsnap config keys`", a.cfg.Store.Name)
		}
		storeOpts.Encryptor = enc
		if opts.Passphrase != nil {
			passphrase, err := opts.Passphrase()
			if err != nil {
				return fmt.Errorf("reading passphrase: %w", err)
			}
			dec, err := enc.Unlock(passphrase)
			if err != nil {
				return fmt.Errorf("unlocking private key: %w", err)
			}
			storeOpts.Decrypter = dec
		}
	}
	if a.cfg.Store.Metrics {
		a.registry = metrics.NewRegistry()
		storeOpts.Registry = a.registry
	}

	store, err := contentstore.NewStoreFromConfig(ctx, a.cfg.Store, storeOpts)
	if err != nil {
		return fmt.Errorf("creating content store: %w", err)
	}
	a.store = store

	cs, err := catalog.NewCatalogStoreFromConfig(ctx, a.cfg.Catalog, a.logger)
	if err != nil {
		return fmt.Errorf("creating catalog: %w", err)
	}
	a.catalog = cs

	n, err := notify.NewNotifierFromConfig(a.cfg.Notify, a.logger)
	if err != nil {
		return fmt.Errorf("creating notifier: %w", err)
	}
	a.notifier = n

	source := opts.Source
	if source == nil {
		source = workspace.NewDirSource(a.cfg.Workspace, a.logger)
	}

	cat := snap.NewCatalog(cs, n, snap.UUIDGenerator{}, a.clock, a.logger)
	builder := snap.NewBuilder(store, a.cfg.Build.Workers, a.logger)
	a.service = snap.NewService(cat, store, source, builder, a.logger)
	return nil
}

// Service exposes the wired snapshot service.
func (a *SnapApp) Service() *snap.Service { return a.service }

// Logger returns the operation's logger.
func (a *SnapApp) Logger() snap.Logger { return a.logger }

// record marks the operation failed when err is non-nil and passes err on.
func (a *SnapApp) record(err error) error {
	a.op.Fail(err)
	return err
}

// RepoURL turns a CLI repository argument into the URL the catalog records.
// Local paths become absolute so "." and the full path name one repository.
func RepoURL(raw string) string {
	if path, err := workspace.LocalPath(raw); err == nil {
		return path
	}
	return raw
}

// CreateSnapshot snapshots the repository at rawURL (a URL or local path)
// at ref.
func (a *SnapApp) CreateSnapshot(ctx context.Context, rawURL, ref string) (*snap.Snapshot, error) {
	s, err := a.service.CreateSnapshot(ctx, RepoURL(rawURL), ref)
	return s, a.record(err)
}

// ListSnapshots returns the snapshots of the repository at rawURL, newest first.
func (a *SnapApp) ListSnapshots(ctx context.Context, rawURL string) ([]*snap.Snapshot, error) {
	list, err := a.service.ListSnapshots(ctx, RepoURL(rawURL))
	return list, a.record(err)
}

// GetSnapshot returns one snapshot.
func (a *SnapApp) GetSnapshot(ctx context.Context, id string) (*snap.Snapshot, error) {
	s, err := a.service.GetSnapshot(ctx, id)
	return s, a.record(err)
}

// ListFiles returns the paths captured by snapshot id.
func (a *SnapApp) ListFiles(ctx context.Context, id string) ([]string, error) {
	paths, err := a.service.ListFiles(ctx, id)
	return paths, a.record(err)
}

// GetFile returns the bytes of path in snapshot id.
func (a *SnapApp) GetFile(ctx context.Context, id, path string) ([]byte, error) {
	data, err := a.service.GetFile(ctx, id, path)
	return data, a.record(err)
}

// CompareSnapshots summarises the changes between two snapshots.
func (a *SnapApp) CompareSnapshots(ctx context.Context, idA, idB string) (snap.DiffSummary, error) {
	sum, err := a.service.CompareSnapshots(ctx, idA, idB)
	return sum, a.record(err)
}

// DiffFile returns a unified diff of path between two snapshots.
func (a *SnapApp) DiffFile(ctx context.Context, idA, idB, path string) (string, error) {
	diff, err := a.service.DiffFile(ctx, idA, idB, path)
	return diff, a.record(err)
}

// DeleteSnapshot removes a snapshot, and with cascade its dependants.
func (a *SnapApp) DeleteSnapshot(ctx context.Context, id string, cascade bool) ([]*snap.Snapshot, error) {
	removed, err := a.service.DeleteSnapshot(ctx, id, cascade)
	return removed, a.record(err)
}

// StoreMetrics returns the content store counters of this run, or nil when
// store metrics are disabled.
func (a *SnapApp) StoreMetrics() map[string]int64 {
	if a.registry == nil {
		return nil
	}
	out := make(map[string]int64)
	a.registry.Each(func(name string, m interface{}) {
		switch m := m.(type) {
		case metrics.Counter:
			out[name] = m.Count()
		case metrics.Timer:
			out[name] = m.Count()
		}
	})
	return out
}

func (a *SnapApp) closeBackends() error {
	var errs []error
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing notifier: %w", err))
		}
	}
	if a.catalog != nil {
		if err := a.catalog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing catalog: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close flushes pending notifications, closes the catalog and logs the
// outcome of the operation.
func (a *SnapApp) Close() error {
	err := a.closeBackends()
	args := []any{"status", a.op.Status, "elapsed", a.op.Elapsed(a.clock)}
	for name, v := range a.StoreMetrics() {
		args = append(args, name, v)
	}
	a.logger.Info("operation finished", args...)
	if a.logFile != nil {
		a.logFile.Close()
	}
	return err
}
