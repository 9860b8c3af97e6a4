package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"srcsnap/internal/catalog/migrations"
	"srcsnap/internal/snap"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements snap.CatalogStore on SQLite. Snapshots are kept as
// their JSON document plus indexed columns for the lookups the catalog needs.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger snap.Logger
}

// NewSQLiteStore opens (creating if needed) the catalog at path and applies
// pending migrations. path can be a file path or ":memory:".
func NewSQLiteStore(path string, logger snap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = snap.NewNopLogger()
	}
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating catalog %s: %w", path, err)
	}
	return &SQLiteStore{db: db, path: path, logger: logger}, nil
}

// OpenConnection opens and configures a SQLite connection with the PRAGMAs
// the catalog relies on.
//
// The pool is limited to one connection: SQLite serialises writers anyway,
// and ":memory:" databases exist per connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return db, nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteStore) Path() string { return s.path }

// CheckMigrations verifies the catalog schema is up-to-date.
func (s *SQLiteStore) CheckMigrations() error {
	_, err := migrations.Status(s.db)
	return err
}

// BackupTo writes a consistent copy of the catalog to destPath.
func (s *SQLiteStore) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up catalog: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Repository operations

func (s *SQLiteStore) FindRepositoryByURL(ctx context.Context, url string) (*snap.Repository, error) {
	repo, err := scanRepository(s.db.QueryRowContext(ctx,
		`SELECT id, name, url, default_branch, created_at FROM repositories WHERE url = ?`, url))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding repository by url: %w", err)
	}
	return repo, nil
}

func (s *SQLiteStore) GetRepository(ctx context.Context, id string) (*snap.Repository, error) {
	repo, err := scanRepository(s.db.QueryRowContext(ctx,
		`SELECT id, name, url, default_branch, created_at FROM repositories WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &snap.Error{Kind: snap.ErrNotFound, Op: "get repository", Path: id}
	}
	if err != nil {
		return nil, fmt.Errorf("getting repository: %w", err)
	}
	return repo, nil
}

func (s *SQLiteStore) CreateRepository(ctx context.Context, repo *snap.Repository) (*snap.Repository, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repositories (id, name, url, default_branch, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (url) DO NOTHING`,
		repo.ID, repo.Name, repo.URL, repo.DefaultBranch, repo.CreatedAt.UnixMicro())
	if err != nil {
		return nil, fmt.Errorf("creating repository: %w", err)
	}
	found, err := s.FindRepositoryByURL(ctx, repo.URL)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("creating repository: row for %s vanished", repo.URL)
	}
	return found, nil
}

func (s *SQLiteStore) UpdateDefaultBranch(ctx context.Context, repositoryID, branch string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE repositories SET default_branch = ? WHERE id = ?`, branch, repositoryID)
	if err != nil {
		return fmt.Errorf("updating default branch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &snap.Error{Kind: snap.ErrNotFound, Op: "update repository", Path: repositoryID}
	}
	return nil
}

// Snapshot operations

func (s *SQLiteStore) InsertSnapshot(ctx context.Context, sn *snap.Snapshot) (*snap.Snapshot, bool, error) {
	doc, err := snap.EncodeDocument(sn)
	if err != nil {
		return nil, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, repository_id, commit_sha, branch, parent_snapshot_id,
		                        aggregate_hash, storage_root, file_count, created_at, document)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (repository_id, aggregate_hash) DO NOTHING`,
		sn.ID, sn.RepositoryID, sn.CommitSHA, sn.Branch, sn.ParentSnapshotID,
		sn.AggregateHash, sn.StorageRoot, sn.FileCount(), sn.CreatedAt.UnixMicro(), doc)
	if err != nil {
		return nil, false, fmt.Errorf("inserting snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		existing, err := querySnapshot(ctx, tx,
			`SELECT document FROM snapshots WHERE repository_id = ? AND aggregate_hash = ?`,
			sn.RepositoryID, sn.AggregateHash)
		if err != nil {
			return nil, false, fmt.Errorf("loading existing snapshot: %w", err)
		}
		return existing, false, nil
	}

	// The insert above holds the write lock, so an ancestor seen here cannot
	// be deleted before this transaction commits.
	for _, ref := range sn.Files.ReferencedSnapshots() {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM snapshots WHERE id = ?`, ref).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, snap.IntegrityError("insert snapshot", sn.ID, "", missingAncestor(ref))
		}
		if err != nil {
			return nil, false, fmt.Errorf("checking referenced snapshot %s: %w", ref, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO snapshot_refs (snapshot_id, ref_snapshot_id) VALUES (?, ?)`, sn.ID, ref); err != nil {
			return nil, false, fmt.Errorf("recording reference to %s: %w", ref, err)
		}
	}
	for _, hash := range sn.Files.ContentHashes() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO snapshot_contents (snapshot_id, content_hash) VALUES (?, ?)`, sn.ID, hash); err != nil {
			return nil, false, fmt.Errorf("recording content %s: %w", hash, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing snapshot: %w", err)
	}
	s.logger.Debug("snapshot row inserted", "snapshot_id", sn.ID, "db", s.path)
	return sn, true, nil
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, id string) (*snap.Snapshot, error) {
	sn, err := querySnapshot(ctx, s.db, `SELECT document FROM snapshots WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, snap.NotFoundError("get snapshot", id, "")
	}
	if err != nil {
		return nil, fmt.Errorf("getting snapshot %s: %w", id, err)
	}
	return sn, nil
}

func (s *SQLiteStore) FindSnapshotByAggregateHash(ctx context.Context, repositoryID, hash string) (*snap.Snapshot, error) {
	sn, err := querySnapshot(ctx, s.db,
		`SELECT document FROM snapshots WHERE repository_id = ? AND aggregate_hash = ?`, repositoryID, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding snapshot by aggregate hash: %w", err)
	}
	return sn, nil
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context, repositoryID string) (*snap.Snapshot, error) {
	sn, err := querySnapshot(ctx, s.db,
		`SELECT document FROM snapshots WHERE repository_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`, repositoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding latest snapshot: %w", err)
	}
	return sn, nil
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, repositoryID string) ([]*snap.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document FROM snapshots WHERE repository_id = ?
		 ORDER BY created_at DESC, rowid DESC`, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var out []*snap.Snapshot
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		sn, err := snap.DecodeDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, id string, cascade bool) ([]*snap.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	order, err := deletionOrder(id, cascade, func(ref string) ([]string, error) {
		return queryStrings(ctx, tx,
			`SELECT snapshot_id FROM snapshot_refs WHERE ref_snapshot_id = ? ORDER BY snapshot_id`, ref)
	}, func(id string) (bool, error) {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM snapshots WHERE id = ?`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return err == nil, err
	})
	if err != nil {
		return nil, err
	}

	removed := make([]*snap.Snapshot, 0, len(order))
	for _, victim := range order {
		sn, err := querySnapshot(ctx, tx, `SELECT document FROM snapshots WHERE id = ?`, victim)
		if err != nil {
			return nil, fmt.Errorf("loading snapshot %s: %w", victim, err)
		}
		for _, q := range []string{
			`DELETE FROM snapshot_refs WHERE snapshot_id = ?`,
			`DELETE FROM snapshot_contents WHERE snapshot_id = ?`,
			`DELETE FROM snapshots WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, victim); err != nil {
				return nil, fmt.Errorf("deleting snapshot %s: %w", victim, err)
			}
		}
		removed = append(removed, sn)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing delete: %w", err)
	}
	return removed, nil
}

func (s *SQLiteStore) IsContentReferenced(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM snapshot_contents WHERE content_hash = ?)`, hash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking content references: %w", err)
	}
	return exists, nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func querySnapshot(ctx context.Context, q queryer, query string, args ...any) (*snap.Snapshot, error) {
	var doc []byte
	if err := q.QueryRowContext(ctx, query, args...).Scan(&doc); err != nil {
		return nil, err
	}
	return snap.DecodeDocument(doc)
}

func queryStrings(ctx context.Context, q queryer, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanRepository(row *sql.Row) (*snap.Repository, error) {
	var (
		r       snap.Repository
		created int64
	)
	if err := row.Scan(&r.ID, &r.Name, &r.URL, &r.DefaultBranch, &created); err != nil {
		return nil, err
	}
	r.CreatedAt = time.UnixMicro(created).UTC()
	return &r, nil
}

// Compile-time check that SQLiteStore implements snap.CatalogStore interface
var _ snap.CatalogStore = (*SQLiteStore)(nil)
