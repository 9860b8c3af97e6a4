package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"srcsnap/internal/snap"
)

// postgresSchema mirrors the SQLite migrations. Statements are idempotent so
// every start can apply them.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS repositories (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		url            TEXT NOT NULL UNIQUE,
		default_branch TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		seq                BIGSERIAL,
		id                 TEXT PRIMARY KEY,
		repository_id      TEXT NOT NULL REFERENCES repositories(id),
		commit_sha         TEXT NOT NULL DEFAULT '',
		branch             TEXT NOT NULL DEFAULT '',
		parent_snapshot_id TEXT NOT NULL DEFAULT '',
		aggregate_hash     TEXT NOT NULL,
		storage_root       TEXT NOT NULL DEFAULT '',
		file_count         INTEGER NOT NULL,
		created_at         TIMESTAMPTZ NOT NULL,
		document           JSONB NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshots_repository_aggregate ON snapshots(repository_id, aggregate_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_repository_created ON snapshots(repository_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS snapshot_refs (
		snapshot_id     TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
		ref_snapshot_id TEXT NOT NULL,
		PRIMARY KEY (snapshot_id, ref_snapshot_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshot_refs_ref ON snapshot_refs(ref_snapshot_id)`,
	`CREATE TABLE IF NOT EXISTS snapshot_contents (
		snapshot_id  TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
		content_hash TEXT NOT NULL,
		PRIMARY KEY (snapshot_id, content_hash)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshot_contents_hash ON snapshot_contents(content_hash)`,
}

// PostgresStore implements snap.CatalogStore on PostgreSQL through a pgx
// connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger snap.Logger
}

// NewPostgresStore connects to dsn, verifies the connection and bootstraps
// the schema.
func NewPostgresStore(ctx context.Context, dsn string, logger snap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = snap.NewNopLogger()
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("bootstrapping catalog schema: %w", err)
		}
	}

	logger.Info("catalog database connected", "host", poolConfig.ConnConfig.Host, "db", poolConfig.ConnConfig.Database)
	return &PostgresStore{pool: pool, logger: logger}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Repository operations

func (s *PostgresStore) FindRepositoryByURL(ctx context.Context, url string) (*snap.Repository, error) {
	repo, err := scanPgRepository(s.pool.QueryRow(ctx,
		`SELECT id, name, url, default_branch, created_at FROM repositories WHERE url = $1`, url))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding repository by url: %w", err)
	}
	return repo, nil
}

func (s *PostgresStore) GetRepository(ctx context.Context, id string) (*snap.Repository, error) {
	repo, err := scanPgRepository(s.pool.QueryRow(ctx,
		`SELECT id, name, url, default_branch, created_at FROM repositories WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &snap.Error{Kind: snap.ErrNotFound, Op: "get repository", Path: id}
	}
	if err != nil {
		return nil, fmt.Errorf("getting repository: %w", err)
	}
	return repo, nil
}

func (s *PostgresStore) CreateRepository(ctx context.Context, repo *snap.Repository) (*snap.Repository, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO repositories (id, name, url, default_branch, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (url) DO NOTHING`,
		repo.ID, repo.Name, repo.URL, repo.DefaultBranch, repo.CreatedAt)
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

func (s *PostgresStore) UpdateDefaultBranch(ctx context.Context, repositoryID, branch string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE repositories SET default_branch = $1 WHERE id = $2`, branch, repositoryID)
	if err != nil {
		return fmt.Errorf("updating default branch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &snap.Error{Kind: snap.ErrNotFound, Op: "update repository", Path: repositoryID}
	}
	return nil
}

// Snapshot operations

func (s *PostgresStore) InsertSnapshot(ctx context.Context, sn *snap.Snapshot) (*snap.Snapshot, bool, error) {
	doc, err := snap.EncodeDocument(sn)
	if err != nil {
		return nil, false, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO snapshots (id, repository_id, commit_sha, branch, parent_snapshot_id,
		                        aggregate_hash, storage_root, file_count, created_at, document)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (repository_id, aggregate_hash) DO NOTHING`,
		sn.ID, sn.RepositoryID, sn.CommitSHA, sn.Branch, sn.ParentSnapshotID,
		sn.AggregateHash, sn.StorageRoot, sn.FileCount(), sn.CreatedAt, doc)
	if err != nil {
		return nil, false, fmt.Errorf("inserting snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		existing, err := pgSnapshot(tx.QueryRow(ctx,
			`SELECT document FROM snapshots WHERE repository_id = $1 AND aggregate_hash = $2`,
			sn.RepositoryID, sn.AggregateHash))
		if err != nil {
			return nil, false, fmt.Errorf("loading existing snapshot: %w", err)
		}
		return existing, false, nil
	}

	// FOR SHARE conflicts with the FOR UPDATE lock DeleteSnapshot takes.
	for _, ref := range sn.Files.ReferencedSnapshots() {
		var one int
		err := tx.QueryRow(ctx, `SELECT 1 FROM snapshots WHERE id = $1 FOR SHARE`, ref).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, snap.IntegrityError("insert snapshot", sn.ID, "", missingAncestor(ref))
		}
		if err != nil {
			return nil, false, fmt.Errorf("checking referenced snapshot %s: %w", ref, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO snapshot_refs (snapshot_id, ref_snapshot_id) VALUES ($1, $2)`, sn.ID, ref); err != nil {
			return nil, false, fmt.Errorf("recording reference to %s: %w", ref, err)
		}
	}
	for _, hash := range sn.Files.ContentHashes() {
		if _, err := tx.Exec(ctx,
			`INSERT INTO snapshot_contents (snapshot_id, content_hash) VALUES ($1, $2)`, sn.ID, hash); err != nil {
			return nil, false, fmt.Errorf("recording content %s: %w", hash, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("committing snapshot: %w", err)
	}
	return sn, true, nil
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, id string) (*snap.Snapshot, error) {
	sn, err := pgSnapshot(s.pool.QueryRow(ctx, `SELECT document FROM snapshots WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, snap.NotFoundError("get snapshot", id, "")
	}
	if err != nil {
		return nil, fmt.Errorf("getting snapshot %s: %w", id, err)
	}
	return sn, nil
}

func (s *PostgresStore) FindSnapshotByAggregateHash(ctx context.Context, repositoryID, hash string) (*snap.Snapshot, error) {
	sn, err := pgSnapshot(s.pool.QueryRow(ctx,
		`SELECT document FROM snapshots WHERE repository_id = $1 AND aggregate_hash = $2`, repositoryID, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding snapshot by aggregate hash: %w", err)
	}
	return sn, nil
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, repositoryID string) (*snap.Snapshot, error) {
	sn, err := pgSnapshot(s.pool.QueryRow(ctx,
		`SELECT document FROM snapshots WHERE repository_id = $1
		 ORDER BY created_at DESC, seq DESC LIMIT 1`, repositoryID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding latest snapshot: %w", err)
	}
	return sn, nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, repositoryID string) ([]*snap.Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT document FROM snapshots WHERE repository_id = $1
		 ORDER BY created_at DESC, seq DESC`, repositoryID)
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

func (s *PostgresStore) DeleteSnapshot(ctx context.Context, id string, cascade bool) ([]*snap.Snapshot, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the target so a concurrent insert cannot start referencing it.
	order, err := deletionOrder(id, cascade, func(ref string) ([]string, error) {
		rows, err := tx.Query(ctx,
			`SELECT snapshot_id FROM snapshot_refs WHERE ref_snapshot_id = $1 ORDER BY snapshot_id`, ref)
		if err != nil {
			return nil, err
		}
		return pgx.CollectRows(rows, pgx.RowTo[string])
	}, func(id string) (bool, error) {
		var one int
		err := tx.QueryRow(ctx, `SELECT 1 FROM snapshots WHERE id = $1 FOR UPDATE`, id).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return err == nil, err
	})
	if err != nil {
		return nil, err
	}

	removed := make([]*snap.Snapshot, 0, len(order))
	for _, victim := range order {
		sn, err := pgSnapshot(tx.QueryRow(ctx, `SELECT document FROM snapshots WHERE id = $1`, victim))
		if err != nil {
			return nil, fmt.Errorf("loading snapshot %s: %w", victim, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM snapshots WHERE id = $1`, victim); err != nil {
			return nil, fmt.Errorf("deleting snapshot %s: %w", victim, err)
		}
		removed = append(removed, sn)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing delete: %w", err)
	}
	return removed, nil
}

func (s *PostgresStore) IsContentReferenced(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM snapshot_contents WHERE content_hash = $1)`, hash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking content references: %w", err)
	}
	return exists, nil
}

func pgSnapshot(row pgx.Row) (*snap.Snapshot, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		return nil, err
	}
	return snap.DecodeDocument(doc)
}

func scanPgRepository(row pgx.Row) (*snap.Repository, error) {
	var r snap.Repository
	if err := row.Scan(&r.ID, &r.Name, &r.URL, &r.DefaultBranch, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

var _ snap.CatalogStore = (*PostgresStore)(nil)
