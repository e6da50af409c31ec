package attachments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // "sqlite3" driver (cgo)
	_ "modernc.org/sqlite"          // "sqlite" driver (pure Go)
)

// Supported database/sql driver names.
const (
	DriverModernc = "sqlite"
	DriverMattn   = "sqlite3"
)

// SQLiteConfig configures a SQLiteStore.
type SQLiteConfig struct {
	// Driver is DriverModernc or DriverMattn.
	// Default: DriverModernc
	Driver string

	// Path is the database file. Parent directories are created.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// SQLiteStore persists records in an "attachments" table.
type SQLiteStore struct {
	db        *sql.DB
	logger    *slog.Logger
	closeOnce sync.Once

	getStmt    *sql.Stmt
	putStmt    *sql.Stmt
	deleteStmt *sql.Stmt
	touchStmt  *sql.Stmt
	pruneStmt  *sql.Stmt
}

// NewSQLiteStore opens (and if needed creates) the record database.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverModernc
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn, err := sqliteDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:     db,
		logger: slog.Default().With("component", "attachments.sqlite", "driver", cfg.Driver),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	s.logger.Info("attachment store opened", "path", cfg.Path)
	return s, nil
}

// sqliteDSN builds a DSN enabling WAL and the busy timeout. The two drivers
// spell pragmas differently.
func sqliteDSN(cfg SQLiteConfig) (string, error) {
	ms := cfg.BusyTimeout.Milliseconds()
	switch cfg.Driver {
	case DriverModernc:
		return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
			cfg.Path, ms), nil
	case DriverMattn:
		return fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
			cfg.Path, ms), nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q", cfg.Driver)
	}
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS attachments (
		backend TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		remote_file_id TEXT NOT NULL,
		remote_name TEXT NOT NULL,
		mime TEXT NOT NULL,
		use_case TEXT NOT NULL,
		size INTEGER NOT NULL,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		token_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		last_used_at INTEGER NOT NULL,
		PRIMARY KEY (backend, content_hash)
	);

	CREATE INDEX IF NOT EXISTS idx_attachments_last_used ON attachments(last_used_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

const recordColumns = `backend, content_hash, remote_file_id, remote_name, mime, use_case,
	size, width, height, token_count, created_at, last_used_at`

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.getStmt, err = s.db.Prepare(`SELECT ` + recordColumns + ` FROM attachments
		WHERE backend = ? AND content_hash = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare get statement: %w", err)
	}

	s.putStmt, err = s.db.Prepare(`INSERT INTO attachments (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (backend, content_hash) DO UPDATE SET
			remote_file_id = excluded.remote_file_id,
			remote_name = excluded.remote_name,
			mime = excluded.mime,
			use_case = excluded.use_case,
			size = excluded.size,
			width = excluded.width,
			height = excluded.height,
			token_count = excluded.token_count,
			created_at = excluded.created_at,
			last_used_at = excluded.last_used_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare put statement: %w", err)
	}

	s.deleteStmt, err = s.db.Prepare(`DELETE FROM attachments WHERE backend = ? AND content_hash = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	s.touchStmt, err = s.db.Prepare(`UPDATE attachments SET last_used_at = ?
		WHERE backend = ? AND content_hash = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare touch statement: %w", err)
	}

	s.pruneStmt, err = s.db.Prepare(`DELETE FROM attachments WHERE last_used_at < ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare prune statement: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec       Record
		createdAt int64
		lastUsed  int64
	)
	err := row.Scan(
		&rec.Backend, &rec.ContentHash, &rec.RemoteFileID, &rec.RemoteName, &rec.MIME, &rec.UseCase,
		&rec.Size, &rec.Width, &rec.Height, &rec.TokenCount, &createdAt, &lastUsed,
	)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.LastUsedAt = time.UnixMilli(lastUsed)
	return &rec, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, backend, hash string) (*Record, error) {
	rec, err := scanRecord(s.getStmt.QueryRowContext(ctx, backend, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
	return rec, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, rec *Record) error {
	if rec == nil || rec.Backend == "" || rec.ContentHash == "" {
		return fmt.Errorf("record must have a backend and content hash")
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.LastUsedAt.IsZero() {
		rec.LastUsedAt = now
	}

	_, err := s.putStmt.ExecContext(ctx,
		rec.Backend, rec.ContentHash, rec.RemoteFileID, rec.RemoteName, rec.MIME, rec.UseCase,
		rec.Size, rec.Width, rec.Height, rec.TokenCount,
		rec.CreatedAt.UnixMilli(), rec.LastUsedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, backend, hash string) error {
	if _, err := s.deleteStmt.ExecContext(ctx, backend, hash); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// Touch implements Store.
func (s *SQLiteStore) Touch(ctx context.Context, backend, hash string, at time.Time) error {
	if _, err := s.touchStmt.ExecContext(ctx, at.UnixMilli(), backend, hash); err != nil {
		return fmt.Errorf("failed to touch record: %w", err)
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, backend string) ([]*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM attachments`
	var args []any
	if backend != "" {
		query += ` WHERE backend = ?`
		args = append(args, backend)
	}
	query += ` ORDER BY last_used_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// Prune implements Store.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := s.pruneStmt.ExecContext(ctx, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// Close releases the database. It is safe to call more than once.
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		for _, stmt := range []*sql.Stmt{s.getStmt, s.putStmt, s.deleteStmt, s.touchStmt, s.pruneStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}
		err = s.db.Close()
	})
	return err
}

// OpenStore opens the store selected by driver: "memory", DriverModernc or
// DriverMattn.
func OpenStore(driver, path string, busyTimeout time.Duration) (Store, error) {
	if driver == "memory" {
		return NewMemoryStore(), nil
	}
	return NewSQLiteStore(SQLiteConfig{Driver: driver, Path: path, BusyTimeout: busyTimeout})
}
