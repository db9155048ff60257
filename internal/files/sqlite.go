package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS files (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id   INTEGER NOT NULL DEFAULT 0,
	file_name    TEXT    NOT NULL,
	file_size    INTEGER NOT NULL DEFAULT 0,
	file_path    TEXT    NOT NULL,
	output_path  TEXT,
	output_pages INTEGER NOT NULL DEFAULT 0,
	status       TEXT    NOT NULL DEFAULT 'Not processed',
	created_at   INTEGER NOT NULL,  -- milliseconds since epoch
	completed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_files_status ON files (status);
`

// SQLiteStore は組み込みSQLiteにファイル情報を保存します。
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite は path のデータベースを開きます（なければ作成します）。
// プラグマはDSN経由で渡し、プール内のすべての接続に適用します。
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	dsn := "file:" + path +
		"?_pragma=busy_timeout(10000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create files schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Begin はトランザクションを開始します。
func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

// Close はデータベースを閉じます。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Commit(context.Context) error   { return t.tx.Commit() }
func (t *sqliteTx) Rollback(context.Context) error { return t.tx.Rollback() }

func (t *sqliteTx) Get(ctx context.Context, id int64) (*Record, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT id, project_id, file_name, file_size, file_path,
			COALESCE(output_path, ''), output_pages, status, created_at, completed_at
		FROM files WHERE id = ?`, id)

	var (
		r           Record
		status      string
		createdAt   int64
		completedAt sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.ProjectID, &r.FileName, &r.FileSize, &r.FilePath,
		&r.OutputPath, &r.OutputPages, &status, &createdAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	r.CreatedAt = time.UnixMilli(createdAt).UTC()
	if completedAt.Valid {
		t := time.UnixMilli(completedAt.Int64).UTC()
		r.CompletedAt = &t
	}
	return &r, nil
}

func (t *sqliteTx) Create(ctx context.Context, r *Record) (int64, error) {
	if r == nil {
		return 0, errors.New("record is nil")
	}
	if r.Status == "" {
		r.Status = StatusNotProcessed
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO files (project_id, file_name, file_size, file_path, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ProjectID, r.FileName, r.FileSize, r.FilePath, string(r.Status), r.CreatedAt.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to insert file: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	r.ID = id
	return id, nil
}

func (t *sqliteTx) UpdateStatus(ctx context.Context, id int64, status Status, completedAt *time.Time) error {
	var completed any
	if completedAt != nil {
		completed = completedAt.UnixMilli()
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE files SET status = ?, completed_at = COALESCE(?, completed_at) WHERE id = ?`,
		string(status), completed, id)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return expectOneRow(res, id)
}

func (t *sqliteTx) UpdateOutput(ctx context.Context, id int64, outputPath string, pages int) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE files SET output_path = ?, output_pages = ? WHERE id = ?`,
		outputPath, pages, id)
	if err != nil {
		return fmt.Errorf("failed to update output: %w", err)
	}
	return expectOneRow(res, id)
}

func expectOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}
