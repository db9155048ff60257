package files

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS files (
	id           BIGSERIAL PRIMARY KEY,
	project_id   BIGINT       NOT NULL DEFAULT 0,
	file_name    VARCHAR(255) NOT NULL,
	file_size    BIGINT       NOT NULL DEFAULT 0,
	file_path    VARCHAR(255) NOT NULL,
	output_path  VARCHAR(255),
	output_pages INTEGER      NOT NULL DEFAULT 0,
	status       VARCHAR(50)  NOT NULL DEFAULT 'Not processed',
	created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);
`

// PostgresStore はpgxプール経由でPostgreSQLにファイル情報を保存します。
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres は dsn に接続し、疎通確認とテーブル作成を行います。
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create files schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Begin はトランザクションを開始します。
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &postgresTx{tx: tx}, nil
}

// Close はプール内の接続をすべて解放します。
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *postgresTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func (t *postgresTx) Get(ctx context.Context, id int64) (*Record, error) {
	var (
		r      Record
		status string
	)
	err := t.tx.QueryRow(ctx, `
		SELECT id, project_id, file_name, file_size, file_path,
			COALESCE(output_path, ''), output_pages, status, created_at, completed_at
		FROM files WHERE id = $1`, id).
		Scan(&r.ID, &r.ProjectID, &r.FileName, &r.FileSize, &r.FilePath,
			&r.OutputPath, &r.OutputPages, &status, &r.CreatedAt, &r.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	return &r, nil
}

func (t *postgresTx) Create(ctx context.Context, r *Record) (int64, error) {
	if r == nil {
		return 0, errors.New("record is nil")
	}
	if r.Status == "" {
		r.Status = StatusNotProcessed
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO files (project_id, file_name, file_size, file_path, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		r.ProjectID, r.FileName, r.FileSize, r.FilePath, string(r.Status), r.CreatedAt).Scan(&r.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert file: %w", err)
	}
	return r.ID, nil
}

func (t *postgresTx) UpdateStatus(ctx context.Context, id int64, status Status, completedAt *time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE files SET status = $1, completed_at = COALESCE($2, completed_at) WHERE id = $3`,
		string(status), completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

func (t *postgresTx) UpdateOutput(ctx context.Context, id int64, outputPath string, pages int) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE files SET output_path = $1, output_pages = $2 WHERE id = $3`,
		outputPath, pages, id)
	if err != nil {
		return fmt.Errorf("failed to update output: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}
