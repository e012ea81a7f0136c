package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// querier is the pool surface the store uses. pgxpool.Pool satisfies it, and
// so does the pgxmock pool used in tests.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresRepository implements Repository on a pgx connection pool.
type PostgresRepository struct {
	pool   querier
	logger *zap.Logger
}

// NewPostgresRepository connects a pool using the provided config.
func NewPostgresRepository(ctx context.Context, cfg Config, logger *zap.Logger) (*PostgresRepository, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewPostgresRepositoryWithPool(pool, logger), nil
}

// NewPostgresRepositoryWithPool constructs a repository from an existing pool
// (primarily for testing).
func NewPostgresRepositoryWithPool(pool querier, logger *zap.Logger) *PostgresRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresRepository{pool: pool, logger: logger}
}

// SourceBySlug implements Repository.
func (r *PostgresRepository) SourceBySlug(ctx context.Context, slug string) (Source, error) {
	const q = `SELECT id, slug, name, base_url, start_at
FROM sources WHERE slug = $1`

	var (
		src     Source
		startAt *time.Time
	)
	err := r.pool.QueryRow(ctx, q, slug).Scan(&src.ID, &src.Slug, &src.Name, &src.BaseURL, &startAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Source{}, fmt.Errorf("%w: %q", ErrSourceNotFound, slug)
	}
	if err != nil {
		return Source{}, fmt.Errorf("query source %q: %w", slug, err)
	}
	if startAt == nil {
		return Source{}, fmt.Errorf("%w: %q has no start date", ErrSourceNotFound, slug)
	}
	src.StartAt = startAt.UTC()
	return src, nil
}

// UpsertIssue implements Repository. The (source_id, issue_date) conflict
// target makes re-crawling a day a refresh rather than a duplicate.
func (r *PostgresRepository) UpsertIssue(ctx context.Context, issue Issue) (int64, error) {
	const q = `INSERT INTO issues (source_id, issue_date, url, title)
VALUES ($1, $2, $3, $4)
ON CONFLICT (source_id, issue_date)
DO UPDATE SET url = EXCLUDED.url, title = EXCLUDED.title, updated_at = NOW()
RETURNING id`

	var id int64
	err := r.pool.QueryRow(ctx, q, issue.SourceID, issue.IssueDate, issue.URL, issue.Title).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert issue %s: %w", issue.IssueDate.Format(time.DateOnly), err)
	}
	r.logger.Debug("issue upserted",
		zap.Int64("id", id), zap.Time("issue_date", issue.IssueDate))
	return id, nil
}

// UpsertNotice implements Repository. Identity is resolved inside the issue
// by URL first and title second, so a notice whose URL changed between
// visits updates in place instead of duplicating.
func (r *PostgresRepository) UpsertNotice(ctx context.Context, notice Notice) (int64, error) {
	const findByURL = `SELECT id FROM notices WHERE issue_id = $1 AND url = $2`
	const findByTitle = `SELECT id FROM notices WHERE issue_id = $1 AND title = $2`
	const update = `UPDATE notices
SET url = $2, title = $3, section = $4, department = $5, body = $6, extra = $7, updated_at = NOW()
WHERE id = $1`
	const insert = `INSERT INTO notices (issue_id, url, title, section, department, body, extra)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`

	// A notice without a stable permalink can only be matched by title:
	// looking up url = '' would collide with any earlier url-less notice
	// in the same issue.
	var id int64
	err := pgx.ErrNoRows
	if notice.URL != "" {
		err = r.pool.QueryRow(ctx, findByURL, notice.IssueID, notice.URL).Scan(&id)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		err = r.pool.QueryRow(ctx, findByTitle, notice.IssueID, notice.Title).Scan(&id)
	}
	switch {
	case err == nil:
		if _, execErr := r.pool.Exec(ctx, update, id, notice.URL, notice.Title, notice.Section, notice.Department, notice.Body, notice.Extra); execErr != nil {
			return 0, fmt.Errorf("update notice %d: %w", id, execErr)
		}
		r.logger.Debug("notice refreshed", zap.Int64("id", id), zap.Int64("issue_id", notice.IssueID))
		return id, nil
	case errors.Is(err, pgx.ErrNoRows):
		insErr := r.pool.QueryRow(ctx, insert, notice.IssueID, notice.URL, notice.Title, notice.Section, notice.Department, notice.Body, notice.Extra).Scan(&id)
		if insErr != nil {
			return 0, fmt.Errorf("insert notice: %w", insErr)
		}
		r.logger.Debug("notice inserted", zap.Int64("id", id), zap.Int64("issue_id", notice.IssueID))
		return id, nil
	default:
		return 0, fmt.Errorf("find notice: %w", err)
	}
}

// MaxIssueDate implements Repository.
func (r *PostgresRepository) MaxIssueDate(ctx context.Context, sourceID int64) (time.Time, bool, error) {
	const q = `SELECT MAX(issue_date) FROM issues WHERE source_id = $1`

	var maxDate *time.Time
	if err := r.pool.QueryRow(ctx, q, sourceID).Scan(&maxDate); err != nil {
		return time.Time{}, false, fmt.Errorf("query max issue date: %w", err)
	}
	if maxDate == nil {
		return time.Time{}, false, nil
	}
	return maxDate.UTC(), true, nil
}

// PendingIssues implements Repository. Deliberately unbounded by date: an
// interrupted run may leave noticeless issues behind the watermark, and they
// must still surface on the next run.
func (r *PostgresRepository) PendingIssues(ctx context.Context, sourceID int64) ([]Issue, error) {
	const q = `SELECT i.id, i.source_id, i.issue_date, i.url, i.title
FROM issues i
LEFT JOIN notices n ON n.issue_id = i.id
WHERE i.source_id = $1
GROUP BY i.id
HAVING COUNT(n.id) = 0
ORDER BY i.issue_date, i.id`

	rows, err := r.pool.Query(ctx, q, sourceID)
	if err != nil {
		return nil, fmt.Errorf("query pending issues: %w", err)
	}
	defer rows.Close()

	var pending []Issue
	for rows.Next() {
		var issue Issue
		if err := rows.Scan(&issue.ID, &issue.SourceID, &issue.IssueDate, &issue.URL, &issue.Title); err != nil {
			return nil, fmt.Errorf("scan pending issue: %w", err)
		}
		issue.IssueDate = issue.IssueDate.UTC()
		pending = append(pending, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending issues: %w", err)
	}
	return pending, nil
}

// Close implements Repository.
func (r *PostgresRepository) Close() {
	r.pool.Close()
}
