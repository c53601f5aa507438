package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/brandintel/internal/db"
	"github.com/sells-group/brandintel/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool       db.Pool
	expiration time.Duration
	closeFn    func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot store operations.
var preparedStatements = map[string]string{
	"get_run":           `SELECT id, status, metadata, brand, competitors_ten, competitors_analyzed, kernel, created_at, updated_at, expires_at FROM runs WHERE id = $1 AND status = 'active' AND expires_at > now()`,
	"save_brand":        `UPDATE runs SET brand = $1, updated_at = $2 WHERE id = $3`,
	"save_competitors":  `UPDATE runs SET competitors_ten = $1, updated_at = $2 WHERE id = $3`,
	"save_analyzed":     `UPDATE runs SET competitors_analyzed = $1, updated_at = $2 WHERE id = $3`,
	"save_kernel":       `UPDATE runs SET kernel = $1, updated_at = $2 WHERE id = $3`,
	"get_cached_scrape": `UPDATE scraping_cache SET access_count = access_count + 1, last_accessed_at = now() WHERE url_hash = $1 AND expires_at > now() RETURNING body`,
}

// NewPostgres creates a PostgresStore with a connection pool. expiration is
// the run lifetime applied by CreateRun.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig, expiration time.Duration) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, expiration: expiration, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id                   TEXT PRIMARY KEY,
	status               TEXT NOT NULL DEFAULT 'active',
	metadata             JSONB NOT NULL DEFAULT '{}'::jsonb,
	brand                JSONB,
	competitors_ten      JSONB,
	competitors_analyzed JSONB,
	kernel               JSONB,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at           TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_expires_at ON runs(expires_at);

CREATE TABLE IF NOT EXISTS scraping_cache (
	url_hash         TEXT PRIMARY KEY,
	url              TEXT NOT NULL,
	body             JSONB NOT NULL,
	page_count       INTEGER NOT NULL DEFAULT 0,
	scraped_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at       TIMESTAMPTZ NOT NULL,
	access_count     INTEGER NOT NULL DEFAULT 0,
	last_accessed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_scraping_cache_expires_at ON scraping_cache(expires_at);

CREATE TABLE IF NOT EXISTS api_metrics (
	id             BIGSERIAL PRIMARY KEY,
	ts             TIMESTAMPTZ NOT NULL DEFAULT now(),
	method         TEXT NOT NULL,
	route          TEXT NOT NULL,
	status         INTEGER NOT NULL,
	duration_ms    BIGINT NOT NULL,
	correlation_id TEXT,
	client_ip      TEXT
);

CREATE INDEX IF NOT EXISTS idx_api_metrics_ts ON api_metrics(ts);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, metadata map[string]string) (*model.Run, error) {
	id := "run_" + uuid.New().String()
	now := time.Now().UTC()
	expiresAt := now.Add(s.expiration)

	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal metadata")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, metadata, created_at, updated_at, expires_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, string(model.RunStatusActive), metaJSON, now, now, expiresAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Status:    model.RunStatusActive,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: expiresAt,
	}, nil
}

// GetRun returns only active, unexpired runs. Expired or archived rows are
// invisible here; ListRuns sees everything.
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, status, metadata, brand, competitors_ten, competitors_analyzed, kernel, created_at, updated_at, expires_at
		 FROM runs WHERE id = $1 AND status = 'active' AND expires_at > now()`,
		runID,
	)

	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrRunNotFound, "postgres: get run %s", runID)
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error) {
	query := `SELECT id, status, metadata, brand, competitors_ten, competitors_analyzed, kernel, created_at, updated_at, expires_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) SetRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunNotFound, "postgres: set run status %s", runID)
	}
	return nil
}

func (s *PostgresStore) SaveBrand(ctx context.Context, runID string, brand *model.BrandAnalysis) error {
	return s.saveSlot(ctx, runID, "brand", brand)
}

func (s *PostgresStore) SaveCompetitors(ctx context.Context, runID string, candidates []model.CompetitorCandidate) error {
	return s.saveSlot(ctx, runID, "competitors_ten", candidates)
}

func (s *PostgresStore) SaveAnalyzed(ctx context.Context, runID string, analyzed []model.CompetitorAnalysis) error {
	return s.saveSlot(ctx, runID, "competitors_analyzed", analyzed)
}

func (s *PostgresStore) SaveKernel(ctx context.Context, runID string, kernel *model.Kernel) error {
	return s.saveSlot(ctx, runID, "kernel", kernel)
}

// saveSlot replaces one artifact column and bumps updated_at. Repeat writes
// replace the previous value atomically. column is always one of the fixed
// names from the Save methods, never caller input.
func (s *PostgresStore) saveSlot(ctx context.Context, runID, column string, artifact any) error {
	artifactJSON, err := json.Marshal(artifact)
	if err != nil {
		return eris.Wrapf(err, "postgres: marshal %s", column)
	}

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE runs SET %s = $1, updated_at = $2 WHERE id = $3`, column),
		artifactJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save %s for run %s", column, runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunNotFound, "postgres: save %s for run %s", column, runID)
	}
	return nil
}

func (s *PostgresStore) CountActiveRuns(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM runs WHERE status = 'active' AND expires_at > now()`,
	).Scan(&count)
	return count, eris.Wrap(err, "postgres: count active runs")
}

// ReapExpiredRuns deletes runs past their deadline. Archived runs are kept
// regardless of age.
func (s *PostgresStore) ReapExpiredRuns(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM runs WHERE expires_at <= now() AND status <> 'archived'`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: reap expired runs")
	}
	return int(tag.RowsAffected()), nil
}

// GetCachedScrape returns the cached body for a URL hash, or nil on a miss.
// A hit bumps the entry's access bookkeeping in the same statement.
func (s *PostgresStore) GetCachedScrape(ctx context.Context, urlHash string) ([]byte, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`UPDATE scraping_cache SET access_count = access_count + 1, last_accessed_at = now()
		 WHERE url_hash = $1 AND expires_at > now()
		 RETURNING body`,
		urlHash,
	).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get cached scrape")
	}
	return body, nil
}

func (s *PostgresStore) SetCachedScrape(ctx context.Context, entry model.CacheEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scraping_cache (url_hash, url, body, page_count, scraped_at, expires_at, access_count, last_accessed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, $5)
		 ON CONFLICT (url_hash) DO UPDATE SET
		   url = $2, body = $3, page_count = $4, scraped_at = $5, expires_at = $6,
		   access_count = scraping_cache.access_count + 1, last_accessed_at = $5`,
		entry.URLHash, entry.URL, []byte(entry.Body), entry.PageCount, entry.ScrapedAt, entry.ExpiresAt,
	)
	return eris.Wrap(err, "postgres: set cached scrape")
}

func (s *PostgresStore) DeleteCachedScrape(ctx context.Context, urlHash string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM scraping_cache WHERE url_hash = $1`, urlHash)
	return eris.Wrap(err, "postgres: delete cached scrape")
}

func (s *PostgresStore) DeleteExpiredScrapes(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM scraping_cache WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired scrapes")
	}
	return int(tag.RowsAffected()), nil
}

var apiMetricColumns = []string{"ts", "method", "route", "status", "duration_ms", "correlation_id", "client_ip"}

// InsertAPIMetrics appends request-log rows via the COPY protocol.
func (s *PostgresStore) InsertAPIMetrics(ctx context.Context, metrics []model.APIMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(metrics))
	for _, m := range metrics {
		rows = append(rows, []any{m.Timestamp, m.Method, m.Route, m.Status, m.DurationMS, m.CorrelationID, m.ClientIP})
	}

	_, err := db.CopyFrom(ctx, s.pool, "api_metrics", apiMetricColumns, rows)
	return eris.Wrap(err, "postgres: insert api metrics")
}

// SummarizeAPIMetrics aggregates request-log rows newer than since.
func (s *PostgresStore) SummarizeAPIMetrics(ctx context.Context, since time.Time) (*model.APIMetricsSummary, error) {
	var sum model.APIMetricsSummary
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status >= 500),
		       COUNT(*) FILTER (WHERE status BETWEEN 400 AND 499),
		       COALESCE(AVG(duration_ms), 0),
		       COALESCE(MAX(duration_ms), 0)
		FROM api_metrics
		WHERE ts >= $1`, since,
	).Scan(&sum.Requests, &sum.ServerErrors, &sum.ClientErrors, &sum.AvgDurationMS, &sum.MaxDurationMS)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: summarize api metrics")
	}
	return &sum, nil
}

func (s *PostgresStore) DeleteOldAPIMetrics(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM api_metrics WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete old api metrics")
	}
	return int(tag.RowsAffected()), nil
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var metaJSON []byte
	var brandJSON, tenJSON, analyzedJSON, kernelJSON *[]byte

	err := row.Scan(&r.ID, &r.Status, &metaJSON, &brandJSON, &tenJSON, &analyzedJSON, &kernelJSON,
		&r.CreatedAt, &r.UpdatedAt, &r.ExpiresAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(metaJSON, &r.Metadata); err != nil {
		return nil, eris.Wrap(err, "unmarshal metadata")
	}
	if brandJSON != nil {
		r.Brand = &model.BrandAnalysis{}
		if err := json.Unmarshal(*brandJSON, r.Brand); err != nil {
			return nil, eris.Wrap(err, "unmarshal brand")
		}
	}
	if tenJSON != nil {
		if err := json.Unmarshal(*tenJSON, &r.CompetitorsTen); err != nil {
			return nil, eris.Wrap(err, "unmarshal competitors_ten")
		}
	}
	if analyzedJSON != nil {
		if err := json.Unmarshal(*analyzedJSON, &r.CompetitorsAnalyzed); err != nil {
			return nil, eris.Wrap(err, "unmarshal competitors_analyzed")
		}
	}
	if kernelJSON != nil {
		r.Kernel = &model.Kernel{}
		if err := json.Unmarshal(*kernelJSON, r.Kernel); err != nil {
			return nil, eris.Wrap(err, "unmarshal kernel")
		}
	}
	return &r, nil
}
