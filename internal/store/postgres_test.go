package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/brandintel/internal/model"
)

var runColumns = []string{"id", "status", "metadata", "brand", "competitors_ten", "competitors_analyzed", "kernel", "created_at", "updated_at", "expires_at"}

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock, expiration: 7 * 24 * time.Hour}
	return s, mock
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "active", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), map[string]string{"source": "api"})
	require.NoError(t, err)
	assert.Regexp(t, `^run_[a-f0-9-]+$`, run.ID)
	assert.Equal(t, model.RunStatusActive, run.Status)
	assert.Equal(t, "api", run.Metadata["source"])
	assert.Equal(t, 7*24*time.Hour, run.ExpiresAt.Sub(run.CreatedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, status, metadata, brand`).
		WithArgs("run_nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "run_nonexistent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_DecodesArtifacts(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	brand := []byte(`{"name":"Allbirds","domain":"allbirds.com","confidence_0_1":0.9}`)
	ten := []byte(`[{"name":"Rothy's","domain":"rothys.com","confidence_0_1":0.8,"rationale":"dtc footwear"}]`)

	mock.ExpectQuery(`SELECT id, status, metadata, brand`).
		WithArgs("run_abc").
		WillReturnRows(pgxmock.NewRows(runColumns).AddRow(
			"run_abc", "active", []byte(`{"source":"api"}`),
			&brand, &ten, (*[]byte)(nil), (*[]byte)(nil),
			now, now, now.Add(24*time.Hour),
		))

	run, err := s.GetRun(context.Background(), "run_abc")
	require.NoError(t, err)
	require.NotNil(t, run.Brand)
	assert.Equal(t, "Allbirds", run.Brand.Name)
	assert.InDelta(t, 0.9, run.Brand.Confidence, 1e-9)
	require.Len(t, run.CompetitorsTen, 1)
	assert.Equal(t, "rothys.com", run.CompetitorsTen[0].Domain)
	assert.Nil(t, run.CompetitorsAnalyzed)
	assert.Nil(t, run.Kernel)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveBrand_BumpsUpdatedAt(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET brand = \$1, updated_at = \$2 WHERE id = \$3`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "run_abc").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.SaveBrand(context.Background(), "run_abc", &model.BrandAnalysis{Name: "Allbirds"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveKernel_RunMissing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET kernel = \$1`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "run_gone").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SaveKernel(context.Background(), "run_gone", &model.Kernel{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1`).
		WithArgs("archived", pgxmock.AnyArg(), "run_gone").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SetRunStatus(context.Background(), "run_gone", model.RunStatusArchived)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountActiveRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM runs`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(4))

	n, err := s.CountActiveRuns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReapExpiredRuns_SkipsArchived(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM runs WHERE expires_at <= now\(\) AND status <> 'archived'`).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := s.ReapExpiredRuns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_StatusFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, status, metadata, brand.+ FROM runs WHERE true AND status = \$1`).
		WithArgs("archived", 10).
		WillReturnRows(pgxmock.NewRows(runColumns).AddRow(
			"run_old", "archived", []byte(`{}`),
			(*[]byte)(nil), (*[]byte)(nil), (*[]byte)(nil), (*[]byte)(nil),
			now, now, now.Add(-time.Hour),
		))

	runs, err := s.ListRuns(context.Background(), model.RunFilter{Status: model.RunStatusArchived, Limit: 10})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run_old", runs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCachedScrape_Miss(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`UPDATE scraping_cache SET access_count = access_count \+ 1`).
		WithArgs("abc123hash").
		WillReturnError(pgx.ErrNoRows)

	body, err := s.GetCachedScrape(context.Background(), "abc123hash")
	require.NoError(t, err)
	assert.Nil(t, body)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCachedScrape_Hit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`UPDATE scraping_cache SET access_count = access_count \+ 1`).
		WithArgs("abc123hash").
		WillReturnRows(pgxmock.NewRows([]string{"body"}).AddRow([]byte(`{"pages":[]}`)))

	body, err := s.GetCachedScrape(context.Background(), "abc123hash")
	require.NoError(t, err)
	assert.JSONEq(t, `{"pages":[]}`, string(body))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetCachedScrape_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO scraping_cache .+ ON CONFLICT`).
		WithArgs("hash456", "https://acme.com", pgxmock.AnyArg(), 8, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	now := time.Now().UTC()
	err := s.SetCachedScrape(context.Background(), model.CacheEntry{
		URLHash:   "hash456",
		URL:       "https://acme.com",
		Body:      []byte(`{"pages":[]}`),
		PageCount: 8,
		ScrapedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteExpiredScrapes(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM scraping_cache WHERE expires_at`).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	n, err := s.DeleteExpiredScrapes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertAPIMetrics_Copy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"api_metrics"}, apiMetricColumns).WillReturnResult(2)

	now := time.Now().UTC()
	err := s.InsertAPIMetrics(context.Background(), []model.APIMetric{
		{Timestamp: now, Method: "POST", Route: "/v1/brand-summary", Status: 200, DurationMS: 900, CorrelationID: "req-1", ClientIP: "10.0.0.1"},
		{Timestamp: now, Method: "GET", Route: "/health", Status: 200, DurationMS: 2, CorrelationID: "req-2", ClientIP: "10.0.0.1"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertAPIMetrics_Empty(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	err := s.InsertAPIMetrics(context.Background(), nil)
	assert.NoError(t, err)
}

func TestPostgresStore_DeleteOldAPIMetrics(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	cutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)
	mock.ExpectExec(`DELETE FROM api_metrics WHERE ts < \$1`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 12))

	n, err := s.DeleteOldAPIMetrics(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SummarizeAPIMetrics(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	since := time.Now().UTC().Add(-time.Hour)
	cols := []string{"count", "server_errors", "client_errors", "avg", "max"}
	mock.ExpectQuery(`SELECT COUNT\(\*\),`).
		WithArgs(since).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(120, 6, 10, 340.5, int64(9800)))

	sum, err := s.SummarizeAPIMetrics(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 120, sum.Requests)
	assert.Equal(t, 6, sum.ServerErrors)
	assert.Equal(t, 10, sum.ClientErrors)
	assert.InDelta(t, 340.5, sum.AvgDurationMS, 0.01)
	assert.Equal(t, int64(9800), sum.MaxDurationMS)
	assert.InDelta(t, 0.05, sum.ErrorRate(), 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}
