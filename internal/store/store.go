package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/brandintel/internal/model"
)

// ErrRunNotFound reports an unknown, expired, or non-active run.
var ErrRunNotFound = eris.New("store: run not found")

// Store defines the persistence surface for the brand-intelligence pipeline:
// runs with their phase artifacts, the durable scrape-cache tier, and the
// api_metrics request log.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, metadata map[string]string) (*model.Run, error)
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error)
	SetRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	SaveBrand(ctx context.Context, runID string, brand *model.BrandAnalysis) error
	SaveCompetitors(ctx context.Context, runID string, candidates []model.CompetitorCandidate) error
	SaveAnalyzed(ctx context.Context, runID string, analyzed []model.CompetitorAnalysis) error
	SaveKernel(ctx context.Context, runID string, kernel *model.Kernel) error
	CountActiveRuns(ctx context.Context) (int, error)
	ReapExpiredRuns(ctx context.Context) (int, error)

	// Scrape cache, durable tier
	GetCachedScrape(ctx context.Context, urlHash string) ([]byte, error)
	SetCachedScrape(ctx context.Context, entry model.CacheEntry) error
	DeleteCachedScrape(ctx context.Context, urlHash string) error
	DeleteExpiredScrapes(ctx context.Context) (int, error)

	// Request log
	InsertAPIMetrics(ctx context.Context, rows []model.APIMetric) error
	SummarizeAPIMetrics(ctx context.Context, since time.Time) (*model.APIMetricsSummary, error)
	DeleteOldAPIMetrics(ctx context.Context, cutoff time.Time) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
