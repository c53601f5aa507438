package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/brandintel/internal/model"
	"github.com/sells-group/brandintel/internal/prompt"
)

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateRun(ctx context.Context, metadata map[string]string) (*model.Run, error) {
	args := m.Called(ctx, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Run), args.Error(1)
}

func (m *mockStore) SetRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	args := m.Called(ctx, runID, status)
	return args.Error(0)
}

func (m *mockStore) SaveBrand(ctx context.Context, runID string, brand *model.BrandAnalysis) error {
	args := m.Called(ctx, runID, brand)
	return args.Error(0)
}

func (m *mockStore) SaveCompetitors(ctx context.Context, runID string, candidates []model.CompetitorCandidate) error {
	args := m.Called(ctx, runID, candidates)
	return args.Error(0)
}

func (m *mockStore) SaveAnalyzed(ctx context.Context, runID string, analyzed []model.CompetitorAnalysis) error {
	args := m.Called(ctx, runID, analyzed)
	return args.Error(0)
}

func (m *mockStore) SaveKernel(ctx context.Context, runID string, kernel *model.Kernel) error {
	args := m.Called(ctx, runID, kernel)
	return args.Error(0)
}

func (m *mockStore) CountActiveRuns(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) ReapExpiredRuns(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) GetCachedScrape(ctx context.Context, urlHash string) ([]byte, error) {
	args := m.Called(ctx, urlHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *mockStore) SetCachedScrape(ctx context.Context, entry model.CacheEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *mockStore) DeleteCachedScrape(ctx context.Context, urlHash string) error {
	args := m.Called(ctx, urlHash)
	return args.Error(0)
}

func (m *mockStore) DeleteExpiredScrapes(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) InsertAPIMetrics(ctx context.Context, rows []model.APIMetric) error {
	args := m.Called(ctx, rows)
	return args.Error(0)
}

func (m *mockStore) SummarizeAPIMetrics(ctx context.Context, since time.Time) (*model.APIMetricsSummary, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.APIMetricsSummary), args.Error(1)
}

func (m *mockStore) DeleteOldAPIMetrics(ctx context.Context, cutoff time.Time) (int, error) {
	args := m.Called(ctx, cutoff)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// --- Scraper Mock ---

type mockScraper struct {
	mock.Mock
}

func (m *mockScraper) Scrape(ctx context.Context, brandURL string) (*model.ScrapeResult, error) {
	args := m.Called(ctx, brandURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScrapeResult), args.Error(1)
}

// --- Gateway Mock ---

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Call(ctx context.Context, endpoint string, p prompt.Prompt) (json.RawMessage, model.TokenUsage, error) {
	args := m.Called(ctx, endpoint, p)
	if args.Get(0) == nil {
		return nil, args.Get(1).(model.TokenUsage), args.Error(2)
	}
	return args.Get(0).(json.RawMessage), args.Get(1).(model.TokenUsage), args.Error(2)
}

// --- Validator Mock ---

type mockValidator struct {
	mock.Mock
}

func (m *mockValidator) Validate(ctx context.Context, urls []string, allow []string) model.EvidenceValidation {
	args := m.Called(ctx, urls, allow)
	return args.Get(0).(model.EvidenceValidation)
}
