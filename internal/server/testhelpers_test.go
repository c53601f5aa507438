package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sells-group/brandintel/internal/browser"
	"github.com/sells-group/brandintel/internal/config"
	"github.com/sells-group/brandintel/internal/metrics"
	"github.com/sells-group/brandintel/internal/model"
	"github.com/sells-group/brandintel/internal/pipeline"
	"github.com/sells-group/brandintel/internal/store"
)

const testAPIKey = "test-api-key"

// stubStore implements only the methods the server touches; any other call
// panics through the embedded nil interface.
type stubStore struct {
	store.Store

	pingErr error

	mu       sync.Mutex
	inserted []model.APIMetric
}

func (s *stubStore) Ping(context.Context) error { return s.pingErr }

func (s *stubStore) InsertAPIMetrics(_ context.Context, rows []model.APIMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, rows...)
	return nil
}

func (s *stubStore) insertedRows() []model.APIMetric {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.APIMetric, len(s.inserted))
	copy(out, s.inserted)
	return out
}

type fakePool struct {
	stats browser.Stats
}

func (p fakePool) Stats() browser.Stats { return p.stats }

func healthyPool() fakePool {
	return fakePool{stats: browser.Stats{Total: 3, InUse: 1, Available: 2, Initialized: true}}
}

// fakePipeline routes each phase to an overridable function so tests can
// observe inputs and inject failures.
type fakePipeline struct {
	brandFn       func(ctx context.Context, brandURL string) (*pipeline.BrandSummaryResponse, error)
	competitorsFn func(ctx context.Context, runID string) (*pipeline.CompetitorsResponse, error)
	analyzeFn     func(ctx context.Context, runID string, domains []string) (*pipeline.AnalyzeResponse, error)
	kernelFn      func(ctx context.Context, runID string) (*pipeline.KernelResponse, error)
}

func (f *fakePipeline) BrandSummary(ctx context.Context, brandURL string) (*pipeline.BrandSummaryResponse, error) {
	return f.brandFn(ctx, brandURL)
}

func (f *fakePipeline) Competitors(ctx context.Context, runID string) (*pipeline.CompetitorsResponse, error) {
	return f.competitorsFn(ctx, runID)
}

func (f *fakePipeline) AnalyzeCompetitors(ctx context.Context, runID string, domains []string) (*pipeline.AnalyzeResponse, error) {
	return f.analyzeFn(ctx, runID, domains)
}

func (f *fakePipeline) Kernel(ctx context.Context, runID string) (*pipeline.KernelResponse, error) {
	return f.kernelFn(ctx, runID)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.Addr = ":0"
	cfg.Server.APIKey = testAPIKey
	cfg.Server.CORSOrigins = []string{"*"}
	cfg.RateLimit.Max = 50
	cfg.Request.Timeout = 120000
	cfg.OpenAI.APIKey = "sk-test"
	return cfg
}

func newTestServer(t *testing.T, pipe PhaseRunner) (*Server, *stubStore) {
	t.Helper()
	if pipe == nil {
		pipe = &fakePipeline{}
	}
	st := &stubStore{}
	s := New(testConfig(), pipe, st, healthyPool(), metrics.New())
	return s, st
}

// doRequest runs one request through the full middleware chain.
func doRequest(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func authed(req *http.Request) *http.Request {
	req.Header.Set(headerAPIKey, testAPIKey)
	return req
}
