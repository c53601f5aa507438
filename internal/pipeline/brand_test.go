package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/brandintel/internal/apperr"
	"github.com/sells-group/brandintel/internal/model"
	"github.com/sells-group/brandintel/internal/prompt"
)

func brandPayload(t *testing.T, b *model.BrandAnalysis) json.RawMessage {
	t.Helper()
	blob, err := json.Marshal(b)
	require.NoError(t, err)
	return blob
}

func TestBrandSummary_FullFlow(t *testing.T) {
	ctx := context.Background()
	p, deps := newTestPipeline(t)

	brand := sampleBrand()
	usage := model.TokenUsage{PromptTokens: 900, CompletionTokens: 300, TotalTokens: 1200}

	deps.store.On("CreateRun", mock.Anything, map[string]string{"brand_url": "https://acme.com"}).
		Return(activeRun("run_001"), nil)
	deps.scraper.On("Scrape", mock.Anything, "https://acme.com").
		Return(scrapeResult("acme.com", 4), nil)
	deps.gateway.On("Call", mock.Anything, prompt.TagBrandAnalysis, mock.AnythingOfType("prompt.Prompt")).
		Return(brandPayload(t, brand), usage, nil)
	deps.validator.On("Validate", mock.Anything, brand.EvidenceRefs, []string{"acme.com"}).
		Return(cleanValidation(brand.EvidenceRefs))
	deps.store.On("SaveBrand", mock.Anything, "run_001", mock.AnythingOfType("*model.BrandAnalysis")).
		Return(nil)

	resp, err := p.BrandSummary(ctx, "https://acme.com")
	require.NoError(t, err)

	assert.Equal(t, "run_001", resp.RunID)
	assert.Equal(t, "Acme Widgets", resp.Brand.Name)
	require.NotNil(t, resp.Brand.Evidence)
	assert.InDelta(t, 0.85, resp.Brand.AdjustedConfidence(), 1e-9)

	require.NotNil(t, resp.BrandCard)
	assert.Equal(t, "Acme Widgets", resp.BrandCard.Title)
	assert.Len(t, resp.BrandCard.Sections, 4)

	assert.Contains(t, resp.Files, brandCardFile)
	assert.Contains(t, resp.Files, brandAnalysisFile)
	assert.Contains(t, resp.Files[brandCardFile], "# Acme Widgets")
	var roundTrip model.BrandAnalysis
	require.NoError(t, json.Unmarshal([]byte(resp.Files[brandAnalysisFile]), &roundTrip))
	assert.Equal(t, "Acme Widgets", roundTrip.Name)

	assert.Equal(t, 4, resp.Meta.PagesScraped)
	assert.Equal(t, usage, resp.Meta.TokenUsage)
	assert.False(t, resp.Meta.Timestamp.IsZero())

	deps.store.AssertExpectations(t)
	deps.scraper.AssertExpectations(t)
	deps.gateway.AssertExpectations(t)
	deps.validator.AssertExpectations(t)
}

func TestBrandSummary_PromptCarriesCorpus(t *testing.T) {
	ctx := context.Background()
	p, deps := newTestPipeline(t)

	var captured prompt.Prompt
	deps.store.On("CreateRun", mock.Anything, mock.Anything).Return(activeRun("run_001"), nil)
	deps.scraper.On("Scrape", mock.Anything, "https://acme.com").Return(scrapeResult("acme.com", 3), nil)
	deps.gateway.On("Call", mock.Anything, prompt.TagBrandAnalysis, mock.AnythingOfType("prompt.Prompt")).
		Run(func(args mock.Arguments) {
			captured = args.Get(2).(prompt.Prompt)
		}).
		Return(brandPayload(t, sampleBrand()), model.TokenUsage{}, nil)
	deps.validator.On("Validate", mock.Anything, mock.Anything, mock.Anything).
		Return(cleanValidation(nil))
	deps.store.On("SaveBrand", mock.Anything, "run_001", mock.Anything).Return(nil)

	_, err := p.BrandSummary(ctx, "https://acme.com")
	require.NoError(t, err)

	assert.Contains(t, captured.User, "acme.com")
	assert.Contains(t, captured.User, "https://acme.com/about")
	assert.NotContains(t, captured.User, "%s")
}

func TestBrandSummary_TooFewPages(t *testing.T) {
	ctx := context.Background()
	p, deps := newTestPipeline(t)

	deps.store.On("CreateRun", mock.Anything, mock.Anything).Return(activeRun("run_001"), nil)
	deps.scraper.On("Scrape", mock.Anything, "https://thin.example").
		Return(scrapeResult("thin.example", 2), nil)

	_, err := p.BrandSummary(ctx, "https://thin.example")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInsufficientData), "got %v", err)

	deps.gateway.AssertNotCalled(t, "Call", mock.Anything, mock.Anything, mock.Anything)
	deps.store.AssertNotCalled(t, "SaveBrand", mock.Anything, mock.Anything, mock.Anything)
}

func TestBrandSummary_LowConfidenceRejected(t *testing.T) {
	ctx := context.Background()
	p, deps := newTestPipeline(t)

	brand := sampleBrand()
	brand.Confidence = 0.8

	deps.store.On("CreateRun", mock.Anything, mock.Anything).Return(activeRun("run_001"), nil)
	deps.scraper.On("Scrape", mock.Anything, "https://acme.com").Return(scrapeResult("acme.com", 4), nil)
	deps.gateway.On("Call", mock.Anything, prompt.TagBrandAnalysis, mock.Anything).
		Return(brandPayload(t, brand), model.TokenUsage{TotalTokens: 100}, nil)
	deps.validator.On("Validate", mock.Anything, brand.EvidenceRefs, []string{"acme.com"}).
		Return(model.EvidenceValidation{
			Valid: []string{"https://acme.com/about"},
			Invalid: []model.InvalidEvidence{
				{URL: "https://other.example/post", Reason: "domain not allowed"},
			},
			ConfidencePenalty: 0.3,
		})

	_, err := p.BrandSummary(ctx, "https://acme.com")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeLowConfidence), "got %v", err)

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	details, ok := ae.Details.(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 0.3, details["confidence_penalty"], 1e-9)

	deps.store.AssertNotCalled(t, "SaveBrand", mock.Anything, mock.Anything, mock.Anything)
}

func TestBrandSummary_ScrapeErrorPassesThrough(t *testing.T) {
	ctx := context.Background()
	p, deps := newTestPipeline(t)

	deps.store.On("CreateRun", mock.Anything, mock.Anything).Return(activeRun("run_001"), nil)
	deps.scraper.On("Scrape", mock.Anything, "https://down.example").
		Return(nil, apperr.InsufficientData("no reachable pages found for https://down.example/"))

	_, err := p.BrandSummary(ctx, "https://down.example")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInsufficientData), "got %v", err)
}

func TestBrandSummary_GatewayErrorPassesThrough(t *testing.T) {
	ctx := context.Background()
	p, deps := newTestPipeline(t)

	deps.store.On("CreateRun", mock.Anything, mock.Anything).Return(activeRun("run_001"), nil)
	deps.scraper.On("Scrape", mock.Anything, "https://acme.com").Return(scrapeResult("acme.com", 3), nil)
	deps.gateway.On("Call", mock.Anything, prompt.TagBrandAnalysis, mock.Anything).
		Return(nil, model.TokenUsage{}, apperr.New(apperr.CodeOpenAITimeout, "openai request timed out"))

	_, err := p.BrandSummary(ctx, "https://acme.com")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeOpenAITimeout), "got %v", err)
	deps.store.AssertNotCalled(t, "SaveBrand", mock.Anything, mock.Anything, mock.Anything)
}

func TestBrandSummary_MalformedPayload(t *testing.T) {
	ctx := context.Background()
	p, deps := newTestPipeline(t)

	deps.store.On("CreateRun", mock.Anything, mock.Anything).Return(activeRun("run_001"), nil)
	deps.scraper.On("Scrape", mock.Anything, "https://acme.com").Return(scrapeResult("acme.com", 3), nil)
	deps.gateway.On("Call", mock.Anything, prompt.TagBrandAnalysis, mock.Anything).
		Return(json.RawMessage(`[1, 2, 3]`), model.TokenUsage{}, nil)

	_, err := p.BrandSummary(ctx, "https://acme.com")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeOpenAIError), "got %v", err)
}

func TestBrandSummary_DomainBackfilled(t *testing.T) {
	ctx := context.Background()
	p, deps := newTestPipeline(t)

	brand := sampleBrand()
	brand.Domain = ""

	var saved *model.BrandAnalysis
	deps.store.On("CreateRun", mock.Anything, mock.Anything).Return(activeRun("run_001"), nil)
	deps.scraper.On("Scrape", mock.Anything, "https://acme.com").Return(scrapeResult("acme.com", 3), nil)
	deps.gateway.On("Call", mock.Anything, prompt.TagBrandAnalysis, mock.Anything).
		Return(brandPayload(t, brand), model.TokenUsage{}, nil)
	deps.validator.On("Validate", mock.Anything, mock.Anything, []string{"acme.com"}).
		Return(cleanValidation(nil))
	deps.store.On("SaveBrand", mock.Anything, "run_001", mock.AnythingOfType("*model.BrandAnalysis")).
		Run(func(args mock.Arguments) {
			saved = args.Get(2).(*model.BrandAnalysis)
		}).
		Return(nil)

	resp, err := p.BrandSummary(ctx, "https://acme.com")
	require.NoError(t, err)
	assert.Equal(t, "acme.com", resp.Brand.Domain)
	require.NotNil(t, saved)
	assert.Equal(t, "acme.com", saved.Domain)
}

func TestBrandSummary_CancelledBeforeSave(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p, deps := newTestPipeline(t)

	deps.store.On("CreateRun", mock.Anything, mock.Anything).Return(activeRun("run_001"), nil)
	deps.scraper.On("Scrape", mock.Anything, "https://acme.com").Return(scrapeResult("acme.com", 3), nil)
	deps.gateway.On("Call", mock.Anything, prompt.TagBrandAnalysis, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(brandPayload(t, sampleBrand()), model.TokenUsage{}, nil)
	deps.validator.On("Validate", mock.Anything, mock.Anything, mock.Anything).
		Return(cleanValidation(nil))

	_, err := p.BrandSummary(ctx, "https://acme.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	deps.store.AssertNotCalled(t, "SaveBrand", mock.Anything, mock.Anything, mock.Anything)
}

func TestPagesDigest(t *testing.T) {
	pages := []model.Page{
		{URL: "https://acme.com/", Title: "Home", Text: "Welcome to Acme."},
		{URL: "https://acme.com/about", Text: strings.Repeat("x", maxPageChars+500)},
	}

	digest := pagesDigest(pages)

	assert.Contains(t, digest, "URL: https://acme.com/\n")
	assert.Contains(t, digest, "Title: Home")
	assert.Contains(t, digest, "Welcome to Acme.")
	assert.Contains(t, digest, "\n---\n")
	// The second page has no title, so no Title line should appear for it.
	assert.Equal(t, 1, strings.Count(digest, "Title:"))
	// Long text is capped per page.
	assert.Less(t, len(digest), maxPageChars+300)
}
