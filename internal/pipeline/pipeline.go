// Package pipeline orchestrates the four brand-intelligence phases: brand
// summary, competitor discovery, competitor analysis, and kernel synthesis.
// Each phase scrapes or loads its inputs, calls the LLM gateway, validates
// evidence where the artifact carries citations, and persists the artifact
// before returning it. Artifacts are never persisted after cancellation.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/brandintel/internal/apperr"
	"github.com/sells-group/brandintel/internal/model"
	"github.com/sells-group/brandintel/internal/prompt"
	"github.com/sells-group/brandintel/internal/store"
)

const (
	phaseBrandSummary = "brand-summary"
	phaseCompetitors  = "competitors"
	phaseAnalyze      = "competitors-analyze"
	phaseKernel       = "kernel"

	// defaultMinPages is the floor for a usable brand corpus. Fewer pages
	// than this and the analysis would lean on too little text.
	defaultMinPages = 3

	// confidenceGate rejects brand analyses and competitor candidates whose
	// confidence, after the evidence penalty, falls below this value.
	confidenceGate = 0.6

	// maxCompetitorDomains caps one analyze request.
	maxCompetitorDomains = 10
)

// Scraper produces the page corpus for a brand URL.
type Scraper interface {
	Scrape(ctx context.Context, brandURL string) (*model.ScrapeResult, error)
}

// Gateway performs one JSON-mode LLM call for a named endpoint.
type Gateway interface {
	Call(ctx context.Context, endpoint string, p prompt.Prompt) (json.RawMessage, model.TokenUsage, error)
}

// Validator checks citation URLs against an allow-list of brand domains.
type Validator interface {
	Validate(ctx context.Context, urls []string, allow []string) model.EvidenceValidation
}

// Pipeline wires the scraper, the LLM gateway, and the evidence validator
// into the four phases and owns artifact persistence ordering.
type Pipeline struct {
	store     store.Store
	scraper   Scraper
	gateway   Gateway
	validator Validator
	prompts   *prompt.Pack
	minPages  int
	now       func() time.Time
}

// New builds a Pipeline. minPages <= 0 selects the default floor.
func New(st store.Store, sc Scraper, gw Gateway, v Validator, pack *prompt.Pack, minPages int) *Pipeline {
	if minPages <= 0 {
		minPages = defaultMinPages
	}
	return &Pipeline{
		store:     st,
		scraper:   sc,
		gateway:   gw,
		validator: v,
		prompts:   pack,
		minPages:  minPages,
		now:       time.Now,
	}
}

// PhaseMeta is the meta block attached to every phase response.
type PhaseMeta struct {
	DurationMS   int64            `json:"duration_ms"`
	Timestamp    time.Time        `json:"timestamp"`
	PagesScraped int              `json:"pages_scraped,omitempty"`
	TokenUsage   model.TokenUsage `json:"token_usage"`
}

// BrandSummaryResponse is the first phase's payload.
type BrandSummaryResponse struct {
	RunID     string               `json:"run_id"`
	Brand     *model.BrandAnalysis `json:"brand"`
	BrandCard *model.BrandCard     `json:"brand_card"`
	Files     map[string]string    `json:"files"`
	Meta      PhaseMeta            `json:"meta"`
}

// CompetitorsResponse lists the discovered candidates that survived the
// confidence gate.
type CompetitorsResponse struct {
	RunID       string                      `json:"run_id"`
	Competitors []model.CompetitorCandidate `json:"competitors"`
	Meta        PhaseMeta                   `json:"meta"`
}

// AnalyzeResponse carries the per-competitor deep analyses.
type AnalyzeResponse struct {
	RunID    string                     `json:"run_id"`
	Analyzed []model.CompetitorAnalysis `json:"analyzed"`
	Meta     PhaseMeta                  `json:"meta"`
}

// KernelResponse carries the final synthesis artifact.
type KernelResponse struct {
	RunID  string        `json:"run_id"`
	Kernel *model.Kernel `json:"kernel"`
	Meta   PhaseMeta     `json:"meta"`
}

func (p *Pipeline) meta(started time.Time, pages int, usage model.TokenUsage) PhaseMeta {
	return PhaseMeta{
		DurationMS:   p.now().Sub(started).Milliseconds(),
		Timestamp:    p.now().UTC(),
		PagesScraped: pages,
		TokenUsage:   usage,
	}
}

// loadRun resolves a run ID, mapping unknown or expired runs to the
// upstream-artifact error so callers get a 424 instead of a 500.
func (p *Pipeline) loadRun(ctx context.Context, runID string) (*model.Run, error) {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		if eris.Is(err, store.ErrRunNotFound) {
			return nil, apperr.PrereqMissing("unknown or expired run: " + runID)
		}
		return nil, eris.Wrap(err, "pipeline: load run")
	}
	return run, nil
}

// ensureActive guards artifact writes: a cancelled request must not persist
// partial results.
func ensureActive(ctx context.Context, phase string) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrapf(err, "pipeline: %s cancelled before save", phase)
	}
	return nil
}

func trackPhase(name, runID string) func(error) {
	start := time.Now()
	log := zap.L().With(zap.String("phase", name), zap.String("run_id", runID))
	log.Info("pipeline: phase started")
	return func(err error) {
		duration := time.Since(start).Milliseconds()
		if err != nil {
			log.Error("pipeline: phase failed",
				zap.Int64("duration_ms", duration),
				zap.Error(err))
			return
		}
		log.Info("pipeline: phase complete", zap.Int64("duration_ms", duration))
	}
}
