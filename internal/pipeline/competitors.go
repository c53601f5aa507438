package pipeline

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/brandintel/internal/apperr"
	"github.com/sells-group/brandintel/internal/model"
	"github.com/sells-group/brandintel/internal/prompt"
)

// Competitors runs the discovery phase: feed the stored brand analysis to
// the LLM, keep candidates at or above the confidence gate, and persist the
// filtered list.
func (p *Pipeline) Competitors(ctx context.Context, runID string) (resp *CompetitorsResponse, err error) {
	started := p.now()
	done := trackPhase(phaseCompetitors, runID)
	defer func() { done(err) }()

	run, err := p.loadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Brand == nil {
		return nil, apperr.PrereqMissing("run " + runID + " has no brand analysis; run brand-summary first")
	}

	brandJSON, err := json.Marshal(run.Brand)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: marshal brand analysis")
	}
	pr, err := p.prompts.Format(prompt.TagCompetitorsDiscovery, string(brandJSON))
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: build competitors prompt")
	}
	raw, usage, err := p.gateway.Call(ctx, prompt.TagCompetitorsDiscovery, pr)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Competitors []model.CompetitorCandidate `json:"competitors"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeOpenAIError, "competitor discovery payload has unexpected shape")
	}

	kept := make([]model.CompetitorCandidate, 0, len(payload.Competitors))
	for _, c := range payload.Competitors {
		if c.Confidence >= confidenceGate {
			kept = append(kept, c)
		}
	}
	if len(kept) > maxCompetitorDomains {
		kept = kept[:maxCompetitorDomains]
	}
	zap.L().Debug("pipeline: competitor candidates filtered",
		zap.String("run_id", runID),
		zap.Int("discovered", len(payload.Competitors)),
		zap.Int("kept", len(kept)))

	if err := ensureActive(ctx, phaseCompetitors); err != nil {
		return nil, err
	}
	if err := p.store.SaveCompetitors(ctx, runID, kept); err != nil {
		return nil, eris.Wrap(err, "pipeline: save competitors")
	}

	return &CompetitorsResponse{
		RunID:       runID,
		Competitors: kept,
		Meta:        p.meta(started, 0, usage),
	}, nil
}

// AnalyzeCompetitors runs the deep-analysis phase over the requested domains
// in parallel. Any single failure fails the whole phase; nothing is persisted
// unless every domain succeeds.
func (p *Pipeline) AnalyzeCompetitors(ctx context.Context, runID string, domains []string) (resp *AnalyzeResponse, err error) {
	started := p.now()
	done := trackPhase(phaseAnalyze, runID)
	defer func() { done(err) }()

	cleaned, err := normalizeDomains(domains)
	if err != nil {
		return nil, err
	}

	run, err := p.loadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(run.CompetitorsTen) == 0 {
		return nil, apperr.PrereqMissing("run " + runID + " has no competitor candidates; run competitors first")
	}

	// Each goroutine writes its own slot, so no lock is needed.
	analyzed := make([]model.CompetitorAnalysis, len(cleaned))
	pages := make([]int, len(cleaned))
	usages := make([]model.TokenUsage, len(cleaned))

	g, gctx := errgroup.WithContext(ctx)
	for i, domain := range cleaned {
		g.Go(func() error {
			ca, scraped, usage, aerr := p.analyzeOne(gctx, domain)
			if aerr != nil {
				return eris.Wrapf(aerr, "pipeline: analyze competitor %s", domain)
			}
			analyzed[i] = *ca
			pages[i] = scraped
			usages[i] = usage
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var totalUsage model.TokenUsage
	totalPages := 0
	for i := range cleaned {
		totalUsage.Add(usages[i])
		totalPages += pages[i]
	}

	if err := ensureActive(ctx, phaseAnalyze); err != nil {
		return nil, err
	}
	if err := p.store.SaveAnalyzed(ctx, runID, analyzed); err != nil {
		return nil, eris.Wrap(err, "pipeline: save analyzed competitors")
	}

	return &AnalyzeResponse{
		RunID:    runID,
		Analyzed: analyzed,
		Meta:     p.meta(started, totalPages, totalUsage),
	}, nil
}

func (p *Pipeline) analyzeOne(ctx context.Context, domain string) (*model.CompetitorAnalysis, int, model.TokenUsage, error) {
	res, err := p.scraper.Scrape(ctx, "https://"+domain)
	if err != nil {
		return nil, 0, model.TokenUsage{}, err
	}

	pr, err := p.prompts.Format(prompt.TagCompetitorAnalysis, domain, pagesDigest(res.Pages))
	if err != nil {
		return nil, 0, model.TokenUsage{}, eris.Wrap(err, "pipeline: build analysis prompt")
	}
	raw, usage, err := p.gateway.Call(ctx, prompt.TagCompetitorAnalysis, pr)
	if err != nil {
		return nil, 0, usage, err
	}

	var ca model.CompetitorAnalysis
	if err := json.Unmarshal(raw, &ca); err != nil {
		return nil, 0, usage, apperr.Wrap(err, apperr.CodeOpenAIError, "competitor analysis payload has unexpected shape")
	}
	if ca.Domain == "" {
		ca.Domain = domain
	}

	ev := p.validator.Validate(ctx, ca.EvidenceRefs, []string{domain})
	ca.Evidence = &ev

	return &ca, len(res.Pages), usage, nil
}

// normalizeDomains lowercases and validates the requested competitor domains.
// Inputs are bare hosts; schemes and paths are rejected up front so a bad
// entry fails the request instead of a goroutine mid-phase.
func normalizeDomains(domains []string) ([]string, error) {
	if len(domains) == 0 {
		return nil, apperr.Validation("domains is required")
	}
	if len(domains) > maxCompetitorDomains {
		return nil, apperr.Validationf("at most %d domains per request, got %d", maxCompetitorDomains, len(domains))
	}
	out := make([]string, 0, len(domains))
	seen := make(map[string]bool, len(domains))
	for _, d := range domains {
		host := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d)), ".")
		if host == "" {
			return nil, apperr.Validation("domains entries must not be empty")
		}
		if strings.Contains(host, "://") || strings.ContainsAny(host, "/ ") || !strings.Contains(host, ".") {
			return nil, apperr.Validationf("invalid domain %q", d)
		}
		if seen[host] {
			continue
		}
		seen[host] = true
		out = append(out, host)
	}
	return out, nil
}
