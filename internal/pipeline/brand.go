package pipeline

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/brandintel/internal/apperr"
	"github.com/sells-group/brandintel/internal/model"
	"github.com/sells-group/brandintel/internal/prompt"
)

const (
	brandAnalysisFile = "brand_analysis.json"
	brandCardFile     = "brand_card.md"

	// maxPageChars caps each page's contribution to the prompt corpus so a
	// single long page cannot crowd out the rest.
	maxPageChars = 2000
)

// BrandSummary runs the first phase: create a run, scrape the brand site,
// analyze it, validate the citations, and persist the gated artifact. The
// returned files map holds the rendered card and the raw analysis document.
func (p *Pipeline) BrandSummary(ctx context.Context, brandURL string) (resp *BrandSummaryResponse, err error) {
	started := p.now()

	run, err := p.store.CreateRun(ctx, map[string]string{"brand_url": brandURL})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	done := trackPhase(phaseBrandSummary, run.ID)
	defer func() { done(err) }()

	res, err := p.scraper.Scrape(ctx, brandURL)
	if err != nil {
		return nil, err
	}
	if len(res.Pages) < p.minPages {
		return nil, apperr.Newf(apperr.CodeInsufficientData,
			"scraped %d pages from %s, need at least %d", len(res.Pages), res.Meta.Domain, p.minPages)
	}

	pr, err := p.prompts.Format(prompt.TagBrandAnalysis, res.Meta.Domain, pagesDigest(res.Pages))
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: build brand prompt")
	}
	raw, usage, err := p.gateway.Call(ctx, prompt.TagBrandAnalysis, pr)
	if err != nil {
		return nil, err
	}

	var brand model.BrandAnalysis
	if err := json.Unmarshal(raw, &brand); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeOpenAIError, "brand analysis payload has unexpected shape")
	}
	if brand.Domain == "" {
		brand.Domain = res.Meta.Domain
	}

	ev := p.validator.Validate(ctx, brand.EvidenceRefs, []string{res.Meta.Domain})
	brand.Evidence = &ev

	if adjusted := brand.AdjustedConfidence(); adjusted < confidenceGate {
		return nil, apperr.LowConfidence(adjusted, map[string]any{
			"reported_confidence": brand.Confidence,
			"confidence_penalty":  ev.ConfidencePenalty,
			"invalid_citations":   ev.Invalid,
		})
	}

	if err := ensureActive(ctx, phaseBrandSummary); err != nil {
		return nil, err
	}
	if err := p.store.SaveBrand(ctx, run.ID, &brand); err != nil {
		return nil, eris.Wrap(err, "pipeline: save brand analysis")
	}

	card := BuildBrandCard(&brand)
	files, err := brandFiles(&brand, card)
	if err != nil {
		return nil, err
	}

	return &BrandSummaryResponse{
		RunID:     run.ID,
		Brand:     &brand,
		BrandCard: card,
		Files:     files,
		Meta:      p.meta(started, len(res.Pages), usage),
	}, nil
}

func brandFiles(brand *model.BrandAnalysis, card *model.BrandCard) (map[string]string, error) {
	blob, err := json.MarshalIndent(brand, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: marshal brand analysis")
	}
	return map[string]string{
		brandAnalysisFile: string(blob),
		brandCardFile:     RenderBrandCard(card),
	}, nil
}

// pagesDigest flattens the scraped pages into the prompt corpus, one block
// per page in scrape order.
func pagesDigest(pages []model.Page) string {
	var sb strings.Builder
	for i, pg := range pages {
		if i > 0 {
			sb.WriteString("\n---\n")
		}
		sb.WriteString("URL: " + pg.URL + "\n")
		if pg.Title != "" {
			sb.WriteString("Title: " + pg.Title + "\n")
		}
		text := pg.Text
		if len(text) > maxPageChars {
			text = text[:maxPageChars]
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String()
}
