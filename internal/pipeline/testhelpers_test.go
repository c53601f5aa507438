package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/brandintel/internal/model"
	"github.com/sells-group/brandintel/internal/prompt"
)

type testDeps struct {
	store     *mockStore
	scraper   *mockScraper
	gateway   *mockGateway
	validator *mockValidator
}

func newTestPipeline(t *testing.T) (*Pipeline, *testDeps) {
	t.Helper()

	pack, err := prompt.Load("")
	require.NoError(t, err)

	deps := &testDeps{
		store:     &mockStore{},
		scraper:   &mockScraper{},
		gateway:   &mockGateway{},
		validator: &mockValidator{},
	}
	p := New(deps.store, deps.scraper, deps.gateway, deps.validator, pack, 0)
	return p, deps
}

// scrapeResult builds a corpus of n pages for domain, mirroring what the
// scraper produces for a healthy site.
func scrapeResult(domain string, n int) *model.ScrapeResult {
	pages := make([]model.Page, n)
	for i := range pages {
		pages[i] = model.Page{
			URL:       "https://" + domain + pagePath(i),
			Title:     "Page " + string(rune('A'+i)),
			Text:      "Content about " + domain + " products and services.",
			ScrapedAt: time.Now().UTC(),
		}
	}
	return &model.ScrapeResult{
		Pages: pages,
		Meta: model.ScrapeMeta{
			URL:                  "https://" + domain + "/",
			Domain:               domain,
			CandidatesDiscovered: n + 2,
			Probed:               n,
			Scraped:              n,
			AfterDedupe:          n,
			ScrapedAt:            time.Now().UTC(),
		},
	}
}

func pagePath(i int) string {
	paths := []string{"/", "/about", "/pricing", "/products", "/contact", "/blog"}
	return paths[i%len(paths)]
}

// cleanValidation approves every citation with no penalty.
func cleanValidation(urls []string) model.EvidenceValidation {
	valid := urls
	if valid == nil {
		valid = []string{}
	}
	return model.EvidenceValidation{
		Valid:   valid,
		Invalid: []model.InvalidEvidence{},
	}
}

func activeRun(id string) *model.Run {
	now := time.Now().UTC()
	return &model.Run{
		ID:        id,
		Status:    model.RunStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
}

func sampleBrand() *model.BrandAnalysis {
	return &model.BrandAnalysis{
		Name:              "Acme Widgets",
		Domain:            "acme.com",
		Tagline:           "Widgets that work",
		Category:          "Industrial tooling",
		ValuePropositions: []string{"Durable parts", "Same-day shipping"},
		TargetAudience:    "Mid-market manufacturers",
		Positioning:       "Premium quality at mid-market prices",
		KeyFeatures:       []string{"Modular design", "Lifetime warranty"},
		Summary:           "Acme sells industrial widgets to manufacturers.",
		EvidenceRefs:      []string{"https://acme.com/about", "https://acme.com/pricing"},
		Confidence:        0.85,
	}
}
