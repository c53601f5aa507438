// Package scrape turns a brand URL into an ordered page corpus: discover
// likely site sections, probe them, render the survivors through the browser
// pool, and dedupe near-identical pages. Results are cached by canonical-URL
// hash and concurrent scrapes of the same URL are collapsed into one.
package scrape

import (
	"context"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/brandintel/internal/apperr"
	"github.com/sells-group/brandintel/internal/browser"
	"github.com/sells-group/brandintel/internal/metrics"
	"github.com/sells-group/brandintel/internal/model"
)

// ResultCache is the slice of the two-tier cache the scraper touches.
type ResultCache interface {
	Get(ctx context.Context, url string) (*model.ScrapeResult, bool)
	Put(ctx context.Context, url string, res *model.ScrapeResult)
}

// Options tune the scrape pipeline.
type Options struct {
	// Concurrency bounds parallel page renders. Default 5.
	Concurrency int
	// ProbeTimeout bounds each HEAD probe. Default 5s.
	ProbeTimeout time.Duration
	// PageLoadTimeout bounds each page render. Default 15s.
	PageLoadTimeout time.Duration
	// DedupeThreshold is the Jaccard similarity at which two pages count as
	// duplicates. Default 0.8.
	DedupeThreshold float64
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 5 * time.Second
	}
	if o.PageLoadTimeout <= 0 {
		o.PageLoadTimeout = 15 * time.Second
	}
	if o.DedupeThreshold <= 0 {
		o.DedupeThreshold = 0.8
	}
	return o
}

// Scraper renders brand sites through the browser pool.
type Scraper struct {
	pool    *browser.Pool
	cache   ResultCache
	metrics *metrics.Metrics
	opts    Options

	http  *http.Client
	group singleflight.Group

	// fetch renders one page; swapped out in tests to avoid Chrome.
	fetch func(ctx context.Context, pageURL string) (*model.Page, error)
}

// New builds a Scraper over the given browser pool and cache.
func New(pool *browser.Pool, c ResultCache, m *metrics.Metrics, opts Options) *Scraper {
	s := &Scraper{
		pool:    pool,
		cache:   c,
		metrics: m,
		opts:    opts.withDefaults(),
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
	s.fetch = s.renderPage
	return s
}

// Scrape returns the page corpus for brandURL, serving from cache when a
// fresh entry exists. Concurrent calls for the same canonical URL share one
// underlying scrape.
func (s *Scraper) Scrape(ctx context.Context, brandURL string) (*model.ScrapeResult, error) {
	canonical, err := Canonicalize(brandURL)
	if err != nil {
		return nil, err
	}

	v, err, _ := s.group.Do(canonical, func() (interface{}, error) {
		return s.scrape(ctx, canonical)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.ScrapeResult), nil
}

func (s *Scraper) scrape(ctx context.Context, canonical string) (*model.ScrapeResult, error) {
	if res, ok := s.cache.Get(ctx, canonical); ok {
		zap.L().Debug("scrape: cache hit",
			zap.String("url", canonical),
			zap.Int("pages", len(res.Pages)),
		)
		return res, nil
	}

	start := time.Now()
	domain := Domain(canonical)

	candidates := Discover(canonical)
	survivors := s.probe(ctx, candidates)
	if len(survivors) == 0 {
		return nil, apperr.InsufficientData("no reachable pages found for " + canonical)
	}

	pages := s.fetchAll(ctx, survivors)
	if len(pages) == 0 {
		return nil, apperr.InsufficientData("no pages could be scraped from " + canonical)
	}

	deduped := Dedupe(pages, s.opts.DedupeThreshold)
	elapsed := time.Since(start)

	res := &model.ScrapeResult{
		Pages: deduped,
		Meta: model.ScrapeMeta{
			URL:                  canonical,
			Domain:               domain,
			CandidatesDiscovered: len(candidates),
			Probed:               len(survivors),
			Scraped:              len(pages),
			AfterDedupe:          len(deduped),
			DurationMS:           elapsed.Milliseconds(),
			ScrapedAt:            time.Now().UTC(),
		},
	}

	s.cache.Put(ctx, canonical, res)
	s.metrics.ObserveScrape(domain, elapsed)

	zap.L().Info("scrape: complete",
		zap.String("domain", domain),
		zap.Int("candidates", len(candidates)),
		zap.Int("probed", len(survivors)),
		zap.Int("scraped", len(pages)),
		zap.Int("afterDedupe", len(deduped)),
		zap.Duration("duration", elapsed),
	)

	return res, nil
}

// fetchAll renders the survivor URLs with bounded parallelism. Individual
// failures and bot walls are logged and dropped; the result keeps the
// candidate order. Each goroutine writes its own slot, so no lock is needed.
func (s *Scraper) fetchAll(ctx context.Context, urls []string) []model.Page {
	results := make([]*model.Page, len(urls))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	for i, pageURL := range urls {
		g.Go(func() error {
			pg, err := s.fetch(gCtx, pageURL)
			if err != nil {
				zap.L().Warn("scrape: page fetch failed",
					zap.String("url", pageURL),
					zap.Error(err),
				)
				return nil
			}
			if blocked, kind := DetectBlock(pg.Title, pg.Text); blocked {
				zap.L().Warn("scrape: page blocked",
					zap.String("url", pageURL),
					zap.String("blockType", string(kind)),
				)
				return nil
			}
			results[i] = pg
			return nil
		})
	}
	_ = g.Wait()

	pages := make([]model.Page, 0, len(urls))
	for _, pg := range results {
		if pg != nil {
			pages = append(pages, *pg)
		}
	}
	return pages
}
