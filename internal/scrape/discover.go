package scrape

import (
	"context"
	"net/http"
	"net/url"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/brandintel/internal/browser"
)

// commonPaths are the site sections worth probing on any brand site. The
// root is always probed; the rest cover the pages that typically carry
// positioning, pricing, and audience signals.
var commonPaths = []string{
	"/",
	"/about",
	"/about-us",
	"/company",
	"/services",
	"/products",
	"/solutions",
	"/platform",
	"/features",
	"/pricing",
	"/customers",
	"/case-studies",
	"/testimonials",
	"/team",
	"/careers",
	"/contact",
	"/faq",
	"/blog",
	"/news",
	"/partners",
	"/resources",
}

// Discover builds the candidate URL list for a canonical brand URL: the URL
// itself plus the common paths joined to the site root, deduplicated in
// order.
func Discover(canonical string) []string {
	u, err := url.Parse(canonical)
	if err != nil {
		return []string{canonical}
	}
	root := u.Scheme + "://" + u.Host

	seen := make(map[string]bool, len(commonPaths)+1)
	candidates := make([]string, 0, len(commonPaths)+1)

	add := func(c string) {
		if !seen[c] {
			seen[c] = true
			candidates = append(candidates, c)
		}
	}

	add(canonical)
	for _, p := range commonPaths {
		add(root + p)
	}
	return candidates
}

// probe HEADs every candidate in parallel and keeps the ones answering 2xx.
// Redirects are followed; each request gets its own timeout. Order follows
// the candidate list.
func (s *Scraper) probe(ctx context.Context, candidates []string) []string {
	alive := make([]bool, len(candidates))

	g, gCtx := errgroup.WithContext(ctx)
	for i, candidate := range candidates {
		g.Go(func() error {
			alive[i] = s.headOK(gCtx, candidate)
			return nil
		})
	}
	_ = g.Wait()

	survivors := make([]string, 0, len(candidates))
	for i, ok := range alive {
		if ok {
			survivors = append(survivors, candidates[i])
		}
	}
	return survivors
}

func (s *Scraper) headOK(ctx context.Context, candidate string) bool {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, candidate, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", browser.UserAgent)

	resp, err := s.http.Do(req)
	if err != nil {
		zap.L().Debug("scrape: probe failed", zap.String("url", candidate), zap.Error(err))
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
