package scrape

import (
	"context"
	"strings"
	"time"

	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"

	"github.com/sells-group/brandintel/internal/model"
)

// stripChromeJS removes the subtrees that carry navigation and styling
// noise before the page text is read.
const stripChromeJS = `(function() {
	var selectors = 'script,style,nav,footer,header';
	document.querySelectorAll(selectors).forEach(function(el) { el.remove(); });
	return true;
})()`

const innerTextJS = `document.body ? document.body.innerText : ''`

// renderPage fetches one URL through a pooled browser: lease a worker, open
// a tab, navigate until the page goes network-idle (bounded by the page-load
// timeout), strip chrome, and read title plus visible text. The lease is
// returned on every path.
func (s *Scraper) renderPage(ctx context.Context, pageURL string) (*model.Page, error) {
	lease, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: acquire browser for %s", pageURL)
	}
	defer lease.Release()

	tabCtx, closeTab, err := lease.NewContext()
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: open tab for %s", pageURL)
	}
	defer closeTab()

	tabCtx, cancel := context.WithTimeout(tabCtx, s.opts.PageLoadTimeout)
	defer cancel()

	// The listener must be attached before Navigate or a fast page can go
	// idle unobserved.
	idle := make(chan struct{}, 1)
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if e, ok := ev.(*cdppage.EventLifecycleEvent); ok && e.Name == "networkIdle" {
			select {
			case idle <- struct{}{}:
			default:
			}
		}
	})

	var title, text string
	err = chromedp.Run(tabCtx,
		cdppage.SetLifecycleEventsEnabled(true),
		chromedp.Navigate(pageURL),
		awaitNetworkIdle(idle),
		chromedp.Evaluate(stripChromeJS, nil),
		chromedp.Title(&title),
		chromedp.Evaluate(innerTextJS, &text),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: render %s", pageURL)
	}

	return &model.Page{
		URL:       pageURL,
		Title:     strings.TrimSpace(title),
		Text:      strings.TrimSpace(text),
		ScrapedAt: time.Now().UTC(),
	}, nil
}

// awaitNetworkIdle blocks until the networkIdle lifecycle event arrives or
// the tab context expires.
func awaitNetworkIdle(idle <-chan struct{}) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		select {
		case <-idle:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
