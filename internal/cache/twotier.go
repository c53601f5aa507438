package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/brandintel/internal/metrics"
	"github.com/sells-group/brandintel/internal/model"
)

// Tier is the surface both cache layers expose. *SQLite implements it for
// the fast tier; *store.PostgresStore implements it for the durable tier.
type Tier interface {
	GetCachedScrape(ctx context.Context, urlHash string) ([]byte, error)
	SetCachedScrape(ctx context.Context, entry model.CacheEntry) error
	DeleteCachedScrape(ctx context.Context, urlHash string) error
}

// Key returns the cache key for a canonical URL.
func Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// TwoTier reads through the fast tier into the durable tier and writes
// through to both. Tier failures are logged and treated as misses; the
// cache never fails a scrape.
type TwoTier struct {
	fast    Tier
	durable Tier
	ttl     time.Duration
	metrics *metrics.Metrics
}

// NewTwoTier wires the two tiers together. ttl applies to every write,
// including backfills.
func NewTwoTier(fast, durable Tier, ttl time.Duration, m *metrics.Metrics) *TwoTier {
	return &TwoTier{fast: fast, durable: durable, ttl: ttl, metrics: m}
}

// Get looks up the ScrapeResult for a canonical URL. A durable-tier hit is
// backfilled into the fast tier so the next read stays local.
func (c *TwoTier) Get(ctx context.Context, url string) (*model.ScrapeResult, bool) {
	key := Key(url)

	if body, err := c.fast.GetCachedScrape(ctx, key); err != nil {
		zap.L().Warn("cache: fast tier read failed", zap.String("url_hash", key), zap.Error(err))
	} else if body != nil {
		if res, ok := decode(body); ok {
			c.metrics.CacheHit(metrics.TierFast)
			return res, true
		}
		// Corrupt fast entry: drop it and fall through to the durable tier.
		zap.L().Warn("cache: corrupt fast entry dropped", zap.String("url_hash", key))
		if derr := c.fast.DeleteCachedScrape(ctx, key); derr != nil {
			zap.L().Warn("cache: drop from fast tier failed", zap.String("url_hash", key), zap.Error(derr))
		}
	}
	c.metrics.CacheMiss(metrics.TierFast)

	body, err := c.durable.GetCachedScrape(ctx, key)
	if err != nil {
		zap.L().Warn("cache: durable tier read failed", zap.String("url_hash", key), zap.Error(err))
	}
	if body == nil {
		c.metrics.CacheMiss(metrics.TierDurable)
		return nil, false
	}

	res, ok := decode(body)
	if !ok {
		zap.L().Warn("cache: corrupt durable entry dropped", zap.String("url_hash", key))
		if derr := c.durable.DeleteCachedScrape(ctx, key); derr != nil {
			zap.L().Warn("cache: drop from durable tier failed", zap.String("url_hash", key), zap.Error(derr))
		}
		c.metrics.CacheMiss(metrics.TierDurable)
		return nil, false
	}
	c.metrics.CacheHit(metrics.TierDurable)

	// Backfill so the next read is served locally.
	now := time.Now().UTC()
	entry := model.CacheEntry{
		URLHash:   key,
		URL:       url,
		Body:      body,
		PageCount: len(res.Pages),
		ScrapedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
	if err := c.fast.SetCachedScrape(ctx, entry); err != nil {
		zap.L().Warn("cache: fast tier backfill failed", zap.String("url_hash", key), zap.Error(err))
	}

	return res, true
}

// Put writes the result to both tiers concurrently. Failures are logged,
// never returned: the cache is an optimization.
func (c *TwoTier) Put(ctx context.Context, url string, res *model.ScrapeResult) {
	body, err := json.Marshal(res)
	if err != nil {
		zap.L().Warn("cache: marshal scrape result failed", zap.String("url", url), zap.Error(err))
		return
	}

	now := time.Now().UTC()
	entry := model.CacheEntry{
		URLHash:   Key(url),
		URL:       url,
		Body:      body,
		PageCount: len(res.Pages),
		ScrapedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}

	var wg sync.WaitGroup
	for tier, t := range map[string]Tier{metrics.TierFast: c.fast, metrics.TierDurable: c.durable} {
		wg.Add(1)
		go func(tier string, t Tier) {
			defer wg.Done()
			if err := t.SetCachedScrape(ctx, entry); err != nil {
				zap.L().Warn("cache: write failed",
					zap.String("tier", tier),
					zap.String("url_hash", entry.URLHash),
					zap.Error(err),
				)
			}
		}(tier, t)
	}
	wg.Wait()
}

// Invalidate removes the entry from both tiers. Errors are logged, not
// propagated.
func (c *TwoTier) Invalidate(ctx context.Context, url string) {
	key := Key(url)
	for tier, t := range map[string]Tier{metrics.TierFast: c.fast, metrics.TierDurable: c.durable} {
		if err := t.DeleteCachedScrape(ctx, key); err != nil {
			zap.L().Warn("cache: invalidate failed",
				zap.String("tier", tier),
				zap.String("url_hash", key),
				zap.Error(err),
			)
		}
	}
}

func decode(body []byte) (*model.ScrapeResult, bool) {
	var res model.ScrapeResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, false
	}
	return &res, true
}
