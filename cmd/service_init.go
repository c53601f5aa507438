package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/brandintel/internal/browser"
	"github.com/sells-group/brandintel/internal/cache"
	"github.com/sells-group/brandintel/internal/evidence"
	"github.com/sells-group/brandintel/internal/llm"
	"github.com/sells-group/brandintel/internal/metrics"
	"github.com/sells-group/brandintel/internal/pipeline"
	"github.com/sells-group/brandintel/internal/prompt"
	"github.com/sells-group/brandintel/internal/resilience"
	"github.com/sells-group/brandintel/internal/scrape"
	"github.com/sells-group/brandintel/internal/store"
	"github.com/sells-group/brandintel/pkg/openai"
)

// serviceEnv holds the initialized store, cache tiers, browser pool, and
// pipeline needed by the serve and batch commands.
type serviceEnv struct {
	Store    *store.PostgresStore
	Fast     *cache.SQLite
	Cache    *cache.TwoTier
	Pool     *browser.Pool
	Scraper  *scrape.Scraper
	Gateway  *llm.Gateway
	Prompts  *prompt.Pack
	Pipeline *pipeline.Pipeline
	Metrics  *metrics.Metrics
}

// Close releases resources held by the service environment.
func (se *serviceEnv) Close() {
	if se.Pool != nil {
		se.Pool.Close()
	}
	if se.Fast != nil {
		_ = se.Fast.Close()
	}
	if se.Store != nil {
		_ = se.Store.Close()
	}
}

// initService validates config for the given mode, then sets up the store,
// both cache tiers, the browser pool, the LLM gateway, and the pipeline.
// Callers should defer env.Close().
func initService(ctx context.Context, mode string) (*serviceEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	m := metrics.New()

	st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL,
		&store.PoolConfig{MaxConns: cfg.Store.MaxConns, MinConns: cfg.Store.MinConns},
		time.Duration(cfg.Run.ExpirationDays)*24*time.Hour,
	)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	fast, err := cache.NewSQLite(cfg.Cache.FastDSN)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	twoTier := cache.NewTwoTier(fast, st, cfg.Cache.TTL(), m)

	pool := browser.NewPool(browser.Options{
		PoolSize:       cfg.Browser.PoolSize,
		AcquireTimeout: time.Duration(cfg.Browser.AcquireTimeout) * time.Second,
		Headless:       cfg.Browser.Headless,
		ExecPath:       chromePath(),
	}, m)
	if err := pool.Init(ctx); err != nil {
		_ = fast.Close()
		_ = st.Close()
		return nil, eris.Wrap(err, "init browser pool")
	}

	scraper := scrape.New(pool, twoTier, m, scrape.Options{
		Concurrency:     cfg.Scrape.Concurrency,
		ProbeTimeout:    time.Duration(cfg.Scrape.ProbeTimeout) * time.Second,
		PageLoadTimeout: time.Duration(cfg.Browser.PageLoadTimeout) * time.Second,
		DedupeThreshold: cfg.Scrape.DedupeThreshold,
	})

	client := openai.NewClient(cfg.OpenAI.APIKey,
		openai.WithBaseURL(cfg.OpenAI.BaseURL),
		openai.WithModel(cfg.OpenAI.Model),
		openai.WithTimeout(time.Duration(cfg.OpenAI.Timeout)*time.Second),
	)

	retry := resilience.DefaultRetryConfig()
	if cfg.OpenAI.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.OpenAI.MaxAttempts
	}
	if cfg.OpenAI.Backoff > 0 {
		retry.InitialBackoff = time.Duration(cfg.OpenAI.Backoff) * time.Second
	}
	gateway := llm.NewGatewayWithRetry(client, m, retry)

	pack, err := prompt.Load(cfg.Prompts.Path)
	if err != nil {
		pool.Close()
		_ = fast.Close()
		_ = st.Close()
		return nil, err
	}

	pipe := pipeline.New(st, scraper, gateway, evidence.NewValidator(), pack, cfg.Scrape.MinPages)

	return &serviceEnv{
		Store:    st,
		Fast:     fast,
		Cache:    twoTier,
		Pool:     pool,
		Scraper:  scraper,
		Gateway:  gateway,
		Prompts:  pack,
		Pipeline: pipe,
		Metrics:  m,
	}, nil
}

// chromePath resolves the browser binary: config first, then the
// environment and well-known install locations.
func chromePath() string {
	if cfg.Browser.ChromePath != "" {
		return cfg.Browser.ChromePath
	}
	if path := browser.FindBinary(); path != "" {
		zap.L().Debug("using discovered chrome binary", zap.String("path", path))
		return path
	}
	return ""
}
