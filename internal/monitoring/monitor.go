package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/brandintel/internal/config"
	"github.com/sells-group/brandintel/internal/metrics"
	"github.com/sells-group/brandintel/internal/store"
)

// FastTier is the slice of the fast cache tier the reaper needs.
type FastTier interface {
	DeleteExpired(ctx context.Context) (int, error)
}

// Monitor owns the service's maintenance loops: it republishes the
// active-run gauge and reaps expired runs, cache rows, and old
// request-log rows.
type Monitor struct {
	store   store.Store
	fast    FastTier // may be nil
	metrics *metrics.Metrics

	gaugeEvery time.Duration
	reapEvery  time.Duration
	retention  time.Duration
}

// NewMonitor creates the maintenance loop runner. fast may be nil when no
// fast cache tier is configured.
func NewMonitor(st store.Store, fast FastTier, m *metrics.Metrics, runCfg config.RunConfig, metricsCfg config.MetricsConfig) *Monitor {
	gauge := time.Duration(runCfg.GaugeInterval) * time.Second
	if gauge <= 0 {
		gauge = time.Minute
	}
	reap := time.Duration(runCfg.ReapInterval) * time.Minute
	if reap <= 0 {
		reap = time.Hour
	}
	retention := time.Duration(metricsCfg.APILogRetentionDays) * 24 * time.Hour
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}

	return &Monitor{
		store:      st,
		fast:       fast,
		metrics:    m,
		gaugeEvery: gauge,
		reapEvery:  reap,
		retention:  retention,
	}
}

// Run starts the gauge and reap loops. It blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.monitor"))
	log.Info("starting maintenance loops",
		zap.Duration("gauge_interval", m.gaugeEvery),
		zap.Duration("reap_interval", m.reapEvery),
	)

	gaugeTicker := time.NewTicker(m.gaugeEvery)
	defer gaugeTicker.Stop()
	reapTicker := time.NewTicker(m.reapEvery)
	defer reapTicker.Stop()

	// Publish once at startup so the gauge is correct before the first tick.
	m.publishGauges(ctx, log)

	for {
		select {
		case <-ctx.Done():
			log.Info("maintenance loops stopped")
			return
		case <-gaugeTicker.C:
			m.publishGauges(ctx, log)
		case <-reapTicker.C:
			m.reap(ctx, log)
		}
	}
}

func (m *Monitor) publishGauges(ctx context.Context, log *zap.Logger) {
	count, err := m.store.CountActiveRuns(ctx)
	if err != nil {
		log.Error("monitoring: failed to count active runs", zap.Error(err))
		return
	}
	m.metrics.SetActiveRuns(count)
}

// reap deletes expired runs, expired cache rows in both tiers, and
// request-log rows past retention. Each cleanup failure is logged and the
// remaining cleanups still run.
func (m *Monitor) reap(ctx context.Context, log *zap.Logger) {
	runs, err := m.store.ReapExpiredRuns(ctx)
	if err != nil {
		log.Error("monitoring: failed to reap expired runs", zap.Error(err))
	}

	durable, err := m.store.DeleteExpiredScrapes(ctx)
	if err != nil {
		log.Error("monitoring: failed to delete expired durable cache rows", zap.Error(err))
	}

	fast := 0
	if m.fast != nil {
		fast, err = m.fast.DeleteExpired(ctx)
		if err != nil {
			log.Error("monitoring: failed to delete expired fast cache rows", zap.Error(err))
		}
	}

	cutoff := time.Now().UTC().Add(-m.retention)
	logs, err := m.store.DeleteOldAPIMetrics(ctx, cutoff)
	if err != nil {
		log.Error("monitoring: failed to delete old api metrics", zap.Error(err))
	}

	log.Info("reap complete",
		zap.Int("runs", runs),
		zap.Int("durable_cache", durable),
		zap.Int("fast_cache", fast),
		zap.Int("api_metrics", logs),
	)
}
