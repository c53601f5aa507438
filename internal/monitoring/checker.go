package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/brandintel/internal/config"
)

// Checker periodically snapshots the request log and fires threshold
// alerts. When no webhook is configured, breaches are logged as warnings
// instead so they still reach an operator.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int // hours
	log       *zap.Logger
}

// NewChecker wires a collector and alerter into a background loop.
// Missing or non-positive config values fall back to a 5-minute interval
// and a 1-hour lookback window.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	lookback := cfg.LookbackWindowHours
	if lookback <= 0 {
		lookback = 1
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  lookback,
		log:       zap.L().With(zap.String("component", "monitoring.checker")),
	}
}

// Run blocks until ctx is cancelled, checking once per interval.
func (c *Checker) Run(ctx context.Context) {
	c.log.Info("alerting loop started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
		zap.Bool("webhook_configured", c.alerter.HasWebhook()))

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("alerting loop stopped")
			return
		case <-ticker.C:
			c.check(ctx)
		}
	}
}

func (c *Checker) check(ctx context.Context) {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		c.log.Error("collect failed", zap.Error(err))
		return
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		c.log.Debug("thresholds clear",
			zap.Int("requests", snap.Requests),
			zap.Float64("error_rate", snap.ErrorRate))
		return
	}

	if !c.alerter.HasWebhook() {
		for _, alert := range alerts {
			c.log.Warn("alert (no webhook configured)",
				zap.String("type", string(alert.Type)),
				zap.String("severity", alert.Severity),
				zap.String("message", alert.Message))
		}
		return
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	c.log.Info("alert check complete",
		zap.Int("requests", snap.Requests),
		zap.Float64("error_rate", snap.ErrorRate),
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent))
}
