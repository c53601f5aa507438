// Package monitoring runs the service's background health loops: metric
// collection, threshold alerting, gauge republishing, and row reaping.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/brandintel/internal/store"
)

// MetricsSnapshot holds a point-in-time view of service health.
type MetricsSnapshot struct {
	// Request-log metrics (within lookback window).
	Requests      int     `json:"requests"`
	ServerErrors  int     `json:"server_errors"`
	ClientErrors  int     `json:"client_errors"`
	ErrorRate     float64 `json:"error_rate"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
	MaxDurationMS int64   `json:"max_duration_ms"`

	// Current run state.
	ActiveRuns int `json:"active_runs"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers health metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of service metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	sum, err := c.store.SummarizeAPIMetrics(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: summarize api metrics")
	}
	snap.Requests = sum.Requests
	snap.ServerErrors = sum.ServerErrors
	snap.ClientErrors = sum.ClientErrors
	snap.ErrorRate = sum.ErrorRate()
	snap.AvgDurationMS = sum.AvgDurationMS
	snap.MaxDurationMS = sum.MaxDurationMS

	active, err := c.store.CountActiveRuns(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count active runs")
	}
	snap.ActiveRuns = active

	return snap, nil
}
