package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/brandintel/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertAPIErrorRate AlertType = "api_error_rate"
	AlertAPILatency   AlertType = "api_latency"
)

// minAlertVolume is the request count below which rate-based alerts are
// suppressed, so a single failed request on a quiet hour does not page.
const minAlertVolume = 20

// Alert is one threshold breach, shaped for webhook delivery.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns a MetricsSnapshot into alerts and posts them to the
// configured webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates an Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// HasWebhook reports whether alerts have anywhere to go.
func (a *Alerter) HasWebhook() bool { return a.cfg.WebhookURL != "" }

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Check 5xx error rate.
	if snap.Requests >= minAlertVolume && snap.ErrorRate > a.cfg.ErrorRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertAPIErrorRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"API error rate %.1f%% exceeds threshold %.1f%% (%d server errors / %d requests in last %dh)",
				snap.ErrorRate*100, a.cfg.ErrorRateThreshold*100,
				snap.ServerErrors, snap.Requests, snap.LookbackHours,
			),
			Details: map[string]any{
				"error_rate":    snap.ErrorRate,
				"threshold":     a.cfg.ErrorRateThreshold,
				"server_errors": snap.ServerErrors,
				"requests":      snap.Requests,
			},
			Timestamp: now,
		})
	}

	// Check average latency.
	if a.cfg.LatencyThresholdMS > 0 && snap.Requests >= minAlertVolume &&
		snap.AvgDurationMS > float64(a.cfg.LatencyThresholdMS) {
		alerts = append(alerts, Alert{
			Type:     AlertAPILatency,
			Severity: "warning",
			Message: fmt.Sprintf(
				"API average latency %.0fms exceeds threshold %dms (max %dms over %d requests in last %dh)",
				snap.AvgDurationMS, a.cfg.LatencyThresholdMS,
				snap.MaxDurationMS, snap.Requests, snap.LookbackHours,
			),
			Details: map[string]any{
				"avg_duration_ms": snap.AvgDurationMS,
				"max_duration_ms": snap.MaxDurationMS,
				"threshold_ms":    a.cfg.LatencyThresholdMS,
				"requests":        snap.Requests,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts posts each alert to the webhook and returns how many landed.
// Delivery failures are logged and skipped; one bad POST must not swallow
// the rest of the batch.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if !a.HasWebhook() || len(alerts) == 0 {
		return 0
	}

	var sent int
	for _, alert := range alerts {
		if err := a.deliver(ctx, alert); err != nil {
			zap.L().Error("monitoring: alert delivery failed",
				zap.String("type", string(alert.Type)),
				zap.Error(err))
			continue
		}
		zap.L().Info("monitoring: alert delivered",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity))
		sent++
	}
	return sent
}

func (a *Alerter) deliver(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
