package model

import "time"

// APIMetric is one row of the request log. Rows are buffered in memory and
// flushed to the api_metrics relation, which keeps thirty days of history.
type APIMetric struct {
	Timestamp     time.Time `json:"timestamp"`
	Method        string    `json:"method"`
	Route         string    `json:"route"`
	Status        int       `json:"status"`
	DurationMS    int64     `json:"duration_ms"`
	CorrelationID string    `json:"correlationId"`
	ClientIP      string    `json:"client_ip"`
}

// APIMetricsSummary aggregates the request log over a lookback window.
type APIMetricsSummary struct {
	Requests      int     `json:"requests"`
	ServerErrors  int     `json:"server_errors"` // status >= 500
	ClientErrors  int     `json:"client_errors"` // status 400-499
	AvgDurationMS float64 `json:"avg_duration_ms"`
	MaxDurationMS int64   `json:"max_duration_ms"`
}

// ErrorRate returns the fraction of requests that ended in a server error.
func (s APIMetricsSummary) ErrorRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.ServerErrors) / float64(s.Requests)
}
