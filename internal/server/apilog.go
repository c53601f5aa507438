package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/brandintel/internal/model"
	"github.com/sells-group/brandintel/internal/store"
)

const (
	apiLogFlushInterval = 10 * time.Second
	apiLogBatchSize     = 100
)

// apiLogger buffers request-log rows and flushes them to the api_metrics
// relation in batches. A flush failure drops the batch with a warning; the
// request log is best-effort.
type apiLogger struct {
	store store.Store

	mu   sync.Mutex
	rows []model.APIMetric
}

func newAPILogger(st store.Store) *apiLogger {
	return &apiLogger{store: st}
}

func (l *apiLogger) record(row model.APIMetric) {
	l.mu.Lock()
	l.rows = append(l.rows, row)
	full := len(l.rows) >= apiLogBatchSize
	l.mu.Unlock()

	if full {
		go l.flush(context.Background())
	}
}

// run flushes on a ticker until ctx is cancelled, then drains what is left.
func (l *apiLogger) run(ctx context.Context) {
	ticker := time.NewTicker(apiLogFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			l.flush(drainCtx)
			cancel()
			return
		case <-ticker.C:
			l.flush(ctx)
		}
	}
}

func (l *apiLogger) flush(ctx context.Context) {
	l.mu.Lock()
	rows := l.rows
	l.rows = nil
	l.mu.Unlock()

	if len(rows) == 0 {
		return
	}
	if err := l.store.InsertAPIMetrics(ctx, rows); err != nil {
		zap.L().Warn("server: api metrics flush failed",
			zap.Int("rows", len(rows)),
			zap.Error(err))
	}
}
