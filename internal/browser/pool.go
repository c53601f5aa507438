// Package browser manages a fixed pool of long-lived headless Chrome
// workers. Launching Chrome is expensive, so the pool starts every browser
// once at Init and hands them out as leases. A lease opens fresh tab
// contexts on its worker; releasing the lease closes those tabs and puts
// the worker back on the free list.
package browser

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/brandintel/internal/metrics"
)

// UserAgent is presented on every page load. Some sites serve degraded or
// blocked pages to unknown agents, so the pool identifies as a current
// desktop Chrome.
const UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const (
	viewportWidth  = 1280
	viewportHeight = 720

	// startTimeout bounds a single browser launch during Init.
	startTimeout = 30 * time.Second
)

var (
	// ErrPoolClosed is returned by Acquire once Close has been called.
	ErrPoolClosed = eris.New("browser: pool closed")

	// ErrAcquireTimeout is returned when no worker frees up within the
	// configured acquire timeout.
	ErrAcquireTimeout = eris.New("browser: timed out waiting for a free worker")

	// ErrNotInitialized is returned by Acquire before Init has run.
	ErrNotInitialized = eris.New("browser: pool not initialized")
)

// Options configures a Pool.
type Options struct {
	PoolSize       int
	AcquireTimeout time.Duration
	Headless       bool
	ExecPath       string
}

type worker struct {
	id            int
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
}

func (w *worker) stop() {
	w.cancelBrowser()
	w.cancelAlloc()
}

// Pool hands out leased browser workers. Waiters are served in arrival
// order off a buffered free list.
type Pool struct {
	opts    Options
	metrics *metrics.Metrics
	launch  func(id int) (*worker, error)

	mu          sync.Mutex
	workers     []*worker
	free        chan *worker
	done        chan struct{}
	inUse       int
	initialized bool
	closed      bool
}

// NewPool creates an empty pool. No browsers start until Init.
func NewPool(opts Options, m *metrics.Metrics) *Pool {
	p := &Pool{
		opts:    opts,
		metrics: m,
		done:    make(chan struct{}),
	}
	p.launch = p.launchChrome
	return p
}

// Init launches the configured number of browsers. Calling it again after a
// successful Init is a no-op. If any launch fails, the browsers already
// started are torn down and the pool stays uninitialized so a later Init can
// retry.
func (p *Pool) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	if p.initialized {
		return nil
	}

	free := make(chan *worker, p.opts.PoolSize)
	var started []*worker
	for i := 0; i < p.opts.PoolSize; i++ {
		if err := ctx.Err(); err != nil {
			stopAll(started)
			return eris.Wrap(err, "browser: init")
		}
		w, err := p.launch(i)
		if err != nil {
			stopAll(started)
			return eris.Wrapf(err, "browser: launch worker %d", i)
		}
		started = append(started, w)
		free <- w
	}

	p.workers = started
	p.free = free
	p.initialized = true
	p.publishGauges()

	zap.L().Info("browser: pool initialized", zap.Int("workers", len(started)))
	return nil
}

// Acquire blocks until a worker is free and returns a lease on it. It fails
// with ErrAcquireTimeout after the configured wait, or ErrPoolClosed if
// Close is called while waiting.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if !p.initialized {
		p.mu.Unlock()
		return nil, ErrNotInitialized
	}
	free := p.free
	p.mu.Unlock()

	timer := time.NewTimer(p.opts.AcquireTimeout)
	defer timer.Stop()

	select {
	case w := <-free:
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		p.inUse++
		p.publishGauges()
		p.mu.Unlock()
		return &Lease{pool: p, worker: w}, nil
	case <-p.done:
		return nil, ErrPoolClosed
	case <-timer.C:
		return nil, ErrAcquireTimeout
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "browser: acquire")
	}
}

// Stats reports a snapshot of pool occupancy.
type Stats struct {
	Total       int
	InUse       int
	Available   int
	Initialized bool
}

// Stats returns the current pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Total:       len(p.workers),
		InUse:       p.inUse,
		Available:   len(p.free),
		Initialized: p.initialized && !p.closed,
	}
}

// Close tears down every browser, leased ones included, and wakes any
// blocked Acquire with ErrPoolClosed. It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)

	workers := p.workers
	p.workers = nil
	p.free = nil
	p.inUse = 0
	p.publishGauges()
	p.mu.Unlock()

	stopAll(workers)
	if len(workers) > 0 {
		zap.L().Info("browser: pool closed", zap.Int("workers", len(workers)))
	}
}

// release returns a worker to the free list. After Close the worker has
// already been stopped, so it is simply dropped.
func (p *Pool) release(w *worker) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.inUse--
	p.free <- w
	p.publishGauges()
}

// publishGauges must be called with p.mu held.
func (p *Pool) publishGauges() {
	if p.metrics == nil {
		return
	}
	p.metrics.SetPoolWorkers(len(p.workers), p.inUse, len(p.free))
}

func stopAll(ws []*worker) {
	for _, w := range ws {
		w.stop()
	}
}

func (p *Pool) launchChrome(id int) (*worker, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(UserAgent),
	)
	if p.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(p.opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(chromedpLogf),
		chromedp.WithErrorf(chromedpErrorf),
	)

	// An empty task list forces the browser process to start now, so a
	// broken Chrome install fails Init instead of the first page load.
	warmCtx, cancelWarm := context.WithTimeout(browserCtx, startTimeout)
	defer cancelWarm()
	if err := chromedp.Run(warmCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, eris.Wrapf(err, "browser: start chrome worker %d", id)
	}

	return &worker{
		id:            id,
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
	}, nil
}

func chromedpLogf(format string, args ...interface{}) {
	zap.L().Sugar().Debugf("browser: "+format, args...)
}

func chromedpErrorf(format string, args ...interface{}) {
	zap.L().Sugar().Warnf("browser: "+format, args...)
}

// Lease is exclusive use of one pooled browser. Callers open tabs with
// NewContext and must call Release when done; Release also closes any tabs
// still open on the lease.
type Lease struct {
	pool   *Pool
	worker *worker

	mu       sync.Mutex
	released bool
	cancels  []context.CancelFunc
}

// NewContext opens a fresh tab on the leased browser with the standard
// viewport applied. The returned cancel closes the tab; Release calls it
// too if the caller has not.
func (l *Lease) NewContext() (context.Context, context.CancelFunc, error) {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return nil, nil, eris.New("browser: lease already released")
	}
	tabCtx, cancel := chromedp.NewContext(l.worker.browserCtx)
	l.cancels = append(l.cancels, cancel)
	l.mu.Unlock()

	if err := chromedp.Run(tabCtx, chromedp.EmulateViewport(viewportWidth, viewportHeight)); err != nil {
		cancel()
		return nil, nil, eris.Wrap(err, "browser: open tab")
	}
	return tabCtx, cancel, nil
}

// Release returns the worker to the pool. Calling it more than once is
// safe; only the first call has any effect.
func (l *Lease) Release() {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	cancels := l.cancels
	l.cancels = nil
	l.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	l.pool.release(l.worker)
}

// FindBinary locates a Chrome or Chromium executable: CHROME_BIN first,
// then PATH, then well-known install locations. It returns "" when nothing
// is found so chromedp falls back to its own lookup.
func FindBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	for _, name := range []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	for _, path := range []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
	} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
