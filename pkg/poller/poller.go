// Package poller periodically fetches terminal content for each registered
// pane via an external CLI and hands changed snapshots to a callback.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Defaults for the polling schedule and the per-source failure backoff.
const (
	DefaultInterval    = 150 * time.Millisecond
	DefaultBaseBackoff = 1 * time.Second
	DefaultMaxBackoff  = 30 * time.Second
)

// SnapshotFunc receives raw pane content whenever a fetch returns something
// different from the previous fetch.
type SnapshotFunc func(paneID, content string, takenAt time.Time)

// TrackedSource is the externally visible state of one polled pane.
type TrackedSource struct {
	PaneID            string    `json:"pane_id"`
	Title             string    `json:"title,omitempty"`
	LastReadAt        time.Time `json:"last_read_at"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	BackoffUntil      time.Time `json:"backoff_until"`
}

// source is the internal per-pane polling state, owned by the Poller.
type source struct {
	TrackedSource
	lastContent string
	generation  uint64 // bumped on remove+re-add to discard stale in-flight results
}

// Options configures a Poller. Zero values fall back to the defaults above.
type Options struct {
	Interval    time.Duration
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Poller owns the set of tracked sources and the polling loop. Each tick it
// launches one fetch per eligible source in parallel, waits for all of them,
// and sleeps until the next tick. Failed sources back off exponentially but
// are never given up on.
type Poller struct {
	fetcher  Fetcher
	onChange SnapshotFunc
	opts     Options

	mu      sync.Mutex
	sources map[string]*source
	nextGen uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Poller delivering changed snapshots to onChange.
func New(fetcher Fetcher, onChange SnapshotFunc, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = DefaultBaseBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	return &Poller{
		fetcher:  fetcher,
		onChange: onChange,
		opts:     opts,
		sources:  make(map[string]*source),
	}
}

// AddSource registers a pane for polling. Idempotent: re-adding an existing
// pane only refreshes its title.
func (p *Poller) AddSource(paneID, title string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.sources[paneID]; ok {
		if title != "" {
			existing.Title = title
		}
		return
	}
	p.nextGen++
	p.sources[paneID] = &source{
		TrackedSource: TrackedSource{PaneID: paneID, Title: title},
		generation:    p.nextGen,
	}
	slog.Info("Tracking pane", "pane_id", paneID, "title", title)
}

// RemoveSource drops a pane's polling state. Any in-flight fetch result for
// it is discarded upon delivery.
func (p *Poller) RemoveSource(paneID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.sources[paneID]; ok {
		delete(p.sources, paneID)
		slog.Info("Untracking pane", "pane_id", paneID)
	}
}

// Tracked returns a snapshot of all tracked sources.
func (p *Poller) Tracked() []TrackedSource {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]TrackedSource, 0, len(p.sources))
	for _, src := range p.sources {
		out = append(out, src.TrackedSource)
	}
	return out
}

// Tracks reports whether paneID is currently registered.
func (p *Poller) Tracks(paneID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sources[paneID]
	return ok
}

// Start launches the polling loop. Stop (or ctx cancellation) ends it.
func (p *Poller) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		p.run(loopCtx)
	}()
	slog.Info("Poller started", "interval", p.opts.Interval)
}

// Stop ends the polling loop and waits for in-flight fetches to settle.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		<-p.done
	}
	slog.Info("Poller stopped")
}

func (p *Poller) run(ctx context.Context) {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx, time.Now())
		}
	}
}

// fetchResult carries one settled fetch back to the apply phase.
type fetchResult struct {
	paneID     string
	generation uint64
	content    string
	takenAt    time.Time
	err        error
}

// pollOnce fetches every eligible source in parallel and applies all
// settlements before returning.
func (p *Poller) pollOnce(ctx context.Context, now time.Time) {
	p.mu.Lock()
	eligible := make([]*source, 0, len(p.sources))
	for _, src := range p.sources {
		if now.Before(src.BackoffUntil) {
			continue
		}
		eligible = append(eligible, src)
	}
	// Capture the identity fields under the lock; fetches run without it.
	type fetchTarget struct {
		paneID     string
		generation uint64
	}
	targets := make([]fetchTarget, len(eligible))
	for i, src := range eligible {
		targets[i] = fetchTarget{paneID: src.PaneID, generation: src.generation}
	}
	p.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	results := make([]fetchResult, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, paneID string, generation uint64) {
			defer wg.Done()
			takenAt := time.Now()
			content, err := p.fetcher.Fetch(ctx, paneID)
			results[i] = fetchResult{
				paneID:     paneID,
				generation: generation,
				content:    content,
				takenAt:    takenAt,
				err:        err,
			}
		}(i, target.paneID, target.generation)
	}
	wg.Wait()

	for _, res := range results {
		p.apply(res)
	}
}

// apply folds one fetch settlement into the source state and invokes the
// snapshot callback outside the lock.
func (p *Poller) apply(res fetchResult) {
	p.mu.Lock()
	src, ok := p.sources[res.paneID]
	if !ok || src.generation != res.generation {
		// Source removed (or removed and re-added) while the fetch was in
		// flight; discard the result.
		p.mu.Unlock()
		return
	}

	if res.err != nil {
		src.ConsecutiveErrors++
		errs := src.ConsecutiveErrors
		backoff := p.backoffFor(errs)
		src.BackoffUntil = res.takenAt.Add(backoff)
		p.mu.Unlock()
		slog.Warn("Pane fetch failed",
			"pane_id", res.paneID,
			"consecutive_errors", errs,
			"backoff", backoff,
			"error", res.err)
		return
	}

	src.ConsecutiveErrors = 0
	src.BackoffUntil = time.Time{}
	src.LastReadAt = res.takenAt

	changed := res.content != src.lastContent
	if changed {
		src.lastContent = res.content
	}
	p.mu.Unlock()

	if changed {
		p.onChange(res.paneID, res.content, res.takenAt)
	}
}

// backoffFor computes min(base * 2^(n-1), max) for the nth consecutive error.
func (p *Poller) backoffFor(consecutiveErrors int) time.Duration {
	backoff := p.opts.BaseBackoff
	for i := 1; i < consecutiveErrors; i++ {
		backoff *= 2
		if backoff >= p.opts.MaxBackoff {
			return p.opts.MaxBackoff
		}
	}
	if backoff > p.opts.MaxBackoff {
		return p.opts.MaxBackoff
	}
	return backoff
}
