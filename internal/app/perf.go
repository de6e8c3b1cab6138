package app

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// perfInterval is the aggregation window for performance samples.
const perfInterval = 15 * time.Minute

// Sample is one query's contribution to the interval stats.
type Sample struct {
	Matched bool
	Tier    int
	Latency time.Duration
	Cost    float64
}

// IntervalStats is one flushed aggregation window.
type IntervalStats struct {
	TenantID      string        `json:"tenantId"`
	IntervalStart time.Time     `json:"intervalStart"`
	Queries       int           `json:"queries"`
	Matches       int           `json:"matches"`
	TierCounts    [4]int        `json:"tierCounts"`
	TotalLatency  time.Duration `json:"totalLatency"`
	TotalCost     float64       `json:"totalCost"`
}

// FlushFunc receives completed intervals. It must not block for long; the
// tracker calls it from its run loop and from Close.
type FlushFunc func(ctx context.Context, stats []IntervalStats)

// intervalKey identifies one aggregation bucket.
type intervalKey struct {
	tenantID string
	start    time.Time
}

// PerfTracker buffers per-tenant query statistics in 15-minute intervals
// and flushes each interval after it ends. Recording is cheap and never
// blocks on the flush sink. Lost ticks lose at most the affected intervals,
// never corrupt later ones.
type PerfTracker struct {
	interval time.Duration
	now      func() time.Time
	flush    FlushFunc
	logger   *slog.Logger

	mu  sync.Mutex
	buf map[intervalKey]*IntervalStats
}

// TrackerOption configures a [PerfTracker].
type TrackerOption func(*PerfTracker)

// WithFlushFunc sets the flush sink. Defaults to logging the interval.
func WithFlushFunc(f FlushFunc) TrackerOption {
	return func(t *PerfTracker) { t.flush = f }
}

// WithTrackerClock overrides the time source. For tests.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *PerfTracker) { t.now = now }
}

// WithTrackerInterval overrides the aggregation window. For tests.
func WithTrackerInterval(d time.Duration) TrackerOption {
	return func(t *PerfTracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithTrackerLogger sets the structured logger. Defaults to slog.Default.
func WithTrackerLogger(l *slog.Logger) TrackerOption {
	return func(t *PerfTracker) { t.logger = l }
}

// NewPerfTracker creates an empty tracker.
func NewPerfTracker(opts ...TrackerOption) *PerfTracker {
	t := &PerfTracker{
		interval: perfInterval,
		now:      time.Now,
		logger:   slog.Default(),
		buf:      make(map[intervalKey]*IntervalStats),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.flush == nil {
		t.flush = t.logFlush
	}
	return t
}

// Record adds one sample to the tenant's current interval.
func (t *PerfTracker) Record(tenantID string, s Sample) {
	if tenantID == "" {
		return
	}
	start := t.now().Truncate(t.interval)
	key := intervalKey{tenantID: tenantID, start: start}

	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.buf[key]
	if !ok {
		st = &IntervalStats{TenantID: tenantID, IntervalStart: start}
		t.buf[key] = st
	}
	st.Queries++
	if s.Matched {
		st.Matches++
	}
	if s.Tier >= 1 && s.Tier <= 3 {
		st.TierCounts[s.Tier]++
	}
	st.TotalLatency += s.Latency
	st.TotalCost += s.Cost
}

// FlushEnded hands every interval that ended before now to the flush sink
// and returns the number flushed.
func (t *PerfTracker) FlushEnded(ctx context.Context) int {
	cutoff := t.now().Truncate(t.interval)
	return t.flushWhere(ctx, func(k intervalKey) bool { return k.start.Before(cutoff) })
}

// Close flushes everything, including the current interval. Call on
// shutdown.
func (t *PerfTracker) Close(ctx context.Context) {
	t.flushWhere(ctx, func(intervalKey) bool { return true })
}

func (t *PerfTracker) flushWhere(ctx context.Context, pick func(intervalKey) bool) int {
	t.mu.Lock()
	var out []IntervalStats
	for k, st := range t.buf {
		if pick(k) {
			out = append(out, *st)
			delete(t.buf, k)
		}
	}
	t.mu.Unlock()

	if len(out) > 0 {
		t.flush(ctx, out)
	}
	return len(out)
}

// Run flushes ended intervals periodically until ctx is cancelled. Call
// from a goroutine; pair with Close for the final flush.
func (t *PerfTracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.FlushEnded(ctx)
		}
	}
}

// logFlush is the default sink.
func (t *PerfTracker) logFlush(_ context.Context, stats []IntervalStats) {
	for _, st := range stats {
		avg := time.Duration(0)
		if st.Queries > 0 {
			avg = st.TotalLatency / time.Duration(st.Queries)
		}
		t.logger.Info("app: performance interval",
			"tenant_id", st.TenantID,
			"interval_start", st.IntervalStart,
			"queries", st.Queries,
			"matches", st.Matches,
			"tier1", st.TierCounts[1],
			"tier2", st.TierCounts[2],
			"tier3", st.TierCounts[3],
			"avg_latency", avg,
			"cost", st.TotalCost,
		)
	}
}
