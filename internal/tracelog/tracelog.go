// Package tracelog ships structured per-turn records to an external sink.
//
// Logging is fire-and-forget: LogTurn never blocks the caller and never
// returns an error. Records are dropped (with a counter) when the buffer is
// full or the sink is down; losing a trace must never affect a live call.
package tracelog

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Record is one dialogue turn's trace.
type Record struct {
	TraceID    string    `json:"traceId"`
	CallID     string    `json:"callId"`
	TenantID   string    `json:"tenantId"`
	TurnNumber int       `json:"turnNumber"`
	Timestamp  time.Time `json:"timestamp"`

	// Input is the caller utterance and its provenance.
	Input map[string]any `json:"input,omitempty"`

	// FrontlineIntel holds shortcut-responder and triage findings.
	FrontlineIntel map[string]any `json:"frontlineIntel,omitempty"`

	// Decision describes the routing outcome (tier, source, scenario).
	Decision map[string]any `json:"orchestratorDecision,omitempty"`

	// KnowledgeLookup is the priority-flow trail.
	KnowledgeLookup map[string]any `json:"knowledgeLookup,omitempty"`

	// BookingAction records slot progress and booking movement.
	BookingAction map[string]any `json:"bookingAction,omitempty"`

	// Output is the final reply and its strategy.
	Output map[string]any `json:"output,omitempty"`

	// Performance and Cost are the turn's latency and spend figures.
	Performance map[string]any `json:"performance,omitempty"`
	Cost        map[string]any `json:"cost,omitempty"`

	// ContextSnapshot is a compact view of the call state after the turn.
	ContextSnapshot map[string]any `json:"contextSnapshot,omitempty"`
}

// Logger accepts turn records. Implementations must never block and never
// panic; the returned trace ID is advisory.
type Logger interface {
	LogTurn(rec Record) string
}

// Sink is where the async logger delivers records. Delivery errors are
// logged and swallowed.
type Sink interface {
	Deliver(ctx context.Context, rec Record) error
}

// Nop discards all records.
type Nop struct{}

// LogTurn implements Logger.
func (Nop) LogTurn(Record) string { return "" }

// defaultBufferSize bounds the async queue.
const defaultBufferSize = 256

// Async is a buffered, non-blocking [Logger] that delivers records to a Sink
// from a background goroutine.
type Async struct {
	sink    Sink
	logger  *slog.Logger
	ch      chan Record
	dropped atomic.Int64

	// mu guards closed so that no enqueue can race the channel close.
	mu     sync.RWMutex
	closed bool

	stopOnce sync.Once
	done     chan struct{}
}

// AsyncOption configures an [Async].
type AsyncOption func(*Async)

// WithBufferSize overrides the queue capacity.
func WithBufferSize(n int) AsyncOption {
	return func(a *Async) {
		if n > 0 {
			a.ch = make(chan Record, n)
		}
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) AsyncOption {
	return func(a *Async) { a.logger = l }
}

// NewAsync creates an Async logger and starts its delivery goroutine.
func NewAsync(sink Sink, opts ...AsyncOption) *Async {
	a := &Async{
		sink:   sink,
		logger: slog.Default(),
		ch:     make(chan Record, defaultBufferSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	go a.run()
	return a
}

// LogTurn implements Logger. It assigns a trace ID, stamps the record, and
// enqueues it; a full queue or a closed logger drops the record.
func (a *Async) LogTurn(rec Record) string {
	rec.TraceID = uuid.NewString()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return rec.TraceID
	}
	select {
	case a.ch <- rec:
	default:
		if n := a.dropped.Add(1); n%100 == 1 {
			a.logger.Warn("tracelog: queue full, dropping turn records", "dropped_total", n)
		}
	}
	return rec.TraceID
}

// Dropped returns the number of records dropped so far.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops the delivery goroutine after draining the queue. Records
// logged after Close are dropped.
func (a *Async) Close() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()
		close(a.ch)
		<-a.done
	})
}

// run delivers queued records until the channel closes.
func (a *Async) run() {
	defer close(a.done)
	for rec := range a.ch {
		func() {
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("tracelog: sink panicked", "panic", r)
				}
			}()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.sink.Deliver(ctx, rec); err != nil {
				a.logger.Warn("tracelog: delivery failed",
					"call_id", rec.CallID, "turn", rec.TurnNumber, "error", err)
			}
		}()
	}
}

// SlogSink writes records to the structured log. Useful in development and
// as a default when no external trace store is configured.
type SlogSink struct {
	Logger *slog.Logger
}

// Deliver implements Sink.
func (s SlogSink) Deliver(_ context.Context, rec Record) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Info("turn trace",
		"trace_id", rec.TraceID,
		"call_id", rec.CallID,
		"tenant_id", rec.TenantID,
		"turn", rec.TurnNumber,
		"decision", rec.Decision,
		"output", rec.Output,
		"performance", rec.Performance)
	return nil
}
