// Package blackbox provides the structured event sink used across the routing
// engine for flight-recorder style diagnostics.
//
// Every noteworthy decision on the hot path (tier selections, budget gates,
// quick-answer usage, extraction failures, section trail markers) is emitted
// as an [Event] with tenant and call scoping. Emission is at-least-once and
// must never block or fail the caller: sinks that cannot accept an event drop
// it after logging a warning.
//
// The default [SlogSink] writes events through log/slog. Tests use
// [MemorySink] to assert on emitted events without parsing log output.
package blackbox

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Event types emitted by the routing engine. The names form a stable contract
// with downstream log analysis; do not rename casually.
const (
	EventTier1FastMatch      = "TIER3_FAST_MATCH"
	EventTier2EmbeddingMatch = "TIER3_EMBEDDING_MATCH"
	EventTier3LLMCalled      = "TIER3_LLM_FALLBACK_CALLED"
	EventTierExit            = "TIER3_EXIT"
	EventRoutingError        = "ROUTING_ERROR"
	EventBudgetWarning       = "BUDGET_WARNING"
	EventBudgetExceeded      = "BUDGET_EXCEEDED"
	EventQuickAnswerUsed     = "QUICK_ANSWER_USED"
	EventReservedStrategy    = "RESERVED_STRATEGY"
	EventNoNameFallback      = "LAZY_NONAME_FALLBACK"
	EventExtractionError     = "S3_EXTRACTION_ERROR"
	EventSourceSkipped       = "KNOWLEDGE_SOURCE_SKIP"
	EventCoreRuntimeError    = "CORE_RUNTIME_ERROR"

	// Section trail markers. The dialogue turn processor emits one per
	// completed section so that an unexpected failure can be located by its
	// last marker.
	EventSectionRuntimeOwner   = "SECTION_S1_RUNTIME_OWNER"
	EventSectionSlotExtraction = "SECTION_S3_SLOT_EXTRACTION"
)

// Event is a single structured occurrence scoped to a tenant and, when
// available, a call.
type Event struct {
	// Type is one of the Event* constants above.
	Type string

	// TenantID scopes the event to a tenant. Required.
	TenantID string

	// CallID scopes the event to a call. May be empty for events raised
	// outside a live call (e.g., cache warm-up).
	CallID string

	// Timestamp is when the event occurred. Sinks fill it in when zero.
	Timestamp time.Time

	// Fields carries event-specific detail (scores, source names, costs).
	Fields map[string]any
}

// Logger is the event sink interface. Implementations must be safe for
// concurrent use, must never block for longer than a log write, and must
// never return an error to the caller; failures are swallowed after a
// warning log.
type Logger interface {
	Emit(ctx context.Context, e Event)
}

// SlogSink writes events through a [slog.Logger].
type SlogSink struct {
	log *slog.Logger
}

// Compile-time interface check.
var _ Logger = (*SlogSink)(nil)

// NewSlogSink creates a SlogSink. Pass nil to use slog.Default().
func NewSlogSink(log *slog.Logger) *SlogSink {
	if log == nil {
		log = slog.Default()
	}
	return &SlogSink{log: log}
}

// Emit implements [Logger].
func (s *SlogSink) Emit(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	attrs := make([]any, 0, 6+2*len(e.Fields))
	attrs = append(attrs, "event", e.Type, "tenant_id", e.TenantID)
	if e.CallID != "" {
		attrs = append(attrs, "call_id", e.CallID)
	}
	for k, v := range e.Fields {
		attrs = append(attrs, k, v)
	}
	s.log.InfoContext(ctx, "blackbox event", attrs...)
}

// MemorySink records events in memory for test assertions.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// Compile-time interface check.
var _ Logger = (*MemorySink)(nil)

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit implements [Logger].
func (m *MemorySink) Emit(_ context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

// Events returns a snapshot of all recorded events in emission order.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Has reports whether at least one event of the given type was recorded.
func (m *MemorySink) Has(t string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.Type == t {
			return true
		}
	}
	return false
}

// ByType returns all recorded events with the given type.
func (m *MemorySink) ByType(t string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Nop is a Logger that discards all events. Useful as a default when callers
// pass nil.
type Nop struct{}

// Emit implements [Logger].
func (Nop) Emit(context.Context, Event) {}
