// Package observe provides application-wide observability primitives for
// FrontDesk: OpenTelemetry metrics and the SDK provider bootstrap.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all FrontDesk metrics.
const meterName = "github.com/chatterlinx/frontdesk"

// Metrics holds all OpenTelemetry metric instruments for the routing engine.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TierDuration tracks per-tier routing latency. Use with attribute:
	//   attribute.String("tier", "1"|"2"|"3")
	TierDuration metric.Float64Histogram

	// KnowledgeSourceDuration tracks per-source query latency in the priority
	// knowledge router. Use with attribute.String("source", ...).
	KnowledgeSourceDuration metric.Float64Histogram

	// LLMDuration tracks LLM round-trip latency by brain role.
	// Use with attribute.String("brain", "dialogue"|"fallback"|"admin").
	LLMDuration metric.Float64Histogram

	// TurnDuration tracks end-to-end dialogue turn processing latency.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// TierSelections counts routing outcomes. Use with attributes:
	//   attribute.String("tier", ...), attribute.String("status", "match"|"no_match")
	TierSelections metric.Int64Counter

	// LLMRequests counts gateway calls by brain role and status.
	LLMRequests metric.Int64Counter

	// LLMErrors counts gateway failures by brain role and cause.
	LLMErrors metric.Int64Counter

	// CacheHits counts routing-cache lookups. Use with
	// attribute.String("result", "hit"|"miss").
	CacheHits metric.Int64Counter

	// BudgetExceeded counts Tier-3 calls refused on budget grounds.
	BudgetExceeded metric.Int64Counter

	// QuickAnswerHits counts quick-answer short circuits.
	QuickAnswerHits metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of calls with a live turn in flight.
	ActiveCalls metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for routing-path latencies: sub-50ms cheap paths through multi-second LLM
// fallbacks.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TierDuration, err = m.Float64Histogram("frontdesk.tier.duration",
		metric.WithDescription("Latency of a single routing tier."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.KnowledgeSourceDuration, err = m.Float64Histogram("frontdesk.knowledge.source.duration",
		metric.WithDescription("Latency of a single knowledge source query."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("frontdesk.llm.duration",
		metric.WithDescription("LLM round-trip latency by brain role."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("frontdesk.turn.duration",
		metric.WithDescription("End-to-end dialogue turn processing latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TierSelections, err = m.Int64Counter("frontdesk.tier.selections",
		metric.WithDescription("Routing outcomes by tier and status."),
	); err != nil {
		return nil, err
	}
	if met.LLMRequests, err = m.Int64Counter("frontdesk.llm.requests",
		metric.WithDescription("Gateway LLM requests by brain role and status."),
	); err != nil {
		return nil, err
	}
	if met.LLMErrors, err = m.Int64Counter("frontdesk.llm.errors",
		metric.WithDescription("Gateway LLM failures by brain role and cause."),
	); err != nil {
		return nil, err
	}
	if met.CacheHits, err = m.Int64Counter("frontdesk.cache.lookups",
		metric.WithDescription("Routing-cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.BudgetExceeded, err = m.Int64Counter("frontdesk.budget.exceeded",
		metric.WithDescription("Tier-3 calls refused because the tenant budget was exhausted."),
	); err != nil {
		return nil, err
	}
	if met.QuickAnswerHits, err = m.Int64Counter("frontdesk.quick_answer.hits",
		metric.WithDescription("Quick-answer short circuits by tenant."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("frontdesk.active_calls",
		metric.WithDescription("Number of calls with a live turn in flight."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTierSelection records a routing outcome for the given tier.
func (m *Metrics) RecordTierSelection(ctx context.Context, tier, status string) {
	m.TierSelections.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tier", tier),
			attribute.String("status", status),
		),
	)
}

// RecordLLMRequest records a gateway request with the standard attribute set.
func (m *Metrics) RecordLLMRequest(ctx context.Context, brain, status string) {
	m.LLMRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("brain", brain),
			attribute.String("status", status),
		),
	)
}

// RecordLLMError records a gateway failure with the standard attribute set.
func (m *Metrics) RecordLLMError(ctx context.Context, brain, cause string) {
	m.LLMErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("brain", brain),
			attribute.String("cause", cause),
		),
	)
}

// RecordCacheLookup records a routing-cache lookup result ("hit" or "miss").
func (m *Metrics) RecordCacheLookup(ctx context.Context, result string) {
	m.CacheHits.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}
