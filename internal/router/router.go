// Package router implements the tiered routing engine: rule-based Tier-1,
// semantic Tier-2, and the budget-gated Tier-3 LLM fallback.
//
// Within one query the tiers run strictly in sequence; a routing-cache hit
// short-circuits Tiers 2 and 3. Tiers 1 and 2 are free; Tier-3 consumes the
// tenant's monthly budget and is gated on the tenant switch, the global
// switch, and the remaining budget. The per-tenant spend increment is the
// only hot-path write in the system and goes through the store atomically.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/chatterlinx/frontdesk/internal/blackbox"
	"github.com/chatterlinx/frontdesk/internal/cache"
	"github.com/chatterlinx/frontdesk/internal/gateway"
	"github.com/chatterlinx/frontdesk/internal/match/hybrid"
	"github.com/chatterlinx/frontdesk/internal/match/semantic"
	"github.com/chatterlinx/frontdesk/internal/observe"
	"github.com/chatterlinx/frontdesk/internal/scenario"
	"github.com/chatterlinx/frontdesk/internal/store"
	"github.com/chatterlinx/frontdesk/pkg/types"
)

// Defaults applied when the tenant gatekeeper leaves a knob unset.
const (
	defaultTier1Threshold = 0.7
	defaultTier2Threshold = 0.75

	// defaultEstimatedTier3Cost is the pre-call budget check amount, in
	// dollars, when the config leaves it unset.
	defaultEstimatedTier3Cost = 0.50

	// budgetWarnFraction triggers the budget-warning event.
	budgetWarnFraction = 0.8

	// routingCacheTTL bounds staleness of cached routing decisions.
	routingCacheTTL = 5 * time.Minute

	// tier3Temperature keeps the classifier deterministic-ish.
	tier3Temperature = 0.3
	tier3MaxTokens   = 200
)

// Config holds process-wide router settings.
type Config struct {
	// Tier3Enabled is the global Tier-3 switch (TIER_3_ENABLED).
	Tier3Enabled bool

	// PriceInPer1K and PriceOutPer1K convert token usage to dollars.
	PriceInPer1K  float64
	PriceOutPer1K float64

	// EstimatedCallCost is the pre-call budget check amount. Zero uses the
	// default of 0.50.
	EstimatedCallCost float64
}

// Query is one routing request.
type Query struct {
	TenantID  string
	CallID    string
	Utterance string
	Channel   types.Channel

	// Pool is the tenant's normalized, enabled scenario pool.
	Pool *scenario.Pool

	// Gatekeeper is the tenant's tier thresholds and budget ledger. A zero
	// value degrades to Tier-1 only with default thresholds.
	Gatekeeper store.Gatekeeper

	// Context is the Tier-1 conversational evidence.
	Context hybrid.Context
}

// Result is the routing outcome. A nil Scenario means no-match.
type Result struct {
	Scenario   *scenario.Scenario
	Confidence float64

	// Tier that matched: 1, 2, or 3. Zero on no-match.
	Tier int

	// Cost is the dollar cost of this query (non-zero only for Tier-3).
	Cost float64

	// Reasoning is the Tier-3 classifier's explanation, when available.
	Reasoning string

	// Cached reports a routing-cache hit.
	Cached bool
}

// cachedDecision is the routing-cache entry shape.
type cachedDecision struct {
	ScenarioID string  `json:"scenarioId"`
	Confidence float64 `json:"confidence"`
	Tier       int     `json:"tier"`
}

// Router runs the three tiers. Safe for concurrent use.
type Router struct {
	cfg      Config
	selector *hybrid.Selector
	matcher  Tier2Matcher
	gw       *gateway.Gateway
	ledger   store.Store
	cache    *cache.Layer
	metrics  *observe.Metrics
	events   blackbox.Logger
	logger   *slog.Logger
}

// Option configures a [Router].
type Option func(*Router)

// WithSelector sets the Tier-1 selector.
func WithSelector(s *hybrid.Selector) Option {
	return func(r *Router) { r.selector = s }
}

// Tier2Matcher is the Tier-2 contract: score the utterance against the
// tenant's pool and return the best candidate. The in-process TF-IDF matcher
// is the default; the pgvector-backed matcher serves it when an embeddings
// provider is configured.
type Tier2Matcher interface {
	Select(ctx context.Context, tenantID, utterance string, pool *scenario.Pool) semantic.Match
}

// localMatcher adapts the in-process semantic matcher, which needs no I/O.
type localMatcher struct {
	m *semantic.Matcher
}

func (l localMatcher) Select(_ context.Context, _ string, utterance string, pool *scenario.Pool) semantic.Match {
	return l.m.Select(utterance, pool)
}

// WithMatcher sets the Tier-2 matcher.
func WithMatcher(m Tier2Matcher) Option {
	return func(r *Router) { r.matcher = m }
}

// WithGateway sets the LLM gateway for Tier-3. A nil gateway disables Tier-3.
func WithGateway(gw *gateway.Gateway) Option {
	return func(r *Router) { r.gw = gw }
}

// WithLedger sets the store used for atomic spend increments.
func WithLedger(s store.Store) Option {
	return func(r *Router) { r.ledger = s }
}

// WithCache sets the routing cache layer. A nil layer disables caching.
func WithCache(c *cache.Layer) Option {
	return func(r *Router) { r.cache = c }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithEvents sets the blackbox event sink. Defaults to [blackbox.Nop].
func WithEvents(l blackbox.Logger) Option {
	return func(r *Router) { r.events = l }
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New creates a Router with the given config.
func New(cfg Config, opts ...Option) *Router {
	r := &Router{
		cfg:      cfg,
		selector: hybrid.NewSelector(),
		matcher:  localMatcher{semantic.NewMatcher()},
		events:   blackbox.Nop{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cfg.EstimatedCallCost <= 0 {
		r.cfg.EstimatedCallCost = defaultEstimatedTier3Cost
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Route runs the tier sequence for one query.
func (r *Router) Route(ctx context.Context, q Query) Result {
	if strings.TrimSpace(q.Utterance) == "" || q.Pool == nil || q.Pool.Len() == 0 {
		return Result{}
	}

	t1, t2 := q.Gatekeeper.Tier1Threshold, q.Gatekeeper.Tier2Threshold
	if t1 <= 0 {
		t1 = defaultTier1Threshold
	}
	if t2 <= 0 {
		t2 = defaultTier2Threshold
	}

	// An absent gatekeeper degrades to basic template match: Tier-1 only.
	basicOnly := !q.Gatekeeper.Enabled

	normalized := r.selector.Normalize(q.Utterance)
	cacheKey := cache.RoutingKey(q.TenantID, normalized)
	if hit, ok := r.cacheLookup(ctx, cacheKey, q.Pool); ok {
		return hit
	}

	// Tier 1.
	tierStart := time.Now()
	m1 := r.selector.Select(q.Utterance, q.Pool, q.Context)
	r.recordTier(ctx, "1", tierStart, m1.Scenario != nil && m1.Confidence >= t1)
	if m1.Scenario != nil && m1.Confidence >= t1 {
		r.events.Emit(ctx, blackbox.Event{
			Type:     blackbox.EventTier1FastMatch,
			TenantID: q.TenantID,
			CallID:   q.CallID,
			Fields:   map[string]any{"scenario_id": m1.Scenario.ID, "confidence": m1.Confidence},
		})
		res := Result{Scenario: m1.Scenario, Confidence: m1.Confidence, Tier: 1}
		r.cacheStore(ctx, cacheKey, res)
		return res
	}
	if basicOnly {
		r.exit(ctx, q, "gatekeeper disabled")
		return Result{}
	}

	// Tier 2.
	tierStart = time.Now()
	m2 := r.matcher.Select(ctx, q.TenantID, q.Utterance, q.Pool)
	r.recordTier(ctx, "2", tierStart, m2.Scenario != nil && m2.Confidence >= t2)
	if m2.Scenario != nil && m2.Confidence >= t2 {
		r.events.Emit(ctx, blackbox.Event{
			Type:     blackbox.EventTier2EmbeddingMatch,
			TenantID: q.TenantID,
			CallID:   q.CallID,
			Fields:   map[string]any{"scenario_id": m2.Scenario.ID, "confidence": m2.Confidence},
		})
		res := Result{Scenario: m2.Scenario, Confidence: m2.Confidence, Tier: 2}
		r.cacheStore(ctx, cacheKey, res)
		return res
	}

	// Tier 3 gating.
	switch {
	case !q.Gatekeeper.EnableLLMFallback:
		r.exit(ctx, q, "llm fallback disabled for tenant")
		return Result{}
	case !r.cfg.Tier3Enabled:
		r.exit(ctx, q, "tier 3 globally disabled")
		return Result{}
	case r.gw == nil || !r.gw.Available(gateway.RoleFallback):
		r.exit(ctx, q, "fallback llm unavailable")
		return Result{}
	case q.Gatekeeper.BudgetRemaining() <= r.cfg.EstimatedCallCost:
		r.metrics.BudgetExceeded.Add(ctx, 1)
		r.events.Emit(ctx, blackbox.Event{
			Type:     blackbox.EventBudgetExceeded,
			TenantID: q.TenantID,
			CallID:   q.CallID,
			Fields: map[string]any{
				"monthly_budget": q.Gatekeeper.MonthlyBudget,
				"current_spend":  q.Gatekeeper.CurrentSpend,
				"estimated_cost": r.cfg.EstimatedCallCost,
			},
		})
		r.exit(ctx, q, "budget exceeded")
		return Result{}
	}

	// Tier 3.
	tierStart = time.Now()
	res, err := r.tier3(ctx, q)
	r.recordTier(ctx, "3", tierStart, err == nil && res.Scenario != nil)
	if err != nil {
		r.logger.Warn("router: tier 3 failed", "tenant_id", q.TenantID, "error", err)
		r.events.Emit(ctx, blackbox.Event{
			Type:     blackbox.EventRoutingError,
			TenantID: q.TenantID,
			CallID:   q.CallID,
			Fields:   map[string]any{"tier": 3, "error": err.Error()},
		})
		return Result{}
	}
	if res.Scenario == nil {
		r.exit(ctx, q, "tier 3 no match")
		return Result{}
	}
	r.cacheStore(ctx, cacheKey, res)
	return res
}

// tier3Verdict is the classifier's JSON response shape.
type tier3Verdict struct {
	ScenarioID   string  `json:"scenarioId"`
	ScenarioName string  `json:"scenarioName"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
}

// tier3 calls the fallback LLM to classify the utterance against the active
// scenario list, then settles the tenant's budget for the call.
func (r *Router) tier3(ctx context.Context, q Query) (Result, error) {
	resp, err := r.gw.Complete(ctx, gateway.RoleFallback, gateway.Request{
		CallID:       q.CallID,
		TenantID:     q.TenantID,
		SystemPrompt: tier3SystemPrompt,
		Messages: []types.Message{
			{Role: "user", Content: buildTier3Prompt(q.Utterance, q.Pool)},
		},
		Temperature:  tier3Temperature,
		MaxTokens:    tier3MaxTokens,
		JSONResponse: true,
		Metadata:     map[string]string{"tier": "3"},
	})
	if err != nil {
		return Result{}, err
	}

	r.events.Emit(ctx, blackbox.Event{
		Type:     blackbox.EventTier3LLMCalled,
		TenantID: q.TenantID,
		CallID:   q.CallID,
		Fields: map[string]any{
			"model":             resp.Model,
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
		},
	})

	var verdict tier3Verdict
	if err := json.Unmarshal([]byte(resp.Content), &verdict); err != nil {
		return Result{}, fmt.Errorf("router: parse tier 3 verdict: %w", err)
	}

	sc := q.Pool.ByID(verdict.ScenarioID)
	if sc == nil && verdict.ScenarioName != "" {
		for i, cand := range q.Pool.Scenarios() {
			if strings.EqualFold(cand.Name, verdict.ScenarioName) {
				sc = &q.Pool.Scenarios()[i]
				break
			}
		}
	}
	if sc == nil {
		return Result{}, nil
	}

	cost := float64(resp.Usage.PromptTokens)/1000*r.cfg.PriceInPer1K +
		float64(resp.Usage.CompletionTokens)/1000*r.cfg.PriceOutPer1K

	newSpend := q.Gatekeeper.CurrentSpend + cost
	if r.ledger != nil {
		if spend, lerr := r.ledger.IncrementSpend(ctx, q.TenantID, cost); lerr != nil {
			r.logger.Error("router: spend increment failed", "tenant_id", q.TenantID, "error", lerr)
		} else {
			newSpend = spend
		}
	}
	if q.Gatekeeper.MonthlyBudget > 0 && newSpend >= budgetWarnFraction*q.Gatekeeper.MonthlyBudget {
		r.events.Emit(ctx, blackbox.Event{
			Type:     blackbox.EventBudgetWarning,
			TenantID: q.TenantID,
			CallID:   q.CallID,
			Fields: map[string]any{
				"current_spend":  newSpend,
				"monthly_budget": q.Gatekeeper.MonthlyBudget,
			},
		})
	}

	conf := verdict.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return Result{
		Scenario:   sc,
		Confidence: conf,
		Tier:       3,
		Cost:       cost,
		Reasoning:  verdict.Reasoning,
	}, nil
}

// cacheLookup resolves a cached decision against the current pool. A cached
// scenario that no longer exists is treated as a miss.
func (r *Router) cacheLookup(ctx context.Context, key string, pool *scenario.Pool) (Result, bool) {
	if r.cache == nil {
		return Result{}, false
	}
	var dec cachedDecision
	if !r.cache.GetJSON(ctx, key, &dec) {
		r.metrics.RecordCacheLookup(ctx, "miss")
		return Result{}, false
	}
	sc := pool.ByID(dec.ScenarioID)
	if sc == nil {
		r.metrics.RecordCacheLookup(ctx, "miss")
		return Result{}, false
	}
	r.metrics.RecordCacheLookup(ctx, "hit")
	return Result{Scenario: sc, Confidence: dec.Confidence, Tier: dec.Tier, Cached: true}, true
}

// cacheStore records a routing decision.
func (r *Router) cacheStore(ctx context.Context, key string, res Result) {
	if r.cache == nil || res.Scenario == nil {
		return
	}
	r.cache.SetJSON(ctx, key, cachedDecision{
		ScenarioID: res.Scenario.ID,
		Confidence: res.Confidence,
		Tier:       res.Tier,
	}, routingCacheTTL)
}

// recordTier updates the per-tier metrics.
func (r *Router) recordTier(ctx context.Context, tier string, start time.Time, matched bool) {
	r.metrics.TierDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("tier", tier)))
	status := "no_match"
	if matched {
		status = "match"
	}
	r.metrics.RecordTierSelection(ctx, tier, status)
}

// exit emits the tier-exit trail event for a no-match.
func (r *Router) exit(ctx context.Context, q Query, reason string) {
	r.events.Emit(ctx, blackbox.Event{
		Type:     blackbox.EventTierExit,
		TenantID: q.TenantID,
		CallID:   q.CallID,
		Fields:   map[string]any{"reason": reason},
	})
}

// tier3SystemPrompt instructs the fallback model to act as a strict
// classifier.
const tier3SystemPrompt = `You are a call routing classifier for a home-services phone receptionist. ` +
	`Given a caller utterance and a list of scenarios, pick the single best matching scenario. ` +
	`Respond with a JSON object: {"scenarioId": string, "scenarioName": string, "confidence": number between 0 and 1, "reasoning": string}. ` +
	`If nothing fits, use an empty scenarioId and confidence 0.`

// buildTier3Prompt lists the active scenarios for the classifier.
func buildTier3Prompt(utterance string, pool *scenario.Pool) string {
	var b strings.Builder
	b.WriteString("Caller said: ")
	b.WriteString(utterance)
	b.WriteString("\n\nScenarios:\n")
	for _, s := range pool.Scenarios() {
		b.WriteString("- id: ")
		b.WriteString(s.ID)
		b.WriteString(", name: ")
		b.WriteString(s.Name)
		b.WriteString(", type: ")
		b.WriteString(string(s.Type))
		if len(s.Rules.KeywordsMustHave) > 0 {
			b.WriteString(", keywords: ")
			b.WriteString(strings.Join(s.Rules.KeywordsMustHave, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}
