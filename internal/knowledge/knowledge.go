// Package knowledge implements the priority knowledge router: the ordered
// walk over a tenant's knowledge sources that always ends in an answer.
//
// Sources are evaluated in ascending priority. Each source is first gated by
// an O(1) vocabulary pre-filter; a miss records a SKIP and moves on. The
// first source whose confidence clears its threshold wins. The in-house
// fallback source sits at the end of every flow (appended if the tenant
// omits it) and never produces a no-match, so the router's answer is total.
package knowledge

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/chatterlinx/frontdesk/internal/blackbox"
	"github.com/chatterlinx/frontdesk/internal/match/hybrid"
	"github.com/chatterlinx/frontdesk/internal/observe"
	"github.com/chatterlinx/frontdesk/internal/placeholder"
	"github.com/chatterlinx/frontdesk/internal/response"
	"github.com/chatterlinx/frontdesk/internal/scenario"
	"github.com/chatterlinx/frontdesk/internal/store"
	"github.com/chatterlinx/frontdesk/pkg/types"
)

// Blend weights for curated-content scoring: keyword coverage dominates,
// text similarity refines.
const (
	textSimWeight  = 0.4
	coverageWeight = 0.6
)

// inHouseMatchFloor is the keyword-match cutoff above which a canned category
// answers; below it the ultimate fallback speaks.
const inHouseMatchFloor = 0.3

// Query is one knowledge lookup.
type Query struct {
	TenantID  string
	CallID    string
	Utterance string
	Channel   types.Channel

	// CallerName feeds the response engine's name-safety path.
	CallerName string

	// Tenant is the resolved tenant document.
	Tenant *store.Tenant

	// Pool is the tenant's normalized, enabled scenario pool.
	Pool *scenario.Pool
}

// FlowRecord is one entry of the routing flow trail.
type FlowRecord struct {
	Source     store.Source  `json:"source"`
	Skipped    bool          `json:"skipped"`
	Matched    bool          `json:"matched"`
	Confidence float64       `json:"confidence"`
	Threshold  float64       `json:"threshold"`
	Latency    time.Duration `json:"latency"`
}

// Answer is the router result. Response is never empty: the in-house
// fallback guarantees an answer.
type Answer struct {
	Response   string
	Confidence float64
	Source     store.Source

	// AgentRole is downstream metadata attached by curated content; it never
	// reaches the caller.
	AgentRole string

	// Scenario is set when the instant-responses source won.
	Scenario *scenario.Scenario

	// Rendered is the response-engine output for a scenario win.
	Rendered *response.Result

	// Flow is the per-source trail, in evaluation order.
	Flow []FlowRecord

	// TotalTime is the wall time of the whole walk.
	TotalTime time.Duration
}

// Router walks the priority flow. Safe for concurrent use.
type Router struct {
	selector *hybrid.Selector
	engine   *response.Engine
	metrics  *observe.Metrics
	events   blackbox.Logger
	logger   *slog.Logger
}

// Option configures a [Router].
type Option func(*Router)

// WithSelector sets the Tier-1 selector used by the instant-responses source.
func WithSelector(s *hybrid.Selector) Option {
	return func(r *Router) { r.selector = s }
}

// WithEngine sets the response engine used to render scenario wins.
func WithEngine(e *response.Engine) Option {
	return func(r *Router) { r.engine = e }
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

// NewRouter creates a Router.
func NewRouter(opts ...Option) *Router {
	r := &Router{
		selector: hybrid.NewSelector(),
		engine:   response.NewEngine(),
		events:   blackbox.Nop{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// defaultFlow is used when the tenant configures no priority flow.
var defaultFlow = []store.SourceBinding{
	{Source: store.SourceInstantResponses, Priority: 1, Threshold: 0.55},
	{Source: store.SourceCompanyQnA, Priority: 2, Threshold: 0.75},
	{Source: store.SourceTradeQnA, Priority: 3, Threshold: 0.75},
	{Source: store.SourceTemplates, Priority: 4, Threshold: 0.7},
	{Source: store.SourceInHouseFallback, Priority: 5, Threshold: 0},
}

// Route walks the tenant's priority flow and returns the first answer that
// clears its source threshold. It always answers.
func (r *Router) Route(ctx context.Context, q Query) Answer {
	start := time.Now()
	flow := r.flowFor(q.Tenant)

	ans := Answer{}
	for _, binding := range flow {
		if !binding.IsEnabled() {
			continue
		}

		if skip, reason := r.preFilter(binding.Source, q); skip {
			ans.Flow = append(ans.Flow, FlowRecord{Source: binding.Source, Skipped: true, Threshold: binding.Threshold})
			r.events.Emit(ctx, blackbox.Event{
				Type:     blackbox.EventSourceSkipped,
				TenantID: q.TenantID,
				CallID:   q.CallID,
				Fields:   map[string]any{"source": string(binding.Source), "reason": reason},
			})
			continue
		}

		srcStart := time.Now()
		hit := r.querySource(ctx, binding.Source, q)
		latency := time.Since(srcStart)
		r.metrics.KnowledgeSourceDuration.Record(ctx, latency.Seconds(),
			metric.WithAttributes(observe.Attr("source", string(binding.Source))))

		rec := FlowRecord{
			Source:     binding.Source,
			Confidence: hit.confidence,
			Threshold:  binding.Threshold,
			Latency:    latency,
			Matched:    hit.response != "" && hit.confidence >= binding.Threshold,
		}
		ans.Flow = append(ans.Flow, rec)

		if rec.Matched {
			ans.Response = r.applyPersona(hit.response, q.Tenant)
			ans.Confidence = hit.confidence
			ans.Source = binding.Source
			ans.AgentRole = hit.agentRole
			ans.Scenario = hit.scenario
			ans.Rendered = hit.rendered
			ans.TotalTime = time.Since(start)
			return ans
		}
	}

	// Unreachable when the flow is well-formed: the in-house fallback is
	// appended to every flow and always answers. Kept as a terminal guard.
	hit := r.inHouseFallback(q)
	ans.Response = r.applyPersona(hit.response, q.Tenant)
	ans.Confidence = hit.confidence
	ans.Source = store.SourceInHouseFallback
	ans.TotalTime = time.Since(start)
	return ans
}

// flowFor returns the tenant's flow sorted by ascending priority, with the
// in-house fallback appended when absent.
func (r *Router) flowFor(t *store.Tenant) []store.SourceBinding {
	flow := defaultFlow
	if t != nil && t.IntelligenceMode == store.ModeCustom && len(t.AgentLogic.PriorityFlow) > 0 {
		flow = append([]store.SourceBinding(nil), t.AgentLogic.PriorityFlow...)
		sort.SliceStable(flow, func(i, j int) bool { return flow[i].Priority < flow[j].Priority })

		hasFallback := false
		for _, b := range flow {
			if b.Source == store.SourceInHouseFallback {
				hasFallback = true
				break
			}
		}
		if !hasFallback {
			flow = append(flow, store.SourceBinding{
				Source:   store.SourceInHouseFallback,
				Priority: flow[len(flow)-1].Priority + 1,
			})
		}
	}
	return flow
}

// sourceHit is one source's answer.
type sourceHit struct {
	response   string
	confidence float64
	agentRole  string
	scenario   *scenario.Scenario
	rendered   *response.Result
}

// preFilter rejects a source in O(1) when the query shares no vocabulary with
// the source's indexed content. The in-house fallback is never filtered.
func (r *Router) preFilter(src store.Source, q Query) (bool, string) {
	switch src {
	case store.SourceInstantResponses:
		if q.Pool == nil || q.Pool.Len() == 0 {
			return true, "empty scenario pool"
		}
		if !q.Pool.HasVocabularyOverlap(q.Utterance) {
			return true, "no vocabulary overlap"
		}
	case store.SourceCompanyQnA, store.SourceTradeQnA, store.SourceTemplates:
		if q.Tenant == nil {
			return true, "no tenant document"
		}
	}

	switch src {
	case store.SourceCompanyQnA:
		if !overlapsQnA(q.Utterance, q.Tenant.AgentLogic.Knowledge.CompanyQnA) {
			return true, "no vocabulary overlap"
		}
	case store.SourceTradeQnA:
		if !overlapsQnA(q.Utterance, q.Tenant.AgentLogic.Knowledge.TradeQnA) {
			return true, "no vocabulary overlap"
		}
	case store.SourceTemplates:
		if !overlapsTemplates(q.Utterance, q.Tenant.AgentLogic.Knowledge.Templates) {
			return true, "no vocabulary overlap"
		}
	}
	return false, ""
}

// querySource runs one knowledge source.
func (r *Router) querySource(ctx context.Context, src store.Source, q Query) sourceHit {
	switch src {
	case store.SourceInstantResponses:
		return r.instantResponses(ctx, q)
	case store.SourceCompanyQnA:
		return bestQnA(q.Utterance, q.Tenant.AgentLogic.Knowledge.CompanyQnA)
	case store.SourceTradeQnA:
		return bestQnA(q.Utterance, q.Tenant.AgentLogic.Knowledge.TradeQnA)
	case store.SourceTemplates:
		return bestTemplate(q.Utterance, q.Tenant.AgentLogic.Knowledge.Templates)
	case store.SourceInHouseFallback:
		return r.inHouseFallback(q)
	default:
		r.logger.Warn("knowledge: unknown source in priority flow", "source", src)
		return sourceHit{}
	}
}

// instantResponses delegates to the Tier-1 selector over the scenario pool
// and renders the winner through the response engine.
func (r *Router) instantResponses(ctx context.Context, q Query) sourceHit {
	m := r.selector.Select(q.Utterance, q.Pool, hybrid.Context{Channel: q.Channel})
	if m.Scenario == nil {
		return sourceHit{}
	}

	var (
		values map[string]string
		trade  string
	)
	if q.Tenant != nil {
		values = q.Tenant.AgentLogic.Placeholders
		trade = q.Tenant.Trade
	}
	rendered := r.engine.Render(ctx, response.Input{
		Scenario:   m.Scenario,
		Channel:    q.Channel,
		CallerName: q.CallerName,
		Values:     values,
		Trade:      trade,
		TenantID:   q.TenantID,
		CallID:     q.CallID,
	})
	if rendered.StrategyUsed == response.StrategyErrNoReplies {
		return sourceHit{}
	}
	return sourceHit{
		response:   rendered.Text,
		confidence: m.Confidence,
		scenario:   m.Scenario,
		rendered:   &rendered,
	}
}

// applyPersona runs the tenant's personality post-processing on an answer:
// forbidden phrases are stripped and the text compacted.
func (r *Router) applyPersona(text string, t *store.Tenant) string {
	if t == nil {
		return text
	}
	for _, phrase := range t.AgentSettings.Persona.ForbiddenPhrases {
		if phrase == "" {
			continue
		}
		lower := strings.ToLower(text)
		for {
			idx := strings.Index(lower, strings.ToLower(phrase))
			if idx < 0 {
				break
			}
			text = text[:idx] + text[idx+len(phrase):]
			lower = strings.ToLower(text)
		}
	}
	return placeholder.CompactText(text)
}

// overlapsQnA reports whether the utterance shares a token with any entry's
// question or keywords.
func overlapsQnA(utterance string, entries []store.QnAEntry) bool {
	if len(entries) == 0 {
		return false
	}
	vocab := make(map[string]struct{})
	for _, e := range entries {
		for _, tok := range scenario.Tokenize(e.Question) {
			vocab[tok] = struct{}{}
		}
		for _, kw := range e.Keywords {
			for _, tok := range scenario.Tokenize(kw) {
				vocab[tok] = struct{}{}
			}
		}
	}
	for _, tok := range scenario.Tokenize(utterance) {
		if _, ok := vocab[tok]; ok {
			return true
		}
	}
	return false
}

// overlapsTemplates is the template-source analogue of overlapsQnA.
func overlapsTemplates(utterance string, templates []store.Template) bool {
	if len(templates) == 0 {
		return false
	}
	vocab := make(map[string]struct{})
	for _, t := range templates {
		for _, tok := range scenario.Tokenize(t.Name) {
			vocab[tok] = struct{}{}
		}
		for _, kw := range t.Keywords {
			for _, tok := range scenario.Tokenize(kw) {
				vocab[tok] = struct{}{}
			}
		}
	}
	for _, tok := range scenario.Tokenize(utterance) {
		if _, ok := vocab[tok]; ok {
			return true
		}
	}
	return false
}

// bestQnA scores every entry by blended text similarity and keyword coverage
// and returns the best.
func bestQnA(utterance string, entries []store.QnAEntry) sourceHit {
	best := sourceHit{}
	for _, e := range entries {
		conf := blendedScore(utterance, e.Question, e.Keywords)
		if conf > best.confidence {
			best = sourceHit{response: e.Answer, confidence: conf}
		}
	}
	return best
}

// bestTemplate scores templates by name/keywords and carries the agent role
// into downstream metadata.
func bestTemplate(utterance string, templates []store.Template) sourceHit {
	best := sourceHit{}
	for _, t := range templates {
		conf := blendedScore(utterance, t.Name, t.Keywords)
		if conf > best.confidence {
			best = sourceHit{response: t.Text, confidence: conf, agentRole: t.AgentRole}
		}
	}
	return best
}

// blendedScore is 0.4·textSimilarity + 0.6·keywordCoverage.
func blendedScore(utterance, text string, keywords []string) float64 {
	return textSimWeight*diceSimilarity(utterance, text) + coverageWeight*keywordCoverage(utterance, keywords)
}

// diceSimilarity is the Sørensen-Dice coefficient over token sets.
func diceSimilarity(a, b string) float64 {
	ta, tb := scenario.Tokenize(a), scenario.Tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(ta))
	for _, t := range ta {
		set[t] = struct{}{}
	}
	shared := 0
	seen := make(map[string]struct{}, len(tb))
	for _, t := range tb {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := set[t]; ok {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(set)+len(seen))
}

// keywordCoverage is the fraction of keywords present in the utterance.
func keywordCoverage(utterance string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(utterance)
	matched := 0
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			matched++
		}
	}
	return float64(matched) / float64(len(keywords))
}
