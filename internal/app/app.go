// Package app wires the routing engine together and exposes its public
// entry points: Query for single-shot scenario routing and Turn for full
// dialogue turns.
//
// No error crosses the Query boundary: every failure collapses to a
// no-match result whose nil Response means "transfer to human".
package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/chatterlinx/frontdesk/internal/blackbox"
	"github.com/chatterlinx/frontdesk/internal/call"
	"github.com/chatterlinx/frontdesk/internal/dialogue"
	"github.com/chatterlinx/frontdesk/internal/knowledge"
	"github.com/chatterlinx/frontdesk/internal/match/hybrid"
	"github.com/chatterlinx/frontdesk/internal/observe"
	"github.com/chatterlinx/frontdesk/internal/response"
	"github.com/chatterlinx/frontdesk/internal/router"
	"github.com/chatterlinx/frontdesk/internal/scenario"
	"github.com/chatterlinx/frontdesk/internal/store"
	"github.com/chatterlinx/frontdesk/pkg/types"
)

// maxQueryChars bounds accepted query text, matching the turn processor.
const maxQueryChars = 2000

// ErrNoIndex is returned by [Brain.ReindexScenarios] when the deployment has
// no embedding index configured.
var ErrNoIndex = errors.New("app: no embedding index configured")

// ScenarioIndexer re-embeds a tenant's scenario pool. The pgvector index
// satisfies it.
type ScenarioIndexer interface {
	Upsert(ctx context.Context, tenantID string, pool *scenario.Pool) error
}

// Brain is the assembled engine. Safe for concurrent use across distinct
// calls; turns within one call must be serialized by the caller.
type Brain struct {
	store     store.Store
	router    *router.Router
	know      *knowledge.Router
	engine    *response.Engine
	processor *dialogue.Processor
	calls     *call.Manager
	indexer   ScenarioIndexer
	tracker   *PerfTracker
	events    blackbox.Logger
	metrics   *observe.Metrics
	logger    *slog.Logger
}

// Option configures a [Brain].
type Option func(*Brain)

// WithRouter sets the tiered router.
func WithRouter(r *router.Router) Option {
	return func(b *Brain) { b.router = r }
}

// WithKnowledge sets the priority knowledge router.
func WithKnowledge(k *knowledge.Router) Option {
	return func(b *Brain) { b.know = k }
}

// WithEngine sets the response engine used to render routed scenarios.
func WithEngine(e *response.Engine) Option {
	return func(b *Brain) { b.engine = e }
}

// WithProcessor sets the dialogue turn processor.
func WithProcessor(p *dialogue.Processor) Option {
	return func(b *Brain) { b.processor = p }
}

// WithCallManager sets the call state manager.
func WithCallManager(m *call.Manager) Option {
	return func(b *Brain) { b.calls = m }
}

// WithScenarioIndexer sets the embedding index fed by ReindexScenarios.
// Without one, ReindexScenarios returns [ErrNoIndex].
func WithScenarioIndexer(ix ScenarioIndexer) Option {
	return func(b *Brain) { b.indexer = ix }
}

// WithPerfTracker sets the performance interval tracker.
func WithPerfTracker(t *PerfTracker) Option {
	return func(b *Brain) { b.tracker = t }
}

// WithEvents sets the blackbox event sink. Defaults to [blackbox.Nop].
func WithEvents(l blackbox.Logger) Option {
	return func(b *Brain) { b.events = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Brain) { b.metrics = m }
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(b *Brain) { b.logger = l }
}

// New assembles a Brain over the given store. Components not supplied via
// options get functional defaults (no Tier-3, no caching, no dialogue LLM).
func New(st store.Store, opts ...Option) *Brain {
	b := &Brain{
		store:  st,
		events: blackbox.Nop{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.router == nil {
		b.router = router.New(router.Config{}, router.WithLedger(st))
	}
	if b.know == nil {
		b.know = knowledge.NewRouter(knowledge.WithEvents(b.events))
	}
	if b.engine == nil {
		b.engine = response.NewEngine(response.WithEvents(b.events))
	}
	if b.processor == nil {
		b.processor = dialogue.NewProcessor(
			dialogue.WithKnowledge(b.know),
			dialogue.WithRouter(b.router),
			dialogue.WithResponseEngine(b.engine),
			dialogue.WithEvents(b.events),
		)
	}
	if b.calls == nil {
		b.calls = call.NewManager()
	}
	if b.tracker == nil {
		b.tracker = NewPerfTracker()
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b
}

// Calls returns the call state manager, for lifecycle wiring in main.
func (b *Brain) Calls() *call.Manager { return b.calls }

// Tracker returns the performance tracker, for lifecycle wiring in main.
func (b *Brain) Tracker() *PerfTracker { return b.tracker }

// STTProfile returns the speech-to-text hints for a template, for the
// telephony front end to bias recognition with. Returns [store.ErrNotFound]
// when no profile exists.
func (b *Brain) STTProfile(ctx context.Context, templateID string) (*store.STTProfile, error) {
	return b.store.FindSTTProfile(ctx, templateID)
}

// ReindexScenarios re-embeds the tenant's scenarios into the embedding
// index and returns how many were indexed. Admin tooling calls this after
// scenario mutations; it never runs on the turn hot path.
func (b *Brain) ReindexScenarios(ctx context.Context, tenantID string) (int, error) {
	if b.indexer == nil {
		return 0, ErrNoIndex
	}
	raw, err := b.store.FindScenarios(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	pool := scenario.NewPool(scenario.NormalizeAll(raw))
	if err := b.indexer.Upsert(ctx, tenantID, pool); err != nil {
		return 0, err
	}
	return pool.Len(), nil
}

// QueryContext is the optional conversational evidence for a query.
type QueryContext struct {
	CallID     string        `json:"callId"`
	Channel    types.Channel `json:"channel"`
	Language   string        `json:"language"`
	CallerName string        `json:"callerName"`

	// RecentScenarioIDs and LastIntent bias Tier-1 scoring.
	RecentScenarioIDs []string `json:"recentScenarioIds"`
	LastIntent        string   `json:"lastIntent"`
}

// QueryResult is the public query outcome. A nil Response means "transfer
// to human".
type QueryResult struct {
	Confidence float64  `json:"confidence"`
	Response   *string  `json:"response"`
	Metadata   Metadata `json:"metadata"`
}

// Metadata describes how the response was produced.
type Metadata struct {
	Source       string `json:"source"`
	Tier         int    `json:"tier,omitempty"`
	ScenarioID   string `json:"scenarioId,omitempty"`
	ScenarioName string `json:"scenarioName,omitempty"`
	ReplyType    string `json:"replyType,omitempty"`

	// FollowUp is the scenario's advisory follow-up mode, passed through
	// unchanged.
	FollowUp         string `json:"followUp,omitempty"`
	FollowUpQuestion string `json:"followUpQuestion,omitempty"`

	ResponseTimeMs         int64 `json:"responseTimeMs"`
	Cached                 bool  `json:"cached,omitempty"`
	LazyNoNameFallbackUsed bool  `json:"lazyNoNameFallbackUsed,omitempty"`
}

// Query routes one utterance for a tenant through the tiered router and
// renders the matched scenario. It never returns an error; every failure is
// a no-match.
func (b *Brain) Query(ctx context.Context, tenantID, utterance string, qctx QueryContext) QueryResult {
	start := time.Now()

	utterance = strings.TrimSpace(utterance)
	if utterance == "" || tenantID == "" {
		return b.noMatch(start, "input_invalid")
	}
	if len(utterance) > maxQueryChars {
		cut := maxQueryChars
		for cut > 0 && !utf8.RuneStart(utterance[cut]) {
			cut--
		}
		utterance = utterance[:cut]
	}

	tenant, pool, err := b.fetchRoutingData(ctx, tenantID)
	if err != nil {
		b.logger.Warn("app: query prefetch failed", "tenant_id", tenantID, "error", err)
		return b.noMatch(start, "tenant_unavailable")
	}

	res := b.router.Route(ctx, router.Query{
		TenantID:   tenantID,
		CallID:     qctx.CallID,
		Utterance:  utterance,
		Channel:    qctx.Channel,
		Pool:       pool,
		Gatekeeper: tenant.AgentLogic.Gatekeeper,
		Context: hybrid.Context{
			Channel:           qctx.Channel,
			Language:          qctx.Language,
			RecentScenarioIDs: qctx.RecentScenarioIDs,
			LastIntent:        qctx.LastIntent,
		},
	})

	if res.Scenario == nil {
		b.tracker.Record(tenantID, Sample{Latency: time.Since(start), Cost: res.Cost})
		return b.noMatch(start, "no_match")
	}

	rendered := b.engine.Render(ctx, response.Input{
		Scenario:   res.Scenario,
		Channel:    qctx.Channel,
		CallerName: qctx.CallerName,
		Values:     tenant.AgentLogic.Placeholders,
		Trade:      tenant.Trade,
		TenantID:   tenantID,
		CallID:     qctx.CallID,
	})
	if rendered.Text == "" {
		// A scenario with no usable replies routes but cannot speak.
		return b.noMatch(start, "no_replies")
	}

	elapsed := time.Since(start)
	b.tracker.Record(tenantID, Sample{
		Matched: true,
		Tier:    res.Tier,
		Latency: elapsed,
		Cost:    res.Cost,
	})

	text := rendered.Text
	return QueryResult{
		Confidence: res.Confidence,
		Response:   &text,
		Metadata: Metadata{
			Source:                 "scenario",
			Tier:                   res.Tier,
			ScenarioID:             res.Scenario.ID,
			ScenarioName:           res.Scenario.Name,
			ReplyType:              rendered.StrategyUsed,
			FollowUp:               string(rendered.FollowUp),
			FollowUpQuestion:       rendered.FollowUpQuestion,
			ResponseTimeMs:         elapsed.Milliseconds(),
			Cached:                 res.Cached,
			LazyNoNameFallbackUsed: rendered.NoNameFallbackUsed,
		},
	}
}

// noMatch builds the transfer-to-human result.
func (b *Brain) noMatch(start time.Time, source string) QueryResult {
	return QueryResult{
		Metadata: Metadata{
			Source:         source,
			ResponseTimeMs: time.Since(start).Milliseconds(),
		},
	}
}

// fetchRoutingData loads the tenant document and its normalized scenario
// pool concurrently.
func (b *Brain) fetchRoutingData(ctx context.Context, tenantID string) (*store.Tenant, *scenario.Pool, error) {
	var (
		tenant *store.Tenant
		pool   *scenario.Pool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := b.store.FindTenant(gctx, tenantID)
		if err != nil {
			return err
		}
		tenant = t
		return nil
	})
	g.Go(func() error {
		raw, err := b.store.FindScenarios(gctx, tenantID)
		if err != nil {
			return err
		}
		pool = scenario.NewPool(scenario.NormalizeAll(raw))
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return tenant, pool, nil
}

// TurnResult is one processed dialogue turn.
type TurnResult struct {
	Reply    string        `json:"reply"`
	Mode     string        `json:"mode"`
	Source   string        `json:"source"`
	Urgency  string        `json:"urgency,omitempty"`
	NextGoal string        `json:"nextGoal,omitempty"`
	Signals  TurnSignals   `json:"signals"`
	Duration time.Duration `json:"-"`
}

// TurnSignals are the escalation flags for one turn.
type TurnSignals struct {
	Frustration bool `json:"frustration"`
	WantsHuman  bool `json:"wantsHuman"`
}

// Turn runs one dialogue turn for a live call. Curated content (scenarios,
// triage cards, quick answers) is prefetched concurrently; a store failure
// degrades to a turn with whatever loaded.
func (b *Brain) Turn(ctx context.Context, tenantID, callID, utterance string, channel types.Channel) TurnResult {
	var (
		tenant  *store.Tenant
		pool    *scenario.Pool
		cards   []store.TriageCard
		answers []store.QuickAnswer
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := b.store.FindTenant(gctx, tenantID)
		if err != nil {
			return err
		}
		tenant = t
		return nil
	})
	g.Go(func() error {
		raw, err := b.store.FindScenarios(gctx, tenantID)
		if err != nil {
			return err
		}
		pool = scenario.NewPool(scenario.NormalizeAll(raw))
		return nil
	})
	g.Go(func() error {
		c, err := b.store.FindTriageCards(gctx, tenantID)
		if err != nil {
			return err
		}
		cards = c
		return nil
	})
	g.Go(func() error {
		qa, err := b.store.FindQuickAnswers(gctx, tenantID)
		if err != nil {
			return err
		}
		answers = qa
		return nil
	})
	if err := g.Wait(); err != nil {
		b.logger.Warn("app: turn prefetch incomplete", "tenant_id", tenantID, "call_id", callID, "error", err)
	}
	if tenant == nil {
		// Unknown or unreadable tenant still gets a conversable turn.
		tenant = &store.Tenant{ID: tenantID}
	}
	if pool == nil {
		pool = scenario.NewPool(nil)
	}

	st := b.calls.Acquire(callID, tenantID)
	res := b.processor.ProcessTurn(ctx, dialogue.Turn{
		Tenant:       tenant,
		State:        st,
		Utterance:    utterance,
		Channel:      channel,
		Pool:         pool,
		TriageCards:  cards,
		QuickAnswers: answers,
	})

	b.tracker.Record(tenantID, Sample{Matched: true, Latency: res.Duration})
	return TurnResult{
		Reply:    res.Reply,
		Mode:     string(res.Mode),
		Source:   res.Source,
		Urgency:  string(res.Urgency),
		NextGoal: res.NextGoal,
		Signals:  TurnSignals{Frustration: res.Signals.Frustration, WantsHuman: res.Signals.WantsHuman},
		Duration: res.Duration,
	}
}

// EndCall destroys the state for a finished call.
func (b *Brain) EndCall(callID string) {
	b.calls.End(callID)
}
