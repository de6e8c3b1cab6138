// Package dialogue implements the turn processor: the single operation that
// takes a caller utterance and a call state and produces the next agent
// reply.
//
// A turn runs shortcut responders first (quick answers, service-area
// classifier), then triage, slot extraction, and service-type resolution,
// then scenario routing against the tenant's pool (the tiered router when
// the tenant gatekeeper is on, the priority knowledge flow otherwise), and
// only then assembles a prompt and calls the dialogue LLM. When the LLM is
// unavailable the turn degrades to the priority knowledge router, and in the
// last resort to a phase-aware canned fallback; the call is never dropped.
//
// The processor holds exclusive logical ownership of the call state for the
// duration of ProcessTurn; callers serialize turns per call.
package dialogue

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chatterlinx/frontdesk/internal/blackbox"
	"github.com/chatterlinx/frontdesk/internal/call"
	"github.com/chatterlinx/frontdesk/internal/gateway"
	"github.com/chatterlinx/frontdesk/internal/knowledge"
	"github.com/chatterlinx/frontdesk/internal/match/hybrid"
	"github.com/chatterlinx/frontdesk/internal/match/semantic"
	"github.com/chatterlinx/frontdesk/internal/observe"
	"github.com/chatterlinx/frontdesk/internal/placeholder"
	"github.com/chatterlinx/frontdesk/internal/response"
	"github.com/chatterlinx/frontdesk/internal/router"
	"github.com/chatterlinx/frontdesk/internal/scenario"
	"github.com/chatterlinx/frontdesk/internal/servicetype"
	"github.com/chatterlinx/frontdesk/internal/slots"
	"github.com/chatterlinx/frontdesk/internal/store"
	"github.com/chatterlinx/frontdesk/internal/tracelog"
	"github.com/chatterlinx/frontdesk/pkg/types"
)

// Dialogue LLM call parameters.
const (
	dialogueTemperature = 0.6
	dialogueMaxTokens   = 150
)

// repetitionThreshold is the similarity above which a generated reply counts
// as repeating the agent's previous utterance.
const repetitionThreshold = 0.92

// maxUtteranceChars bounds accepted input; longer utterances are truncated.
const maxUtteranceChars = 2000

// defaultMaxLoops is used when the tenant leaves maxLoopsBeforeOffer unset.
const defaultMaxLoops = 2

// Reply sources reported in [Result].
const (
	SourceQuickAnswer       = "quick_answer"
	SourceServiceArea       = "service_area"
	SourceClarifier         = "service_type_clarifier"
	SourceScenario          = "scenario"
	SourceKnowledge         = "knowledge"
	SourceDialogueLLM       = "dialogue_llm"
	SourceKnowledgeFallback = "knowledge_fallback"
	SourceEmergencyFallback = "emergency_fallback"
)

// Turn is the input to one ProcessTurn call.
type Turn struct {
	Tenant    *store.Tenant
	State     *call.State
	Utterance string
	Channel   types.Channel

	// Pool is the tenant's normalized scenario pool.
	Pool *scenario.Pool

	// TriageCards and QuickAnswers are the tenant's active curated content,
	// prefetched by the caller.
	TriageCards  []store.TriageCard
	QuickAnswers []store.QuickAnswer
}

// Signals are the escalation flags accumulated this turn.
type Signals struct {
	Frustration bool
	WantsHuman  bool
}

// Result is one processed turn.
type Result struct {
	Reply    string
	Mode     call.Mode
	Source   string
	Signals  Signals
	NextGoal string

	// Urgency is the triage-derived urgency, when triage matched.
	Urgency types.Urgency

	// Duration is the turn's wall time.
	Duration time.Duration
}

// Processor runs dialogue turns. Safe for concurrent use across distinct
// calls; per-call serialization is the caller's responsibility.
type Processor struct {
	gw        *gateway.Gateway
	know      *knowledge.Router
	routes    *router.Router
	engine    *response.Engine
	extractor *slots.Extractor
	resolver  *servicetype.Resolver
	ph        *placeholder.Resolver
	traces    tracelog.Logger
	events    blackbox.Logger
	metrics   *observe.Metrics
	logger    *slog.Logger
}

// Option configures a [Processor].
type Option func(*Processor)

// WithGateway sets the LLM gateway. A nil gateway forces the degraded path.
func WithGateway(gw *gateway.Gateway) Option {
	return func(p *Processor) { p.gw = gw }
}

// WithKnowledge sets the priority knowledge router, used for per-turn
// scenario routing on gatekeeper-off tenants and on the degraded path.
func WithKnowledge(k *knowledge.Router) Option {
	return func(p *Processor) { p.know = k }
}

// WithRouter sets the tiered router used for per-turn scenario routing on
// tenants whose gatekeeper is enabled. A nil router skips the tiered path.
func WithRouter(r *router.Router) Option {
	return func(p *Processor) { p.routes = r }
}

// WithResponseEngine sets the engine that renders routed scenarios.
func WithResponseEngine(e *response.Engine) Option {
	return func(p *Processor) { p.engine = e }
}

// WithTraceLogger sets the turn trace sink. Defaults to [tracelog.Nop].
func WithTraceLogger(t tracelog.Logger) Option {
	return func(p *Processor) { p.traces = t }
}

// WithEvents sets the blackbox event sink. Defaults to [blackbox.Nop].
func WithEvents(l blackbox.Logger) Option {
	return func(p *Processor) { p.events = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// NewProcessor creates a Processor.
func NewProcessor(opts ...Option) *Processor {
	p := &Processor{
		resolver: servicetype.NewResolver(),
		ph:       placeholder.New(nil),
		traces:   tracelog.Nop{},
		events:   blackbox.Nop{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.extractor = slots.NewExtractor(p.events)
	if p.know == nil {
		p.know = knowledge.NewRouter(knowledge.WithEvents(p.events))
	}
	if p.engine == nil {
		p.engine = response.NewEngine(response.WithEvents(p.events), response.WithLogger(p.logger))
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// ProcessTurn runs one dialogue turn. It never returns an error: every
// failure degrades to a reply.
func (p *Processor) ProcessTurn(ctx context.Context, turn Turn) (res Result) {
	start := time.Now()
	st := turn.State
	p.metrics.ActiveCalls.Add(ctx, 1)
	defer func() {
		p.metrics.ActiveCalls.Add(ctx, -1)
		res.Duration = time.Since(start)
		p.metrics.TurnDuration.Record(ctx, res.Duration.Seconds())
	}()

	section := "input"
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("dialogue: turn panicked", "call_id", st.CallID, "section", section, "panic", r)
			p.events.Emit(ctx, blackbox.Event{
				Type:     blackbox.EventCoreRuntimeError,
				TenantID: st.TenantID,
				CallID:   st.CallID,
				Fields:   map[string]any{"section": section, "panic": r},
			})
			res = p.finishTurn(ctx, turn, Result{
				Reply:  emergencyFallback(st),
				Mode:   st.Mode,
				Source: SourceEmergencyFallback,
			}, start)
		}
	}()

	p.events.Emit(ctx, blackbox.Event{
		Type:     blackbox.EventSectionRuntimeOwner,
		TenantID: st.TenantID,
		CallID:   st.CallID,
		Fields:   map[string]any{"turn": st.TurnCount + 1},
	})

	// 1. Input capture.
	utterance := strings.TrimSpace(turn.Utterance)
	if len(utterance) > maxUtteranceChars {
		utterance = truncateUTF8(utterance, maxUtteranceChars)
	}
	if utterance == "" {
		return p.finishTurn(ctx, turn, Result{
			Reply:  emergencyFallback(st),
			Mode:   st.Mode,
			Source: SourceEmergencyFallback,
		}, start)
	}

	// 2a. Quick answers.
	section = "quick_answers"
	if isQuestion(utterance) {
		if qa := matchQuickAnswer(utterance, turn.QuickAnswers); qa != nil {
			p.metrics.QuickAnswerHits.Add(ctx, 1)
			p.events.Emit(ctx, blackbox.Event{
				Type:     blackbox.EventQuickAnswerUsed,
				TenantID: st.TenantID,
				CallID:   st.CallID,
				Fields:   map[string]any{"quick_answer_id": qa.ID},
			})
			reply := qa.Answer
			switch st.Mode {
			case call.ModeBooking:
				if _, q, ok := nextSlotQuestion(st); ok {
					reply += " Now, to help you further, " + q
				}
			case call.ModeFree:
				reply += " Would you like to get something scheduled while I have you?"
			}
			return p.finishTurn(ctx, turn, Result{
				Reply:  reply,
				Mode:   st.Mode,
				Source: SourceQuickAnswer,
			}, start)
		}
	}

	// 2b. Service area.
	section = "service_area"
	areaReply, areaAcked := serviceAreaAnswer(utterance, turn.Tenant.AgentLogic.ServiceAreas)
	if areaReply != "" {
		return p.finishTurn(ctx, turn, Result{
			Reply:  areaReply,
			Mode:   st.Mode,
			Source: SourceServiceArea,
		}, start)
	}

	// 3. Triage.
	section = "triage"
	triage := selectTriageCard(utterance, turn.TriageCards)
	if triage.card != nil && st.Mode != call.ModeBooking {
		st.Mode = call.ModeTriage
	}

	// 4. Slot extraction.
	section = "slot_extraction"
	p.events.Emit(ctx, blackbox.Event{
		Type:     blackbox.EventSectionSlotExtraction,
		TenantID: st.TenantID,
		CallID:   st.CallID,
	})
	extracted := p.extractor.ExtractAll(ctx, utterance, slots.Context{TenantID: st.TenantID, CallID: st.CallID})
	st.Slots.Merge(extracted)

	// 5. Scenario routing. A routed scenario answers the turn outright;
	// no-match falls through. Triage turns, booking turns, and answers to an
	// open clarifying question stay with the dialogue flow.
	section = "scenario_routing"
	if triage.card == nil && st.Mode != call.ModeBooking && !st.ClarifierPending {
		if res, ok := p.routeScenario(ctx, turn, utterance); ok {
			return p.finishTurn(ctx, turn, res, start)
		}
	}

	// 6. Service type.
	section = "service_type"
	explicit := ""
	if triage.card != nil {
		explicit = triage.card.SuggestedServiceType
	}
	var outcome servicetype.Outcome
	if st.ClarifierPending && st.ServiceType.State == servicetype.StateClarifying {
		// The utterance is the caller's answer to our clarifying question.
		st.ClarifierPending = false
		outcome = p.resolver.ApplyClarification(&st.ServiceType, st, utterance)
	} else {
		outcome = p.resolver.Resolve(&st.ServiceType, st, utterance, servicetype.Options{ExplicitType: explicit})
		if outcome.ClarifierQuestion != "" && st.ServiceType.State == servicetype.StateClarifying &&
			triage.card == nil && st.Mode != call.ModeBooking {
			// A clarifier is a complete reply on its own.
			st.ClarifierPending = true
			return p.finishTurn(ctx, turn, Result{
				Reply:  outcome.ClarifierQuestion,
				Mode:   st.Mode,
				Source: SourceClarifier,
			}, start)
		}
	}

	// 7-8. Prompt, LLM call, parse.
	section = "dialogue_llm"
	result := p.generate(ctx, turn, utterance, promptExtras{
		triage:            triage,
		serviceAreaHint:   areaAcked,
		clarifierQuestion: outcome.ClarifierQuestion,
	})
	result.Urgency = triage.urgency
	return p.finishTurn(ctx, turn, result, start)
}

// routeScenario matches the utterance against the tenant's scenario pool.
// Tenants with the gatekeeper enabled go through the tiered router and the
// response engine; everyone else goes through the priority knowledge flow.
// Only a real hit answers the turn; a no-match or the in-house fallback
// leaves the LLM in charge.
func (p *Processor) routeScenario(ctx context.Context, turn Turn, utterance string) (Result, bool) {
	st := turn.State
	if turn.Pool == nil || turn.Pool.Len() == 0 {
		return Result{}, false
	}
	callerName := ""
	if v, ok := st.Slots.Get(slots.SlotName); ok {
		callerName = v.Value
	}

	if turn.Tenant.AgentLogic.Gatekeeper.Enabled && p.routes != nil {
		hit := p.routes.Route(ctx, router.Query{
			TenantID:   st.TenantID,
			CallID:     st.CallID,
			Utterance:  utterance,
			Channel:    turn.Channel,
			Pool:       turn.Pool,
			Gatekeeper: turn.Tenant.AgentLogic.Gatekeeper,
			Context: hybrid.Context{
				Channel:           turn.Channel,
				RecentScenarioIDs: st.RoutedScenarioIDs,
			},
		})
		if hit.Scenario == nil {
			return Result{}, false
		}
		rendered := p.engine.Render(ctx, response.Input{
			Scenario:   hit.Scenario,
			Channel:    turn.Channel,
			CallerName: callerName,
			Values:     turn.Tenant.AgentLogic.Placeholders,
			Trade:      turn.Tenant.Trade,
			TenantID:   st.TenantID,
			CallID:     st.CallID,
		})
		if rendered.Text == "" {
			return Result{}, false
		}
		st.RecordScenario(hit.Scenario.ID)
		return Result{Reply: rendered.Text, Mode: st.Mode, Source: SourceScenario}, true
	}

	ans := p.know.Route(ctx, knowledge.Query{
		TenantID:   st.TenantID,
		CallID:     st.CallID,
		Utterance:  utterance,
		Channel:    turn.Channel,
		CallerName: callerName,
		Tenant:     turn.Tenant,
		Pool:       turn.Pool,
	})
	if ans.Response == "" || ans.Source == store.SourceInHouseFallback {
		return Result{}, false
	}
	if ans.Scenario != nil {
		st.RecordScenario(ans.Scenario.ID)
	}
	return Result{Reply: ans.Response, Mode: st.Mode, Source: SourceKnowledge}, true
}

// generate runs the LLM path with anti-repetition and the degraded
// fallbacks.
func (p *Processor) generate(ctx context.Context, turn Turn, utterance string, extras promptExtras) Result {
	st := turn.State

	parsed, err := p.callDialogueLLM(ctx, turn, utterance, extras)
	if err != nil {
		return p.degraded(ctx, turn, utterance)
	}

	// 10. Anti-repetition: one diverging retry, then the canned fallback.
	if st.LastAgentUtterance != "" &&
		semantic.NormalizedEquals(parsed.Reply, st.LastAgentUtterance, repetitionThreshold) {
		st.SameQuestionLoops++
		extras.antiRepeat = st.LastAgentUtterance
		retry, rerr := p.callDialogueLLM(ctx, turn, utterance, extras)
		if rerr != nil || semantic.NormalizedEquals(retry.Reply, st.LastAgentUtterance, repetitionThreshold) {
			return Result{Reply: emergencyFallback(st), Mode: st.Mode, Source: SourceEmergencyFallback}
		}
		parsed = retry
	}

	// 9. Mode inference and phase movement. Reaching confirmation pins the
	// resolved service type for the rest of the call.
	mode := inferMode(st, parsed)
	if mode == call.ModeConfirmation && st.ServiceType.CanonicalType != "" {
		p.resolver.Lock(&st.ServiceType)
	}

	// 11. Merge filled slots and signals.
	p.mergeFilledSlots(st, parsed.FilledSlots)
	sig := p.detectSignals(turn.Tenant, utterance, parsed)
	if sig.Frustration {
		st.FrustrationCount++
	}
	if sig.WantsHuman {
		st.WantsHuman = true
	}
	maxLoops := turn.Tenant.AgentSettings.FrontDesk.MaxLoopsBeforeOffer
	if maxLoops <= 0 {
		maxLoops = defaultMaxLoops
	}
	reply := parsed.Reply
	if st.WantsHuman || st.SameQuestionLoops >= maxLoops {
		mode = call.ModeRescue
		reply += " If you'd prefer, I can have a team member call you right back."
	}

	return Result{
		Reply:    reply,
		Mode:     mode,
		Source:   SourceDialogueLLM,
		Signals:  sig,
		NextGoal: parsed.NeedsInfo,
	}
}

// callDialogueLLM issues one dialogue completion and parses it.
func (p *Processor) callDialogueLLM(ctx context.Context, turn Turn, utterance string, extras promptExtras) (llmTurn, error) {
	if p.gw == nil {
		return llmTurn{}, gateway.ErrLLMUnavailable
	}
	st := turn.State

	messages := append(historyMessages(st), types.Message{Role: "user", Content: utterance})
	resp, err := p.gw.Complete(ctx, gateway.RoleDialogue, gateway.Request{
		CallID:       st.CallID,
		TenantID:     st.TenantID,
		SystemPrompt: buildSystemPrompt(turn.Tenant, st, extras),
		Messages:     messages,
		Temperature:  dialogueTemperature,
		MaxTokens:    dialogueMaxTokens,
		JSONResponse: true,
		Metadata:     map[string]string{"turn": "dialogue"},
	})
	if err != nil {
		return llmTurn{}, err
	}
	return parseTurn(resp.Content), nil
}

// degraded answers through the priority knowledge router when the dialogue
// LLM is unavailable. The router always answers; the canned fallback is the
// terminal guard.
func (p *Processor) degraded(ctx context.Context, turn Turn, utterance string) Result {
	st := turn.State
	if errors.Is(ctx.Err(), context.Canceled) {
		return Result{Reply: emergencyFallback(st), Mode: st.Mode, Source: SourceEmergencyFallback}
	}

	callerName := ""
	if v, ok := st.Slots.Get(slots.SlotName); ok {
		callerName = v.Value
	}
	ans := p.know.Route(ctx, knowledge.Query{
		TenantID:   st.TenantID,
		CallID:     st.CallID,
		Utterance:  utterance,
		Channel:    types.ChannelVoice,
		CallerName: callerName,
		Tenant:     turn.Tenant,
		Pool:       turn.Pool,
	})
	if ans.Response != "" {
		return Result{Reply: ans.Response, Mode: st.Mode, Source: SourceKnowledgeFallback}
	}
	return Result{Reply: emergencyFallback(st), Mode: st.Mode, Source: SourceEmergencyFallback}
}

// inferMode applies the mode rules and the no-backward phase rule.
func inferMode(st *call.State, parsed llmTurn) call.Mode {
	if parsed.Phase != "" {
		st.AdvancePhase(call.Phase(strings.ToUpper(parsed.Phase)))
	}

	switch {
	case len(st.Slots.Missing()) == 0:
		return call.ModeConfirmation
	case parsed.NeedsInfo != "" && parsed.NeedsInfo != "none":
		return call.ModeBooking
	default:
		return call.ModeDiscovery
	}
}

// mergeFilledSlots merges LLM-reported slots at modest confidence so that
// regex-extracted values win.
func (p *Processor) mergeFilledSlots(st *call.State, filled map[string]string) {
	if len(filled) == 0 {
		return
	}
	extracted := make(map[slots.Name]slots.Value, len(filled))
	for k, v := range filled {
		if strings.TrimSpace(v) == "" {
			continue
		}
		extracted[slots.Name(k)] = slots.Value{Value: v, Confidence: 0.7, PatternSource: "dialogue_llm"}
	}
	st.Slots.Merge(extracted)
}

// detectSignals combines LLM-reported signals with the tenant's trigger
// lists. An empty trigger list disables that detector.
func (p *Processor) detectSignals(t *store.Tenant, utterance string, parsed llmTurn) Signals {
	sig := Signals{
		Frustration: parsed.Signals.Frustration,
		WantsHuman:  parsed.Signals.WantsHuman,
	}
	lower := strings.ToLower(utterance)
	for _, trig := range t.AgentSettings.FrontDesk.FrustrationTriggers {
		if trig != "" && strings.Contains(lower, strings.ToLower(trig)) {
			sig.Frustration = true
			break
		}
	}
	for _, trig := range t.AgentSettings.FrontDesk.HumanRequestTriggers {
		if trig != "" && strings.Contains(lower, strings.ToLower(trig)) {
			sig.WantsHuman = true
			break
		}
	}
	return sig
}

// finishTurn applies the placeholder pass and the name seatbelt, updates the
// call state, and ships the trace record.
func (p *Processor) finishTurn(ctx context.Context, turn Turn, res Result, start time.Time) Result {
	st := turn.State

	// 12. Placeholder pass on the outbound text.
	values := turn.Tenant.AgentLogic.Placeholders
	if v, ok := st.Slots.Get(slots.SlotName); ok {
		merged := make(map[string]string, len(values)+1)
		for k, val := range values {
			merged[k] = val
		}
		merged["name"] = v.Value
		values = merged
	}
	res.Reply = p.ph.Resolve(res.Reply, values, placeholder.Options{Trade: turn.Tenant.Trade}).Text
	if strings.Contains(res.Reply, "{name}") {
		res.Reply = placeholder.CompactText(strings.ReplaceAll(res.Reply, "{name}", ""))
	}

	st.Append("user", strings.TrimSpace(turn.Utterance))
	st.Append("assistant", res.Reply)
	st.LastAgentUtterance = res.Reply
	st.Mode = res.Mode
	st.TurnCount++

	p.traces.LogTurn(tracelog.Record{
		CallID:     st.CallID,
		TenantID:   st.TenantID,
		TurnNumber: st.TurnCount,
		Input:      map[string]any{"utterance": turn.Utterance, "channel": string(turn.Channel)},
		Decision:   map[string]any{"source": res.Source, "mode": string(res.Mode)},
		Output:     map[string]any{"reply": res.Reply, "next_goal": res.NextGoal},
		Performance: map[string]any{
			"duration_ms": time.Since(start).Milliseconds(),
		},
		ContextSnapshot: map[string]any{
			"phase":        string(st.Phase),
			"mode":         string(st.Mode),
			"turn_count":   st.TurnCount,
			"service_type": servicetype.CanonicalTypeOf(&st.ServiceType),
			"wants_human":  st.WantsHuman,
		},
	})
	return res
}

// truncateUTF8 cuts s to at most max bytes without splitting a rune.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// emergencyFallback is the phase-aware canned reply used when everything
// else failed. It keeps the call alive and moving toward booking.
func emergencyFallback(st *call.State) string {
	missing := st.Slots.Missing()
	switch {
	case len(missing) == 0:
		return "Let me just confirm the details we have so far, and we'll get you taken care of."
	case st.Phase == call.PhaseBooking || st.Phase == call.PhaseConfirmation:
		if _, q, ok := nextSlotQuestion(st); ok {
			return "Sorry about that. To keep things moving, " + q
		}
		return "Sorry about that. Let's keep going with your booking."
	default:
		return "I'm sorry, I didn't quite catch that. Could you tell me a bit more about what you need help with?"
	}
}
