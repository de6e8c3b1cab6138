// Package response turns a matched scenario into outbound reply text.
//
// The engine applies the reply-strategy decision matrix (which of the quick
// and full reply pools to use, per scenario type and channel), performs
// weighted reply sampling, and enforces the name-safety seatbelt: the literal
// token {name} never reaches the caller, whether or not the caller's name is
// known. Follow-up metadata is passed through untouched; acting on it is the
// dialogue processor's business.
package response

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/chatterlinx/frontdesk/internal/blackbox"
	"github.com/chatterlinx/frontdesk/internal/placeholder"
	"github.com/chatterlinx/frontdesk/internal/scenario"
	"github.com/chatterlinx/frontdesk/pkg/types"
)

// StrategyErrNoReplies marks a scenario with no usable reply in any pool.
// The caller treats it as a no-match.
const StrategyErrNoReplies = "ERROR_NO_REPLIES"

// Strategy-used labels reported in [Result].
const (
	usedQuick    = "QUICK"
	usedFull     = "FULL"
	usedCombined = "QUICK_THEN_FULL"
)

// Input carries everything the engine needs for one reply.
type Input struct {
	// Scenario is the matched scenario. Must be non-nil.
	Scenario *scenario.Scenario

	// Channel the reply goes out on.
	Channel types.Channel

	// CallerName is the caller's known name, or "" when unknown.
	CallerName string

	// Values are the tenant placeholder values (company, technician,
	// appointment time, ...). CallerName is overlaid onto the "name" key.
	Values map[string]string

	// Trade selects placeholder catalog fallbacks.
	Trade string

	// TenantID and CallID scope the emitted events.
	TenantID string
	CallID   string
}

// Result is the engine output.
type Result struct {
	// Text is the outbound reply. Empty iff StrategyUsed is
	// [StrategyErrNoReplies].
	Text string

	// StrategyUsed reports which pool(s) produced the text.
	StrategyUsed string

	// ScenarioType and ReplyStrategy are the resolved (post-normalization,
	// post-reserved-downgrade) values.
	ScenarioType  scenario.Type
	ReplyStrategy scenario.ReplyStrategy

	// FollowUp metadata, passed through unchanged.
	FollowUp         scenario.FollowUpMode
	FollowUpQuestion string
	TransferTarget   string

	// HasCallerName reports whether the caller name was known.
	HasCallerName bool

	// NoNameFallbackUsed reports that the name-unknown path had to sanitize
	// {name} out of a normal reply pool (no _noName variant existed).
	NoNameFallbackUsed bool
}

// Engine renders replies. Safe for concurrent use.
type Engine struct {
	resolver *placeholder.Resolver
	events   blackbox.Logger
	logger   *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures an [Engine].
type Option func(*Engine)

// WithResolver sets the placeholder resolver. Defaults to the built-in
// catalog.
func WithResolver(r *placeholder.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithEvents sets the blackbox event sink. Defaults to [blackbox.Nop].
func WithEvents(l blackbox.Logger) Option {
	return func(e *Engine) { e.events = l }
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRandSource seeds the sampling RNG. For tests.
func WithRandSource(src rand.Source) Option {
	return func(e *Engine) { e.rng = rand.New(src) }
}

// NewEngine creates an Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		resolver: placeholder.New(nil),
		events:   blackbox.Nop{},
		logger:   slog.Default(),
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Render produces the outbound reply for a matched scenario.
func (e *Engine) Render(ctx context.Context, in Input) Result {
	s := in.Scenario
	res := Result{
		ScenarioType:     s.Type,
		ReplyStrategy:    s.Strategy,
		FollowUp:         s.FollowUp,
		FollowUpQuestion: s.FollowUpQuestion,
		TransferTarget:   s.TransferTarget,
		HasCallerName:    in.CallerName != "",
	}

	strategy := s.Strategy
	if strategy.IsReserved() {
		e.logger.Warn("response: reserved reply strategy, treating as AUTO",
			"scenario_id", s.ID, "strategy", strategy)
		e.events.Emit(ctx, blackbox.Event{
			Type:     blackbox.EventReservedStrategy,
			TenantID: in.TenantID,
			CallID:   in.CallID,
			Fields:   map[string]any{"scenario_id": s.ID, "strategy": string(strategy)},
		})
		strategy = scenario.StrategyAuto
	}
	if !strategy.IsValid() {
		strategy = scenario.StrategyAuto
	}
	res.ReplyStrategy = strategy

	quick, full, sanitized := e.chooseArrays(ctx, &res, in)

	text, used := e.render(strategy, s.Type, in.Channel, quick, full)
	if used == StrategyErrNoReplies {
		res.StrategyUsed = StrategyErrNoReplies
		return res
	}
	res.StrategyUsed = used
	res.NoNameFallbackUsed = sanitized

	// Placeholder pass. The caller name is overlaid so {name} resolves when
	// known; anything left over is dropped by the resolver.
	values := make(map[string]string, len(in.Values)+1)
	for k, v := range in.Values {
		values[k] = v
	}
	if in.CallerName != "" {
		values["name"] = in.CallerName
	}
	text = e.resolver.Resolve(text, values, placeholder.Options{Trade: in.Trade}).Text

	// Seatbelt: never let a literal {name} out, whatever path produced it.
	if strings.Contains(text, "{name}") {
		text = placeholder.CompactText(strings.ReplaceAll(text, "{name}", ""))
	}
	res.Text = text
	return res
}

// chooseArrays applies the name-safety selection order and returns the quick
// and full pools to sample from, plus whether in-place sanitization was
// needed.
func (e *Engine) chooseArrays(ctx context.Context, res *Result, in Input) (quick, full []scenario.Reply, sanitized bool) {
	s := in.Scenario
	if res.HasCallerName {
		return s.QuickReplies, s.FullReplies, false
	}

	quick, full = s.QuickReplies, s.FullReplies
	if len(s.QuickRepliesNoName) > 0 {
		quick = s.QuickRepliesNoName
	}
	if len(s.FullRepliesNoName) > 0 {
		full = s.FullRepliesNoName
	}

	if containsName(quick) || containsName(full) {
		quick = sanitizeName(quick)
		full = sanitizeName(full)
		sanitized = true
		e.logger.Warn("response: no caller name and no _noName variant, sanitized {name} in place",
			"scenario_id", s.ID)
		e.events.Emit(ctx, blackbox.Event{
			Type:     blackbox.EventNoNameFallback,
			TenantID: in.TenantID,
			CallID:   in.CallID,
			Fields:   map[string]any{"scenario_id": s.ID},
		})
	}
	return quick, full, sanitized
}

// render walks the decision matrix and samples the chosen pool(s).
func (e *Engine) render(strategy scenario.ReplyStrategy, typ scenario.Type, ch types.Channel, quick, full []scenario.Reply) (string, string) {
	q := e.sample(quick)
	f := e.sample(full)
	if q == "" && f == "" {
		return "", StrategyErrNoReplies
	}

	combined := func() (string, string) {
		switch {
		case q != "" && f != "":
			return q + " " + f, usedCombined
		case f != "":
			return f, usedFull
		default:
			return q, usedQuick
		}
	}
	fullFirst := func() (string, string) {
		if f != "" {
			return f, usedFull
		}
		return q, usedQuick
	}
	quickFirst := func() (string, string) {
		if q != "" {
			return q, usedQuick
		}
		return f, usedFull
	}

	switch strategy {
	case scenario.StrategyFullOnly:
		return fullFirst()
	case scenario.StrategyQuickOnly:
		if q == "" {
			return f, usedFull
		}
		if typ == scenario.TypeFAQ || typ == scenario.TypeBilling || typ == scenario.TypeTroubleshoot {
			e.logger.Warn("response: QUICK_ONLY on an informational scenario type", "type", typ)
		}
		return q, usedQuick
	case scenario.StrategyQuickThenFull:
		return combined()
	}

	// AUTO. Voice is strictest; sms/chat prefer FULL.
	if ch != types.ChannelVoice {
		return fullFirst()
	}
	switch typ {
	case scenario.TypeFAQ, scenario.TypeBilling, scenario.TypeTroubleshoot:
		if f == "" {
			e.logger.Warn("response: informational scenario has only quick replies", "type", typ)
		}
		return fullFirst()
	case scenario.TypeBooking, scenario.TypeEmergency, scenario.TypeTransfer:
		return combined()
	default:
		// SYSTEM, SMALL_TALK, and anything unclassified keep it short.
		return quickFirst()
	}
}

// sample picks one reply text by cumulative-weight sampling. Malformed items
// (empty text, non-positive weight) are skipped; a pool whose total weight is
// zero is sampled uniformly. Returns "" for an empty pool.
func (e *Engine) sample(pool []scenario.Reply) string {
	valid := pool[:0:0]
	total := 0.0
	for _, r := range pool {
		if r.Text == "" || r.Weight < 0 {
			continue
		}
		valid = append(valid, r)
		total += r.Weight
	}
	if len(valid) == 0 {
		return ""
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if total <= 0 {
		return valid[e.rng.IntN(len(valid))].Text
	}
	x := e.rng.Float64() * total
	for _, r := range valid {
		x -= r.Weight
		if x < 0 {
			return r.Text
		}
	}
	return valid[len(valid)-1].Text
}

// containsName reports whether any reply text carries a {name} token.
func containsName(pool []scenario.Reply) bool {
	for _, r := range pool {
		if strings.Contains(r.Text, "{name}") {
			return true
		}
	}
	return false
}

// sanitizeName returns a copy of pool with {name} stripped and the text
// compacted.
func sanitizeName(pool []scenario.Reply) []scenario.Reply {
	out := make([]scenario.Reply, len(pool))
	for i, r := range pool {
		r.Text = placeholder.CompactText(strings.ReplaceAll(r.Text, "{name}", ""))
		out[i] = r
	}
	return out
}
