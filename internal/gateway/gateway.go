// Package gateway is the single egress point for LLM traffic.
//
// Every component that needs a model completion goes through [Gateway.Complete]
// with a [Role]; nothing else in the codebase performs LLM I/O. The gateway
// owns per-role providers, per-role timeouts, per-role circuit breakers, and
// the request tagging that lets downstream billing attribute spend to the
// routing engine.
//
// Three roles exist:
//
//  1. [RoleDialogue], the conversational model on the turn hot path. Tight
//     timeout, the caller is on the phone.
//  2. [RoleFallback], the Tier-3 scenario-routing model. Slightly looser
//     timeout, JSON responses.
//  3. [RoleAdmin], offline knowledge-curation work. No caller waiting, so
//     a generous timeout and no breaker trip urgency.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/chatterlinx/frontdesk/internal/blackbox"
	"github.com/chatterlinx/frontdesk/internal/observe"
	"github.com/chatterlinx/frontdesk/internal/resilience"
	"github.com/chatterlinx/frontdesk/pkg/provider/llm"
	"github.com/chatterlinx/frontdesk/pkg/types"
)

// ErrLLMUnavailable is returned when the role's provider is not configured,
// its circuit breaker is open, or the call failed. Callers treat it as "use
// the non-LLM path", never as a crash.
var ErrLLMUnavailable = errors.New("gateway: llm unavailable")

// Role selects which provider, timeout and breaker a request uses.
type Role string

const (
	RoleDialogue Role = "dialogue"
	RoleFallback Role = "fallback"
	RoleAdmin    Role = "admin"
)

// Default per-role timeouts. The dialogue role is on the voice hot path.
const (
	defaultDialogueTimeout = 4 * time.Second
	defaultFallbackTimeout = 5 * time.Second
	defaultAdminTimeout    = 60 * time.Second
)

// userTagSuffix marks requests issued by the routing engine so provider-side
// usage dashboards can separate them from other traffic.
const userTagSuffix = "_brain"

// Request is a gateway completion request.
type Request struct {
	// CallID and TenantID attribute the request for tagging and events.
	CallID   string
	TenantID string

	// Messages is the conversation to complete. SystemPrompt, if set, is
	// prepended by the provider.
	Messages     []types.Message
	SystemPrompt string

	// Temperature and MaxTokens pass through to the provider.
	Temperature float64
	MaxTokens   int

	// JSONResponse requests a JSON-object response format.
	JSONResponse bool

	// Metadata is attached to the emitted events, not sent to the provider.
	Metadata map[string]string
}

// Response is a gateway completion response.
type Response struct {
	Content string
	Usage   llm.Usage

	// Model is the provider's model identifier, for spend accounting.
	Model string

	// Duration is the wall time of the provider call.
	Duration time.Duration
}

// roleSlot bundles a provider with its protection.
type roleSlot struct {
	provider llm.Provider
	timeout  time.Duration
	breaker  *resilience.CircuitBreaker
}

// Gateway routes completion requests to role-specific providers. Safe for
// concurrent use after construction.
type Gateway struct {
	roles   map[Role]*roleSlot
	metrics *observe.Metrics
	events  blackbox.Logger
	logger  *slog.Logger
}

// Option configures a [Gateway].
type Option func(*Gateway)

// WithRole installs a provider for a role. A zero timeout selects the role's
// default.
func WithRole(role Role, p llm.Provider, timeout time.Duration) Option {
	return func(g *Gateway) {
		if p == nil {
			return
		}
		if timeout <= 0 {
			timeout = defaultTimeout(role)
		}
		g.roles[role] = &roleSlot{
			provider: p,
			timeout:  timeout,
			breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
				Name: "llm-" + string(role),
			}),
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithEvents sets the blackbox event sink. Defaults to [blackbox.Nop].
func WithEvents(l blackbox.Logger) Option {
	return func(g *Gateway) { g.events = l }
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// New creates a Gateway. Roles without an installed provider report
// [ErrLLMUnavailable] on use rather than failing construction; the engine is
// expected to run with Tier-3 disabled when no models are configured.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		roles:  make(map[Role]*roleSlot),
		events: blackbox.Nop{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g
}

// Available reports whether the role has a configured provider whose breaker
// is not open.
func (g *Gateway) Available(role Role) bool {
	slot, ok := g.roles[role]
	if !ok {
		return false
	}
	return slot.breaker.State() != resilience.StateOpen
}

// Model returns the model identifier configured for the role, or "" when the
// role has no provider.
func (g *Gateway) Model(role Role) string {
	if slot, ok := g.roles[role]; ok {
		return slot.provider.Model()
	}
	return ""
}

// Complete issues a completion for the role. On any failure (missing
// provider, open breaker, timeout, provider error) it returns an error
// wrapping [ErrLLMUnavailable].
func (g *Gateway) Complete(ctx context.Context, role Role, req Request) (Response, error) {
	slot, ok := g.roles[role]
	if !ok {
		return Response{}, fmt.Errorf("%w: role %s has no provider", ErrLLMUnavailable, role)
	}

	callCtx, cancel := context.WithTimeout(ctx, slot.timeout)
	defer cancel()

	preq := llm.CompletionRequest{
		Messages:     req.Messages,
		SystemPrompt: req.SystemPrompt,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		JSONResponse: req.JSONResponse,
		User:         req.TenantID + userTagSuffix,
	}

	var (
		presp *llm.CompletionResponse
		start = time.Now()
	)
	err := slot.breaker.Execute(func() error {
		var cerr error
		presp, cerr = slot.provider.Complete(callCtx, preq)
		return cerr
	})
	dur := time.Since(start)

	g.metrics.LLMDuration.Record(ctx, dur.Seconds(),
		metric.WithAttributes(observe.Attr("brain", string(role))))
	status := "ok"
	if err != nil {
		status = "error"
	}
	g.metrics.RecordLLMRequest(ctx, string(role), status)

	if err != nil {
		cause := "provider"
		if errors.Is(err, resilience.ErrCircuitOpen) {
			cause = "circuit_open"
		} else if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			cause = "timeout"
		}
		g.metrics.RecordLLMError(ctx, string(role), cause)
		g.logger.Warn("gateway: llm call failed",
			"role", role,
			"model", slot.provider.Model(),
			"call_id", req.CallID,
			"tenant_id", req.TenantID,
			"duration_ms", dur.Milliseconds(),
			"error", err)
		fields := map[string]any{
			"role":  string(role),
			"error": err.Error(),
		}
		for k, v := range req.Metadata {
			fields[k] = v
		}
		g.events.Emit(ctx, blackbox.Event{
			Type:     blackbox.EventRoutingError,
			TenantID: req.TenantID,
			CallID:   req.CallID,
			Fields:   fields,
		})
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return Response{}, fmt.Errorf("%w: role %s circuit open", ErrLLMUnavailable, role)
		}
		return Response{}, fmt.Errorf("%w: role %s: %v", ErrLLMUnavailable, role, err)
	}

	g.logger.Debug("gateway: llm call completed",
		"role", role,
		"model", slot.provider.Model(),
		"call_id", req.CallID,
		"duration_ms", dur.Milliseconds(),
		"prompt_tokens", presp.Usage.PromptTokens,
		"completion_tokens", presp.Usage.CompletionTokens)

	return Response{
		Content:  presp.Content,
		Usage:    presp.Usage,
		Model:    slot.provider.Model(),
		Duration: dur,
	}, nil
}

// defaultTimeout returns the built-in timeout for a role.
func defaultTimeout(role Role) time.Duration {
	switch role {
	case RoleDialogue:
		return defaultDialogueTimeout
	case RoleFallback:
		return defaultFallbackTimeout
	default:
		return defaultAdminTimeout
	}
}
