// Package call holds the ephemeral per-call state and its lifecycle manager.
//
// A [State] is created on the first inbound turn of a call and destroyed on
// call end or after an inactivity TTL. During [dialogue.Processor.ProcessTurn]
// the state is exclusively owned by the turn processor; all other components
// receive it by read-only view and return proposed updates, which the
// processor merges. External callers must serialize turns per call.
package call

import (
	"strings"
	"time"

	"github.com/chatterlinx/frontdesk/internal/servicetype"
	"github.com/chatterlinx/frontdesk/internal/slots"
	"github.com/chatterlinx/frontdesk/pkg/types"
)

// Phase is the coarse conversational phase reported by the dialogue LLM.
type Phase string

const (
	PhaseDiscovery    Phase = "DISCOVERY"
	PhaseDecision     Phase = "DECISION"
	PhaseBooking      Phase = "BOOKING"
	PhaseConfirmation Phase = "CONFIRMATION"
)

// phaseRank orders phases for the no-backward rule.
var phaseRank = map[Phase]int{
	PhaseDiscovery:    0,
	PhaseDecision:     1,
	PhaseBooking:      2,
	PhaseConfirmation: 3,
}

// Rank returns the ordering position of p, or -1 for unknown phases.
func (p Phase) Rank() int {
	if r, ok := phaseRank[p]; ok {
		return r
	}
	return -1
}

// Lane controls the top-level turn dispatcher.
type Lane string

const (
	LaneDiscovery Lane = "DISCOVERY"
	LaneBooking   Lane = "BOOKING"
)

// Mode is the fine-grained dialogue mode inferred each turn.
type Mode string

const (
	ModeFree         Mode = "free"
	ModeDiscovery    Mode = "discovery"
	ModeBooking      Mode = "booking"
	ModeConfirmation Mode = "confirmation"
	ModeTriage       Mode = "triage"
	ModeRescue       Mode = "rescue"
)

// maxHistoryEntries caps the stored conversation history per call.
const maxHistoryEntries = 40

// Entry is one conversation history item.
type Entry struct {
	// Role is "user" or "assistant".
	Role string

	// Text is the utterance text.
	Text string

	// Timestamp is when the entry was recorded.
	Timestamp time.Time
}

// State is the ephemeral per-call conversation state.
type State struct {
	// CallID identifies the call.
	CallID string

	// TenantID identifies the owning tenant.
	TenantID string

	// TurnCount is the number of completed turns.
	TurnCount int

	// History is the ordered, capped conversation history.
	History []Entry

	// Slots holds the typed slots extracted so far.
	Slots *slots.Store

	// Phase and Lane are the coarse dialogue positions.
	Phase Phase
	Lane  Lane

	// Mode is the fine-grained mode from the previous turn.
	Mode Mode

	// Frustration and escalation signals accumulated across turns.
	FrustrationCount int
	WantsHuman       bool
	SameQuestionLoops int

	// ConsentPending marks an outstanding consent question (e.g., SMS
	// follow-up permission).
	ConsentPending bool

	// ClarifierPending marks that the agent's previous reply was a
	// service-type clarifying question; the next utterance answers it.
	ClarifierPending bool

	// ServiceType is the authoritative service classification.
	ServiceType servicetype.Resolution

	// RoutedScenarioIDs is the trail of scenario IDs routed on this call,
	// newest last, capped. It biases Tier-1 scoring on later turns.
	RoutedScenarioIDs []string

	// Booking and Discovery hold legacy mirror fields. They are written by
	// [State.SetServiceTypeMirrors] only; reading them for decisions is a
	// defect; use servicetype.CanonicalTypeOf.
	Booking   LaneState
	Discovery LaneState

	// LastAgentUtterance is the agent's previous reply, kept for
	// anti-repetition.
	LastAgentUtterance string

	// LastActivity drives the inactivity TTL.
	LastActivity time.Time
}

// LaneState carries the legacy per-lane mirror of the service type.
type LaneState struct {
	ServiceType string
}

// New creates a fresh State for the first inbound turn of a call.
func New(callID, tenantID string) *State {
	return &State{
		CallID:       callID,
		TenantID:     tenantID,
		Slots:        slots.NewStore(),
		Phase:        PhaseDiscovery,
		Lane:         LaneDiscovery,
		Mode:         ModeFree,
		LastActivity: time.Now(),
	}
}

// SetServiceTypeMirrors implements [servicetype.Mirrors]: the canonical type
// is copied into the legacy lane fields, never the reverse.
func (s *State) SetServiceTypeMirrors(canonical string) {
	s.Booking.ServiceType = canonical
	s.Discovery.ServiceType = canonical
}

// maxRoutedScenarios caps the routed-scenario trail kept per call.
const maxRoutedScenarios = 5

// RecordScenario appends a routed scenario ID to the trail, newest last,
// dropping the oldest beyond the cap.
func (s *State) RecordScenario(id string) {
	if id == "" {
		return
	}
	s.RoutedScenarioIDs = append(s.RoutedScenarioIDs, id)
	if len(s.RoutedScenarioIDs) > maxRoutedScenarios {
		s.RoutedScenarioIDs = s.RoutedScenarioIDs[len(s.RoutedScenarioIDs)-maxRoutedScenarios:]
	}
}

// Append records a history entry, dropping the oldest entries beyond the cap.
func (s *State) Append(role, text string) {
	s.History = append(s.History, Entry{Role: role, Text: text, Timestamp: time.Now()})
	if len(s.History) > maxHistoryEntries {
		s.History = s.History[len(s.History)-maxHistoryEntries:]
	}
}

// RecentMessages returns the last n history entries as LLM messages, each
// truncated to maxChars runes.
func (s *State) RecentMessages(n, maxChars int) []types.Message {
	start := len(s.History) - n
	if start < 0 {
		start = 0
	}
	out := make([]types.Message, 0, len(s.History)-start)
	for _, e := range s.History[start:] {
		out = append(out, types.Message{Role: e.Role, Content: truncate(e.Text, maxChars)})
	}
	return out
}

// AdvancePhase applies a phase proposed by the dialogue LLM, enforcing the
// no-backward rule: a call that reached BOOKING never returns to DISCOVERY.
func (s *State) AdvancePhase(proposed Phase) {
	if proposed.Rank() < 0 {
		return
	}
	if s.Phase.Rank() >= phaseRank[PhaseBooking] && proposed.Rank() < phaseRank[PhaseBooking] {
		return
	}
	s.Phase = proposed
	if proposed.Rank() >= phaseRank[PhaseBooking] {
		s.Lane = LaneBooking
	}
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n])) + "…"
}
