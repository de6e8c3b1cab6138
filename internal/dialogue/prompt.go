package dialogue

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/chatterlinx/frontdesk/internal/call"
	"github.com/chatterlinx/frontdesk/internal/slots"
	"github.com/chatterlinx/frontdesk/internal/store"
	"github.com/chatterlinx/frontdesk/pkg/types"
)

// History bounds for the dialogue LLM call.
const (
	historyTurns    = 6
	historyMaxChars = 200
)

// slotQuestions are the booking questions asked per missing slot, in the
// order of [slots.Required].
var slotQuestions = map[slots.Name]string{
	slots.SlotName:    "who do I have the pleasure of speaking with?",
	slots.SlotPhone:   "what's the best phone number to reach you?",
	slots.SlotAddress: "what's the service address?",
	slots.SlotTime:    "what day and time work best for you?",
}

// nextSlotQuestion returns the question for the first missing required slot.
func nextSlotQuestion(st *call.State) (slots.Name, string, bool) {
	for _, n := range st.Slots.Missing() {
		if q, ok := slotQuestions[n]; ok {
			return n, q, true
		}
	}
	return "", "", false
}

// promptExtras carries per-turn findings into the system prompt.
type promptExtras struct {
	triage            triageSelection
	serviceAreaHint   bool
	clarifierQuestion string
	antiRepeat        string
}

// buildSystemPrompt assembles the dialogue LLM system prompt from tenant
// config and call state. Every behavioural knob comes from the tenant;
// nothing caller-visible is hardcoded here beyond structure.
func buildSystemPrompt(t *store.Tenant, st *call.State, extras promptExtras) string {
	var b strings.Builder

	persona := t.AgentSettings.Persona
	name := persona.AgentName
	if name == "" {
		name = "the receptionist"
	}
	b.WriteString("You are ")
	b.WriteString(name)
	b.WriteString(", answering the phone for ")
	if t.Name != "" {
		b.WriteString(t.Name)
	} else {
		b.WriteString("a home services company")
	}
	b.WriteString(". ")
	if persona.Tone != "" {
		b.WriteString("Tone: ")
		b.WriteString(persona.Tone)
		b.WriteString(". ")
	}
	b.WriteString("Keep every reply under 40 words; this is a live phone call.\n")

	if len(persona.ForbiddenPhrases) > 0 {
		b.WriteString("Never say: ")
		b.WriteString(strings.Join(persona.ForbiddenPhrases, "; "))
		b.WriteString(".\n")
	}

	b.WriteString("Turn number: ")
	b.WriteString(strconv.Itoa(st.TurnCount + 1))
	b.WriteString(". Current phase: ")
	b.WriteString(string(st.Phase))
	b.WriteString(".\n")

	known, missing := slotSummary(st)
	if known != "" {
		b.WriteString("Known caller details: ")
		b.WriteString(known)
		b.WriteString(".\n")
	}
	if missing != "" {
		b.WriteString("Still needed for booking: ")
		b.WriteString(missing)
		b.WriteString(". Ask for at most one per turn.\n")
	}

	if extras.triage.card != nil {
		b.WriteString("Likely issue: ")
		b.WriteString(extras.triage.card.Explanation)
		b.WriteString(" (urgency: ")
		b.WriteString(string(extras.triage.urgency))
		b.WriteString(").")
		if len(extras.triage.card.DiagnosticQuestions) > 0 {
			b.WriteString(" Useful diagnostic questions: ")
			b.WriteString(strings.Join(extras.triage.card.DiagnosticQuestions, " / "))
			b.WriteString(".")
		}
		b.WriteString("\n")
	}

	if extras.serviceAreaHint {
		b.WriteString("The caller asked about a location we may not cover. Acknowledge, take their details, and say the office will confirm coverage.\n")
	}
	if extras.clarifierQuestion != "" {
		b.WriteString("If nothing more urgent comes up, ask: ")
		b.WriteString(extras.clarifierQuestion)
		b.WriteString("\n")
	}

	if extras.antiRepeat != "" {
		b.WriteString("YOU JUST SAID: \"")
		b.WriteString(extras.antiRepeat)
		b.WriteString("\". Say something DIFFERENT this turn.\n")
	}

	b.WriteString("\nRespond with a JSON object: {\"reply\": string, \"needsInfo\": one of [name, phone, address, time, none]}. ")
	b.WriteString("You may additionally include: phase (DISCOVERY|DECISION|BOOKING|CONFIRMATION), problemSummary, wantsBooking (bool), confidence (0-1), filledSlots (object), signals {frustration, wantsHuman}.")
	return b.String()
}

// slotSummary renders the known and missing slot lists for the prompt.
func slotSummary(st *call.State) (known, missing string) {
	var k, m []string
	for _, n := range slots.Required {
		if v, ok := st.Slots.Get(n); ok {
			k = append(k, string(n)+"="+v.Value)
		} else {
			m = append(m, string(n))
		}
	}
	return strings.Join(k, ", "), strings.Join(m, ", ")
}

// llmTurn is the dialogue LLM's response. The minimal contract is {reply,
// needsInfo}; the richer 3-phase shape is accepted when present.
type llmTurn struct {
	Reply          string            `json:"reply"`
	NeedsInfo      string            `json:"needsInfo"`
	Phase          string            `json:"phase"`
	ProblemSummary string            `json:"problemSummary"`
	WantsBooking   bool              `json:"wantsBooking"`
	Confidence     float64           `json:"confidence"`
	FilledSlots    map[string]string `json:"filledSlots"`
	Signals        struct {
		Frustration bool `json:"frustration"`
		WantsHuman  bool `json:"wantsHuman"`
	} `json:"signals"`
}

// parseTurn decodes the model output. On JSON failure the raw text becomes
// the reply with needsInfo=none, never an error.
func parseTurn(content string) llmTurn {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var t llmTurn
	if err := json.Unmarshal([]byte(trimmed), &t); err == nil && t.Reply != "" {
		if t.NeedsInfo == "" {
			t.NeedsInfo = "none"
		}
		return t
	}
	return llmTurn{Reply: strings.TrimSpace(content), NeedsInfo: "none"}
}

// historyMessages returns the bounded conversation history for the LLM call.
func historyMessages(st *call.State) []types.Message {
	return st.RecentMessages(historyTurns, historyMaxChars)
}
