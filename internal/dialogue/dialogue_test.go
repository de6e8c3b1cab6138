package dialogue

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/chatterlinx/frontdesk/internal/call"
	"github.com/chatterlinx/frontdesk/internal/gateway"
	"github.com/chatterlinx/frontdesk/internal/router"
	"github.com/chatterlinx/frontdesk/internal/scenario"
	"github.com/chatterlinx/frontdesk/internal/servicetype"
	"github.com/chatterlinx/frontdesk/internal/slots"
	"github.com/chatterlinx/frontdesk/internal/store"
	"github.com/chatterlinx/frontdesk/pkg/provider/llm"
	"github.com/chatterlinx/frontdesk/pkg/provider/llm/mock"
	"github.com/chatterlinx/frontdesk/pkg/types"
)

func testTenant() *store.Tenant {
	return &store.Tenant{ID: "t1", Name: "Apex Plumbing", Trade: "Plumbing"}
}

func dialogueGateway(p *mock.Provider) *gateway.Gateway {
	return gateway.New(gateway.WithRole(gateway.RoleDialogue, p, time.Second))
}

func jsonReply(reply, needsInfo string) *llm.CompletionResponse {
	return &llm.CompletionResponse{
		Content: `{"reply": "` + reply + `", "needsInfo": "` + needsInfo + `"}`,
	}
}

func TestProcessTurn_QuickAnswerInBookingMode(t *testing.T) {
	t.Parallel()

	p := NewProcessor()
	st := call.New("c1", "t1")
	st.Mode = call.ModeBooking

	res := p.ProcessTurn(context.Background(), Turn{
		Tenant:    testTenant(),
		State:     st,
		Utterance: "Are you licensed?",
		Channel:   types.ChannelVoice,
		QuickAnswers: []store.QuickAnswer{{
			ID:       "qa-1",
			Question: "Are you licensed and insured?",
			Answer:   "Yes, we are fully licensed and insured.",
			Triggers: []string{"licensed"},
			Enabled:  true,
		}},
	})
	if res.Source != SourceQuickAnswer {
		t.Fatalf("Source = %q, want quick_answer", res.Source)
	}
	want := "Yes, we are fully licensed and insured. Now, to help you further, who do I have the pleasure of speaking with?"
	if res.Reply != want {
		t.Errorf("Reply = %q, want %q", res.Reply, want)
	}
}

func TestProcessTurn_QuickAnswerInFreeModeOffersBooking(t *testing.T) {
	t.Parallel()

	p := NewProcessor()
	st := call.New("c1", "t1")

	res := p.ProcessTurn(context.Background(), Turn{
		Tenant:    testTenant(),
		State:     st,
		Utterance: "Do you charge a service fee?",
		Channel:   types.ChannelVoice,
		QuickAnswers: []store.QuickAnswer{{
			ID:       "qa-2",
			Answer:   "Our service fee is $89, waived with any repair.",
			Triggers: []string{"service fee"},
			Enabled:  true,
		}},
	})
	if res.Source != SourceQuickAnswer {
		t.Fatalf("Source = %q, want quick_answer", res.Source)
	}
	if !strings.HasSuffix(res.Reply, "Would you like to get something scheduled while I have you?") {
		t.Errorf("Reply = %q, want the scheduling offer appended", res.Reply)
	}
}

func TestProcessTurn_ServiceAreaKnownCity(t *testing.T) {
	t.Parallel()

	p := NewProcessor()
	st := call.New("c1", "t1")
	tenant := testTenant()
	tenant.AgentLogic.ServiceAreas = []string{"Fort Myers", "Naples", "Cape Coral"}

	res := p.ProcessTurn(context.Background(), Turn{
		Tenant:    tenant,
		State:     st,
		Utterance: "Do you service Fort Myers?",
		Channel:   types.ChannelVoice,
	})
	if res.Source != SourceServiceArea {
		t.Fatalf("Source = %q, want service_area", res.Source)
	}
	if res.Reply != "Yes, we absolutely service Fort Myers. How can we help you today?" {
		t.Errorf("Reply = %q", res.Reply)
	}
}

func TestProcessTurn_ClarifierIsACompleteReply(t *testing.T) {
	t.Parallel()

	p := NewProcessor()
	st := call.New("c1", "t1")

	// Emergency and repair evidence tie, so the resolver asks its
	// disambiguating question and the turn ends there, even on turn one.
	res := p.ProcessTurn(context.Background(), Turn{
		Tenant:    testTenant(),
		State:     st,
		Utterance: "no heat, can you fix it",
		Channel:   types.ChannelVoice,
	})
	if res.Source != SourceClarifier {
		t.Fatalf("Source = %q, want service_type_clarifier", res.Source)
	}
	if res.Reply != "Is this something that needs attention right away today, or can we schedule the next available appointment?" {
		t.Errorf("Reply = %q", res.Reply)
	}
}

func TestProcessTurn_DegradedPathUsesKnowledge(t *testing.T) {
	t.Parallel()

	// No gateway configured: the turn degrades to the priority knowledge
	// router, which answers from the tenant's curated content.
	p := NewProcessor()
	st := call.New("c1", "t1")
	tenant := testTenant()
	tenant.AgentLogic.Knowledge.CompanyQnA = []store.QnAEntry{{
		Question: "What are your business hours?",
		Answer:   "We are open 8am to 6pm Monday through Saturday.",
		Keywords: []string{"hours", "open"},
	}}

	res := p.ProcessTurn(context.Background(), Turn{
		Tenant:    tenant,
		State:     st,
		Utterance: "what are your hours, are you open today",
		Channel:   types.ChannelVoice,
	})
	if res.Source != SourceKnowledgeFallback {
		t.Fatalf("Source = %q, want knowledge_fallback", res.Source)
	}
	if !strings.Contains(res.Reply, "8am to 6pm") {
		t.Errorf("Reply = %q, want the curated answer", res.Reply)
	}
}

func TestProcessTurn_LLMReplyAndModeInference(t *testing.T) {
	t.Parallel()

	mp := &mock.Provider{CompleteResponse: jsonReply("Got it. What's the service address?", "address")}
	p := NewProcessor(WithGateway(dialogueGateway(mp)))
	st := call.New("c1", "t1")

	res := p.ProcessTurn(context.Background(), Turn{
		Tenant:    testTenant(),
		State:     st,
		Utterance: "I'd like to get my sink looked at",
		Channel:   types.ChannelVoice,
	})
	if res.Source != SourceDialogueLLM {
		t.Fatalf("Source = %q, want dialogue_llm", res.Source)
	}
	if res.Mode != call.ModeBooking {
		t.Errorf("Mode = %v, want booking while info is still needed", res.Mode)
	}
	if res.NextGoal != "address" {
		t.Errorf("NextGoal = %q, want address", res.NextGoal)
	}
	if st.TurnCount != 1 || len(st.History) != 2 {
		t.Errorf("state = (turns %d, history %d), want (1, 2)", st.TurnCount, len(st.History))
	}
	if st.LastAgentUtterance != res.Reply {
		t.Errorf("LastAgentUtterance = %q, want the reply recorded", st.LastAgentUtterance)
	}
}

func TestProcessTurn_AllSlotsFilledConfirms(t *testing.T) {
	t.Parallel()

	mp := &mock.Provider{CompleteResponse: jsonReply("Perfect, let me read that back to you.", "none")}
	p := NewProcessor(WithGateway(dialogueGateway(mp)))
	st := call.New("c1", "t1")
	st.Slots.Merge(map[slots.Name]slots.Value{
		slots.SlotName:    {Value: "Dana Reed", Confidence: 0.9},
		slots.SlotPhone:   {Value: "239-555-0134", Confidence: 0.9},
		slots.SlotAddress: {Value: "123 Main Street", Confidence: 0.9},
		slots.SlotTime:    {Value: "tomorrow morning", Confidence: 0.9},
	})

	res := p.ProcessTurn(context.Background(), Turn{
		Tenant:    testTenant(),
		State:     st,
		Utterance: "that all sounds right",
		Channel:   types.ChannelVoice,
	})
	if res.Mode != call.ModeConfirmation {
		t.Errorf("Mode = %v, want confirmation with all slots filled", res.Mode)
	}
}

func TestProcessTurn_AntiRepetitionRetries(t *testing.T) {
	t.Parallel()

	repeat := "What's the best phone number to reach you?"
	mp := &mock.Provider{CompleteResponses: []*llm.CompletionResponse{
		jsonReply(repeat, "phone"),
		jsonReply("And a good callback number for you?", "phone"),
	}}
	p := NewProcessor(WithGateway(dialogueGateway(mp)))
	st := call.New("c1", "t1")
	st.LastAgentUtterance = repeat

	res := p.ProcessTurn(context.Background(), Turn{
		Tenant:    testTenant(),
		State:     st,
		Utterance: "sure, go ahead",
		Channel:   types.ChannelVoice,
	})
	if res.Source != SourceDialogueLLM {
		t.Fatalf("Source = %q, want dialogue_llm after the retry", res.Source)
	}
	if res.Reply == repeat {
		t.Errorf("Reply = %q, want a diverging retry", res.Reply)
	}
	if len(mp.CompleteCalls) != 2 {
		t.Errorf("LLM calls = %d, want 2", len(mp.CompleteCalls))
	}
}

func TestProcessTurn_AntiRepetitionFallsBack(t *testing.T) {
	t.Parallel()

	repeat := "What's the best phone number to reach you?"
	mp := &mock.Provider{CompleteResponse: jsonReply(repeat, "phone")}
	p := NewProcessor(WithGateway(dialogueGateway(mp)))
	st := call.New("c1", "t1")
	st.LastAgentUtterance = repeat

	res := p.ProcessTurn(context.Background(), Turn{
		Tenant:    testTenant(),
		State:     st,
		Utterance: "sure, go ahead",
		Channel:   types.ChannelVoice,
	})
	if res.Source != SourceEmergencyFallback {
		t.Fatalf("Source = %q, want emergency_fallback when the retry repeats too", res.Source)
	}
	if res.Reply == repeat || res.Reply == "" {
		t.Errorf("Reply = %q, want a canned non-repeating reply", res.Reply)
	}
}

func TestProcessTurn_HumanRequestTriggersRescue(t *testing.T) {
	t.Parallel()

	mp := &mock.Provider{CompleteResponse: jsonReply("I understand.", "none")}
	p := NewProcessor(WithGateway(dialogueGateway(mp)))
	st := call.New("c1", "t1")
	tenant := testTenant()
	tenant.AgentSettings.FrontDesk.HumanRequestTriggers = []string{"speak to a human"}

	res := p.ProcessTurn(context.Background(), Turn{
		Tenant:    tenant,
		State:     st,
		Utterance: "I want to speak to a human please",
		Channel:   types.ChannelVoice,
	})
	if !res.Signals.WantsHuman {
		t.Error("WantsHuman = false, want trigger detected")
	}
	if res.Mode != call.ModeRescue {
		t.Errorf("Mode = %v, want rescue", res.Mode)
	}
	if !strings.Contains(res.Reply, "call you right back") {
		t.Errorf("Reply = %q, want the callback offer appended", res.Reply)
	}
}

func TestProcessTurn_EmptyTriggerListDisablesDetector(t *testing.T) {
	t.Parallel()

	mp := &mock.Provider{CompleteResponse: jsonReply("I understand.", "none")}
	p := NewProcessor(WithGateway(dialogueGateway(mp)))
	st := call.New("c1", "t1")

	res := p.ProcessTurn(context.Background(), Turn{
		Tenant:    testTenant(),
		State:     st,
		Utterance: "I want to speak to a human please",
		Channel:   types.ChannelVoice,
	})
	if res.Signals.WantsHuman || res.Mode == call.ModeRescue {
		t.Errorf("res = %+v, want no escalation without configured triggers", res)
	}
}

func TestProcessTurn_NameTokenNeverEmitted(t *testing.T) {
	t.Parallel()

	mp := &mock.Provider{CompleteResponse: jsonReply("Thanks {name}. Let me help you schedule.", "time")}
	p := NewProcessor(WithGateway(dialogueGateway(mp)))
	st := call.New("c1", "t1")

	res := p.ProcessTurn(context.Background(), Turn{
		Tenant:    testTenant(),
		State:     st,
		Utterance: "ok let's set it up",
		Channel:   types.ChannelVoice,
	})
	if res.Reply != "Thanks. Let me help you schedule." {
		t.Errorf("Reply = %q, want the name token dropped and the text compacted", res.Reply)
	}
}

func TestProcessTurn_TriageSetsUrgencyAndMode(t *testing.T) {
	t.Parallel()

	p := NewProcessor()
	st := call.New("c1", "t1")

	res := p.ProcessTurn(context.Background(), Turn{
		Tenant:    testTenant(),
		State:     st,
		Utterance: "my water heater is flooding the basement",
		Channel:   types.ChannelVoice,
		TriageCards: []store.TriageCard{{
			ID:               "tc-1",
			Active:           true,
			KeywordsMustHave: []string{"water heater"},
			Explanation:      "Likely a failed tank",
			Urgency:          types.UrgencyUrgent,
		}},
	})
	if res.Urgency != types.UrgencyEmergency {
		t.Errorf("Urgency = %v, want emergency derived from the utterance", res.Urgency)
	}
	if st.Mode != call.ModeTriage && res.Mode != call.ModeTriage {
		t.Errorf("mode = (%v, %v), want triage", st.Mode, res.Mode)
	}
}

func TestProcessTurn_EmptyUtterance(t *testing.T) {
	t.Parallel()

	p := NewProcessor()
	st := call.New("c1", "t1")

	res := p.ProcessTurn(context.Background(), Turn{
		Tenant:    testTenant(),
		State:     st,
		Utterance: "   ",
		Channel:   types.ChannelVoice,
	})
	if res.Source != SourceEmergencyFallback || res.Reply == "" {
		t.Errorf("res = (%q, %q), want the canned fallback", res.Source, res.Reply)
	}
}

func TestIsQuestion(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		in   string
		want bool
	}{
		{"Are you licensed?", true},
		{"do you offer financing", true},
		{"what are your hours", true},
		{"my sink is clogged", false},
		{"I need someone out here", false},
		{"tell me about your pricing", true},
		{"", false},
	} {
		if got := isQuestion(tc.in); got != tc.want {
			t.Errorf("isQuestion(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestEmergencyFallback_PhaseAware(t *testing.T) {
	t.Parallel()

	st := call.New("c1", "t1")
	if got := emergencyFallback(st); !strings.Contains(got, "didn't quite catch that") {
		t.Errorf("discovery fallback = %q", got)
	}

	st.AdvancePhase(call.PhaseBooking)
	if got := emergencyFallback(st); !strings.Contains(got, "To keep things moving,") {
		t.Errorf("booking fallback = %q, want a slot question", got)
	}

	st.Slots.Merge(map[slots.Name]slots.Value{
		slots.SlotName:    {Value: "Dana", Confidence: 0.9},
		slots.SlotPhone:   {Value: "239-555-0134", Confidence: 0.9},
		slots.SlotAddress: {Value: "123 Main Street", Confidence: 0.9},
		slots.SlotTime:    {Value: "tomorrow", Confidence: 0.9},
	})
	if got := emergencyFallback(st); !strings.Contains(got, "confirm the details") {
		t.Errorf("complete-slots fallback = %q", got)
	}
}

func TestProcessTurn_ClarifierAnswerConfirmsType(t *testing.T) {
	t.Parallel()

	mp := &mock.Provider{CompleteResponse: jsonReply("Got it, we'll set up a maintenance visit.", "name")}
	p := NewProcessor(WithGateway(dialogueGateway(mp)))
	st := call.New("c1", "t1")

	first := p.ProcessTurn(context.Background(), Turn{
		Tenant:    testTenant(),
		State:     st,
		Utterance: "no heat, can you fix it",
		Channel:   types.ChannelVoice,
	})
	if first.Source != SourceClarifier {
		t.Fatalf("turn 1 Source = %q, want service_type_clarifier", first.Source)
	}

	second := p.ProcessTurn(context.Background(), Turn{
		Tenant:    testTenant(),
		State:     st,
		Utterance: "it can wait, just routine maintenance please",
		Channel:   types.ChannelVoice,
	})
	if second.Reply == first.Reply {
		t.Fatalf("turn 2 repeated the clarifier %q", first.Reply)
	}
	if second.Source != SourceDialogueLLM {
		t.Errorf("turn 2 Source = %q, want dialogue_llm", second.Source)
	}
	if st.ServiceType.State != servicetype.StateConfirmed {
		t.Errorf("State = %v, want CONFIRMED after the answer", st.ServiceType.State)
	}
	if st.ServiceType.CanonicalType != "maintenance" {
		t.Errorf("CanonicalType = %q, want maintenance", st.ServiceType.CanonicalType)
	}
	if st.ClarifierPending {
		t.Error("ClarifierPending = true, want cleared after the answer")
	}
}

func TestProcessTurn_ConfirmationLocksServiceType(t *testing.T) {
	t.Parallel()

	mp := &mock.Provider{CompleteResponse: jsonReply("Perfect, let me read that back to you.", "none")}
	p := NewProcessor(WithGateway(dialogueGateway(mp)))
	st := call.New("c1", "t1")
	st.ServiceType = servicetype.Resolution{
		State:         servicetype.StateConfirmed,
		CanonicalType: "repair",
		Confidence:    servicetype.ConfidenceMedium,
	}
	st.Slots.Merge(map[slots.Name]slots.Value{
		slots.SlotName:    {Value: "Dana Reed", Confidence: 0.9},
		slots.SlotPhone:   {Value: "239-555-0134", Confidence: 0.9},
		slots.SlotAddress: {Value: "123 Main Street", Confidence: 0.9},
		slots.SlotTime:    {Value: "tomorrow morning", Confidence: 0.9},
	})

	res := p.ProcessTurn(context.Background(), Turn{
		Tenant:    testTenant(),
		State:     st,
		Utterance: "that all sounds right",
		Channel:   types.ChannelVoice,
	})
	if res.Mode != call.ModeConfirmation {
		t.Fatalf("Mode = %v, want confirmation", res.Mode)
	}
	if st.ServiceType.State != servicetype.StateLocked {
		t.Errorf("State = %v, want LOCKED once the booking is confirmed", st.ServiceType.State)
	}
}

func schedulingPool() *scenario.Pool {
	return scenario.NewPool(scenario.NormalizeAll([]scenario.Scenario{{
		ID: "booking", Name: "Book Appointment", Type: scenario.TypeBooking,
		Rules:        scenario.MatchRules{KeywordsMustHave: []string{"schedule", "appointment"}},
		QuickReplies: []scenario.Reply{{Text: "I can get you on the schedule right away. What day works best?", Weight: 1}},
	}}))
}

func TestProcessTurn_RoutedScenarioAnswersBeforeLLM(t *testing.T) {
	t.Parallel()

	mp := &mock.Provider{CompleteResponse: jsonReply("Sure, I can help with anything!", "none")}
	p := NewProcessor(
		WithGateway(dialogueGateway(mp)),
		WithRouter(router.New(router.Config{})),
	)
	st := call.New("c1", "t1")
	tenant := testTenant()
	tenant.AgentLogic.Gatekeeper.Enabled = true

	res := p.ProcessTurn(context.Background(), Turn{
		Tenant:    tenant,
		State:     st,
		Utterance: "I need to schedule an appointment",
		Channel:   types.ChannelVoice,
		Pool:      schedulingPool(),
	})
	if res.Source != SourceScenario {
		t.Fatalf("Source = %q, want scenario", res.Source)
	}
	if !strings.Contains(res.Reply, "on the schedule") {
		t.Errorf("Reply = %q, want the scenario reply", res.Reply)
	}
	if len(mp.CompleteCalls) != 0 {
		t.Errorf("LLM calls = %d, want 0 when a scenario routes", len(mp.CompleteCalls))
	}
	if len(st.RoutedScenarioIDs) != 1 || st.RoutedScenarioIDs[0] != "booking" {
		t.Errorf("RoutedScenarioIDs = %v, want [booking]", st.RoutedScenarioIDs)
	}
}

func TestProcessTurn_KnowledgeFlowAnswersWhenGatekeeperOff(t *testing.T) {
	t.Parallel()

	mp := &mock.Provider{CompleteResponse: jsonReply("Sure, I can help with anything!", "none")}
	p := NewProcessor(WithGateway(dialogueGateway(mp)))
	st := call.New("c1", "t1")

	res := p.ProcessTurn(context.Background(), Turn{
		Tenant:    testTenant(),
		State:     st,
		Utterance: "I need to schedule an appointment",
		Channel:   types.ChannelVoice,
		Pool:      schedulingPool(),
	})
	if res.Source != SourceKnowledge {
		t.Fatalf("Source = %q, want knowledge", res.Source)
	}
	if len(mp.CompleteCalls) != 0 {
		t.Errorf("LLM calls = %d, want 0 when the priority flow answers", len(mp.CompleteCalls))
	}
}

func TestProcessTurn_BookingModeSkipsScenarioRouting(t *testing.T) {
	t.Parallel()

	mp := &mock.Provider{CompleteResponse: jsonReply("Great, and what time works for you?", "time")}
	p := NewProcessor(
		WithGateway(dialogueGateway(mp)),
		WithRouter(router.New(router.Config{})),
	)
	st := call.New("c1", "t1")
	st.Mode = call.ModeBooking
	tenant := testTenant()
	tenant.AgentLogic.Gatekeeper.Enabled = true

	res := p.ProcessTurn(context.Background(), Turn{
		Tenant:    tenant,
		State:     st,
		Utterance: "can we schedule the appointment for tomorrow",
		Channel:   types.ChannelVoice,
		Pool:      schedulingPool(),
	})
	if res.Source != SourceDialogueLLM {
		t.Errorf("Source = %q, want dialogue_llm while booking is in progress", res.Source)
	}
}

func TestTruncateUTF8_KeepsRuneBoundary(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("a", maxUtteranceChars-1) + "é"
	got := truncateUTF8(s, maxUtteranceChars)
	if len(got) > maxUtteranceChars {
		t.Fatalf("len = %d, want at most %d", len(got), maxUtteranceChars)
	}
	if !utf8.ValidString(got) {
		t.Errorf("truncated text is not valid UTF-8")
	}
	if got != strings.Repeat("a", maxUtteranceChars-1) {
		t.Errorf("got %d bytes, want the straddling rune dropped whole", len(got))
	}

	if got := truncateUTF8("short", 2000); got != "short" {
		t.Errorf("truncateUTF8(short) = %q, want unchanged", got)
	}
}
