package knowledge

import (
	"context"
	"strings"
	"testing"

	"github.com/chatterlinx/frontdesk/internal/blackbox"
	"github.com/chatterlinx/frontdesk/internal/scenario"
	"github.com/chatterlinx/frontdesk/internal/store"
	"github.com/chatterlinx/frontdesk/pkg/types"
)

func testPool(scenarios []scenario.Scenario) *scenario.Pool {
	return scenario.NewPool(scenario.NormalizeAll(scenarios))
}

func boolPtr(b bool) *bool { return &b }

func TestRoute_InstantResponsesWinFirst(t *testing.T) {
	t.Parallel()

	r := NewRouter()
	tenant := &store.Tenant{
		ID: "t1",
		AgentLogic: store.AgentLogic{
			Knowledge: store.Knowledge{
				CompanyQnA: []store.QnAEntry{{
					Question: "Can I schedule an appointment?",
					Answer:   "QNA ANSWER",
					Keywords: []string{"schedule", "appointment"},
				}},
			},
		},
	}
	pool := testPool([]scenario.Scenario{{
		ID: "booking", Name: "Book Appointment", Type: scenario.TypeBooking,
		Strategy:     scenario.StrategyQuickOnly,
		QuickReplies: []scenario.Reply{{Text: "I can get you scheduled right away.", Weight: 1}},
		Rules:        scenario.MatchRules{KeywordsMustHave: []string{"schedule", "appointment"}},
	}})

	ans := r.Route(context.Background(), Query{
		TenantID:  "t1",
		Utterance: "I want to schedule an appointment",
		Channel:   types.ChannelVoice,
		Tenant:    tenant,
		Pool:      pool,
	})
	if ans.Source != store.SourceInstantResponses {
		t.Fatalf("Source = %v, want instantResponses to win before companyQnA", ans.Source)
	}
	if ans.Scenario == nil || ans.Scenario.ID != "booking" {
		t.Errorf("Scenario = %v, want booking", ans.Scenario)
	}
	if ans.Response == "" {
		t.Error("Response empty for a scenario win")
	}
}

func TestRoute_CompanyQnAWinsWhenPoolEmpty(t *testing.T) {
	t.Parallel()

	r := NewRouter()
	tenant := &store.Tenant{
		ID: "t1",
		AgentLogic: store.AgentLogic{
			Knowledge: store.Knowledge{
				CompanyQnA: []store.QnAEntry{{
					Question: "What are your business hours?",
					Answer:   "We are open 8am to 6pm Monday through Saturday.",
					Keywords: []string{"hours", "open"},
				}},
			},
		},
	}

	ans := r.Route(context.Background(), Query{
		TenantID:  "t1",
		Utterance: "what are your hours, are you open today",
		Channel:   types.ChannelVoice,
		Tenant:    tenant,
	})
	if ans.Source != store.SourceCompanyQnA {
		t.Fatalf("Source = %v, want companyQnA", ans.Source)
	}
	if !strings.Contains(ans.Response, "8am to 6pm") {
		t.Errorf("Response = %q, want the curated answer", ans.Response)
	}
	if ans.Confidence < 0.75 {
		t.Errorf("Confidence = %v, want at least the source threshold", ans.Confidence)
	}
}

func TestRoute_BelowThresholdFallsThrough(t *testing.T) {
	t.Parallel()

	// One shared token keeps the source past the pre-filter but the blended
	// score stays under 0.75, so the walk continues to the fallback.
	r := NewRouter()
	tenant := &store.Tenant{
		ID: "t1",
		AgentLogic: store.AgentLogic{
			Knowledge: store.Knowledge{
				CompanyQnA: []store.QnAEntry{{
					Question: "Do you offer financing plans?",
					Answer:   "FINANCING",
					Keywords: []string{"financing", "payment plan"},
				}},
			},
		},
	}

	ans := r.Route(context.Background(), Query{
		TenantID:  "t1",
		Utterance: "do you have any openings tomorrow",
		Channel:   types.ChannelVoice,
		Tenant:    tenant,
	})
	if ans.Source != store.SourceInHouseFallback {
		t.Errorf("Source = %v, want inHouseFallback", ans.Source)
	}
	if ans.Response == "" {
		t.Error("Response empty, want the fallback to always answer")
	}
}

func TestRoute_PreFilterSkipsAndRecords(t *testing.T) {
	t.Parallel()

	sink := blackbox.NewMemorySink()
	r := NewRouter(WithEvents(sink))

	ans := r.Route(context.Background(), Query{
		TenantID:  "t1",
		Utterance: "hello there",
		Channel:   types.ChannelVoice,
		Tenant:    &store.Tenant{ID: "t1"},
	})

	skipped := 0
	for _, rec := range ans.Flow {
		if rec.Skipped {
			skipped++
		}
	}
	if skipped == 0 {
		t.Error("no sources skipped for a tenant with no content")
	}
	if !sink.Has(blackbox.EventSourceSkipped) {
		t.Error("skip event not emitted")
	}
	if ans.Source != store.SourceInHouseFallback || ans.Response == "" {
		t.Errorf("terminal answer = (%v, %q), want non-empty fallback", ans.Source, ans.Response)
	}
}

func TestRoute_CustomFlowRespectedOnlyInCustomMode(t *testing.T) {
	t.Parallel()

	r := NewRouter()
	flow := []store.SourceBinding{
		{Source: store.SourceCompanyQnA, Priority: 1, Threshold: 0.1},
	}
	qna := store.Knowledge{
		CompanyQnA: []store.QnAEntry{{
			Question: "What are your business hours?",
			Answer:   "HOURS",
			Keywords: []string{"hours", "open"},
		}},
	}

	custom := &store.Tenant{
		ID:               "t1",
		IntelligenceMode: store.ModeCustom,
		AgentLogic:       store.AgentLogic{PriorityFlow: flow, Knowledge: qna},
	}
	ans := r.Route(context.Background(), Query{TenantID: "t1", Utterance: "hours open", Tenant: custom})
	if ans.Source != store.SourceCompanyQnA {
		t.Errorf("custom mode Source = %v, want companyQnA at the lowered threshold", ans.Source)
	}

	// Same flow on a Global-mode tenant is ignored: the default 0.75 threshold
	// applies and the weak match falls through.
	global := &store.Tenant{
		ID:         "t2",
		AgentLogic: store.AgentLogic{PriorityFlow: flow, Knowledge: qna},
	}
	ans = r.Route(context.Background(), Query{TenantID: "t2", Utterance: "open", Tenant: global})
	if ans.Source == store.SourceCompanyQnA && ans.Confidence < 0.75 {
		t.Errorf("global mode honoured a custom threshold: %+v", ans)
	}
}

func TestRoute_DisabledSourcesStillAnswer(t *testing.T) {
	t.Parallel()

	r := NewRouter()
	tenant := &store.Tenant{
		ID:               "t1",
		IntelligenceMode: store.ModeCustom,
		AgentLogic: store.AgentLogic{
			PriorityFlow: []store.SourceBinding{
				{Source: store.SourceInstantResponses, Priority: 1, Threshold: 0.5, Enabled: boolPtr(false)},
				{Source: store.SourceCompanyQnA, Priority: 2, Threshold: 0.5, Enabled: boolPtr(false)},
			},
		},
	}

	ans := r.Route(context.Background(), Query{TenantID: "t1", Utterance: "anything at all", Tenant: tenant})
	if ans.Source != store.SourceInHouseFallback {
		t.Errorf("Source = %v, want the appended fallback", ans.Source)
	}
	if ans.Response == "" {
		t.Error("Response empty with all sources disabled, want fallback answer")
	}
}

func TestRoute_ForbiddenPhrasesStripped(t *testing.T) {
	t.Parallel()

	r := NewRouter()
	tenant := &store.Tenant{
		ID: "t1",
		AgentLogic: store.AgentLogic{
			Knowledge: store.Knowledge{
				CompanyQnA: []store.QnAEntry{{
					Question: "What are your business hours?",
					Answer:   "To be honest, we are open 8am to 6pm.",
					Keywords: []string{"hours", "open"},
				}},
			},
		},
		AgentSettings: store.AgentSettings{
			Persona: store.Persona{ForbiddenPhrases: []string{"to be honest,"}},
		},
	}

	ans := r.Route(context.Background(), Query{
		TenantID:  "t1",
		Utterance: "what are your hours, are you open today",
		Tenant:    tenant,
	})
	if strings.Contains(strings.ToLower(ans.Response), "to be honest") {
		t.Errorf("Response = %q, forbidden phrase survived", ans.Response)
	}
	if strings.HasPrefix(ans.Response, " ") {
		t.Errorf("Response = %q, want compacted text", ans.Response)
	}
}

func TestInHouseFallback_Categories(t *testing.T) {
	t.Parallel()

	r := NewRouter()
	for _, tc := range []struct {
		utterance string
		wantWord  string
	}{
		{"my basement is flooding, this is an emergency", "dispatch"},
		{"my furnace is broken and needs repair", "technician"},
		{"can I book an appointment for next week", "schedule"},
		{"how much does a tune-up cost", "information"},
	} {
		hit := r.inHouseFallback(Query{Utterance: tc.utterance})
		if hit.response == "" || hit.confidence < 0.5 {
			t.Errorf("%q: hit = (%q, %v), want canned answer at >= 0.5", tc.utterance, hit.response, hit.confidence)
		}
		if !strings.Contains(strings.ToLower(hit.response), tc.wantWord) {
			t.Errorf("%q: response %q, want the %s category", tc.utterance, hit.response, tc.wantWord)
		}
	}

	// No category match: the ultimate fallback speaks.
	hit := r.inHouseFallback(Query{Utterance: "zyx qwerty"})
	if hit.response != ultimateFallback || hit.confidence != 0.5 {
		t.Errorf("hit = (%q, %v), want the ultimate fallback at 0.5", hit.response, hit.confidence)
	}
}
