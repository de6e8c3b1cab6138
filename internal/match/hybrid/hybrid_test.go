package hybrid

import (
	"testing"

	"github.com/chatterlinx/frontdesk/internal/scenario"
	"github.com/chatterlinx/frontdesk/pkg/types"
)

func testPool(t *testing.T, scenarios []scenario.Scenario) *scenario.Pool {
	t.Helper()
	return scenario.NewPool(scenario.NormalizeAll(scenarios))
}

func TestNormalize_StripsFillerWords(t *testing.T) {
	t.Parallel()

	s := NewSelector()
	if got := s.Normalize("  Um, can I like schedule a visit please?  "); got != "can i schedule a visit" {
		t.Errorf("Normalize = %q, want %q", got, "can i schedule a visit")
	}
}

func TestNormalize_TenantFillerWords(t *testing.T) {
	t.Parallel()

	s := NewSelector(WithFillerWords("yo"))
	if got := s.Normalize("yo um schedule"); got != "um schedule" {
		t.Errorf("Normalize = %q, want tenant words to replace defaults", got)
	}
}

func TestSelect_KeywordCoverageWins(t *testing.T) {
	t.Parallel()

	pool := testPool(t, []scenario.Scenario{
		{
			ID: "booking", Name: "Book Appointment", Type: scenario.TypeBooking,
			Rules: scenario.MatchRules{KeywordsMustHave: []string{"schedule", "appointment"}},
		},
		{
			ID: "hours", Name: "Business Hours", Type: scenario.TypeFAQ,
			Rules: scenario.MatchRules{KeywordsMustHave: []string{"hours", "open"}},
		},
	})

	s := NewSelector()
	m := s.Select("I'd like to schedule an appointment", pool, Context{})
	if m.Scenario == nil || m.Scenario.ID != "booking" {
		t.Fatalf("Select = %v, want booking", m.Scenario)
	}
	if !m.Breakdown.AllMustHave {
		t.Error("AllMustHave = false, want full coverage multiplier applied")
	}
	if m.Confidence <= 0.7 {
		t.Errorf("Confidence = %v, want > 0.7 for a full-coverage match", m.Confidence)
	}
}

func TestSelect_ExcludeDisqualifies(t *testing.T) {
	t.Parallel()

	pool := testPool(t, []scenario.Scenario{
		{
			ID: "booking", Name: "Book Appointment", Type: scenario.TypeBooking,
			Rules: scenario.MatchRules{
				KeywordsMustHave: []string{"schedule"},
				KeywordsExclude:  []string{"cancel"},
			},
		},
	})

	s := NewSelector()
	if m := s.Select("cancel the schedule you made", pool, Context{}); m.Scenario != nil {
		t.Errorf("Select = %s, want disqualified by exclude keyword", m.Scenario.ID)
	}
}

func TestSelect_RegexAndContext(t *testing.T) {
	t.Parallel()

	pool := testPool(t, []scenario.Scenario{
		{
			ID: "billing", Name: "Billing Question", Type: scenario.TypeBilling,
			Rules: scenario.MatchRules{
				RegexPatterns: []string{`\b(invoice|bill|charge)\b`},
				ContextHints:  []string{"voice"},
			},
		},
	})

	s := NewSelector()
	m := s.Select("there is a charge I don't recognize", pool, Context{Channel: types.ChannelVoice})
	if m.Scenario == nil || m.Scenario.ID != "billing" {
		t.Fatal("want regex-driven billing match")
	}
	if m.Breakdown.RegexScore <= 0 || m.Breakdown.ContextBonus <= 0 {
		t.Errorf("breakdown = %+v, want regex and context evidence", m.Breakdown)
	}
	if m.Breakdown.EvidenceTypes < 2 {
		t.Errorf("EvidenceTypes = %d, want >= 2", m.Breakdown.EvidenceTypes)
	}
}

func TestSelect_NegativeTriggerPenalises(t *testing.T) {
	t.Parallel()

	base := scenario.MatchRules{KeywordsMustHave: []string{"repair"}}
	penalised := base
	penalised.NegativeTriggers = []string{"warranty"}

	clean := testPool(t, []scenario.Scenario{{ID: "a", Name: "Repair", Type: scenario.TypeTroubleshoot, Rules: base}})
	dirty := testPool(t, []scenario.Scenario{{ID: "a", Name: "Repair", Type: scenario.TypeTroubleshoot, Rules: penalised}})

	s := NewSelector()
	utterance := "warranty repair question"
	mClean := s.Select(utterance, clean, Context{})
	mDirty := s.Select(utterance, dirty, Context{})
	if mClean.Scenario == nil {
		t.Fatal("clean pool did not match")
	}
	if mDirty.Scenario != nil && mDirty.Score >= mClean.Score {
		t.Errorf("penalised score %v >= clean score %v, want lower", mDirty.Score, mClean.Score)
	}
}

func TestSelect_PriorityBreaksTies(t *testing.T) {
	t.Parallel()

	rules := scenario.MatchRules{KeywordsMustHave: []string{"hello"}}
	pool := testPool(t, []scenario.Scenario{
		{ID: "low", Name: "Greet", Type: scenario.TypeSmallTalk, Rules: rules, Priority: 1},
		{ID: "high", Name: "Greet", Type: scenario.TypeSmallTalk, Rules: rules, Priority: 5},
	})

	s := NewSelector()
	m := s.Select("hello", pool, Context{})
	if m.Scenario == nil || m.Scenario.ID != "high" {
		t.Errorf("Select = %v, want priority 5 scenario", m.Scenario)
	}
}

func TestSelect_EmptyInputs(t *testing.T) {
	t.Parallel()

	s := NewSelector()
	if m := s.Select("", testPool(t, nil), Context{}); m.Scenario != nil {
		t.Error("empty utterance matched")
	}
	if m := s.Select("hello", nil, Context{}); m.Scenario != nil {
		t.Error("nil pool matched")
	}
}

func TestCalibrate_Bounds(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		score    float64
		evidence int
	}{
		{0, 0}, {0.1, 1}, {5, 2}, {100, 4}, {-3, 1},
	} {
		c := calibrate(tc.score, tc.evidence)
		if c < 0 || c > 1 {
			t.Errorf("calibrate(%v, %d) = %v, want in [0,1]", tc.score, tc.evidence, c)
		}
	}
}

func TestSelect_RecentScenarioBonus(t *testing.T) {
	t.Parallel()

	pool := testPool(t, []scenario.Scenario{
		{
			ID: "pricing", Name: "Pricing Question", Type: scenario.TypeFAQ,
			Rules: scenario.MatchRules{KeywordsMustHave: []string{"cost"}},
		},
		{
			ID: "billing", Name: "Billing Question", Type: scenario.TypeBilling,
			Rules: scenario.MatchRules{KeywordsMustHave: []string{"cost"}},
		},
	})

	s := NewSelector()
	utterance := "how much does it cost"

	cold := s.Select(utterance, pool, Context{})
	if cold.Scenario == nil {
		t.Fatal("Select = nil, want a match")
	}
	if cold.Breakdown.ContextBonus != 0 {
		t.Errorf("ContextBonus = %v, want 0 without recent scenarios", cold.Breakdown.ContextBonus)
	}

	warm := s.Select(utterance, pool, Context{RecentScenarioIDs: []string{"billing"}})
	if warm.Scenario == nil || warm.Scenario.ID != "billing" {
		t.Fatalf("Select = %v, want the recently served scenario to win", warm.Scenario)
	}
	if warm.Breakdown.ContextBonus == 0 {
		t.Error("ContextBonus = 0, want the recent-scenario bonus applied")
	}
	if warm.Score <= cold.Score {
		t.Errorf("Score = %v, want above the cold score %v", warm.Score, cold.Score)
	}
}
