package store

import (
	"fmt"

	"github.com/chatterlinx/frontdesk/pkg/types"
)

// IntelligenceMode selects between admin-curated defaults and tenant
// overrides for routing thresholds and knowledge flow.
type IntelligenceMode string

const (
	ModeGlobal IntelligenceMode = "Global"
	ModeCustom IntelligenceMode = "Custom"
)

// Source names the queryable responders of the priority knowledge flow.
type Source string

const (
	SourceInstantResponses Source = "instantResponses"
	SourceCompanyQnA       Source = "companyQnA"
	SourceTradeQnA         Source = "tradeQnA"
	SourceTemplates        Source = "templates"
	SourceInHouseFallback  Source = "inHouseFallback"
)

// Tenant is the per-company configuration document. Read-only in the hot
// path; admin mutations invalidate the tenant's cache keys.
type Tenant struct {
	ID    string `json:"companyId"`
	Name  string `json:"companyName"`
	Trade string `json:"trade"`

	// IntelligenceMode chooses between global defaults and the tenant's own
	// AgentLogic overrides. Empty means Global.
	IntelligenceMode IntelligenceMode `json:"intelligenceMode"`

	AgentLogic    AgentLogic    `json:"aiAgentLogic"`
	AgentSettings AgentSettings `json:"aiAgentSettings"`
}

// AgentLogic holds the routing configuration for a tenant.
type AgentLogic struct {
	// PriorityFlow is the ordered knowledge source list, walked in ascending
	// priority.
	PriorityFlow []SourceBinding `json:"priorityFlow"`

	// Gatekeeper holds the tier thresholds, the Tier-3 switch, and the budget
	// ledger.
	Gatekeeper Gatekeeper `json:"templateGatekeeper"`

	// Knowledge holds the curated Q&A and template content.
	Knowledge Knowledge `json:"knowledgeManagement"`

	// Placeholders are the tenant's values for reply template tokens
	// ({companyname}, {callback time}, ...).
	Placeholders map[string]string `json:"placeholders"`

	// FillerWords are stripped during Tier-1 utterance normalization. Empty
	// means use the built-in defaults.
	FillerWords []string `json:"fillerWords"`

	// ServiceAreas lists the city/region names the company serves.
	ServiceAreas []string `json:"serviceAreas"`
}

// SourceBinding configures one knowledge source in the priority flow.
type SourceBinding struct {
	Source    Source  `json:"source"`
	Priority  int     `json:"priority"`
	Threshold float64 `json:"threshold"`

	// Enabled gates the source. Nil means enabled.
	Enabled *bool `json:"enabled"`
}

// IsEnabled reports whether the source participates in the flow.
func (b SourceBinding) IsEnabled() bool {
	return b.Enabled == nil || *b.Enabled
}

// Gatekeeper holds tier thresholds and the Tier-3 budget ledger.
type Gatekeeper struct {
	// Enabled gates the whole tiered router for this tenant.
	Enabled bool `json:"enabled"`

	// Tier1Threshold and Tier2Threshold are the per-tier confidence cutoffs
	// in [0,1].
	Tier1Threshold float64 `json:"tier1Threshold"`
	Tier2Threshold float64 `json:"tier2Threshold"`

	// EnableLLMFallback gates Tier-3 for this tenant.
	EnableLLMFallback bool `json:"enableLLMFallback"`

	// MonthlyBudget and CurrentSpend are the budget ledger, in dollars.
	// CurrentSpend is authoritative in the store; hot-path reads may be stale
	// by up to the cache TTL.
	MonthlyBudget float64 `json:"monthlyBudget"`
	CurrentSpend  float64 `json:"currentSpend"`
}

// BudgetRemaining returns max(MonthlyBudget-CurrentSpend, 0).
func (g Gatekeeper) BudgetRemaining() float64 {
	if r := g.MonthlyBudget - g.CurrentSpend; r > 0 {
		return r
	}
	return 0
}

// Knowledge holds the tenant's curated knowledge content.
type Knowledge struct {
	CompanyQnA []QnAEntry `json:"companyQnA"`
	TradeQnA   []QnAEntry `json:"tradeQnA"`
	Templates  []Template `json:"templates"`
}

// QnAEntry is one curated question/answer pair.
type QnAEntry struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Keywords []string `json:"keywords"`
}

// Template is a reusable reply template served by the templates source.
type Template struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Text     string   `json:"text"`
	Keywords []string `json:"keywords"`

	// AgentRole restricts the template to prompts assembled for that role;
	// empty means any.
	AgentRole string `json:"aiAgentRole"`
}

// AgentSettings holds conversational behaviour outside routing.
type AgentSettings struct {
	FrontDesk FrontDeskBehavior `json:"frontDeskBehavior"`
	Persona   Persona           `json:"persona"`
}

// FrontDeskBehavior tunes the dialogue turn processor.
type FrontDeskBehavior struct {
	// MaxLoopsBeforeOffer is how many same-question loops are tolerated
	// before the agent offers a human. Zero means 2.
	MaxLoopsBeforeOffer int `json:"maxLoopsBeforeOffer"`

	// FrustrationTriggers and HumanRequestTriggers are tenant-configured
	// phrase lists; empty lists disable the signal.
	FrustrationTriggers  []string `json:"frustrationTriggers"`
	HumanRequestTriggers []string `json:"humanRequestTriggers"`

	// SMSConsentPrompt, when set, is asked before sending SMS follow-ups.
	SMSConsentPrompt string `json:"smsConsentPrompt"`
}

// Persona is the tenant's agent personality configuration, applied as a
// post-processing layer on knowledge-source answers and as prompt context.
type Persona struct {
	AgentName        string   `json:"agentName"`
	Tone             string   `json:"tone"`
	Greeting         string   `json:"greeting"`
	SignOff          string   `json:"signOff"`
	ForbiddenPhrases []string `json:"forbiddenPhrases"`
}

// TriageCard is a tenant-curated diagnostic frame matched against the
// utterance to steer emergencies and complex jobs.
type TriageCard struct {
	ID                   string        `json:"id"`
	Active               bool          `json:"active"`
	Priority             int           `json:"priority"`
	KeywordsMustHave     []string      `json:"keywordsMustHave"`
	KeywordsExclude      []string      `json:"keywordsExclude"`
	Explanation          string        `json:"explanation"`
	DiagnosticQuestions  []string      `json:"diagnosticQuestions"`
	SuggestedServiceType string        `json:"suggestedServiceType"`
	Urgency              types.Urgency `json:"urgency"`
}

// QuickAnswer is a tenant-curated instant response to a common question.
type QuickAnswer struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Category string   `json:"category"`
	Triggers []string `json:"triggers"`
	Enabled  bool     `json:"enabled"`
	Priority int      `json:"priority"`
}

// STTProfile holds per-template speech-to-text hints handed to the telephony
// front end: trade vocabulary to bias recognition toward and common
// misrecognitions to correct before the utterance reaches the engine.
type STTProfile struct {
	TemplateID  string            `json:"templateId"`
	Vocabulary  []string          `json:"vocabulary"`
	Corrections map[string]string `json:"corrections"`
}

// Validate checks the structural invariants of a tenant document.
func (t *Tenant) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("store: tenant id must not be empty")
	}
	switch t.IntelligenceMode {
	case "", ModeGlobal, ModeCustom:
	default:
		return fmt.Errorf("store: tenant %s: unknown intelligence mode %q", t.ID, t.IntelligenceMode)
	}
	g := t.AgentLogic.Gatekeeper
	if g.Tier1Threshold < 0 || g.Tier1Threshold > 1 {
		return fmt.Errorf("store: tenant %s: tier1Threshold %v out of [0,1]", t.ID, g.Tier1Threshold)
	}
	if g.Tier2Threshold < 0 || g.Tier2Threshold > 1 {
		return fmt.Errorf("store: tenant %s: tier2Threshold %v out of [0,1]", t.ID, g.Tier2Threshold)
	}
	if g.MonthlyBudget < 0 {
		return fmt.Errorf("store: tenant %s: monthlyBudget must not be negative", t.ID)
	}
	for _, b := range t.AgentLogic.PriorityFlow {
		switch b.Source {
		case SourceInstantResponses, SourceCompanyQnA, SourceTradeQnA,
			SourceTemplates, SourceInHouseFallback:
		default:
			return fmt.Errorf("store: tenant %s: unknown knowledge source %q", t.ID, b.Source)
		}
		if b.Threshold < 0 || b.Threshold > 1 {
			return fmt.Errorf("store: tenant %s: source %s threshold %v out of [0,1]",
				t.ID, b.Source, b.Threshold)
		}
	}
	return nil
}
