// Package scenario defines the tenant-assignable unit of caller intent: its
// matching rules, reply variants, type, and reply strategy.
//
// Scenarios arrive from the document store in JSON. Legacy type synonyms
// (INFO_FAQ, ACTION_FLOW, SYSTEM_ACK) are normalized at load time, so downstream
// code never sees them. Reply items are polymorphic on the wire (a bare string
// or a {text, weight} object) and are modelled as a tagged [Reply] value;
// invalid shapes are refused at load rather than silently dropped.
package scenario

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Type classifies what kind of caller intent a scenario answers.
type Type string

const (
	TypeFAQ          Type = "FAQ"
	TypeBooking      Type = "BOOKING"
	TypeEmergency    Type = "EMERGENCY"
	TypeTransfer     Type = "TRANSFER"
	TypeSystem       Type = "SYSTEM"
	TypeSmallTalk    Type = "SMALL_TALK"
	TypeBilling      Type = "BILLING"
	TypeTroubleshoot Type = "TROUBLESHOOT"
)

// IsValid reports whether t is a recognised (post-normalization) type.
func (t Type) IsValid() bool {
	switch t {
	case TypeFAQ, TypeBooking, TypeEmergency, TypeTransfer,
		TypeSystem, TypeSmallTalk, TypeBilling, TypeTroubleshoot:
		return true
	}
	return false
}

// ReplyStrategy selects how quick vs. full replies are combined per turn.
type ReplyStrategy string

const (
	StrategyAuto          ReplyStrategy = "AUTO"
	StrategyFullOnly      ReplyStrategy = "FULL_ONLY"
	StrategyQuickOnly     ReplyStrategy = "QUICK_ONLY"
	StrategyQuickThenFull ReplyStrategy = "QUICK_THEN_FULL"

	// StrategyLLMWrap and StrategyLLMContext are reserved. Until their
	// semantics are specified they behave as [StrategyAuto]; the response
	// engine emits a reserved-strategy warning when it encounters them.
	StrategyLLMWrap    ReplyStrategy = "LLM_WRAP"
	StrategyLLMContext ReplyStrategy = "LLM_CONTEXT"
)

// IsValid reports whether s is a recognised reply strategy.
func (s ReplyStrategy) IsValid() bool {
	switch s {
	case StrategyAuto, StrategyFullOnly, StrategyQuickOnly,
		StrategyQuickThenFull, StrategyLLMWrap, StrategyLLMContext:
		return true
	}
	return false
}

// IsReserved reports whether s is a reserved (not yet implemented) strategy.
func (s ReplyStrategy) IsReserved() bool {
	return s == StrategyLLMWrap || s == StrategyLLMContext
}

// FollowUpMode describes what the agent does after delivering the reply.
// Follow-up metadata is advisory: the response engine passes it through
// unchanged and the dialogue processor decides whether to act on it.
type FollowUpMode string

const (
	FollowUpNone        FollowUpMode = "NONE"
	FollowUpAskQuestion FollowUpMode = "ASK_QUESTION"
	FollowUpTransfer    FollowUpMode = "TRANSFER"
)

// IsValid reports whether m is a recognised follow-up mode.
func (m FollowUpMode) IsValid() bool {
	switch m {
	case FollowUpNone, FollowUpAskQuestion, FollowUpTransfer:
		return true
	}
	return false
}

// Reply is one weighted reply variant. On the wire it is either a bare JSON
// string (weight 1) or an object {"text": ..., "weight": ...}.
type Reply struct {
	// Text is the reply template. May contain placeholder tokens.
	Text string `json:"text"`

	// Weight is the relative selection weight. Must be > 0; an absent wire
	// weight defaults to 1.
	Weight float64 `json:"weight"`
}

// UnmarshalJSON accepts both wire shapes. Invalid shapes (non-string,
// non-object, empty text, weight ≤ 0) are refused with an error.
func (r *Reply) UnmarshalJSON(data []byte) error {
	// Bare string form.
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" {
			return fmt.Errorf("scenario: reply string must not be empty")
		}
		r.Text = s
		r.Weight = 1
		return nil
	}

	// Object form. Weight is a pointer so that an absent weight is
	// distinguishable from an explicit zero.
	var obj struct {
		Text   string   `json:"text"`
		Weight *float64 `json:"weight"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("scenario: reply must be a string or {text, weight} object: %w", err)
	}
	if obj.Text == "" {
		return fmt.Errorf("scenario: reply object missing text")
	}
	if obj.Weight == nil {
		r.Text = obj.Text
		r.Weight = 1
		return nil
	}
	if *obj.Weight <= 0 {
		return fmt.Errorf("scenario: reply weight %v must be > 0", *obj.Weight)
	}
	r.Text = obj.Text
	r.Weight = *obj.Weight
	return nil
}

// MarshalJSON always emits the object form.
func (r Reply) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Text   string  `json:"text"`
		Weight float64 `json:"weight"`
	}{r.Text, r.Weight})
}

// MatchRules holds everything the Tier-1 selector scores a scenario by.
type MatchRules struct {
	// KeywordsMustHave are keywords whose joint presence is a strong
	// multiplier; any partial coverage contributes proportionally.
	KeywordsMustHave []string `json:"keywordsMustHave"`

	// KeywordsExclude disqualify the scenario outright when any is present.
	KeywordsExclude []string `json:"keywordsExclude"`

	// RegexPatterns are matched against the normalized utterance. Patterns
	// that fail to compile are dropped at load with a warning.
	RegexPatterns []string `json:"regexPatterns"`

	// ContextHints award bonuses when they match the conversation context
	// (channel, language, last intent).
	ContextHints []string `json:"contextHints"`

	// NegativeTriggers penalise the score without disqualifying.
	NegativeTriggers []string `json:"negativeTriggers"`

	// Weight scales the scenario's final score. Zero means 1.
	Weight float64 `json:"weight"`
}

// Scenario is a tenant-assignable unit of caller intent.
type Scenario struct {
	// ID is the stable scenario identifier.
	ID string `json:"scenarioId"`

	// Name is the human-readable scenario name.
	Name string `json:"name"`

	// Type is the normalized scenario type.
	Type Type `json:"scenarioType"`

	// Strategy is the reply strategy.
	Strategy ReplyStrategy `json:"replyStrategy"`

	// QuickReplies and FullReplies are the weighted reply pools.
	QuickReplies []Reply `json:"quickReplies"`
	FullReplies  []Reply `json:"fullReplies"`

	// QuickRepliesNoName / FullRepliesNoName are optional variants safe to
	// use when the caller's name is unknown.
	QuickRepliesNoName []Reply `json:"quickReplies_noName"`
	FullRepliesNoName  []Reply `json:"fullReplies_noName"`

	// Rules are the Tier-1 matching rules.
	Rules MatchRules `json:"rules"`

	// Priority breaks score ties (higher wins).
	Priority int `json:"priority"`

	// FollowUp describes the advisory follow-up behaviour.
	FollowUp         FollowUpMode `json:"followUpMode"`
	FollowUpQuestion string       `json:"followUpQuestionText"`
	TransferTarget   string       `json:"transferTarget"`

	// Enabled is the isEnabledForCompany flag. Nil means enabled: matching
	// considers every scenario whose flag is not explicitly false.
	Enabled *bool `json:"isEnabledForCompany"`

	// compiled holds the compiled regex patterns, populated by Compile.
	compiled []*regexp.Regexp
}

// IsEnabled reports whether the scenario participates in matching.
func (s *Scenario) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// CompiledPatterns returns the compiled regex patterns. Call [Scenario.Compile]
// first; uncompiled scenarios return nil.
func (s *Scenario) CompiledPatterns() []*regexp.Regexp {
	return s.compiled
}

// SearchableText returns the text the Tier-2 semantic matcher indexes for
// this scenario: name, must-have keywords, and context hints.
func (s *Scenario) SearchableText() string {
	text := s.Name
	for _, kw := range s.Rules.KeywordsMustHave {
		text += " " + kw
	}
	for _, h := range s.Rules.ContextHints {
		text += " " + h
	}
	return text
}
