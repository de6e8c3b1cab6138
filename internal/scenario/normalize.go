package scenario

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Legacy scenario-type synonyms accepted on the wire. Normalization happens
// once at load; downstream code only ever sees the canonical [Type] values.
const (
	legacyInfoFAQ    = "INFO_FAQ"
	legacyActionFlow = "ACTION_FLOW"
	legacySystemAck  = "SYSTEM_ACK"
)

// NormalizeType maps a raw wire type to its canonical [Type].
//
// ACTION_FLOW is ambiguous in legacy data: it covered bookings, transfers,
// and emergencies alike. The scenario's own follow-up mode disambiguates:
// an ACTION_FLOW marked for transfer becomes TRANSFER, one whose name or
// must-have keywords signal an emergency becomes EMERGENCY, and everything
// else becomes BOOKING.
func NormalizeType(raw string, s *Scenario) (Type, error) {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	switch upper {
	case legacyInfoFAQ:
		return TypeFAQ, nil
	case legacySystemAck:
		return TypeSystem, nil
	case legacyActionFlow:
		if s != nil && s.FollowUp == FollowUpTransfer {
			return TypeTransfer, nil
		}
		if s != nil && looksEmergency(s) {
			return TypeEmergency, nil
		}
		return TypeBooking, nil
	}

	t := Type(upper)
	if !t.IsValid() {
		return "", fmt.Errorf("scenario: unknown scenario type %q", raw)
	}
	return t, nil
}

// looksEmergency reports whether a legacy ACTION_FLOW scenario carries
// emergency markers in its name or must-have keywords.
func looksEmergency(s *Scenario) bool {
	if strings.Contains(strings.ToLower(s.Name), "emergency") {
		return true
	}
	for _, kw := range s.Rules.KeywordsMustHave {
		if strings.Contains(strings.ToLower(kw), "emergency") {
			return true
		}
	}
	return false
}

// Normalize validates and canonicalises a scenario loaded from the store:
// legacy type synonyms are mapped, the reply strategy defaults to AUTO,
// the follow-up mode defaults to NONE, and regex patterns are compiled.
// Patterns that fail to compile are dropped with a warning rather than
// failing the whole scenario.
//
// Returns an error only for defects that make the scenario unusable
// (missing ID, unknown type, unknown strategy).
func Normalize(s *Scenario) error {
	if s.ID == "" {
		return fmt.Errorf("scenario: missing scenarioId")
	}

	t, err := NormalizeType(string(s.Type), s)
	if err != nil {
		return err
	}
	s.Type = t

	if s.Strategy == "" {
		s.Strategy = StrategyAuto
	} else {
		s.Strategy = ReplyStrategy(strings.ToUpper(string(s.Strategy)))
		if !s.Strategy.IsValid() {
			return fmt.Errorf("scenario %s: unknown reply strategy %q", s.ID, s.Strategy)
		}
	}

	if s.FollowUp == "" {
		s.FollowUp = FollowUpNone
	} else {
		s.FollowUp = FollowUpMode(strings.ToUpper(string(s.FollowUp)))
		if !s.FollowUp.IsValid() {
			return fmt.Errorf("scenario %s: unknown follow-up mode %q", s.ID, s.FollowUp)
		}
	}

	if s.Rules.Weight == 0 {
		s.Rules.Weight = 1
	}

	s.compiled = s.compiled[:0]
	for _, pat := range s.Rules.RegexPatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			slog.Warn("scenario: dropping invalid regex pattern",
				"scenario_id", s.ID,
				"pattern", pat,
				"error", err)
			continue
		}
		s.compiled = append(s.compiled, re)
	}
	return nil
}

// NormalizeAll normalizes every scenario in place and returns the usable
// subset. Scenarios that fail normalization are dropped with a warning;
// one bad admin entry must not take down a tenant's whole pool.
func NormalizeAll(scenarios []Scenario) []Scenario {
	out := scenarios[:0]
	for i := range scenarios {
		if err := Normalize(&scenarios[i]); err != nil {
			slog.Warn("scenario: dropping unusable scenario", "error", err)
			continue
		}
		out = append(out, scenarios[i])
	}
	return out
}
