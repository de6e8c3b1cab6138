// Package slots extracts and stores typed booking slots (name, phone,
// address, time, serviceType) from free caller text.
//
// Extraction is pattern-based and deliberately conservative: every extracted
// value carries a confidence in [0,1] and the regex family that produced it.
// Extraction failures are non-fatal: the extractor returns an empty map and
// emits an extraction-error event, but never aborts the turn.
package slots

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/chatterlinx/frontdesk/internal/blackbox"
)

// Name identifies a slot.
type Name string

const (
	SlotName        Name = "name"
	SlotPhone       Name = "phone"
	SlotAddress     Name = "address"
	SlotTime        Name = "time"
	SlotServiceType Name = "serviceType"
)

// Required lists the slots a booking needs before confirmation.
var Required = []Name{SlotName, SlotPhone, SlotAddress, SlotTime}

// Value is one extracted slot value with confidence metadata.
type Value struct {
	// Value is the normalized slot value.
	Value string

	// Confidence is the extraction confidence in [0,1].
	Confidence float64

	// PatternSource names the pattern family that produced the value.
	PatternSource string
}

// Store is the per-call slot state. It is owned by the dialogue turn
// processor; other components receive it read-only.
type Store struct {
	// Known maps slot name to the best value seen so far.
	Known map[Name]Value

	// TurnProvidedSlots counts merges that changed a slot this call.
	TurnProvidedSlots int
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{Known: make(map[Name]Value)}
}

// Missing returns the required slots not yet known, in canonical order.
func (s *Store) Missing() []Name {
	var out []Name
	for _, n := range Required {
		if _, ok := s.Known[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}

// Get returns the stored value for n.
func (s *Store) Get(n Name) (Value, bool) {
	v, ok := s.Known[n]
	return v, ok
}

// Merge folds extracted values into the store. An existing slot is only
// replaced when the new value has strictly higher confidence. Each merge that
// adds or replaces a value increments TurnProvidedSlots.
func (s *Store) Merge(extracted map[Name]Value) {
	for n, v := range extracted {
		if v.Value == "" {
			continue
		}
		existing, ok := s.Known[n]
		if ok && v.Confidence <= existing.Confidence {
			continue
		}
		s.Known[n] = v
		s.TurnProvidedSlots++
	}
}

// Extraction patterns. Grouped per slot with per-pattern confidence.
var (
	phoneRe = regexp.MustCompile(`(?:\+?1[\s.-]?)?\(?(\d{3})\)?[\s.-]?(\d{3})[\s.-]?(\d{4})`)

	nameIntroRe = regexp.MustCompile(`(?i)\b(?:my name is|this is|i'?m|it'?s)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`)

	addressRe = regexp.MustCompile(`(?i)\b(\d{1,6}\s+(?:[A-Za-z]+\s){0,3}(?:st|street|ave|avenue|rd|road|blvd|boulevard|dr|drive|ln|lane|ct|court|way|pl|place|cir|circle)\.?)\b`)

	timeClockRe    = regexp.MustCompile(`(?i)\b((?:[01]?\d|2[0-3])(?::[0-5]\d)?\s*(?:am|pm))\b`)
	timeRelativeRe = regexp.MustCompile(`(?i)\b(today|tomorrow|tonight|this (?:morning|afternoon|evening)|(?:mon|tues|wednes|thurs|fri|satur|sun)day)\b`)
)

// Service-type keyword rules applied before storage. Order matters: repair
// keywords are checked before maintenance so that "fix my broken unit during
// the tune-up" classifies as repair.
var serviceTypeRules = []struct {
	canonical string
	keywords  []string
}{
	{"repair", []string{"repair", "fix", "broken", "not working", "stopped working", "leak", "leaking"}},
	{"maintenance", []string{"maintenance", "tune-up", "tune up", "tuneup", "service check", "inspection", "annual", "seasonal", "clean"}},
	{"install", []string{"install", "installation", "replace", "replacement", "new unit", "new system"}},
}

// Extractor extracts slots from free text.
type Extractor struct {
	events blackbox.Logger
}

// NewExtractor creates an Extractor. Pass nil for a no-op event sink.
func NewExtractor(events blackbox.Logger) *Extractor {
	if events == nil {
		events = blackbox.Nop{}
	}
	return &Extractor{events: events}
}

// Context scopes extraction events to a tenant and call.
type Context struct {
	TenantID string
	CallID   string
}

// ExtractAll runs every slot pattern over text. Panics inside pattern code
// are converted into an empty result plus an extraction-error event so that a
// bad pattern can never abort the turn.
func (e *Extractor) ExtractAll(ctx context.Context, text string, ec Context) (out map[Name]Value) {
	out = make(map[Name]Value)
	defer func() {
		if r := recover(); r != nil {
			e.events.Emit(ctx, blackbox.Event{
				Type:     blackbox.EventExtractionError,
				TenantID: ec.TenantID,
				CallID:   ec.CallID,
				Fields:   map[string]any{"panic": fmt.Sprint(r)},
			})
			out = map[Name]Value{}
		}
	}()

	if strings.TrimSpace(text) == "" {
		return out
	}

	if phone, ok := ExtractPhone(text); ok {
		out[SlotPhone] = Value{Value: phone, Confidence: 0.95, PatternSource: "phone_regex"}
	}
	if m := nameIntroRe.FindStringSubmatch(text); m != nil {
		out[SlotName] = Value{Value: m[1], Confidence: 0.85, PatternSource: "name_intro"}
	}
	if m := addressRe.FindStringSubmatch(text); m != nil {
		out[SlotAddress] = Value{Value: strings.TrimSpace(m[1]), Confidence: 0.8, PatternSource: "street_address"}
	}
	if m := timeClockRe.FindStringSubmatch(text); m != nil {
		out[SlotTime] = Value{Value: strings.ToLower(m[1]), Confidence: 0.8, PatternSource: "clock_time"}
	} else if m := timeRelativeRe.FindStringSubmatch(text); m != nil {
		out[SlotTime] = Value{Value: strings.ToLower(m[1]), Confidence: 0.6, PatternSource: "relative_time"}
	}
	if st, conf, ok := NormalizeServiceType(text); ok {
		out[SlotServiceType] = Value{Value: st, Confidence: conf, PatternSource: "service_keywords"}
	}

	return out
}

// ExtractPhone finds and normalizes a phone number to the ten-digit canonical
// form NNN-NNN-NNNN. Values with fewer than ten digits are rejected.
func ExtractPhone(text string) (string, bool) {
	m := phoneRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	digits := m[1] + m[2] + m[3]
	if len(digits) < 10 {
		return "", false
	}
	return fmt.Sprintf("%s-%s-%s", digits[0:3], digits[3:6], digits[6:10]), true
}

// NormalizeServiceType classifies text into a canonical service type using
// explicit keyword rules. Returns ok=false when no rule matches.
func NormalizeServiceType(text string) (canonical string, confidence float64, ok bool) {
	lower := strings.ToLower(text)
	for _, rule := range serviceTypeRules {
		hits := 0
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > 0 {
			conf := 0.6 + 0.1*float64(hits)
			if conf > 0.9 {
				conf = 0.9
			}
			return rule.canonical, conf, true
		}
	}
	return "", 0, false
}
