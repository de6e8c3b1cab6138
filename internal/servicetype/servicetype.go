// Package servicetype owns the canonical service-type classification state
// machine for a call.
//
// The [Resolution] moves monotonically toward LOCKED and is never rewritten
// once locked. Its CanonicalType field is the sole authority for the call's
// service type; the legacy per-lane mirror fields on the call state are
// written from it via the [Mirrors] hook, never the reverse.
//
// Classification scores each canonical type by keyword buckets on the
// lowercased issue text (HIGH=3, MEDIUM=2, LOW=1) and applies, in order:
//
//  1. top >= HighThreshold: RESOLVED with high confidence.
//  2. top - second <= TieMargin with second > 0: CLARIFYING; the clarifier
//     question is chosen by the tied pair.
//  3. top >= MediumThreshold: RESOLVED with medium confidence.
//  4. top > 0: CLARIFYING with a type-specific clarifier.
//  5. no evidence at all: stays PENDING; later turns keep scoring.
//
// All failure modes warn and return the resolution unchanged; nothing in this
// package panics or errors on caller input.
package servicetype

import (
	"log/slog"
	"sort"
	"strings"
)

// State is the resolution state machine position.
type State string

const (
	StatePending    State = "PENDING"
	StateResolved   State = "RESOLVED"
	StateClarifying State = "CLARIFYING"
	StateConfirmed  State = "CONFIRMED"
	StateLocked     State = "LOCKED"
)

// Confidence grades how certain the classification is.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ClarifierType selects which clarifying question to ask.
type ClarifierType string

const (
	ClarifierEmergencyVsRegular   ClarifierType = "emergencyVsRegular"
	ClarifierRepairVsMaintenance  ClarifierType = "repairVsMaintenance"
	ClarifierGeneric              ClarifierType = "generic"
	ClarifierTypeSpecificEmerg    ClarifierType = "typeSpecific_emergency"
	ClarifierTypeSpecificRepair   ClarifierType = "typeSpecific_repair"
	ClarifierTypeSpecificMaint    ClarifierType = "typeSpecific_maintenance"
	ClarifierTypeSpecificInstall  ClarifierType = "typeSpecific_install"
)

// Scoring thresholds.
const (
	HighThreshold   = 4
	MediumThreshold = 2
	TieMargin       = 1
)

// FallbackType is the generic type that explicit-type confirmation ignores:
// an upstream "service" value carries no information.
const FallbackType = "service"

// Resolution is the per-call classification state. Zero value is PENDING.
type Resolution struct {
	// State is the current state machine position.
	State State

	// CanonicalType is the authoritative service type once RESOLVED or
	// later. Empty while PENDING/CLARIFYING.
	CanonicalType string

	// Confidence grades CanonicalType.
	Confidence Confidence

	// Clarifier is set while CLARIFYING.
	Clarifier ClarifierType

	// Tentative is the leading candidate while CLARIFYING.
	Tentative string
}

// CanonicalTypeOf returns the authoritative service type for a resolution,
// falling back to the tentative candidate while clarifying. This is the only
// sanctioned accessor; reading mirror fields is a defect.
func CanonicalTypeOf(r *Resolution) string {
	if r == nil {
		return ""
	}
	if r.CanonicalType != "" {
		return r.CanonicalType
	}
	return r.Tentative
}

// Mirrors receives canonical-type writes so the call state can maintain its
// legacy per-lane mirror fields. Implementations must treat the value as
// derived data and never write it back into the resolution.
type Mirrors interface {
	SetServiceTypeMirrors(canonical string)
}

// NopMirrors discards mirror writes.
type NopMirrors struct{}

// SetServiceTypeMirrors implements [Mirrors].
func (NopMirrors) SetServiceTypeMirrors(string) {}

// Options carries per-call resolution hints.
type Options struct {
	// ExplicitType, when set to anything other than [FallbackType], confirms
	// the type without scoring.
	ExplicitType string
}

// Outcome is what a Resolve call produced.
type Outcome struct {
	// Resolution is the (possibly updated) resolution.
	Resolution *Resolution

	// ClarifierQuestion is the question to ask while CLARIFYING, empty
	// otherwise.
	ClarifierQuestion string
}

// buckets holds the keyword tiers for one canonical type.
type buckets struct {
	high   []string
	medium []string
	low    []string
}

// canonicalOrder fixes tentative-candidate tie-breaking: earlier wins.
var canonicalOrder = []string{"emergency", "repair", "maintenance", "install"}

var defaultBuckets = map[string]buckets{
	"emergency": {
		high:   []string{"emergency", "flooding", "flooded", "gas leak", "burst pipe", "no heat", "no ac", "sparking"},
		medium: []string{"right away", "asap", "urgent", "today", "immediately"},
		low:    []string{"now", "soon", "quick"},
	},
	"repair": {
		high:   []string{"repair", "broken", "not working", "stopped working"},
		medium: []string{"fix", "leak", "leaking", "come out", "making noise"},
		low:    []string{"problem", "issue", "look at", "acting up"},
	},
	"maintenance": {
		high:   []string{"maintenance", "tune-up", "tune up", "tuneup"},
		medium: []string{"inspection", "annual", "seasonal", "cleaning", "service check"},
		low:    []string{"check", "checkup"},
	},
	"install": {
		high:   []string{"install", "installation", "replacement"},
		medium: []string{"new unit", "new system", "replace", "quote", "estimate"},
		low:    []string{"upgrade"},
	},
}

var clarifierQuestions = map[ClarifierType]string{
	ClarifierEmergencyVsRegular:  "Is this something that needs attention right away today, or can we schedule the next available appointment?",
	ClarifierRepairVsMaintenance: "Is something not working that needs a repair, or are you looking for routine maintenance?",
	ClarifierGeneric:             "Can you tell me a bit more about what's going on so I can get the right technician out?",
	ClarifierTypeSpecificEmerg:   "Just to confirm, is this an emergency that needs someone out right away?",
	ClarifierTypeSpecificRepair:  "It sounds like something may need a repair. Is that right?",
	ClarifierTypeSpecificMaint:   "Are you looking to schedule routine maintenance?",
	ClarifierTypeSpecificInstall: "Are you looking for a new installation or a replacement?",
}

// typeSpecificClarifier maps a weak leading candidate to its confirmation
// question.
var typeSpecificClarifier = map[string]ClarifierType{
	"emergency":   ClarifierTypeSpecificEmerg,
	"repair":      ClarifierTypeSpecificRepair,
	"maintenance": ClarifierTypeSpecificMaint,
	"install":     ClarifierTypeSpecificInstall,
}

// Resolver classifies issue text into canonical service types. Safe for
// concurrent use, read-only after construction.
type Resolver struct {
	buckets map[string]buckets
}

// NewResolver creates a Resolver with the default keyword buckets.
func NewResolver() *Resolver {
	return &Resolver{buckets: defaultBuckets}
}

// ClarifierQuestion returns the question text for c, or the generic question
// for unknown clarifier types.
func ClarifierQuestion(c ClarifierType) string {
	if q, ok := clarifierQuestions[c]; ok {
		return q
	}
	return clarifierQuestions[ClarifierGeneric]
}

// scored pairs a canonical type with its keyword score.
type scored struct {
	name  string
	score int
}

// Resolve advances the resolution for the given issue text. See the package
// documentation for the decision order. Every transition writes the canonical
// type through mirrors.
func (r *Resolver) Resolve(res *Resolution, mirrors Mirrors, issueText string, opts Options) Outcome {
	if res == nil {
		slog.Warn("servicetype: nil resolution, ignoring resolve call")
		return Outcome{}
	}
	if mirrors == nil {
		mirrors = NopMirrors{}
	}
	if res.State == "" {
		res.State = StatePending
	}

	switch res.State {
	case StateLocked:
		return Outcome{Resolution: res}
	case StateResolved:
		if res.Confidence == ConfidenceHigh {
			return Outcome{Resolution: res}
		}
	case StateClarifying:
		return Outcome{Resolution: res, ClarifierQuestion: ClarifierQuestion(res.Clarifier)}
	case StatePending, StateConfirmed:
		// fall through to scoring / explicit handling
	default:
		slog.Warn("servicetype: unknown resolution state, ignoring resolve call", "state", res.State)
		return Outcome{Resolution: res}
	}

	// Explicit type (other than the generic fallback) confirms directly.
	if t := strings.ToLower(strings.TrimSpace(opts.ExplicitType)); t != "" && t != FallbackType {
		res.State = StateConfirmed
		res.CanonicalType = t
		res.Confidence = ConfidenceHigh
		res.Clarifier = ""
		res.Tentative = ""
		mirrors.SetServiceTypeMirrors(t)
		return Outcome{Resolution: res}
	}

	if strings.TrimSpace(issueText) == "" {
		res.State = StateClarifying
		res.Clarifier = ClarifierGeneric
		return Outcome{Resolution: res, ClarifierQuestion: ClarifierQuestion(ClarifierGeneric)}
	}

	ranked := r.rank(issueText)
	top := ranked[0]
	second := ranked[1]

	switch {
	case top.score >= HighThreshold:
		res.State = StateResolved
		res.CanonicalType = top.name
		res.Confidence = ConfidenceHigh
		res.Clarifier = ""
		res.Tentative = ""
		mirrors.SetServiceTypeMirrors(top.name)
		return Outcome{Resolution: res}

	case top.score-second.score <= TieMargin && second.score > 0:
		res.State = StateClarifying
		res.Tentative = top.name
		res.Clarifier = pairClarifier(top.name, second.name)
		return Outcome{Resolution: res, ClarifierQuestion: ClarifierQuestion(res.Clarifier)}

	case top.score >= MediumThreshold:
		res.State = StateResolved
		res.CanonicalType = top.name
		res.Confidence = ConfidenceMedium
		res.Clarifier = ""
		res.Tentative = ""
		mirrors.SetServiceTypeMirrors(top.name)
		return Outcome{Resolution: res}

	case top.score > 0:
		res.State = StateClarifying
		res.Tentative = top.name
		if c, ok := typeSpecificClarifier[top.name]; ok {
			res.Clarifier = c
		} else {
			res.Clarifier = ClarifierGeneric
		}
		return Outcome{Resolution: res, ClarifierQuestion: ClarifierQuestion(res.Clarifier)}

	default:
		// No keyword evidence at all: there is no type to ask about, so the
		// resolution stays PENDING and later turns keep scoring.
		return Outcome{Resolution: res}
	}
}

// ApplyClarification folds the caller's answer to a clarifying question back
// into the resolution. The answer is scored with the same keyword buckets; a
// score ≥ MediumThreshold for some type confirms that type, otherwise the
// tentative type is confirmed.
func (r *Resolver) ApplyClarification(res *Resolution, mirrors Mirrors, response string) Outcome {
	if res == nil {
		slog.Warn("servicetype: nil resolution, ignoring clarification")
		return Outcome{}
	}
	if mirrors == nil {
		mirrors = NopMirrors{}
	}
	if res.State != StateClarifying {
		slog.Warn("servicetype: clarification outside CLARIFYING state ignored", "state", res.State)
		return Outcome{Resolution: res}
	}

	ranked := r.rank(response)
	confirmed := res.Tentative
	if ranked[0].score >= MediumThreshold {
		confirmed = ranked[0].name
	}
	if confirmed == "" {
		confirmed = FallbackType
	}

	res.State = StateConfirmed
	res.CanonicalType = confirmed
	res.Confidence = ConfidenceMedium
	res.Clarifier = ""
	res.Tentative = ""
	mirrors.SetServiceTypeMirrors(confirmed)
	return Outcome{Resolution: res}
}

// Lock pins the resolution permanently. Idempotent; call when the booking is
// confirmed. Locking a PENDING resolution warns and does nothing.
func (r *Resolver) Lock(res *Resolution) {
	if res == nil {
		return
	}
	if res.State == StateLocked {
		return
	}
	if res.CanonicalType == "" {
		slog.Warn("servicetype: refusing to lock resolution without canonical type", "state", res.State)
		return
	}
	res.State = StateLocked
}

// rank scores every canonical type and returns them in descending score
// order, ties broken by canonicalOrder. The result always has at least two
// entries.
func (r *Resolver) rank(text string) []scored {
	lower := strings.ToLower(text)
	out := make([]scored, 0, len(canonicalOrder))
	for _, name := range canonicalOrder {
		b := r.buckets[name]
		s := 0
		for _, kw := range b.high {
			if strings.Contains(lower, kw) {
				s += 3
			}
		}
		for _, kw := range b.medium {
			if strings.Contains(lower, kw) {
				s += 2
			}
		}
		for _, kw := range b.low {
			if strings.Contains(lower, kw) {
				s += 1
			}
		}
		out = append(out, scored{name: name, score: s})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].score > out[j].score
	})
	return out
}

// pairClarifier chooses the clarifying question for a tied pair.
func pairClarifier(a, b string) ClarifierType {
	if a == "emergency" || b == "emergency" {
		return ClarifierEmergencyVsRegular
	}
	if (a == "repair" && b == "maintenance") || (a == "maintenance" && b == "repair") {
		return ClarifierRepairVsMaintenance
	}
	return ClarifierGeneric
}
