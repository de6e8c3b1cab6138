// Package hybrid implements the Tier-1 rule-based scenario selector.
//
// The selector scores every enabled scenario against a normalized utterance
// using four evidence dimensions:
//
//  1. Keyword coverage over keywordsMustHave, BM25-flavoured: longer
//     keywords carry more evidence, and full coverage applies a strong
//     multiplier.
//  2. Regex pattern hits.
//  3. Context bonuses: channel/language hints and last-intent proximity.
//  4. Negative-trigger penalties; any keywordsExclude hit disqualifies the
//     scenario outright.
//
// Ties are broken by explicit scenario priority, then by the shorter
// Levenshtein distance between the utterance and the scenario's searchable
// text. Confidence is a calibrated function of score and the number of
// distinct evidence dimensions that fired, reported in [0,1].
//
// Selection is pure string work with no I/O and is intended to run well
// inside the sub-50 ms cheap-path budget.
package hybrid

import (
	"fmt"
	"math"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/chatterlinx/frontdesk/internal/scenario"
	"github.com/chatterlinx/frontdesk/pkg/types"
)

// fullCoverageMultiplier is applied when every must-have keyword is present.
const fullCoverageMultiplier = 1.6

// Context carries the conversational evidence available to Tier-1.
type Context struct {
	// Channel the caller is using.
	Channel types.Channel

	// Language is the caller's detected language tag (e.g., "en").
	Language string

	// RecentScenarioIDs lists scenarios served in the last few turns,
	// most recent first.
	RecentScenarioIDs []string

	// LastIntent is the previous turn's resolved intent/scenario name.
	LastIntent string
}

// Breakdown itemises the score of the winning scenario.
type Breakdown struct {
	KeywordScore    float64
	RegexScore      float64
	ContextBonus    float64
	NegativePenalty float64
	AllMustHave     bool
	EvidenceTypes   int
}

// Match is the Tier-1 result. Scenario is nil when nothing scored above zero.
type Match struct {
	Scenario   *scenario.Scenario
	Confidence float64
	Score      float64
	Breakdown  Breakdown
	Trace      []string
}

// Selector is the Tier-1 engine. Safe for concurrent use, read-only after
// construction.
type Selector struct {
	filler map[string]struct{}
}

// Option configures a [Selector].
type Option func(*Selector)

// WithFillerWords sets the tenant-configured filler words stripped during
// utterance normalization.
func WithFillerWords(words ...string) Option {
	return func(s *Selector) {
		s.filler = make(map[string]struct{}, len(words))
		for _, w := range words {
			s.filler[strings.ToLower(w)] = struct{}{}
		}
	}
}

// defaultFillerWords are stripped when the tenant configures none.
var defaultFillerWords = []string{"um", "uh", "like", "please", "hey", "so", "well"}

// NewSelector creates a Selector with the given options applied over the
// defaults.
func NewSelector(opts ...Option) *Selector {
	s := &Selector{}
	WithFillerWords(defaultFillerWords...)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Normalize lowercases and trims the utterance, removes filler words, and
// collapses whitespace.
func (s *Selector) Normalize(utterance string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(utterance)))
	out := fields[:0]
	for _, f := range fields {
		if _, skip := s.filler[strings.Trim(f, ".,!?")]; skip {
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

// Select scores every scenario in pool against the utterance and returns the
// best match. A nil-scenario Match with confidence 0 means no candidate
// scored above zero.
func (s *Selector) Select(utterance string, pool *scenario.Pool, ctx Context) Match {
	normalized := s.Normalize(utterance)
	if normalized == "" || pool == nil || pool.Len() == 0 {
		return Match{Trace: []string{"empty utterance or pool"}}
	}

	best := Match{}
	scenarios := pool.Scenarios()
	for i := range scenarios {
		cand := &scenarios[i]
		score, bd, disqualified := s.scoreScenario(normalized, cand, ctx)
		if disqualified {
			continue
		}
		if score <= 0 {
			continue
		}

		if best.Scenario == nil || score > best.Score ||
			(score == best.Score && betterTie(normalized, cand, best.Scenario)) {
			best = Match{
				Scenario:  cand,
				Score:     score,
				Breakdown: bd,
				Trace: append(best.Trace, fmt.Sprintf("candidate %s score=%.2f kw=%.2f rx=%.2f ctx=%.2f neg=%.2f",
					cand.ID, score, bd.KeywordScore, bd.RegexScore, bd.ContextBonus, bd.NegativePenalty)),
			}
		}
	}

	if best.Scenario != nil {
		best.Confidence = calibrate(best.Score, best.Breakdown.EvidenceTypes)
	}
	return best
}

// scoreScenario computes the weighted score for one candidate.
func (s *Selector) scoreScenario(normalized string, cand *scenario.Scenario, ctx Context) (float64, Breakdown, bool) {
	bd := Breakdown{}

	// Disqualification: any exclude hit.
	for _, kw := range cand.Rules.KeywordsExclude {
		if kw != "" && strings.Contains(normalized, strings.ToLower(kw)) {
			return 0, bd, true
		}
	}

	// Keyword coverage.
	if n := len(cand.Rules.KeywordsMustHave); n > 0 {
		matched := 0
		matchedWeight := 0.0
		for _, kw := range cand.Rules.KeywordsMustHave {
			lk := strings.ToLower(kw)
			if lk != "" && strings.Contains(normalized, lk) {
				matched++
				// Longer keywords carry more evidence, capped so a single
				// phrase cannot dominate.
				matchedWeight += 1 + math.Min(float64(len(lk)), 12)/12
			}
		}
		coverage := float64(matched) / float64(n)
		bd.KeywordScore = 2 * matchedWeight * coverage
		if matched == n {
			bd.KeywordScore *= fullCoverageMultiplier
			bd.AllMustHave = true
		}
		if matched > 0 {
			bd.EvidenceTypes++
		}
	}

	// Regex patterns.
	for _, re := range cand.CompiledPatterns() {
		if re.MatchString(normalized) {
			bd.RegexScore += 2
		}
	}
	if bd.RegexScore > 0 {
		bd.EvidenceTypes++
	}

	// Context bonuses.
	for _, hint := range cand.Rules.ContextHints {
		lh := strings.ToLower(hint)
		switch {
		case lh == string(ctx.Channel):
			bd.ContextBonus += 0.5
		case ctx.Language != "" && lh == strings.ToLower(ctx.Language):
			bd.ContextBonus += 0.25
		case ctx.LastIntent != "" && strings.Contains(strings.ToLower(ctx.LastIntent), lh):
			bd.ContextBonus += 0.5
		}
	}
	// A scenario served on a recent turn is a likely continuation.
	for _, id := range ctx.RecentScenarioIDs {
		if id == cand.ID {
			bd.ContextBonus += 0.5
			break
		}
	}
	if bd.ContextBonus > 0 {
		bd.EvidenceTypes++
	}

	// Negative triggers penalise without disqualifying.
	for _, trig := range cand.Rules.NegativeTriggers {
		if trig != "" && strings.Contains(normalized, strings.ToLower(trig)) {
			bd.NegativePenalty += 1.5
		}
	}

	score := (bd.KeywordScore + bd.RegexScore + bd.ContextBonus - bd.NegativePenalty) * cand.Rules.Weight
	return score, bd, false
}

// betterTie reports whether cand beats incumbent at equal score: higher
// priority first, then shorter Levenshtein distance between the utterance and
// the scenario's searchable text.
func betterTie(normalized string, cand, incumbent *scenario.Scenario) bool {
	if cand.Priority != incumbent.Priority {
		return cand.Priority > incumbent.Priority
	}
	dc := matchr.Levenshtein(normalized, strings.ToLower(cand.SearchableText()))
	di := matchr.Levenshtein(normalized, strings.ToLower(incumbent.SearchableText()))
	return dc < di
}

// calibrate maps a raw score and evidence diversity to [0,1]. The saturating
// base keeps single weak signals below typical tier thresholds while letting
// full-coverage keyword matches clear them.
func calibrate(score float64, evidenceTypes int) float64 {
	if score <= 0 {
		return 0
	}
	base := score / (score + 1.5)
	bonus := 0.05 * float64(evidenceTypes-1)
	conf := base + bonus
	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}
