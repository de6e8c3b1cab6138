package scenario

import (
	"strings"
	"unicode"
)

// Pool is a tenant's normalized scenario set, shared-immutable within a cache
// TTL window. Construction filters to enabled scenarios and builds the
// keyword vocabulary used by the knowledge router's O(1) pre-filter.
type Pool struct {
	scenarios []Scenario
	vocab     map[string]struct{}
}

// NewPool builds a Pool from already-normalized scenarios, keeping only those
// with isEnabledForCompany ≠ false.
func NewPool(scenarios []Scenario) *Pool {
	p := &Pool{vocab: make(map[string]struct{})}
	for i := range scenarios {
		s := scenarios[i]
		if !s.IsEnabled() {
			continue
		}
		p.scenarios = append(p.scenarios, s)
		for _, kw := range s.Rules.KeywordsMustHave {
			for _, tok := range Tokenize(kw) {
				p.vocab[tok] = struct{}{}
			}
		}
		for _, tok := range Tokenize(s.Name) {
			p.vocab[tok] = struct{}{}
		}
	}
	return p
}

// Scenarios returns the enabled scenarios. The returned slice must not be
// mutated by the caller.
func (p *Pool) Scenarios() []Scenario {
	return p.scenarios
}

// Len returns the number of enabled scenarios.
func (p *Pool) Len() int {
	return len(p.scenarios)
}

// ByID returns the enabled scenario with the given ID, or nil.
func (p *Pool) ByID(id string) *Scenario {
	for i := range p.scenarios {
		if p.scenarios[i].ID == id {
			return &p.scenarios[i]
		}
	}
	return nil
}

// HasVocabularyOverlap reports whether any token of the query appears in the
// pool's indexed vocabulary. Used as the knowledge router's cheap pre-filter.
func (p *Pool) HasVocabularyOverlap(query string) bool {
	for _, tok := range Tokenize(query) {
		if _, ok := p.vocab[tok]; ok {
			return true
		}
	}
	return false
}

// Tokenize lowercases s and splits it on non-letter/non-digit runes,
// dropping single-character tokens.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}
