// Package placeholder substitutes {key}-style tokens in reply text using
// tenant-configured values and a catalog of aliases and trade fallbacks.
//
// Three token forms are recognised: {key}, {{key}}, and [key]. Resolution for
// each token proceeds in order:
//
//  1. Alias-normalize the key via the catalog (e.g., "companyname" to "company").
//  2. Look up the tenant's values, case-insensitively.
//  3. If absent, use the catalog's fallback for the tenant's trade.
//  4. If still absent: keep the token verbatim when LeaveUnknown is set,
//     otherwise drop it and compact the surrounding whitespace.
//
// Unknown tokens are reported but never fail the call, and resolution is
// idempotent when the value set is stable.
package placeholder

import (
	"regexp"
	"strings"

	"github.com/chatterlinx/frontdesk/internal/scenario"
)

// tokenPattern matches {{key}}, {key}, and [key] forms. Double braces must be
// listed first so they are not consumed as a single-brace token with brace
// remnants.
var tokenPattern = regexp.MustCompile(`\{\{([a-zA-Z0-9_ .-]+)\}\}|\{([a-zA-Z0-9_ .-]+)\}|\[([a-zA-Z0-9_ .-]+)\]`)

// Catalog maps key aliases to canonical keys and provides per-trade fallback
// values for keys a tenant has not configured.
type Catalog struct {
	// Aliases maps a lowercase alias to its canonical lowercase key.
	Aliases map[string]string

	// Fallbacks maps trade, then canonical key, to a fallback value.
	Fallbacks map[string]map[string]string
}

// DefaultCatalog returns the built-in catalog covering the common
// receptionist placeholders.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Aliases: map[string]string{
			"companyname":  "company",
			"company_name": "company",
			"callername":   "name",
			"caller_name":  "name",
			"firstname":    "name",
			"tech":         "technician",
			"techname":     "technician",
			"appt":         "appointmenttime",
			"appointment":  "appointmenttime",
		},
		Fallbacks: map[string]map[string]string{
			"hvac": {
				"servicefee": "our standard service fee",
				"hours":      "our regular business hours",
			},
			"plumbing": {
				"servicefee": "our standard service fee",
				"hours":      "our regular business hours",
			},
		},
	}
}

// Options controls resolution behaviour.
type Options struct {
	// Trade selects the catalog fallback table (e.g., "hvac").
	Trade string

	// LeaveUnknown keeps unresolvable tokens verbatim instead of dropping
	// them.
	LeaveUnknown bool
}

// Result reports what a resolve call did.
type Result struct {
	// Text is the resolved text.
	Text string

	// Replacements counts successful substitutions (values and fallbacks).
	Replacements int

	// UnknownTokens lists canonical keys that could not be resolved.
	UnknownTokens []string

	// FallbacksUsed lists canonical keys resolved from the catalog fallback
	// table rather than tenant values.
	FallbacksUsed []string
}

// Resolver substitutes placeholder tokens. Safe for concurrent use; the
// resolver is read-only after construction.
type Resolver struct {
	catalog *Catalog
}

// New creates a Resolver. Pass nil to use [DefaultCatalog].
func New(catalog *Catalog) *Resolver {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Resolver{catalog: catalog}
}

// Resolve substitutes all recognised tokens in text using values.
// Lookup into values is case-insensitive on the canonical key.
func (r *Resolver) Resolve(text string, values map[string]string, opts Options) Result {
	lower := make(map[string]string, len(values))
	for k, v := range values {
		lower[strings.ToLower(k)] = v
	}

	res := Result{}
	out := tokenPattern.ReplaceAllStringFunc(text, func(tok string) string {
		key := extractKey(tok)
		canonical := r.canonicalKey(key)

		if v, ok := lower[canonical]; ok {
			res.Replacements++
			return v
		}
		if fb, ok := r.fallback(opts.Trade, canonical); ok {
			res.Replacements++
			res.FallbacksUsed = append(res.FallbacksUsed, canonical)
			return fb
		}

		res.UnknownTokens = append(res.UnknownTokens, canonical)
		if opts.LeaveUnknown {
			return tok
		}
		return ""
	})

	if !opts.LeaveUnknown && len(res.UnknownTokens) > 0 {
		out = CompactText(out)
	}
	res.Text = out
	return res
}

// ResolveScenario substitutes tokens in every reply text of s, preserving
// weights and array ordering. The scenario is modified in place.
func (r *Resolver) ResolveScenario(s *scenario.Scenario, values map[string]string, opts Options) Result {
	total := Result{}
	arrays := [][]scenario.Reply{
		s.QuickReplies, s.FullReplies,
		s.QuickRepliesNoName, s.FullRepliesNoName,
	}
	for _, arr := range arrays {
		for i := range arr {
			res := r.Resolve(arr[i].Text, values, opts)
			arr[i].Text = res.Text
			total.Replacements += res.Replacements
			total.UnknownTokens = append(total.UnknownTokens, res.UnknownTokens...)
			total.FallbacksUsed = append(total.FallbacksUsed, res.FallbacksUsed...)
		}
	}
	if s.FollowUpQuestion != "" {
		res := r.Resolve(s.FollowUpQuestion, values, opts)
		s.FollowUpQuestion = res.Text
		total.Replacements += res.Replacements
		total.UnknownTokens = append(total.UnknownTokens, res.UnknownTokens...)
		total.FallbacksUsed = append(total.FallbacksUsed, res.FallbacksUsed...)
	}
	return total
}

// canonicalKey lowercases key and applies catalog aliases.
func (r *Resolver) canonicalKey(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	if alias, ok := r.catalog.Aliases[k]; ok {
		return alias
	}
	return k
}

// fallback looks up the catalog fallback for (trade, key).
func (r *Resolver) fallback(trade, key string) (string, bool) {
	table, ok := r.catalog.Fallbacks[strings.ToLower(trade)]
	if !ok {
		return "", false
	}
	v, ok := table[key]
	return v, ok
}

// extractKey strips the token delimiters from a matched token.
func extractKey(tok string) string {
	tok = strings.TrimPrefix(tok, "{{")
	tok = strings.TrimSuffix(tok, "}}")
	tok = strings.TrimPrefix(tok, "{")
	tok = strings.TrimSuffix(tok, "}")
	tok = strings.TrimPrefix(tok, "[")
	tok = strings.TrimSuffix(tok, "]")
	return tok
}

// orphanPunct matches punctuation left dangling after a dropped token,
// e.g. "Thanks, !" becomes "Thanks!".
var (
	orphanPunct = regexp.MustCompile(`\s*,\s*([.!?,])`)
	multiSpace  = regexp.MustCompile(`\s{2,}`)
	spacePunct  = regexp.MustCompile(`\s+([.!?,])`)
)

// CompactText cleans up whitespace and punctuation artifacts left by dropped
// tokens. Exported for the response engine's name-safety sanitizer.
func CompactText(s string) string {
	s = orphanPunct.ReplaceAllString(s, "$1")
	s = spacePunct.ReplaceAllString(s, "$1")
	s = multiSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
