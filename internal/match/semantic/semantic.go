// Package semantic implements the Tier-2 matcher: vector similarity between
// the caller utterance and each scenario's searchable text (name, must-have
// keywords, context hints).
//
// The default [Matcher] is dependency-free at runtime: TF-IDF cosine
// similarity over the tenant's scenario pool, blended with a Jaro-Winkler
// term-alignment component that catches morphological variants TF-IDF misses
// ("leaking" vs "leak"). It is pure with respect to the scenario set: no
// side effects, no budget consumed.
//
// Deployments with an embeddings provider can use the pgvec subpackage
// instead, which serves the same contract from a pgvector index.
package semantic

import (
	"math"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/chatterlinx/frontdesk/internal/scenario"
)

// Blend weights for the cosine and term-alignment components.
const (
	cosineWeight    = 0.7
	alignmentWeight = 0.3
)

// Match is the Tier-2 result. Scenario is nil when the pool is empty or
// nothing exceeds zero similarity.
type Match struct {
	Scenario   *scenario.Scenario
	Confidence float64
}

// Matcher computes utterance ↔ scenario similarity. Stateless and safe for
// concurrent use.
type Matcher struct{}

// NewMatcher creates a Matcher.
func NewMatcher() *Matcher {
	return &Matcher{}
}

// Select returns the scenario with the highest blended similarity to the
// utterance, with confidence in [0,1].
func (m *Matcher) Select(utterance string, pool *scenario.Pool) Match {
	if pool == nil || pool.Len() == 0 {
		return Match{}
	}
	queryTokens := scenario.Tokenize(utterance)
	if len(queryTokens) == 0 {
		return Match{}
	}

	scenarios := pool.Scenarios()
	docs := make([][]string, len(scenarios))
	for i := range scenarios {
		docs[i] = scenario.Tokenize(scenarios[i].SearchableText())
	}
	idf := inverseDocFreq(docs)

	queryVec := tfidfVector(queryTokens, idf)

	best := Match{}
	for i := range scenarios {
		cos := cosine(queryVec, tfidfVector(docs[i], idf))
		align := termAlignment(queryTokens, docs[i])
		sim := cosineWeight*cos + alignmentWeight*align
		if sim > best.Confidence {
			best = Match{Scenario: &scenarios[i], Confidence: sim}
		}
	}
	if best.Confidence > 1 {
		best.Confidence = 1
	}
	return best
}

// inverseDocFreq computes smoothed IDF per token over the documents.
func inverseDocFreq(docs [][]string) map[string]float64 {
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]struct{}, len(doc))
		for _, tok := range doc {
			if _, ok := seen[tok]; !ok {
				seen[tok] = struct{}{}
				df[tok]++
			}
		}
	}
	n := float64(len(docs))
	idf := make(map[string]float64, len(df))
	for tok, d := range df {
		idf[tok] = math.Log(1 + n/float64(d))
	}
	return idf
}

// tfidfVector builds a sparse TF-IDF vector. Tokens missing from the corpus
// get the maximum IDF so that novel query words still contribute.
func tfidfVector(tokens []string, idf map[string]float64) map[string]float64 {
	maxIDF := 0.0
	for _, v := range idf {
		if v > maxIDF {
			maxIDF = v
		}
	}
	if maxIDF == 0 {
		maxIDF = 1
	}

	tf := make(map[string]float64)
	for _, tok := range tokens {
		tf[tok]++
	}
	vec := make(map[string]float64, len(tf))
	for tok, f := range tf {
		w, ok := idf[tok]
		if !ok {
			w = maxIDF
		}
		vec[tok] = (1 + math.Log(f)) * w
	}
	return vec
}

// cosine computes cosine similarity of two sparse vectors.
func cosine(a, b map[string]float64) float64 {
	var dot, na, nb float64
	for tok, av := range a {
		na += av * av
		if bv, ok := b[tok]; ok {
			dot += av * bv
		}
	}
	for _, bv := range b {
		nb += bv * bv
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// termAlignment returns the mean best Jaro-Winkler similarity of each query
// token against the document tokens. Only near matches (≥ 0.85) count, so
// unrelated vocabularies score near zero.
func termAlignment(query, doc []string) float64 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	total := 0.0
	for _, q := range query {
		best := 0.0
		for _, d := range doc {
			if sim := matchr.JaroWinkler(q, d, false); sim > best {
				best = sim
			}
		}
		if best >= 0.85 {
			total += best
		}
	}
	return total / float64(len(query))
}

// NormalizedEquals reports whether two utterances are near-duplicates under
// Jaro-Winkler similarity. Used by the dialogue processor's anti-repetition
// guard.
func NormalizedEquals(a, b string, threshold float64) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	return matchr.JaroWinkler(a, b, false) >= threshold
}
