package dialogue

import (
	"regexp"
	"strings"

	"github.com/chatterlinx/frontdesk/internal/store"
)

// questionPrefixes classify an utterance as a question by its opening words.
var questionPrefixes = []string{
	"what", "when", "where", "how", "why", "who",
	"do you", "are you", "can you", "can i", "could you",
	"is there", "is it", "will you", "would you",
}

// questionTopics catch statement-form questions about common topics.
var questionTopics = regexp.MustCompile(`(?i)\b(hours|open|closed|price|pricing|cost|charge|fee|warranty|financing|license[ds]?|insured)\b`)

// isQuestion reports whether the utterance looks like a direct question the
// quick-answer matcher should try to short-circuit.
func isQuestion(utterance string) bool {
	u := strings.ToLower(strings.TrimSpace(utterance))
	if u == "" {
		return false
	}
	if strings.HasSuffix(u, "?") {
		return true
	}
	for _, p := range questionPrefixes {
		if strings.HasPrefix(u, p+" ") {
			return true
		}
	}
	return questionTopics.MatchString(u)
}

// matchQuickAnswer scores active quick answers against the utterance and
// returns the best, or nil when no trigger matches. The score is
// 10·matchedTriggers + 5·priority + Σ|trigger| so that multi-trigger hits
// dominate, then curated priority, then trigger specificity.
func matchQuickAnswer(utterance string, answers []store.QuickAnswer) *store.QuickAnswer {
	lower := strings.ToLower(utterance)

	var (
		best      *store.QuickAnswer
		bestScore float64
	)
	for i := range answers {
		qa := &answers[i]
		matched := 0
		triggerLen := 0
		for _, trig := range qa.Triggers {
			t := strings.ToLower(strings.TrimSpace(trig))
			if t != "" && strings.Contains(lower, t) {
				matched++
				triggerLen += len(t)
			}
		}
		if matched == 0 {
			continue
		}
		score := 10*float64(matched) + 5*float64(qa.Priority) + float64(triggerLen)
		if score > bestScore {
			best, bestScore = qa, score
		}
	}
	return best
}
