package dialogue

import (
	"strings"

	"github.com/chatterlinx/frontdesk/internal/store"
	"github.com/chatterlinx/frontdesk/pkg/types"
)

// emergencyWords and urgentWords derive caller urgency from the utterance
// itself; the selected card's curated urgency is the floor.
var (
	emergencyWords = []string{"emergency", "flooding", "burst", "gas leak", "smoke", "sparking", "fire"}
	urgentWords    = []string{"today", "right away", "asap", "as soon as", "urgent", "immediately", "no heat", "no air", "no cooling"}
)

// triageSelection is the triage provider's finding for one turn.
type triageSelection struct {
	card    *store.TriageCard
	urgency types.Urgency
}

// selectTriageCard keyword-scores the active cards against the utterance and
// returns the best, with urgency derived from the utterance and floored at
// the card's curated urgency. Returns a nil card when nothing matches.
func selectTriageCard(utterance string, cards []store.TriageCard) triageSelection {
	lower := strings.ToLower(utterance)

	var (
		best      *store.TriageCard
		bestScore float64
	)
nextCard:
	for i := range cards {
		c := &cards[i]
		for _, kw := range c.KeywordsExclude {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				continue nextCard
			}
		}
		matched := 0
		for _, kw := range c.KeywordsMustHave {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		score := 10*float64(matched) + float64(c.Priority)
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	if best == nil {
		return triageSelection{}
	}
	return triageSelection{card: best, urgency: deriveUrgency(lower, best.Urgency)}
}

// deriveUrgency grades the utterance, never below the card's floor.
func deriveUrgency(lowerUtterance string, floor types.Urgency) types.Urgency {
	derived := types.UrgencyRoutine
	for _, w := range emergencyWords {
		if strings.Contains(lowerUtterance, w) {
			derived = types.UrgencyEmergency
			break
		}
	}
	if derived != types.UrgencyEmergency {
		for _, w := range urgentWords {
			if strings.Contains(lowerUtterance, w) {
				derived = types.UrgencyUrgent
				break
			}
		}
	}
	if urgencyRank(derived) < urgencyRank(floor) {
		return floor
	}
	return derived
}

// urgencyRank orders urgencies for the floor comparison.
func urgencyRank(u types.Urgency) int {
	switch u {
	case types.UrgencyEmergency:
		return 3
	case types.UrgencyUrgent:
		return 2
	case types.UrgencyNormal:
		return 1
	default:
		return 0
	}
}
