package knowledge

import (
	"strings"
)

// fallbackCategory is one canned in-house category.
type fallbackCategory struct {
	name     string
	keywords []string
	response string
}

// inHouseCategories are the trade-aware canned answers, checked in order.
// The first category whose keyword match clears inHouseMatchFloor answers.
var inHouseCategories = []fallbackCategory{
	{
		name:     "emergencySituations",
		keywords: []string{"emergency", "urgent", "flooding", "flood", "burst", "leak", "leaking", "no heat", "no cooling", "gas", "smoke", "sparking"},
		response: "That sounds urgent. Let me get you to our dispatch team right away so we can have someone out to you as soon as possible.",
	},
	{
		name:     "serviceRequests",
		keywords: []string{"repair", "fix", "broken", "not working", "service", "problem", "issue", "stopped", "making noise"},
		response: "We can definitely help with that. Let me get a few details so we can have a technician take care of it for you.",
	},
	{
		name:     "bookingRequests",
		keywords: []string{"appointment", "schedule", "book", "booking", "come out", "visit", "available", "availability", "when can"},
		response: "I'd be happy to get you on the schedule. What day works best for you?",
	},
	{
		name:     "generalInquiries",
		keywords: []string{"price", "cost", "how much", "hours", "open", "warranty", "estimate", "quote", "question"},
		response: "Great question. Let me get a little more information so I can point you in the right direction.",
	},
}

// ultimateFallback speaks when no category matches. Confidence 0.5: low
// enough to be honest, high enough to keep the conversation moving.
const ultimateFallback = "Thanks for calling. I want to make sure I get you to the right place. Could you tell me a bit more about what you need help with today?"

// inHouseFallback is the terminal knowledge source: trade-aware canned
// categories with an ultimate fallback. It never returns an empty response.
func (r *Router) inHouseFallback(q Query) sourceHit {
	lower := strings.ToLower(q.Utterance)

	for _, cat := range inHouseCategories {
		match := categoryMatch(lower, cat.keywords)
		if match > inHouseMatchFloor {
			conf := match
			if conf < 0.5 {
				conf = 0.5
			}
			return sourceHit{response: cat.response, confidence: conf, agentRole: cat.name}
		}
	}
	return sourceHit{response: ultimateFallback, confidence: 0.5}
}

// categoryMatch scores a category by the strongest keyword hit: a direct
// substring hit scores by keyword length (longer phrases are stronger
// evidence), capped at 1.
func categoryMatch(lowerUtterance string, keywords []string) float64 {
	best := 0.0
	for _, kw := range keywords {
		if !strings.Contains(lowerUtterance, kw) {
			continue
		}
		score := 0.4 + float64(len(kw))/20
		if score > 1 {
			score = 1
		}
		if score > best {
			best = score
		}
	}
	return best
}
