package dialogue

import (
	"regexp"
	"strings"
)

// serviceAreaPattern recognises service-area questions ("do you service Fort
// Myers?", "do you come out to Naples", "is Cape Coral in your service
// area").
var serviceAreaPattern = regexp.MustCompile(`(?i)\b(do you (service|serve|cover|come( out)? to|work in)|service area|in your area|are you in)\b`)

// serviceAreaAnswer classifies a service-area question. When the utterance
// names a known area it returns an affirmative reply; when it is a
// service-area question about an unknown place it returns acknowledged=true
// with an empty reply so the turn continues with a hint. Otherwise both are
// zero.
func serviceAreaAnswer(utterance string, areas []string) (reply string, acknowledged bool) {
	if !serviceAreaPattern.MatchString(utterance) {
		return "", false
	}

	lower := strings.ToLower(utterance)
	for _, area := range areas {
		a := strings.TrimSpace(area)
		if a == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(a)) {
			return "Yes, we absolutely service " + a + ". How can we help you today?", true
		}
	}
	return "", true
}
