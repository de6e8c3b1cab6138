package pgvec

import (
	"context"
	"log/slog"

	"github.com/chatterlinx/frontdesk/internal/match/semantic"
	"github.com/chatterlinx/frontdesk/internal/scenario"
)

// Matcher serves the router's Tier-2 contract from the embedding index.
// Index failures degrade to a no-match so Tier-3 can still answer.
type Matcher struct {
	index  *Index
	logger *slog.Logger
}

// NewMatcher creates a Matcher over ix.
func NewMatcher(ix *Index, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{index: ix, logger: logger}
}

// Select queries the index for the nearest scenario and resolves it against
// the tenant's pool.
func (m *Matcher) Select(ctx context.Context, tenantID, utterance string, pool *scenario.Pool) semantic.Match {
	if tenantID == "" || pool == nil || pool.Len() == 0 {
		return semantic.Match{}
	}
	scored, err := m.index.Query(ctx, tenantID, utterance, 1)
	if err != nil {
		m.logger.Warn("pgvec: tier-2 query failed, treating as no-match",
			"tenant_id", tenantID, "error", err)
		return semantic.Match{}
	}
	if len(scored) == 0 {
		return semantic.Match{}
	}

	s := pool.ByID(scored[0].ScenarioID)
	if s == nil {
		// Stale index entry: the scenario was disabled or deleted since the
		// last reindex.
		return semantic.Match{}
	}
	conf := scored[0].Similarity
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return semantic.Match{Scenario: s, Confidence: conf}
}
