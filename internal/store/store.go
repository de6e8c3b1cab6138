// Package store is the document store for tenant configuration: tenant
// records, scenario pools, triage cards, quick answers, and the per-tenant
// budget ledger.
//
// The hot path only ever reads, through the cache layer; admin tooling
// mutates and invalidates. The one hot-path write is [Store.IncrementSpend],
// which must be atomic per tenant.
package store

import (
	"context"
	"errors"

	"github.com/chatterlinx/frontdesk/internal/scenario"
)

// ErrNotFound is returned when the requested tenant does not exist.
var ErrNotFound = errors.New("store: not found")

// Store provides read access to tenant configuration plus the atomic budget
// increment. Implementations must be safe for concurrent use.
type Store interface {
	// FindTenant retrieves a tenant by ID. Returns [ErrNotFound] for unknown
	// tenants.
	FindTenant(ctx context.Context, tenantID string) (*Tenant, error)

	// FindScenarios returns the tenant's raw scenario pool, disabled entries
	// included. Callers run [scenario.NormalizeAll] before matching.
	FindScenarios(ctx context.Context, tenantID string) ([]scenario.Scenario, error)

	// FindTriageCards returns the tenant's active triage cards.
	FindTriageCards(ctx context.Context, tenantID string) ([]TriageCard, error)

	// FindQuickAnswers returns the tenant's enabled quick answers.
	FindQuickAnswers(ctx context.Context, tenantID string) ([]QuickAnswer, error)

	// FindSTTProfile returns the speech-to-text hints for a template. Returns
	// [ErrNotFound] when the template has no profile.
	FindSTTProfile(ctx context.Context, templateID string) (*STTProfile, error)

	// IncrementSpend atomically adds amount to the tenant's current spend and
	// returns the new value. Writes are linearizable per tenant.
	IncrementSpend(ctx context.Context, tenantID string, amount float64) (float64, error)
}

// Admin extends Store with the mutations used by admin tooling. The hot path
// never sees this interface.
type Admin interface {
	Store

	// UpsertTenant creates or replaces a tenant record. Spend is preserved on
	// replace.
	UpsertTenant(ctx context.Context, t *Tenant) error

	// UpsertScenario creates or replaces one scenario for a tenant.
	UpsertScenario(ctx context.Context, tenantID string, s *scenario.Scenario) error

	// ResetSpend zeroes the tenant's current spend (monthly rollover).
	ResetSpend(ctx context.Context, tenantID string) error
}
