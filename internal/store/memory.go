package store

import (
	"context"
	"sync"

	"github.com/chatterlinx/frontdesk/internal/scenario"
)

// MemoryStore is an in-memory [Admin] implementation for tests and local
// development. Safe for concurrent use.
type MemoryStore struct {
	mu           sync.Mutex
	tenants      map[string]*Tenant
	scenarios    map[string]map[string]*scenario.Scenario
	triageCards  map[string][]TriageCard
	quickAnswers map[string][]QuickAnswer
	sttProfiles  map[string]*STTProfile
}

// Compile-time interface check.
var _ Admin = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:      make(map[string]*Tenant),
		scenarios:    make(map[string]map[string]*scenario.Scenario),
		triageCards:  make(map[string][]TriageCard),
		quickAnswers: make(map[string][]QuickAnswer),
		sttProfiles:  make(map[string]*STTProfile),
	}
}

// FindTenant implements Store. The returned tenant is a copy.
func (s *MemoryStore) FindTenant(_ context.Context, tenantID string) (*Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// FindScenarios implements Store.
func (s *MemoryStore) FindScenarios(_ context.Context, tenantID string) ([]scenario.Scenario, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]scenario.Scenario, 0, len(s.scenarios[tenantID]))
	for _, sc := range s.scenarios[tenantID] {
		out = append(out, *sc)
	}
	return out, nil
}

// FindTriageCards implements Store, returning active cards only.
func (s *MemoryStore) FindTriageCards(_ context.Context, tenantID string) ([]TriageCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []TriageCard
	for _, c := range s.triageCards[tenantID] {
		if c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

// FindQuickAnswers implements Store, returning enabled answers only.
func (s *MemoryStore) FindQuickAnswers(_ context.Context, tenantID string) ([]QuickAnswer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []QuickAnswer
	for _, qa := range s.quickAnswers[tenantID] {
		if qa.Enabled {
			out = append(out, qa)
		}
	}
	return out, nil
}

// FindSTTProfile implements Store. The returned profile is a copy.
func (s *MemoryStore) FindSTTProfile(_ context.Context, templateID string) (*STTProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.sttProfiles[templateID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// IncrementSpend implements Store.
func (s *MemoryStore) IncrementSpend(_ context.Context, tenantID string, amount float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[tenantID]
	if !ok {
		return 0, ErrNotFound
	}
	t.AgentLogic.Gatekeeper.CurrentSpend += amount
	return t.AgentLogic.Gatekeeper.CurrentSpend, nil
}

// UpsertTenant implements Admin. Spend is preserved when replacing an
// existing tenant.
func (s *MemoryStore) UpsertTenant(_ context.Context, t *Tenant) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *t
	if prev, ok := s.tenants[t.ID]; ok {
		cp.AgentLogic.Gatekeeper.CurrentSpend = prev.AgentLogic.Gatekeeper.CurrentSpend
	}
	s.tenants[t.ID] = &cp
	return nil
}

// UpsertScenario implements Admin.
func (s *MemoryStore) UpsertScenario(_ context.Context, tenantID string, sc *scenario.Scenario) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scenarios[tenantID] == nil {
		s.scenarios[tenantID] = make(map[string]*scenario.Scenario)
	}
	cp := *sc
	s.scenarios[tenantID][sc.ID] = &cp
	return nil
}

// ResetSpend implements Admin.
func (s *MemoryStore) ResetSpend(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[tenantID]
	if !ok {
		return ErrNotFound
	}
	t.AgentLogic.Gatekeeper.CurrentSpend = 0
	return nil
}

// SetTriageCards replaces the tenant's triage cards. Test seeding helper.
func (s *MemoryStore) SetTriageCards(tenantID string, cards []TriageCard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triageCards[tenantID] = append([]TriageCard(nil), cards...)
}

// SetQuickAnswers replaces the tenant's quick answers. Test seeding helper.
func (s *MemoryStore) SetQuickAnswers(tenantID string, answers []QuickAnswer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quickAnswers[tenantID] = append([]QuickAnswer(nil), answers...)
}

// SetSTTProfile stores a template's speech-to-text profile. Test seeding
// helper.
func (s *MemoryStore) SetSTTProfile(p *STTProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.sttProfiles[p.TemplateID] = &cp
}
