package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/chatterlinx/frontdesk/internal/scenario"
)

// Schema is the SQL DDL for the tenant configuration tables. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
//
// Tenant configuration is stored as JSONB documents; current_spend lives in
// its own column so the budget increment can be a single atomic UPDATE.
const Schema = `
CREATE TABLE IF NOT EXISTS tenants (
    id            TEXT PRIMARY KEY,
    doc           JSONB NOT NULL DEFAULT '{}',
    current_spend DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS scenarios (
    tenant_id   TEXT NOT NULL,
    scenario_id TEXT NOT NULL,
    doc         JSONB NOT NULL DEFAULT '{}',
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (tenant_id, scenario_id)
);
CREATE TABLE IF NOT EXISTS triage_cards (
    tenant_id  TEXT NOT NULL,
    card_id    TEXT NOT NULL,
    active     BOOLEAN NOT NULL DEFAULT true,
    doc        JSONB NOT NULL DEFAULT '{}',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (tenant_id, card_id)
);
CREATE TABLE IF NOT EXISTS quick_answers (
    tenant_id  TEXT NOT NULL,
    answer_id  TEXT NOT NULL,
    enabled    BOOLEAN NOT NULL DEFAULT true,
    doc        JSONB NOT NULL DEFAULT '{}',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (tenant_id, answer_id)
);
CREATE TABLE IF NOT EXISTS stt_profiles (
    template_id TEXT PRIMARY KEY,
    doc         JSONB NOT NULL DEFAULT '{}',
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_scenarios_tenant ON scenarios(tenant_id);
CREATE INDEX IF NOT EXISTS idx_triage_cards_tenant_active ON triage_cards(tenant_id) WHERE active;
CREATE INDEX IF NOT EXISTS idx_quick_answers_tenant_enabled ON quick_answers(tenant_id) WHERE enabled;
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is an [Admin] backed by PostgreSQL.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Admin = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgresStore over the given connection or pool.
// The caller is responsible for calling [PostgresStore.Migrate] before
// issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// FindTenant implements Store. The authoritative current_spend column is
// overlaid onto the document's ledger field.
func (s *PostgresStore) FindTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	const query = `SELECT doc, current_spend FROM tenants WHERE id = $1`

	var (
		doc   []byte
		spend float64
	)
	err := s.db.QueryRow(ctx, query, tenantID).Scan(&doc, &spend)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: find tenant %q: %w", tenantID, err)
	}

	var t Tenant
	if err := json.Unmarshal(doc, &t); err != nil {
		return nil, fmt.Errorf("store: unmarshal tenant %q: %w", tenantID, err)
	}
	t.ID = tenantID
	t.AgentLogic.Gatekeeper.CurrentSpend = spend
	return &t, nil
}

// FindScenarios implements Store.
func (s *PostgresStore) FindScenarios(ctx context.Context, tenantID string) ([]scenario.Scenario, error) {
	const query = `SELECT doc FROM scenarios WHERE tenant_id = $1 ORDER BY scenario_id`

	rows, err := s.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("store: find scenarios: %w", err)
	}
	defer rows.Close()

	var out []scenario.Scenario
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("store: scenarios scan: %w", err)
		}
		var sc scenario.Scenario
		if err := json.Unmarshal(doc, &sc); err != nil {
			return nil, fmt.Errorf("store: unmarshal scenario: %w", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: find scenarios: %w", err)
	}
	return out, nil
}

// FindTriageCards implements Store, returning active cards only.
func (s *PostgresStore) FindTriageCards(ctx context.Context, tenantID string) ([]TriageCard, error) {
	const query = `SELECT doc FROM triage_cards WHERE tenant_id = $1 AND active ORDER BY card_id`

	rows, err := s.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("store: find triage cards: %w", err)
	}
	defer rows.Close()

	var out []TriageCard
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("store: triage cards scan: %w", err)
		}
		var c TriageCard
		if err := json.Unmarshal(doc, &c); err != nil {
			return nil, fmt.Errorf("store: unmarshal triage card: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: find triage cards: %w", err)
	}
	return out, nil
}

// FindQuickAnswers implements Store, returning enabled answers only.
func (s *PostgresStore) FindQuickAnswers(ctx context.Context, tenantID string) ([]QuickAnswer, error) {
	const query = `SELECT doc FROM quick_answers WHERE tenant_id = $1 AND enabled ORDER BY answer_id`

	rows, err := s.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("store: find quick answers: %w", err)
	}
	defer rows.Close()

	var out []QuickAnswer
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("store: quick answers scan: %w", err)
		}
		var qa QuickAnswer
		if err := json.Unmarshal(doc, &qa); err != nil {
			return nil, fmt.Errorf("store: unmarshal quick answer: %w", err)
		}
		out = append(out, qa)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: find quick answers: %w", err)
	}
	return out, nil
}

// FindSTTProfile implements Store.
func (s *PostgresStore) FindSTTProfile(ctx context.Context, templateID string) (*STTProfile, error) {
	const query = `SELECT doc FROM stt_profiles WHERE template_id = $1`

	var doc []byte
	err := s.db.QueryRow(ctx, query, templateID).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: find stt profile %q: %w", templateID, err)
	}

	var p STTProfile
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("store: unmarshal stt profile %q: %w", templateID, err)
	}
	p.TemplateID = templateID
	return &p, nil
}

// IncrementSpend implements Store as a single atomic UPDATE.
func (s *PostgresStore) IncrementSpend(ctx context.Context, tenantID string, amount float64) (float64, error) {
	const query = `
		UPDATE tenants
		SET current_spend = current_spend + $2, updated_at = now()
		WHERE id = $1
		RETURNING current_spend`

	var spend float64
	err := s.db.QueryRow(ctx, query, tenantID, amount).Scan(&spend)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("store: increment spend for %q: %w", tenantID, err)
	}
	return spend, nil
}

// UpsertTenant implements Admin. The current_spend column is left untouched
// on replace.
func (s *PostgresStore) UpsertTenant(ctx context.Context, t *Tenant) error {
	if err := t.Validate(); err != nil {
		return err
	}
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("store: marshal tenant %q: %w", t.ID, err)
	}

	const query = `
		INSERT INTO tenants (id, doc) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`

	if _, err := s.db.Exec(ctx, query, t.ID, doc); err != nil {
		return fmt.Errorf("store: upsert tenant %q: %w", t.ID, err)
	}
	return nil
}

// UpsertScenario implements Admin.
func (s *PostgresStore) UpsertScenario(ctx context.Context, tenantID string, sc *scenario.Scenario) error {
	if sc.ID == "" {
		return fmt.Errorf("store: scenario id must not be empty")
	}
	doc, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("store: marshal scenario %q: %w", sc.ID, err)
	}

	const query = `
		INSERT INTO scenarios (tenant_id, scenario_id, doc) VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, scenario_id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`

	if _, err := s.db.Exec(ctx, query, tenantID, sc.ID, doc); err != nil {
		return fmt.Errorf("store: upsert scenario %q: %w", sc.ID, err)
	}
	return nil
}

// ResetSpend implements Admin.
func (s *PostgresStore) ResetSpend(ctx context.Context, tenantID string) error {
	const query = `UPDATE tenants SET current_spend = 0, updated_at = now() WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, tenantID)
	if err != nil {
		return fmt.Errorf("store: reset spend for %q: %w", tenantID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
