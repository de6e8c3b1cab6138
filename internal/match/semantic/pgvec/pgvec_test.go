package pgvec

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/chatterlinx/frontdesk/internal/scenario"
)

type fakeEmbedder struct {
	dims int
	err  error
}

func (f fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, f.dims), nil
}

func (f fakeEmbedder) Dimensions() int { return f.dims }

// fakeDB serves canned (scenario_id, similarity) rows.
type fakeDB struct {
	rows     [][2]any
	queryErr error
	execs    int
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row { return nil }

func (f *fakeDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	f.execs++
	return pgconn.CommandTag{}, nil
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &fakeRows{rows: f.rows}, nil
}

type fakeRows struct {
	rows [][2]any
	idx  int
}

func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx <= len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.idx-1]
	*(dest[0].(*string)) = row[0].(string)
	*(dest[1].(*float64)) = row[1].(float64)
	return nil
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func testPool() *scenario.Pool {
	return scenario.NewPool(scenario.NormalizeAll([]scenario.Scenario{
		{
			ID: "booking", Name: "Book Appointment", Type: scenario.TypeBooking,
			Rules: scenario.MatchRules{KeywordsMustHave: []string{"schedule", "appointment"}},
		},
	}))
}

func TestMatcher_Select(t *testing.T) {
	t.Parallel()

	db := &fakeDB{rows: [][2]any{{"booking", 0.83}}}
	m := NewMatcher(NewIndex(db, fakeEmbedder{dims: 4}), nil)

	got := m.Select(context.Background(), "t1", "book me a visit", testPool())
	if got.Scenario == nil || got.Scenario.ID != "booking" {
		t.Fatalf("Select = %+v, want booking", got)
	}
	if got.Confidence != 0.83 {
		t.Errorf("Confidence = %v, want 0.83", got.Confidence)
	}
}

func TestMatcher_SelectClampsSimilarity(t *testing.T) {
	t.Parallel()

	db := &fakeDB{rows: [][2]any{{"booking", 1.2}}}
	m := NewMatcher(NewIndex(db, fakeEmbedder{dims: 4}), nil)

	got := m.Select(context.Background(), "t1", "book me a visit", testPool())
	if got.Scenario == nil || got.Confidence != 1 {
		t.Errorf("Select = %+v, want confidence clamped to 1", got)
	}
}

func TestMatcher_SelectStaleIndexEntry(t *testing.T) {
	t.Parallel()

	// The index still knows a scenario the pool no longer carries.
	db := &fakeDB{rows: [][2]any{{"retired", 0.9}}}
	m := NewMatcher(NewIndex(db, fakeEmbedder{dims: 4}), nil)

	if got := m.Select(context.Background(), "t1", "book me a visit", testPool()); got.Scenario != nil {
		t.Errorf("Select = %+v, want no-match for a pool-absent scenario", got)
	}
}

func TestMatcher_SelectDegradesOnError(t *testing.T) {
	t.Parallel()

	db := &fakeDB{queryErr: errors.New("connection refused")}
	m := NewMatcher(NewIndex(db, fakeEmbedder{dims: 4}), nil)

	if got := m.Select(context.Background(), "t1", "book me a visit", testPool()); got.Scenario != nil {
		t.Errorf("Select = %+v, want no-match when the index is unreachable", got)
	}

	embedFail := NewMatcher(NewIndex(&fakeDB{}, fakeEmbedder{err: errors.New("quota")}), nil)
	if got := embedFail.Select(context.Background(), "t1", "book me a visit", testPool()); got.Scenario != nil {
		t.Errorf("Select = %+v, want no-match when embedding fails", got)
	}
}

func TestMatcher_SelectEmptyInputs(t *testing.T) {
	t.Parallel()

	m := NewMatcher(NewIndex(&fakeDB{}, fakeEmbedder{dims: 4}), nil)
	if got := m.Select(context.Background(), "", "book me a visit", testPool()); got.Scenario != nil {
		t.Errorf("Select = %+v, want no-match without a tenant", got)
	}
	if got := m.Select(context.Background(), "t1", "book me a visit", nil); got.Scenario != nil {
		t.Errorf("Select = %+v, want no-match without a pool", got)
	}
}

func TestIndex_UpsertWritesEveryScenario(t *testing.T) {
	t.Parallel()

	db := &fakeDB{}
	ix := NewIndex(db, fakeEmbedder{dims: 4})

	pool := scenario.NewPool(scenario.NormalizeAll([]scenario.Scenario{
		{ID: "booking", Name: "Book Appointment", Type: scenario.TypeBooking,
			Rules: scenario.MatchRules{KeywordsMustHave: []string{"schedule"}}},
		{ID: "billing", Name: "Billing Question", Type: scenario.TypeBilling,
			Rules: scenario.MatchRules{KeywordsMustHave: []string{"invoice"}}},
	}))
	if err := ix.Upsert(context.Background(), "t1", pool); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if db.execs != pool.Len() {
		t.Errorf("exec count = %d, want one upsert per scenario (%d)", db.execs, pool.Len())
	}
}

func TestIndex_UpsertStopsOnEmbedError(t *testing.T) {
	t.Parallel()

	db := &fakeDB{}
	ix := NewIndex(db, fakeEmbedder{err: errors.New("quota")})
	if err := ix.Upsert(context.Background(), "t1", testPool()); err == nil {
		t.Error("Upsert = nil, want the embed error surfaced")
	}
	if db.execs != 0 {
		t.Errorf("exec count = %d, want 0 after an embed failure", db.execs)
	}
}
