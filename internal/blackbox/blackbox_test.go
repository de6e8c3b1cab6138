package blackbox

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestMemorySink_RecordsAndFilters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sink := NewMemorySink()

	sink.Emit(ctx, Event{Type: EventTier1FastMatch, TenantID: "t1", CallID: "c1"})
	sink.Emit(ctx, Event{Type: EventBudgetExceeded, TenantID: "t1"})
	sink.Emit(ctx, Event{Type: EventTier1FastMatch, TenantID: "t2"})

	if got := len(sink.Events()); got != 3 {
		t.Fatalf("Events len = %d, want 3", got)
	}
	if got := len(sink.ByType(EventTier1FastMatch)); got != 2 {
		t.Errorf("ByType len = %d, want 2", got)
	}
	if !sink.Has(EventBudgetExceeded) {
		t.Error("Has(EventBudgetExceeded) = false")
	}
	if sink.Has(EventRoutingError) {
		t.Error("Has reported an event that was never emitted")
	}
	if sink.Events()[0].Timestamp.IsZero() {
		t.Error("Timestamp not stamped on emit")
	}
}

func TestMemorySink_ConcurrentEmit(t *testing.T) {
	t.Parallel()

	sink := NewMemorySink()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				sink.Emit(context.Background(), Event{Type: EventTierExit, TenantID: "t1"})
			}
		}()
	}
	wg.Wait()
	if got := len(sink.Events()); got != 400 {
		t.Errorf("Events len = %d, want 400", got)
	}
}

func TestSlogSink_WritesScopedAttributes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewSlogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	sink.Emit(context.Background(), Event{
		Type:      EventQuickAnswerUsed,
		TenantID:  "t1",
		CallID:    "c1",
		Timestamp: time.Now(),
		Fields:    map[string]any{"quick_answer_id": "qa-7"},
	})

	out := buf.String()
	for _, want := range []string{EventQuickAnswerUsed, "tenant_id=t1", "call_id=c1", "quick_answer_id=qa-7"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestSlogSink_NilLoggerDefaults(t *testing.T) {
	t.Parallel()

	// Must not panic.
	NewSlogSink(nil).Emit(context.Background(), Event{Type: EventTierExit, TenantID: "t1"})
}

func TestNop(t *testing.T) {
	t.Parallel()

	var l Logger = Nop{}
	l.Emit(context.Background(), Event{Type: EventTierExit})
}
