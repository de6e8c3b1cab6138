package tracelog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// captureSink records delivered records for assertions.
type captureSink struct {
	mu      sync.Mutex
	records []Record
	err     error
	block   chan struct{}
}

func (s *captureSink) Deliver(_ context.Context, rec Record) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

func (s *captureSink) delivered() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

func TestAsync_DeliversAndStamps(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	a := NewAsync(sink)

	id := a.LogTurn(Record{CallID: "c1", TenantID: "t1", TurnNumber: 3})
	if id == "" {
		t.Error("LogTurn returned an empty trace id")
	}
	a.Close()

	got := sink.delivered()
	if len(got) != 1 {
		t.Fatalf("delivered %d records, want 1", len(got))
	}
	if got[0].TraceID != id || got[0].CallID != "c1" {
		t.Errorf("record = %+v, want trace id %s carried through", got[0], id)
	}
	if got[0].Timestamp.IsZero() {
		t.Error("Timestamp not stamped")
	}
}

func TestAsync_CloseDrainsQueue(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	a := NewAsync(sink, WithBufferSize(64))
	for i := 1; i <= 20; i++ {
		a.LogTurn(Record{CallID: "c1", TurnNumber: i})
	}
	a.Close()

	if got := len(sink.delivered()); got != 20 {
		t.Errorf("delivered %d records after Close, want all 20", got)
	}
	a.Close() // second Close must be a no-op
}

func TestAsync_FullQueueDropsWithoutBlocking(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	sink := &captureSink{block: release}
	a := NewAsync(sink, WithBufferSize(1))

	// First record occupies the delivery goroutine; the buffer fills behind
	// it and further records are dropped, never blocking the caller.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			a.LogTurn(Record{CallID: "c1", TurnNumber: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("LogTurn blocked on a full queue")
	}
	if a.Dropped() == 0 {
		t.Error("Dropped = 0, want drops recorded")
	}
	close(release)
	a.Close()
}

func TestAsync_SinkErrorsAreSwallowed(t *testing.T) {
	t.Parallel()

	sink := &captureSink{err: errors.New("store down")}
	a := NewAsync(sink)
	a.LogTurn(Record{CallID: "c1"})
	a.LogTurn(Record{CallID: "c1"})
	a.Close()

	// Both records were attempted despite the failures.
	if got := len(sink.delivered()); got != 2 {
		t.Errorf("delivery attempts = %d, want 2", got)
	}
}

func TestSlogSink_NilLoggerDefaults(t *testing.T) {
	t.Parallel()

	// Must not panic with a zero-value sink.
	if err := (SlogSink{}).Deliver(context.Background(), Record{CallID: "c1"}); err != nil {
		t.Errorf("Deliver = %v, want nil", err)
	}
}

func TestAsync_LogTurnAfterCloseDrops(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	a := NewAsync(sink)
	a.Close()

	// Must neither panic nor deliver; concurrent stragglers included.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.LogTurn(Record{CallID: "c1"})
		}()
	}
	wg.Wait()

	if n := a.Dropped(); n != 8 {
		t.Errorf("Dropped = %d, want 8", n)
	}
	if got := sink.delivered(); len(got) != 0 {
		t.Errorf("delivered = %d records, want 0 after Close", len(got))
	}
	a.Close()
}
