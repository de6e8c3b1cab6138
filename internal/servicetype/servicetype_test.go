package servicetype

import "testing"

// recordingMirrors captures mirror writes for assertions.
type recordingMirrors struct {
	writes []string
}

func (m *recordingMirrors) SetServiceTypeMirrors(canonical string) {
	m.writes = append(m.writes, canonical)
}

func TestResolve_HighConfidence(t *testing.T) {
	t.Parallel()

	r := NewResolver()
	res := &Resolution{}
	mirrors := &recordingMirrors{}

	out := r.Resolve(res, mirrors, "our basement is flooding, this is an emergency", Options{})
	if res.State != StateResolved {
		t.Fatalf("State = %v, want RESOLVED", res.State)
	}
	if res.CanonicalType != "emergency" || res.Confidence != ConfidenceHigh {
		t.Errorf("got (%q, %v), want (emergency, high)", res.CanonicalType, res.Confidence)
	}
	if out.ClarifierQuestion != "" {
		t.Errorf("ClarifierQuestion = %q, want empty on resolve", out.ClarifierQuestion)
	}
	if len(mirrors.writes) != 1 || mirrors.writes[0] != "emergency" {
		t.Errorf("mirror writes = %v, want [emergency]", mirrors.writes)
	}
}

func TestResolve_TieAsksEmergencyClarifier(t *testing.T) {
	t.Parallel()

	r := NewResolver()
	res := &Resolution{}

	// "no heat" scores emergency HIGH (3); "fix" scores repair MEDIUM (2).
	// The margin of 1 is within TieMargin, so the emergency-vs-regular
	// clarifier is asked.
	out := r.Resolve(res, nil, "no heat, can you fix it", Options{})
	if res.State != StateClarifying {
		t.Fatalf("State = %v, want CLARIFYING", res.State)
	}
	if res.Clarifier != ClarifierEmergencyVsRegular {
		t.Errorf("Clarifier = %v, want emergencyVsRegular", res.Clarifier)
	}
	want := "Is this something that needs attention right away today, or can we schedule the next available appointment?"
	if out.ClarifierQuestion != want {
		t.Errorf("ClarifierQuestion = %q, want %q", out.ClarifierQuestion, want)
	}
}

func TestResolve_ExplicitTypeConfirms(t *testing.T) {
	t.Parallel()

	r := NewResolver()
	res := &Resolution{}

	r.Resolve(res, nil, "hello there", Options{ExplicitType: "Maintenance"})
	if res.State != StateConfirmed || res.CanonicalType != "maintenance" {
		t.Errorf("got (%v, %q), want (CONFIRMED, maintenance)", res.State, res.CanonicalType)
	}
}

func TestResolve_ExplicitFallbackTypeIgnored(t *testing.T) {
	t.Parallel()

	r := NewResolver()
	res := &Resolution{}

	// The generic "service" type carries no information and must not
	// confirm; empty issue text then asks the generic clarifier.
	out := r.Resolve(res, nil, "", Options{ExplicitType: FallbackType})
	if res.State != StateClarifying || res.Clarifier != ClarifierGeneric {
		t.Errorf("got (%v, %v), want (CLARIFYING, generic)", res.State, res.Clarifier)
	}
	if out.ClarifierQuestion == "" {
		t.Error("ClarifierQuestion empty, want generic question")
	}
}

func TestApplyClarification(t *testing.T) {
	t.Parallel()

	r := NewResolver()
	res := &Resolution{}
	r.Resolve(res, nil, "no heat, can you fix it", Options{})
	if res.State != StateClarifying {
		t.Fatalf("setup: State = %v, want CLARIFYING", res.State)
	}

	r.ApplyClarification(res, nil, "it can wait, just routine maintenance please")
	if res.State != StateConfirmed || res.CanonicalType != "maintenance" {
		t.Errorf("got (%v, %q), want (CONFIRMED, maintenance)", res.State, res.CanonicalType)
	}
}

func TestApplyClarification_VagueAnswerConfirmsTentative(t *testing.T) {
	t.Parallel()

	r := NewResolver()
	res := &Resolution{State: StateClarifying, Tentative: "repair", Clarifier: ClarifierTypeSpecificRepair}

	r.ApplyClarification(res, nil, "yeah I guess so")
	if res.State != StateConfirmed || res.CanonicalType != "repair" {
		t.Errorf("got (%v, %q), want (CONFIRMED, repair)", res.State, res.CanonicalType)
	}
}

func TestLock_Monotonic(t *testing.T) {
	t.Parallel()

	r := NewResolver()
	res := &Resolution{}
	r.Resolve(res, nil, "broken AC needs a repair, it stopped working", Options{})
	if res.CanonicalType == "" {
		t.Fatal("setup: expected a resolved type")
	}
	locked := res.CanonicalType

	r.Lock(res)
	if res.State != StateLocked {
		t.Fatalf("State = %v, want LOCKED", res.State)
	}

	// Nothing moves a locked resolution.
	r.Resolve(res, nil, "actually it is an emergency, flooding everywhere", Options{})
	r.ApplyClarification(res, nil, "install a new system")
	if res.State != StateLocked || res.CanonicalType != locked {
		t.Errorf("after lock: got (%v, %q), want (LOCKED, %q)", res.State, res.CanonicalType, locked)
	}
	if got := CanonicalTypeOf(res); got != locked {
		t.Errorf("CanonicalTypeOf = %q, want constant %q after lock", got, locked)
	}
}

func TestLock_RefusesPending(t *testing.T) {
	t.Parallel()

	r := NewResolver()
	res := &Resolution{State: StatePending}
	r.Lock(res)
	if res.State == StateLocked {
		t.Error("locked a PENDING resolution without a canonical type")
	}
}

func TestCanonicalTypeOf(t *testing.T) {
	t.Parallel()

	if got := CanonicalTypeOf(nil); got != "" {
		t.Errorf("CanonicalTypeOf(nil) = %q, want empty", got)
	}
	if got := CanonicalTypeOf(&Resolution{Tentative: "repair"}); got != "repair" {
		t.Errorf("CanonicalTypeOf = %q, want tentative while clarifying", got)
	}
	if got := CanonicalTypeOf(&Resolution{CanonicalType: "install", Tentative: "repair"}); got != "install" {
		t.Errorf("CanonicalTypeOf = %q, want canonical over tentative", got)
	}
}

func TestResolve_NoEvidenceStaysPending(t *testing.T) {
	t.Parallel()

	r := NewResolver()
	res := &Resolution{}

	out := r.Resolve(res, nil, "my name is Dana Reed", Options{})
	if res.State != StatePending {
		t.Errorf("State = %v, want PENDING with no keyword evidence", res.State)
	}
	if out.ClarifierQuestion != "" {
		t.Errorf("ClarifierQuestion = %q, want none", out.ClarifierQuestion)
	}
}
