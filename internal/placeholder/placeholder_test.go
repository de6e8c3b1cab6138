package placeholder

import (
	"strings"
	"testing"
)

func TestResolve_BasicSubstitution(t *testing.T) {
	t.Parallel()

	r := New(nil)
	values := map[string]string{"company": "Acme Air", "name": "Dana"}

	res := r.Resolve("Thanks {name}, welcome to {company}.", values, Options{})
	if res.Text != "Thanks Dana, welcome to Acme Air." {
		t.Errorf("Text = %q, want substituted text", res.Text)
	}
	if res.Replacements != 2 {
		t.Errorf("Replacements = %d, want 2", res.Replacements)
	}
}

func TestResolve_TokenForms(t *testing.T) {
	t.Parallel()

	r := New(nil)
	values := map[string]string{"company": "Acme"}

	for _, tc := range []struct {
		in   string
		want string
	}{
		{"call {company}", "call Acme"},
		{"call {{company}}", "call Acme"},
		{"call [company]", "call Acme"},
	} {
		res := r.Resolve(tc.in, values, Options{})
		if res.Text != tc.want {
			t.Errorf("Resolve(%q) = %q, want %q", tc.in, res.Text, tc.want)
		}
	}
}

func TestResolve_AliasesAndCaseInsensitivity(t *testing.T) {
	t.Parallel()

	r := New(nil)
	values := map[string]string{"Company": "Acme"}

	res := r.Resolve("{companyName} here", values, Options{})
	if res.Text != "Acme here" {
		t.Errorf("Text = %q, want alias resolved against case-insensitive values", res.Text)
	}
}

func TestResolve_TradeFallback(t *testing.T) {
	t.Parallel()

	r := New(nil)

	res := r.Resolve("The fee is {serviceFee}.", nil, Options{Trade: "HVAC"})
	if !strings.Contains(res.Text, "our standard service fee") {
		t.Errorf("Text = %q, want catalog fallback applied", res.Text)
	}
	if len(res.FallbacksUsed) != 1 || res.FallbacksUsed[0] != "servicefee" {
		t.Errorf("FallbacksUsed = %v, want [servicefee]", res.FallbacksUsed)
	}
}

func TestResolve_UnknownDroppedAndCompacted(t *testing.T) {
	t.Parallel()

	r := New(nil)

	res := r.Resolve("Thanks {name}, let me help.", nil, Options{})
	if res.Text != "Thanks, let me help." {
		t.Errorf("Text = %q, want orphan comma compacted", res.Text)
	}
	if len(res.UnknownTokens) != 1 || res.UnknownTokens[0] != "name" {
		t.Errorf("UnknownTokens = %v, want [name]", res.UnknownTokens)
	}
}

func TestResolve_LeaveUnknown(t *testing.T) {
	t.Parallel()

	r := New(nil)

	res := r.Resolve("Hi {mystery}", nil, Options{LeaveUnknown: true})
	if res.Text != "Hi {mystery}" {
		t.Errorf("Text = %q, want token kept verbatim", res.Text)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	t.Parallel()

	r := New(nil)
	values := map[string]string{"company": "Acme", "technician": "Sam"}
	in := "Hi, {tech} from {company} will visit. Unknown: {zzz}."

	once := r.Resolve(in, values, Options{})
	twice := r.Resolve(once.Text, values, Options{})
	if once.Text != twice.Text {
		t.Errorf("resolve(resolve(t)) = %q, want %q", twice.Text, once.Text)
	}
}

func TestCompactText(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		in   string
		want string
	}{
		{"Thanks , let me help.", "Thanks, let me help."},
		{"Hello   there", "Hello there"},
		{"  padded  ", "padded"},
	} {
		if got := CompactText(tc.in); got != tc.want {
			t.Errorf("CompactText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
