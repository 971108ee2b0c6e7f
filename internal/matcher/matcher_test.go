package matcher

import "testing"

// TestFrom_Empty implements spec §8 property #4: Matchers::from([]) has
// is_empty() == true and matches nothing positively or negatively.
func TestFrom_Empty(t *testing.T) {
	m := From(nil)
	if !m.IsEmpty() {
		t.Fatalf("From(nil).IsEmpty() = false, want true")
	}
	if m.PositiveMatch("anything") {
		t.Fatal("empty Matchers must not positive-match")
	}
	if m.NegativeMatch("anything") {
		t.Fatal("empty Matchers must not negative-match")
	}
}

func TestFrom_SplitsPositiveAndNegative(t *testing.T) {
	m := From([]string{"v*", "!latest", "stable"})
	if m.IsEmpty() {
		t.Fatal("IsEmpty() = true, want false")
	}
	if len(m.Positive) != 2 || len(m.Negative) != 1 {
		t.Fatalf("Positive=%d Negative=%d, want 2/1", len(m.Positive), len(m.Negative))
	}
	if m.Negative[0].String() != "latest" {
		t.Fatalf("negative pattern text = %q, want %q (leading ! stripped)", m.Negative[0].String(), "latest")
	}
}

func TestFrom_DropsEmptyEntries(t *testing.T) {
	m := From([]string{"", "v1", ""})
	if len(m.Positive) != 1 {
		t.Fatalf("Positive = %+v, want one pattern", m.Positive)
	}
}

func TestWildcardSemantics(t *testing.T) {
	cases := []struct {
		pattern string
		input   string
		want    bool
	}{
		{"v*", "v1", true},
		{"v*", "v1.2.3", true},
		{"v*", "v", true},
		{"v*", "beta", false},
		{"v?", "v1", true},
		{"v?", "v12", false},
		{"v?", "v", false},
		{"*", "anything at all", true},
		{"*", "", true},
		{"release-?.?", "release-1.0", true},
		{"release-?.?", "release-10.0", false},
	}
	for _, tc := range cases {
		m := From([]string{tc.pattern})
		if got := m.PositiveMatch(tc.input); got != tc.want {
			t.Errorf("PositiveMatch(%q) against %q = %v, want %v", tc.pattern, tc.input, got, tc.want)
		}
	}
}

func TestMatching_IsWholeStringAnchored(t *testing.T) {
	m := From([]string{"v1"})
	if m.PositiveMatch("v12") || m.PositiveMatch("xv1") || m.PositiveMatch("v1x") {
		t.Fatal("a literal pattern must not match as a substring")
	}
	if !m.PositiveMatch("v1") {
		t.Fatal("a literal pattern must match the identical string")
	}
}

func TestMatching_SpecialRegexCharsAreLiteral(t *testing.T) {
	m := From([]string{"a.b+c"})
	if m.PositiveMatch("aXbYc") {
		t.Fatal("'.' and '+' in a pattern must be literal, not regex metacharacters")
	}
	if !m.PositiveMatch("a.b+c") {
		t.Fatal("a pattern containing regex metacharacters must still match its literal text")
	}
}

func TestNegativeMatch(t *testing.T) {
	m := From([]string{"!latest", "!v1.*"})
	if !m.NegativeMatch("latest") {
		t.Fatal("expected NegativeMatch(\"latest\") = true")
	}
	if !m.NegativeMatch("v1.2") {
		t.Fatal("expected NegativeMatch(\"v1.2\") = true")
	}
	if m.NegativeMatch("v2.0") {
		t.Fatal("expected NegativeMatch(\"v2.0\") = false")
	}
	if m.PositiveMatch("latest") {
		t.Fatal("a negative-only pattern set must never positive-match")
	}
}

func TestPositiveMatchCount(t *testing.T) {
	m := From([]string{"v*"})
	got := m.PositiveMatchCount([]string{"v1", "stable", "v2"})
	if got != 2 {
		t.Fatalf("PositiveMatchCount = %d, want 2", got)
	}
	if got := m.PositiveMatchCount(nil); got != 0 {
		t.Fatalf("PositiveMatchCount(nil) = %d, want 0", got)
	}
}
