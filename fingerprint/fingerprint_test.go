package fingerprint

import (
	"regexp"
	"testing"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases", "How LONG does it last?", "how long does it last?"},
		{"collapses runs", "a   b\t\tc", "a b c"},
		{"trims edges", "  hello  ", "hello"},
		{"newlines", "line one\nline two", "line one line two"},
		{"already normal", "plain question", "plain question"},
		{"empty", "", ""},
		{"only whitespace", " \t\n ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeText(tt.input); got != tt.want {
				t.Errorf("NormalizeText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCompute_Shape(t *testing.T) {
	got := Compute("openai", "gpt-4o-mini", "v1", "q1", "p1", "text", nil)
	if !regexp.MustCompile(`^[0-9a-f]{64}$`).MatchString(got) {
		t.Errorf("fingerprint is not 64 lowercase hex chars: %q", got)
	}
}

func TestCompute_Deterministic(t *testing.T) {
	settings := map[string]any{"model": "m", "temperature": 0.0, "max_tokens": 1000}
	a := Compute("openai", "m", "v1", "q1", "p1", "Battery life?", settings)
	b := Compute("openai", "m", "v1", "q1", "p1", "Battery life?", settings)
	if a != b {
		t.Errorf("same inputs produced different fingerprints: %s vs %s", a, b)
	}
}

func TestCompute_SettingsKeyOrderIrrelevant(t *testing.T) {
	// Maps carry no order in Go, so construct nested objects in different
	// insertion orders and confirm the canonical form absorbs it.
	s1 := map[string]any{}
	s1["temperature"] = 0.5
	s1["model"] = "m"
	s1["nested"] = map[string]any{"b": 2, "a": 1}

	s2 := map[string]any{}
	s2["nested"] = map[string]any{"a": 1, "b": 2}
	s2["model"] = "m"
	s2["temperature"] = 0.5

	a := Compute("openai", "m", "v1", "q1", "p1", "text", s1)
	b := Compute("openai", "m", "v1", "q1", "p1", "text", s2)
	if a != b {
		t.Errorf("key order changed the fingerprint: %s vs %s", a, b)
	}
}

func TestCompute_WhitespaceOnlyChangesAreInvisible(t *testing.T) {
	a := Compute("openai", "m", "v1", "q1", "p1", "How long   does\tthe battery last?", nil)
	b := Compute("openai", "m", "v1", "q1", "p1", "how long does the battery LAST?", nil)
	if a != b {
		t.Errorf("normalization-equivalent texts produced different fingerprints")
	}
}

func TestCompute_SensitiveToEachInput(t *testing.T) {
	base := func() string {
		return Compute("openai", "m", "v1", "q1", "p1", "text", map[string]any{"k": 1})
	}

	tests := []struct {
		name string
		got  string
	}{
		{"provider", Compute("gemini", "m", "v1", "q1", "p1", "text", map[string]any{"k": 1})},
		{"model", Compute("openai", "m2", "v1", "q1", "p1", "text", map[string]any{"k": 1})},
		{"prompt version", Compute("openai", "m", "v2", "q1", "p1", "text", map[string]any{"k": 1})},
		{"question id", Compute("openai", "m", "v1", "q2", "p1", "text", map[string]any{"k": 1})},
		{"persona id", Compute("openai", "m", "v1", "q1", "p2", "text", map[string]any{"k": 1})},
		{"question text", Compute("openai", "m", "v1", "q1", "p1", "other text", map[string]any{"k": 1})},
		{"settings value", Compute("openai", "m", "v1", "q1", "p1", "text", map[string]any{"k": 2})},
		{"settings key", Compute("openai", "m", "v1", "q1", "p1", "text", map[string]any{"j": 1})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got == base() {
				t.Errorf("changing %s did not change the fingerprint", tt.name)
			}
		})
	}
}

func TestCompute_NilAndEmptySettingsDiffer(t *testing.T) {
	// nil marshals to "null", the empty map to "{}". Both are stable but
	// they are distinct identities.
	a := Compute("openai", "m", "v1", "q1", "p1", "text", nil)
	b := Compute("openai", "m", "v1", "q1", "p1", "text", map[string]any{})
	if a == b {
		t.Error("nil and empty settings should not collide")
	}
}
