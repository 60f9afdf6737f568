package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// SettingsMap is one provider spec inside a run's provider_settings.
// "name" and "model" are required at admission; every other key passes
// through to the adapter untouched so new provider knobs need no schema
// change. Question-level provider_overrides merge on top at
// materialization time.
type SettingsMap map[string]any

// Name returns the lowercased provider name, or "" when absent.
func (m SettingsMap) Name() string {
	s, _ := m["name"].(string)
	return strings.ToLower(s)
}

// Model returns the model identifier, or "" when absent.
func (m SettingsMap) Model() string {
	s, _ := m["model"].(string)
	return s
}

// Merge returns a copy of m with every key from over applied on top.
func (m SettingsMap) Merge(over map[string]any) SettingsMap {
	out := make(SettingsMap, len(m)+len(over))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// RunSpec is the admitted run specification persisted on the Run row.
type RunSpec struct {
	// Providers lists one spec per provider the run targets.
	Providers []SettingsMap `json:"providers"`
	// PromptVersion selects the prompt template revision.
	PromptVersion string `json:"prompt_version"`
}

// ProviderNames returns the lowercased provider names in spec order.
func (s RunSpec) ProviderNames() []string {
	names := make([]string, 0, len(s.Providers))
	for _, p := range s.Providers {
		names = append(names, p.Name())
	}
	return names
}

// Value implements driver.Valuer.
func (s RunSpec) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner.
func (s *RunSpec) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = RunSpec{}
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("cannot scan %T into RunSpec", src)
	}
}

// TokenUsage is the token accounting block of one provider response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Value implements driver.Valuer.
func (u TokenUsage) Value() (driver.Value, error) {
	return json.Marshal(u)
}

// Scan implements sql.Scanner.
func (u *TokenUsage) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*u = TokenUsage{}
		return nil
	case []byte:
		return json.Unmarshal(v, u)
	case string:
		return json.Unmarshal([]byte(v), u)
	default:
		return fmt.Errorf("cannot scan %T into TokenUsage", src)
	}
}
