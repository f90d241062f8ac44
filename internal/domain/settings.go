package domain

import (
	"encoding/json"
	"fmt"
)

// SettingsVersion is stamped into every settings blob so later versions can
// migrate stored values.
const SettingsVersion = 1

// TenantSettings is the typed tenant configuration. Known keys are explicit
// fields; unrecognized keys survive round-trips through Extra.
type TenantSettings struct {
	Version      int    `json:"version"`
	Locale       string `json:"locale,omitempty"`        // BCP 47, e.g. "en-US"
	Timezone     string `json:"timezone,omitempty"`      // IANA name, e.g. "Europe/Madrid"
	TicketPrefix string `json:"ticket_prefix,omitempty"` // short code shown in ticket numbers
	MaxAgents    int    `json:"max_agents,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// DefaultSettings baseline applied to freshly provisioned tenants.
func DefaultSettings() TenantSettings {
	return TenantSettings{
		Version:      SettingsVersion,
		Locale:       "en-US",
		Timezone:     "UTC",
		TicketPrefix: "DW",
		MaxAgents:    10,
	}
}

// Validate is called before any settings write reaches storage.
func (s *TenantSettings) Validate() error {
	if s.Version <= 0 || s.Version > SettingsVersion {
		return fmt.Errorf("unsupported settings version %d", s.Version)
	}
	if s.MaxAgents < 0 {
		return fmt.Errorf("max_agents must not be negative")
	}
	if len(s.TicketPrefix) > 8 {
		return fmt.Errorf("ticket_prefix must be at most 8 characters")
	}
	return nil
}

var knownSettingsKeys = map[string]bool{
	"version":       true,
	"locale":        true,
	"timezone":      true,
	"ticket_prefix": true,
	"max_agents":    true,
}

// MarshalJSON flattens Extra back alongside the known keys.
func (s TenantSettings) MarshalJSON() ([]byte, error) {
	type alias TenantSettings
	known, err := json.Marshal(alias(s))
	if err != nil {
		return nil, err
	}
	if len(s.Extra) == 0 {
		return known, nil
	}

	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range s.Extra {
		if !knownSettingsKeys[k] {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON keeps unrecognized keys in Extra instead of dropping them.
func (s *TenantSettings) UnmarshalJSON(data []byte) error {
	type alias TenantSettings
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range raw {
		if knownSettingsKeys[k] {
			delete(raw, k)
		}
	}
	if len(raw) > 0 {
		a.Extra = raw
	}

	*s = TenantSettings(a)
	if s.Version == 0 {
		s.Version = SettingsVersion
	}
	return nil
}
