package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Scope is a set of permission scopes stored as a bitmask.
type Scope int

// Permission scope bits. ScopeAdmin is the super-scope and satisfies any check.
const (
	ScopeRead       Scope = 1
	ScopeWrite      Scope = 2
	ScopeWebhook    Scope = 4
	ScopeWidget     Scope = 8
	ScopeWhitelabel Scope = 16
	ScopeAdmin      Scope = 32

	AllScopes = ScopeRead | ScopeWrite | ScopeWebhook | ScopeWidget | ScopeWhitelabel | ScopeAdmin
)

var scopeNames = []struct {
	bit  Scope
	name string
}{
	{ScopeRead, "read"},
	{ScopeWrite, "write"},
	{ScopeWebhook, "webhook"},
	{ScopeWidget, "widget"},
	{ScopeWhitelabel, "whitelabel"},
	{ScopeAdmin, "admin"},
}

// ParseScope converts a scope name into its bit.
func ParseScope(name string) (Scope, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, s := range scopeNames {
		if s.name == n {
			return s.bit, nil
		}
	}
	return 0, fmt.Errorf("unknown scope %q", name)
}

// ParseScopes converts a list of names into a set.
func ParseScopes(names []string) (Scope, error) {
	var set Scope
	for _, n := range names {
		s, err := ParseScope(n)
		if err != nil {
			return 0, err
		}
		set |= s
	}
	return set, nil
}

// Has reports whether every bit of want is present in the set.
func (s Scope) Has(want Scope) bool {
	return s&want == want
}

// Allows reports whether the set intersects any of required. A set holding
// ScopeAdmin allows everything.
func (s Scope) Allows(required ...Scope) bool {
	if s&ScopeAdmin != 0 {
		return true
	}
	for _, r := range required {
		if s&r != 0 {
			return true
		}
	}
	return false
}

// Names returns the scope names in the set, in declaration order.
func (s Scope) Names() []string {
	names := make([]string, 0, len(scopeNames))
	for _, sn := range scopeNames {
		if s&sn.bit != 0 {
			names = append(names, sn.name)
		}
	}
	return names
}

func (s Scope) String() string {
	return strings.Join(s.Names(), ",")
}

// MarshalJSON renders the set as a sorted list of names.
func (s Scope) MarshalJSON() ([]byte, error) {
	names := s.Names()
	sort.Strings(names)
	return json.Marshal(names)
}

// UnmarshalJSON accepts either a list of names or the raw bitmask.
func (s *Scope) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err == nil {
		set, err := ParseScopes(names)
		if err != nil {
			return err
		}
		*s = set
		return nil
	}
	var raw int
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("scope must be a list of names: %w", err)
	}
	*s = Scope(raw)
	return nil
}
