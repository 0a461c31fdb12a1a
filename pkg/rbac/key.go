package rbac

import (
	"sort"
	"strings"
)

// PermissionKey is a parsed resource:action pattern
type PermissionKey struct {
	Resource string
	Action   string
}

// ParsePermissionKey parses a "resource:action" pattern. Both halves are
// required, lower-cased and must not contain whitespace or further colons.
func ParsePermissionKey(s string) (PermissionKey, error) {
	resource, action, ok := strings.Cut(s, ":")
	if !ok {
		return PermissionKey{}, invalidKey(s, "missing ':' separator")
	}
	if resource == "" || action == "" {
		return PermissionKey{}, invalidKey(s, "resource and action must both be non-empty")
	}
	if strings.Contains(action, ":") {
		return PermissionKey{}, invalidKey(s, "too many ':' separators")
	}
	if strings.ContainsAny(s, " \t\r\n") {
		return PermissionKey{}, invalidKey(s, "whitespace is not allowed")
	}
	return PermissionKey{
		Resource: strings.ToLower(resource),
		Action:   strings.ToLower(action),
	}, nil
}

// MustParsePermissionKey is ParsePermissionKey for compile-time constants
func MustParsePermissionKey(s string) PermissionKey {
	k, err := ParsePermissionKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

// ParsePermissionKeys parses a list of patterns, failing on the first malformed one
func ParsePermissionKeys(patterns []string) ([]PermissionKey, error) {
	keys := make([]PermissionKey, 0, len(patterns))
	for _, p := range patterns {
		k, err := ParsePermissionKey(p)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// String returns the resource:action form
func (k PermissionKey) String() string {
	return k.Resource + ":" + k.Action
}

// IsWildcard reports whether either half is the wildcard
func (k PermissionKey) IsWildcard() bool {
	return k.Resource == Wildcard || k.Action == Wildcard
}

// Matches reports whether the (possibly wildcarded) key k covers the concrete key other
func (k PermissionKey) Matches(other PermissionKey) bool {
	return (k.Resource == Wildcard || k.Resource == other.Resource) &&
		(k.Action == Wildcard || k.Action == other.Action)
}

func invalidKey(s, reason string) error {
	return newError(ErrInvalidPermissionKey, "invalid permission %q: %s", s, reason)
}

// PermissionSet evaluates permission checks against a user's effective entries
type PermissionSet struct {
	entries map[PermissionKey]EffectivePermission
}

// NewPermissionSet indexes effective entries by their lower-cased key
func NewPermissionSet(entries []EffectivePermission) *PermissionSet {
	set := &PermissionSet{entries: make(map[PermissionKey]EffectivePermission, len(entries))}
	for _, e := range entries {
		e.Resource = strings.ToLower(e.Resource)
		e.Action = strings.ToLower(e.Action)
		set.entries[e.Key()] = e
	}
	return set
}

// Allows checks resource:action at the given scope. An exact entry decides
// the outcome in either direction; otherwise any granted wildcard entry
// covering the key allows it.
func (s *PermissionSet) Allows(key PermissionKey, scope string) bool {
	if scope == "" {
		scope = ScopeAll
	}
	if e, ok := s.entries[key]; ok && scopeMatches(e.Scope, scope) {
		return e.Granted
	}
	for k, e := range s.entries {
		if !e.Granted || !k.IsWildcard() {
			continue
		}
		if k.Matches(key) && scopeMatches(e.Scope, scope) {
			return true
		}
	}
	return false
}

// AllowsAll reports whether every key is allowed at ScopeAll and returns the missing ones
func (s *PermissionSet) AllowsAll(keys []PermissionKey) (bool, []PermissionKey) {
	var missing []PermissionKey
	for _, k := range keys {
		if !s.Allows(k, ScopeAll) {
			missing = append(missing, k)
		}
	}
	return len(missing) == 0, missing
}

// AllowsAny reports whether at least one key is allowed at ScopeAll
func (s *PermissionSet) AllowsAny(keys []PermissionKey) bool {
	for _, k := range keys {
		if s.Allows(k, ScopeAll) {
			return true
		}
	}
	return false
}

// Granted returns the granted keys as sorted "resource:action" strings
func (s *PermissionSet) Granted() []string {
	out := make([]string, 0, len(s.entries))
	for k, e := range s.entries {
		if e.Granted {
			out = append(out, k.String())
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of entries, granted or denied
func (s *PermissionSet) Len() int {
	return len(s.entries)
}

func scopeMatches(entryScope, requested string) bool {
	if entryScope == "" || entryScope == ScopeAll || requested == ScopeAll {
		return true
	}
	return strings.EqualFold(entryScope, requested)
}
