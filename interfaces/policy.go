package interfaces

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Capabilities understood by the stores.
const (
	CapCreate = "create"
	CapRead   = "read"
	CapUpdate = "update"
	CapDelete = "delete"
	CapList   = "list"
	CapSudo   = "sudo"
	CapDeny   = "deny"
)

var knownCapabilities = []string{CapCreate, CapRead, CapUpdate, CapDelete, CapList, CapSudo, CapDeny}

// PolicyRule grants a capability set on a logical path pattern.
//
// Patterns are matched segment by segment: "+" matches exactly one segment
// and a trailing "*" matches any remaining suffix.
type PolicyRule struct {
	Path         string   `json:"path" yaml:"path"`
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
}

// Policy is a named, ordered set of rules.
type Policy struct {
	Name  string       `json:"name" yaml:"name"`
	Rules []PolicyRule `json:"rules" yaml:"rules"`
}

// Validate checks the policy name and every rule.
func (p Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: policy name is empty", ErrInvalidArgument)
	}
	if len(p.Rules) == 0 {
		return fmt.Errorf("%w: policy %s has no rules", ErrInvalidArgument, p.Name)
	}
	for _, rule := range p.Rules {
		if rule.Path == "" {
			return fmt.Errorf("%w: policy %s has a rule with empty path", ErrInvalidArgument, p.Name)
		}
		for _, c := range rule.Capabilities {
			if !slices.Contains(knownCapabilities, c) {
				return fmt.Errorf("%w: policy %s: unknown capability %q", ErrInvalidArgument, p.Name, c)
			}
		}
	}
	return nil
}

// HCL renders the policy in the backing engine's policy language. resolve maps
// a logical path pattern to the engine's native path.
func (p Policy) HCL(resolve func(string) string) string {
	var sb strings.Builder
	for i, rule := range p.Rules {
		if i > 0 {
			sb.WriteString("\n")
		}
		quoted := make([]string, len(rule.Capabilities))
		for j, c := range rule.Capabilities {
			quoted[j] = fmt.Sprintf("%q", c)
		}
		fmt.Fprintf(&sb, "path %q {\n  capabilities = [%s]\n}\n", resolve(rule.Path), strings.Join(quoted, ", "))
	}
	return sb.String()
}

// MatchPath reports whether a logical path matches a rule pattern.
func MatchPath(pattern, path string) bool {
	pattern = strings.Trim(pattern, "/")
	path = strings.Trim(path, "/")

	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		segments := strings.Split(prefix, "/")
		last := segments[len(segments)-1]
		pathSegments := strings.Split(path, "/")
		if len(pathSegments) < len(segments) {
			return false
		}
		for i := 0; i < len(segments)-1; i++ {
			if segments[i] != "+" && segments[i] != pathSegments[i] {
				return false
			}
		}
		return strings.HasPrefix(strings.Join(pathSegments[len(segments)-1:], "/"), last)
	}

	segments := strings.Split(pattern, "/")
	pathSegments := strings.Split(path, "/")
	if len(segments) != len(pathSegments) {
		return false
	}
	for i := range segments {
		if segments[i] != "+" && segments[i] != pathSegments[i] {
			return false
		}
	}
	return true
}

// EffectiveCapabilities returns the sorted union of capabilities granted on
// path by the given policies. A matching "deny" rule empties the set.
func EffectiveCapabilities(policies []Policy, path string) []string {
	set := map[string]struct{}{}
	for _, p := range policies {
		for _, rule := range p.Rules {
			if !MatchPath(rule.Path, path) {
				continue
			}
			if slices.Contains(rule.Capabilities, CapDeny) {
				return []string{CapDeny}
			}
			for _, c := range rule.Capabilities {
				set[c] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
