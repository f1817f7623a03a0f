package roots

import (
	"github.com/bmatcuk/doublestar/v4"
)

// AccessKind is the outcome of an access rule.
type AccessKind uint8

const (
	AccessAccessible AccessKind = iota
	AccessDiscouraged
	AccessForbidden
)

func (k AccessKind) String() string {
	switch k {
	case AccessAccessible:
		return "accessible"
	case AccessDiscouraged:
		return "discouraged"
	case AccessForbidden:
		return "forbidden"
	}
	return "unknown"
}

// ParseAccessKind converts a configuration string into an AccessKind.
func ParseAccessKind(s string) (AccessKind, bool) {
	switch s {
	case "accessible", "allow":
		return AccessAccessible, true
	case "discouraged", "warn":
		return AccessDiscouraged, true
	case "forbidden", "nonaccessible", "deny":
		return AccessForbidden, true
	}
	return AccessAccessible, false
}

// AccessRule restricts access to declarations whose slash-separated
// qualified path ("com/acme/internal/Widget") matches Pattern.
type AccessRule struct {
	Pattern string
	Kind    AccessKind
}

// Restriction is attached to a lookup answer found under a restricting rule.
type Restriction struct {
	Rule AccessRule
	Root string
}

// Severity orders restrictions: lower is preferred. A nil restriction has severity 0.
func (r *Restriction) Severity() int {
	if r == nil {
		return 0
	}
	return int(r.Rule.Kind)
}

// Restriction evaluates the root's access rules for a qualified path. The
// first matching rule wins; an accessible match or no match yields nil.
func (r *Root) Restriction(qualifiedPath string) *Restriction {
	for _, rule := range r.AccessRules {
		ok, err := doublestar.Match(rule.Pattern, qualifiedPath)
		if err != nil || !ok {
			continue
		}
		if rule.Kind == AccessAccessible {
			return nil
		}
		return &Restriction{Rule: rule, Root: r.Path}
	}
	return nil
}
