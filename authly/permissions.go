package authly

import (
	"fmt"
	"slices"
)

// Claims is the decoded claim set of a verified token.
type Claims map[string]any

// ClaimPermissions is the claim holding the granted permission strings.
const ClaimPermissions = "permissions"

// Permissions returns the permission strings and whether the claim exists.
// Non-string entries are skipped.
func (c Claims) Permissions() ([]string, bool) {
	raw, ok := c[ClaimPermissions]
	if !ok {
		return nil, false
	}
	switch v := raw.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, p := range v {
			if s, ok := p.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	default:
		return nil, true
	}
}

// Subject returns the "sub" claim or "".
func (c Claims) Subject() string {
	s, _ := c["sub"].(string)
	return s
}

// Clone returns a deep copy of c. Nested maps and slices decoded from JSON
// are copied so the clone can be changed without affecting c.
func (c Claims) Clone() Claims {
	if c == nil {
		return nil
	}
	out := make(Claims, len(c))
	for k, v := range c {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}

// CheckPermissions confirms that claims grant permission. Matching is exact
// and case-sensitive. A missing permissions claim is reported separately
// from a list that lacks the permission.
func CheckPermissions(permission string, claims Claims) error {
	perms, ok := claims.Permissions()
	if !ok {
		return ErrMissingPermissionsClaim
	}
	if !slices.Contains(perms, permission) {
		return newError(KindPermissionDenied, fmt.Errorf("required %q", permission))
	}
	return nil
}
