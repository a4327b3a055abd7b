// Package role holds the closed set of caller roles and their validation.
//
// A role is a caller-supplied label. It is never trusted: every search call
// passes it through Validate again.
package role

import (
	"strings"
	"unicode/utf8"

	"github.com/xhad/rolerag/pkg/errs"
)

// Role is a member of the closed role enumeration.
type Role string

const (
	Engineer Role = "engineer"
	HR       Role = "hr"
	Intern   Role = "intern"
	Public   Role = "public"
)

var all = []Role{Engineer, HR, Intern, Public}

// All returns the enumeration in declaration order.
func All() []Role {
	out := make([]Role, len(all))
	copy(out, all)
	return out
}

// Names returns All as plain strings.
func Names() []string {
	out := make([]string, len(all))
	for i, r := range all {
		out[i] = string(r)
	}
	return out
}

// Validate returns s as a Role if it is exactly one of the enumerated values.
// Case variants, surrounding whitespace and the empty string are rejected.
func Validate(s string) (Role, error) {
	for _, r := range all {
		if s == string(r) {
			return r, nil
		}
	}
	return "", errs.New(errs.CodeInvalidRole, "unrecognized role", errs.Field("role", truncate(s)))
}

// IsValid reports whether r is a member of the enumeration.
func (r Role) IsValid() bool {
	_, err := Validate(string(r))
	return err == nil
}

func (r Role) String() string {
	return string(r)
}

// ValidateSet validates an access-control list. The list must be non-empty and
// every member must be a valid role; duplicates are collapsed, order preserved.
func ValidateSet(names []string) ([]Role, error) {
	if len(names) == 0 {
		return nil, errs.New(errs.CodeInvalidDocument, "allowed_roles must not be empty")
	}

	seen := make(map[Role]bool, len(names))
	out := make([]Role, 0, len(names))
	for _, name := range names {
		r, err := Validate(name)
		if err != nil {
			return nil, errs.New(errs.CodeInvalidDocument, "allowed_roles contains an unrecognized role",
				errs.Field("role", truncate(name)))
		}
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out, nil
}

// Contains reports whether set grants access to r.
func Contains(set []Role, r Role) bool {
	for _, candidate := range set {
		if candidate == r {
			return true
		}
	}
	return false
}

// Strings converts a role set to plain strings for storage.
func Strings(set []Role) []string {
	out := make([]string, len(set))
	for i, r := range set {
		out[i] = string(r)
	}
	return out
}

// Join renders the enumeration for help text.
func Join(sep string) string {
	return strings.Join(Names(), sep)
}

// truncate keeps hostile input from bloating logs and error context.
func truncate(s string) string {
	const limit = 32
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
