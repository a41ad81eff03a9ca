package role

import (
	"errors"
	"sort"
	"strings"
)

// ErrRoleMismatch is returned when a participant's role is not allowed to act.
var ErrRoleMismatch = errors.New("role: participant role not accepted for this action")

type Role string

const (
	Business Role = "BUSINESS"
	Product  Role = "PRODUCT"
	Tech     Role = "TECH"
)

// Originator is the role allowed to create submissions.
const Originator = Business

// All returns the three sign-off roles in display order.
func All() []Role { return []Role{Tech, Product, Business} }

func (r Role) Valid() bool {
	switch r {
	case Business, Product, Tech:
		return true
	}
	return false
}

func (r Role) Label() string {
	switch r {
	case Business:
		return "Business Stakeholder"
	case Product:
		return "Product Owner"
	case Tech:
		return "Tech Lead"
	}
	return string(r)
}

// Parse accepts any casing and surrounding whitespace.
func Parse(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", ErrRoleMismatch
	}
	return r, nil
}

func rank(r Role) int {
	for i, x := range All() {
		if x == r {
			return i
		}
	}
	return len(All())
}

// Set is the signed-role set of a submission.
type Set map[Role]struct{}

func NewSet(roles ...Role) Set {
	s := make(Set, len(roles))
	for _, r := range roles {
		s.Add(r)
	}
	return s
}

// Add ignores roles outside the fixed three.
func (s Set) Add(r Role) {
	if r.Valid() {
		s[r] = struct{}{}
	}
}

func (s Set) Has(r Role) bool { _, ok := s[r]; return ok }

func (s Set) Len() int { return len(s) }

// Complete reports whether every role has signed.
func (s Set) Complete() bool {
	for _, r := range All() {
		if !s.Has(r) {
			return false
		}
	}
	return true
}

// Sorted returns the members in display order.
func (s Set) Sorted() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return rank(out[i]) < rank(out[j]) })
	return out
}
