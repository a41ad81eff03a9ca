package id

import "github.com/google/uuid"

// New returns a random (v4) canonical uuid string.
func New() string { return uuid.NewString() }

// Valid reports whether s is a canonical lowercase uuid. Any other spelling of
// the same uuid is rejected, so ids can be compared as plain strings.
func Valid(s string) bool {
	u, err := uuid.Parse(s)
	return err == nil && u.String() == s
}
