package id

import "github.com/google/uuid"

// New returns a new UUIDv7 string.
// Falls back to a random UUIDv4 if the v7 generator fails.
func New() string {
	u, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return u.String()
}

// Valid reports whether s is a well-formed UUID in canonical form.
func Valid(s string) bool {
	if len(s) != 36 {
		return false
	}
	return uuid.Validate(s) == nil
}
