// Package idgen centralizes opaque identifier generation and parsing so
// every entity in the data model uses the same UUID convention.
package idgen

import "github.com/google/uuid"

// New returns a fresh random UUID string.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
