// Package uuid provides ID and run-hash generation helpers.
package uuid

import (
	"crypto/sha1" //nolint:gosec // correlation id, not a security boundary
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID-backed identifiers.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewRunHash returns a 40 character hex SHA-1 over a random UUIDv4.
// Every batch and the completion of one run carry the same hash.
func (Generator) NewRunHash() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate run hash: %w", err)
	}
	sum := sha1.Sum(id[:]) //nolint:gosec
	return hex.EncodeToString(sum[:]), nil
}
