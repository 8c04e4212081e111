// Package random provides a small helper for generating cryptographically
// random byte sequences, used to derive per-operation mountpoint suffixes.
package random

import (
	"crypto/rand"
	"fmt"
)

// CollisionResistantLength is a byte length suitable for identifiers that
// need to be collision-resistant (e.g. temporary mountpoint suffixes) without
// the overhead of a full UUID.
const CollisionResistantLength = 32

// New returns a byte slice of the specified length with cryptographically
// random contents.
func New(length int) ([]byte, error) {
	// Create the buffer.
	result := make([]byte, length)

	// Read random data.
	if _, err := rand.Read(result[:]); err != nil {
		return nil, fmt.Errorf("unable to read random data: %w", err)
	}

	// Success.
	return result, nil
}
