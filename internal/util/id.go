package util

import (
	"crypto/rand"
	"encoding/hex"
)

const idBytes = 12

// NewID returns a random URL-safe hex identifier.
func NewID() string {
	b := make([]byte, idBytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
