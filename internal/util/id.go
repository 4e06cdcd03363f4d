package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns 16 random bytes hex encoded, optionally behind a prefix.
// Upload handles use the bare form so they are safe as file names.
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// IsID reports whether value has the shape NewID("") produces.
func IsID(value string) bool {
	if len(value) != 32 {
		return false
	}
	_, err := hex.DecodeString(value)
	return err == nil
}
