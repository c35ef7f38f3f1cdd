// Package idgen generates record ids and session tokens.
package idgen

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// Prefixes for the ids this service mints.
const (
	PrefixSession     = "as_"
	PrefixTransaction = "tx_"
	PrefixRequest     = "req_"
)

// New returns a random (v4) UUID string.
func New() string {
	return uuid.NewString()
}

// Token returns a fresh bearer token for an analysis session.
func Token() string {
	return uuid.New().String()
}

// ValidToken reports whether s has the shape of a token minted by Token.
func ValidToken(s string) bool {
	u, err := uuid.Parse(s)
	return err == nil && u.Version() == 4
}

// WithPrefix generates a random ID with a prefix (e.g. "as_", "tx_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}
