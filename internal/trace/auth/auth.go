// Package auth implements the admin gate: a single shared-secret check
// guarding every mutating operation. There is no per-user identity.
package auth

import (
	"crypto/subtle"
	"fmt"
)

type Gate struct {
	secret []byte
}

// NewGate configures the gate with the process-wide admin key. An empty key
// is rejected so a misconfigured process cannot silently accept everything.
func NewGate(secret string) (*Gate, error) {
	if secret == "" {
		return nil, fmt.Errorf("admin key must not be empty")
	}
	return &Gate{secret: []byte(secret)}, nil
}

// Authorize compares the candidate against the configured key in constant
// time, so timing does not leak partial matches.
func (g *Gate) Authorize(candidate string) bool {
	return subtle.ConstantTimeCompare(g.secret, []byte(candidate)) == 1
}
