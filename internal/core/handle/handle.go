// Package handle produces the public payment handles accounts are addressed
// by. A handle is 16 bytes from crypto/rand, hex-encoded, plus a fixed domain
// suffix: collision-resistant without any coordination round-trip.
package handle

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/mkundi/tumapay/internal/core/domain"
)

// Suffix is appended to every generated handle.
const Suffix = "@tumapay"

const entropyBytes = 16

// Generate returns a fresh payment handle, e.g.
// "3f9c0a1b5d2e4f60718293a4b5c6d7e8@tumapay". It never blocks on external
// state; the only failure mode is the OS randomness source, surfaced as
// domain.ErrRandomness.
func Generate() (string, error) {
	buf := make([]byte, entropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrRandomness, err)
	}
	return hex.EncodeToString(buf) + Suffix, nil
}
