// Package code generates short human-readable session codes.
package code

import (
	"crypto/rand"
	"fmt"

	"livesync/pkg/types"
)

// Letter alphabet excludes I and O, which read ambiguously when codes
// are dictated or written on a whiteboard.
const (
	letters = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	digits  = "0123456789"

	letterCount = 3
	digitCount  = 3

	maxAttempts = 10
)

// Generate produces a fresh session code of the form ABC-123 that is
// not currently taken. The taken callback is consulted for each
// candidate; callers that need atomicity with an insert should invoke
// Generate while holding the lock that guards their table. Fails with
// ErrGenerationExhausted after a bounded number of collisions.
func Generate(taken func(string) bool) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate, err := randomCode()
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		if taken == nil || !taken(candidate) {
			return candidate, nil
		}
	}
	return "", types.ErrGenerationExhausted
}

func randomCode() (string, error) {
	b := make([]byte, letterCount+digitCount)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	out := make([]byte, 0, letterCount+digitCount+1)
	for i := 0; i < letterCount; i++ {
		out = append(out, letters[int(b[i])%len(letters)])
	}
	out = append(out, '-')
	for i := letterCount; i < letterCount+digitCount; i++ {
		out = append(out, digits[int(b[i])%len(digits)])
	}
	return string(out), nil
}
