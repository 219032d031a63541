package session

import (
	"crypto/rand"
	"fmt"
)

// codeAlphabet deliberately omits characters that read ambiguously when a
// host says a code out loud (0/O, 1/I/L).
const (
	codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	codeLength   = 6
)

// newCode generates a random join code. Uniqueness is enforced by the store;
// callers retry on [store.ErrCodeTaken].
func newCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: generate code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
