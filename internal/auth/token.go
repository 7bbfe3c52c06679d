package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 12

// DummyHash is a pre-computed bcrypt hash used for constant-time bearer token
// checks when no stored token matches, preventing timing-based enumeration of
// valid token prefixes.
var DummyHash = func() string {
	h, _ := bcrypt.GenerateFromPassword([]byte("dummy-token-for-timing"), bcryptCost)
	return string(h)
}()

// HashToken hashes a bearer token using bcrypt.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(hash), nil
}

// VerifyTokenHash checks if a raw token matches a stored hash.
func VerifyTokenHash(token, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token))
	return err == nil
}

// BurnDummyHash performs one bcrypt comparison against the dummy hash.
// Called when a lookup produced zero candidates so that verification takes
// roughly the same time whether or not any candidate existed.
func BurnDummyHash(token string) {
	_ = bcrypt.CompareHashAndPassword([]byte(DummyHash), []byte(token))
}
