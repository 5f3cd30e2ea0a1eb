package service

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const tokenBytes = 32

// newToken 32 random bytes, hex encoded (64 chars)
func newToken() (string, error) {
	return randomHex(tokenBytes)
}

// newDeviceUID dev_ + 16 hex chars
func newDeviceUID() (string, error) {
	s, err := randomHex(8)
	if err != nil {
		return "", err
	}
	return "dev_" + s, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// hashToken the only form in which tokens and secrets are stored
func hashToken(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return sum[:]
}

// hashEqual compares lengths first, then in constant time
func hashEqual(stored, presented []byte) bool {
	if len(stored) != len(presented) {
		return false
	}
	return subtle.ConstantTimeCompare(stored, presented) == 1
}
