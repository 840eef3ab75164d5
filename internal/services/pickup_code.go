package services

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	pickupCodeLength   = 8
	pickupCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// DefaultPickupCodeAttempts bounds how many candidate codes checkout tries before giving up.
	DefaultPickupCodeAttempts = 5
)

// PickupCodeGenerator produces candidate pickup codes. Uniqueness is checked by the caller.
type PickupCodeGenerator func() (string, error)

// RandomPickupCode returns 8 uppercase alphanumeric characters drawn from crypto/rand.
func RandomPickupCode() (string, error) {
	limit := big.NewInt(int64(len(pickupCodeAlphabet)))
	buf := make([]byte, pickupCodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate pickup code: %w", err)
		}
		buf[i] = pickupCodeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// ValidPickupCode reports whether code has the shape produced by RandomPickupCode.
func ValidPickupCode(code string) bool {
	if len(code) != pickupCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
