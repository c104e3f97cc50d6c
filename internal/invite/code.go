// Package invite generates and validates room invite codes.
package invite

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// Alphabet is the set of characters invite codes are drawn from.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the fixed invite code length.
const Length = 6

// Generate produces a random invite code, uniform over the alphabet.
// Callers resolve collisions by calling it again.
func Generate() string {
	max := big.NewInt(int64(len(Alphabet)))
	b := make([]byte, Length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err) // crypto/rand failure is unrecoverable
		}
		b[i] = Alphabet[n.Int64()]
	}
	return string(b)
}

// Normalize trims surrounding whitespace and upper-cases a user-supplied
// code. Codes compare case-insensitively and are stored upper-case.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Valid reports whether a normalized code has the required length and
// alphabet.
func Valid(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(Alphabet, rune(code[i])) {
			return false
		}
	}
	return true
}
