package redemption

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// codeAlphabet omits characters that are easy to misread (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// Generator produces random codes.
type Generator func(groups int) (string, error)

// RandomCode returns groups of four characters joined by dashes.
func RandomCode(groups int) (string, error) {
	if groups <= 0 {
		return "", fmt.Errorf("%w: code groups %d", ErrInvalidInput, groups)
	}
	size := big.NewInt(int64(len(codeAlphabet)))
	parts := make([]string, groups)
	for g := range parts {
		var b strings.Builder
		for range 4 {
			n, err := rand.Int(rand.Reader, size)
			if err != nil {
				return "", fmt.Errorf("redemption: random code: %w", err)
			}
			b.WriteByte(codeAlphabet[n.Int64()])
		}
		parts[g] = b.String()
	}
	return strings.Join(parts, "-"), nil
}

// NormalizeCode canonicalises user-typed codes.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

const (
	activationGroups = 2
	viewGroups       = 3
)
