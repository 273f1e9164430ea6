package pairing

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/nextlevelbuilder/walink/internal/errs"
)

const (
	// CodeAlphabet is the set of symbols a pairing code may contain.
	CodeAlphabet = "ABCDEF"
	// CodeLength is the length of generated codes.
	CodeLength = 8
	// MinCodeLength is the shortest custom code accepted.
	MinCodeLength = 4
)

// GenerateCode returns length characters drawn uniformly from CodeAlphabet.
// With hyphenated set the first four characters are split off: "ABCD-EFAB".
// Codes of four characters or fewer are returned without a hyphen, so there
// is never a trailing "-".
func GenerateCode(length int, hyphenated bool) string {
	if length <= 0 {
		length = CodeLength
	}
	max := big.NewInt(int64(len(CodeAlphabet)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(fmt.Sprintf("pairing: crypto/rand failed: %v", err))
		}
		b[i] = CodeAlphabet[n.Int64()]
	}
	code := string(b)
	if hyphenated && length > 4 {
		return code[:4] + "-" + code[4:]
	}
	return code
}

// NormalizeCode strips hyphens and upper-cases code, then checks the alphabet
// and minimum length. Failures wrap errs.ErrInvalidPairingCode.
func NormalizeCode(code string) (string, error) {
	clean := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), "-", ""))
	if len(clean) < MinCodeLength {
		return "", fmt.Errorf("%w: must be at least %d characters", errs.ErrInvalidPairingCode, MinCodeLength)
	}
	for _, c := range clean {
		if !strings.ContainsRune(CodeAlphabet, c) {
			return "", fmt.Errorf("%w: %q is outside %s", errs.ErrInvalidPairingCode, c, CodeAlphabet)
		}
	}
	return clean, nil
}
