package hostproto

import (
	"fmt"
	"math/big"
	"strings"
)

var twoTo64 = new(big.Int).Lsh(big.NewInt(1), 64)

// LegacyIDFromNumeral re-bases the decimal numeral the host embeds for a
// legacy id into its lowercase hexadecimal form. Negative numerals are the
// host's signed 64-bit rendering of the same id and are read as two's complement.
func LegacyIDFromNumeral(numeral string) (string, error) {
	numeral = strings.TrimSpace(numeral)
	n, ok := new(big.Int).SetString(numeral, 10)
	if !ok {
		return "", fmt.Errorf("legacy id numeral %q is not a decimal integer", numeral)
	}
	if n.Sign() < 0 {
		if n.Cmp(new(big.Int).Neg(new(big.Int).Rsh(twoTo64, 1))) < 0 {
			return "", fmt.Errorf("legacy id numeral %q underflows 64 bits", numeral)
		}
		n.Add(n, twoTo64)
	}
	return n.Text(16), nil
}

// NumeralFromLegacyID is the inverse of LegacyIDFromNumeral for non-negative ids
func NumeralFromLegacyID(hexID string) (string, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(hexID), 16)
	if !ok {
		return "", fmt.Errorf("legacy id %q is not hexadecimal", hexID)
	}
	return n.Text(10), nil
}
