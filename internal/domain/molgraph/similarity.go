package molgraph

import (
	"math/bits"

	"github.com/turtacn/KeyIP-RGD/pkg/errors"
)

// Tanimoto returns |A∩B| / |A∪B| for two fingerprints of equal length. Two
// empty fingerprints have similarity 0.
func Tanimoto(a, b Fingerprint) (float64, error) {
	if a.Length != b.Length || len(a.Bits) != len(b.Bits) {
		return 0, errors.New(errors.ErrCodeValidation, "fingerprints must have the same length")
	}
	inter, union := 0, 0
	for i := range a.Bits {
		inter += bits.OnesCount8(a.Bits[i] & b.Bits[i])
		union += bits.OnesCount8(a.Bits[i] | b.Bits[i])
	}
	if union == 0 {
		return 0, nil
	}
	return float64(inter) / float64(union), nil
}

// HammingDistance counts differing bits between two fingerprints of equal
// length.
func HammingDistance(a, b Fingerprint) (int, error) {
	if a.Length != b.Length || len(a.Bits) != len(b.Bits) {
		return 0, errors.New(errors.ErrCodeValidation, "fingerprints must have the same length")
	}
	d := 0
	for i := range a.Bits {
		d += bits.OnesCount8(a.Bits[i] ^ b.Bits[i])
	}
	return d, nil
}
