package util

import (
	"math/big"
)

var (
	// MaxTarget is the largest 256-bit value, returned for difficulty 0
	MaxTarget = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	// Diff1Target is the difficulty 1 target
	Diff1Target = new(big.Int).SetBytes([]byte{
		0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	})
)

// DifficultyToTarget converts difficulty to target
func DifficultyToTarget(difficulty uint64) *big.Int {
	if difficulty == 0 {
		return MaxTarget
	}
	return new(big.Int).Div(Diff1Target, big.NewInt(int64(difficulty)))
}

// TargetToDifficultyF converts a target back to a difficulty-weighted score,
// keeping fractional precision that a plain uint64 diff field would lose.
func TargetToDifficultyF(target *big.Int) float64 {
	if target == nil || target.Sign() <= 0 {
		return 0
	}
	f := new(big.Float).Quo(new(big.Float).SetInt(Diff1Target), new(big.Float).SetInt(target))
	v, _ := f.Float64()
	return v
}

// CompactToTarget converts compact target representation to big.Int
func CompactToTarget(compact uint32) *big.Int {
	exponent := compact >> 24
	mantissa := compact & 0x007fffff

	var target *big.Int
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		target = big.NewInt(int64(mantissa))
	} else {
		target = big.NewInt(int64(mantissa))
		target.Lsh(target, 8*(uint(exponent)-3))
	}

	if compact&0x00800000 != 0 {
		target.Neg(target)
	}

	return target
}
