package core

import "math/big"

// maxFee is the hard ceiling on RawTxPayload.Fee: fee < 2^63.
const maxFee = uint64(1) << 63

// MaxSupply bounds a single token's total circulating supply; coinbase
// crediting clamps against it. It is deliberately generous — 2^60 base
// units — leaving headroom for the 128-bit fee accumulator to legitimately
// overflow only under pathological block construction.
const MaxSupply = uint64(1) << 60

// DecomposeFee maps (selector, fee) to (fee_c, fee_i). For every valid
// call, fee_c + fee_i == fee exactly.
func DecomposeFee(selector uint8, fee uint64) (feeConsumer, feeIndustrial uint64, err error) {
	if fee >= maxFee {
		return 0, 0, ErrFeeTooLarge
	}
	switch selector {
	case 0:
		return fee, 0, nil
	case 1:
		return 0, fee, nil
	case 2:
		// The odd unit goes to consumer: ceil(fee/2), floor(fee/2).
		half := fee / 2
		return fee - half, half, nil
	default:
		return 0, 0, ErrInvalidSelector
	}
}

// FeeAccumulator sums decomposed fees across a block in 128-bit precision
// via math/big, so no per-transaction addition can overflow within the
// u64 clamp range.
type FeeAccumulator struct {
	consumer   *big.Int
	industrial *big.Int
}

// NewFeeAccumulator returns a zeroed accumulator.
func NewFeeAccumulator() *FeeAccumulator {
	return &FeeAccumulator{consumer: new(big.Int), industrial: new(big.Int)}
}

// Add folds one transaction's decomposed fee into the running totals.
func (a *FeeAccumulator) Add(feeConsumer, feeIndustrial uint64) {
	a.consumer.Add(a.consumer, new(big.Int).SetUint64(feeConsumer))
	a.industrial.Add(a.industrial, new(big.Int).SetUint64(feeIndustrial))
}

// maxSupplyBig is MaxSupply as a *big.Int, used for the overflow clamp.
var maxSupplyBig = new(big.Int).SetUint64(MaxSupply)

// Totals casts the 128-bit accumulators back to u64, clamped against
// MaxSupply. ErrFeeOverflow is returned if either sum exceeds it.
func (a *FeeAccumulator) Totals() (consumer, industrial uint64, err error) {
	if a.consumer.Cmp(maxSupplyBig) > 0 || a.industrial.Cmp(maxSupplyBig) > 0 {
		return 0, 0, ErrFeeOverflow
	}
	return a.consumer.Uint64(), a.industrial.Uint64(), nil
}

// acc128LE returns the 16-byte little-endian encoding of a 128-bit-capacity
// accumulator value (in practice always < 2^64 given the clamp, but encoded
// at full width to match the wire format's "128-bit accumulator" framing).
func acc128LE(v *big.Int) [16]byte {
	var out [16]byte
	b := v.Bytes() // big-endian, no leading zero byte
	for i := 0; i < len(b) && i < 16; i++ {
		out[i] = b[len(b)-1-i]
	}
	return out
}

// Checksum computes fee_checksum = blake3(acc_c ‖ acc_i) where acc_* are
// the 128-bit accumulators encoded little-endian, then hashed.
func (a *FeeAccumulator) Checksum() Hash {
	cLE := acc128LE(a.consumer)
	iLE := acc128LE(a.industrial)
	return hashConcat(cLE[:], iLE[:])
}
