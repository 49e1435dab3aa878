package engine

import (
	"math"
	"math/bits"
)

// Allocation is the split of one disbursement across the three buckets.
type Allocation struct {
	Buyback      uint64 `json:"buyback"`
	LP           uint64 `json:"lp"`
	Distribution uint64 `json:"distribution"`
}

// Total returns the sum of the buckets, saturating at math.MaxUint64.
func (a Allocation) Total() uint64 {
	sum, carry := bits.Add64(a.Buyback, a.LP, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	sum, carry = bits.Add64(sum, a.Distribution, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}

// Remainder returns the part of amount left unallocated, or 0 when the
// buckets exceed amount.
func (a Allocation) Remainder(amount uint64) uint64 {
	total := a.Total()
	if total >= amount {
		return 0
	}
	return amount - total
}

// Allocate splits amount into floor(amount*bps/10000) per bucket. The product
// is formed in 128 bits so amount near math.MaxUint64 cannot overflow.
//
// Weights are not validated here; with a sum above 10000 the buckets can add
// up to more than amount. The truncation remainder is not redistributed.
func Allocate(amount uint64, buybackBPS, lpBPS, distributionBPS uint16) Allocation {
	return Allocation{
		Buyback:      mulDivBPS(amount, buybackBPS),
		LP:           mulDivBPS(amount, lpBPS),
		Distribution: mulDivBPS(amount, distributionBPS),
	}
}

// mulDivBPS returns floor(amount*bps/10000). A quotient that does not fit in
// 64 bits (only possible for bps > 10000) saturates.
func mulDivBPS(amount uint64, bps uint16) uint64 {
	hi, lo := bits.Mul64(amount, uint64(bps))
	if hi >= BPSDenominator {
		return math.MaxUint64
	}
	quo, _ := bits.Div64(hi, lo, BPSDenominator)
	return quo
}
