package accrual

import "math/big"

// Ray is the fixed-point scale of protocol compounding indices: 1 ray = 10^27.
var ray = mustBigInt("1000000000000000000000000000")

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// rayMulFloor computes a*b/RAY with floor division. Accrued interest and
// capital movements are always floored: the engine reports what has accrued,
// never rounds money up.
func rayMulFloor(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, ray)
}

func bigOrZero(x *big.Int) *big.Int {
	if x == nil {
		return big.NewInt(0)
	}
	return x
}
