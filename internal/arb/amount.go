package arb

import "math/big"

// BaseUnits converts a quote-asset amount to integer base units of an asset
// with the given decimals, truncating toward zero. The result exceeds
// uint64 for 18-decimal chains so callers keep it as big.Int.
func BaseUnits(amount float64, decimals int) *big.Int {
	if decimals < 0 {
		decimals = 0
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaled := new(big.Float).Mul(big.NewFloat(amount), new(big.Float).SetInt(scale))
	units, _ := scaled.Int(nil)
	return units
}
