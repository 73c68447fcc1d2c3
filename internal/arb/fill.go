package arb

import "math"

// discrepancyWarnPercent is the tolerance between the intended notional and
// the realized fill value before the fill is flagged for review.
const discrepancyWarnPercent = 5.0

func FillDiscrepancyPercent(fill FillEvent, intendedUSD float64) float64 {
	if intendedUSD <= 0 {
		return 0
	}
	return math.Abs(fill.USDValue()-intendedUSD) / intendedUSD * 100
}

// FillNeedsReview reports whether the realized fill value deviates from the
// intended notional by strictly more than the warning tolerance.
func FillNeedsReview(fill FillEvent, intendedUSD float64) bool {
	return FillDiscrepancyPercent(fill, intendedUSD) > discrepancyWarnPercent
}
