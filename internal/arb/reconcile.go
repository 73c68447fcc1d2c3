package arb

import "math"

// markupBandPercent bounds how far a resting limit may drift from the
// ideal markup over the live price before it is replaced. The band is fixed
// and independent of the requote threshold.
const markupBandPercent = 1.0

type ReconcileAction int

const (
	ActionHold ReconcileAction = iota
	ActionRequote
)

type ReconcileDecision struct {
	Action         ReconcileAction
	Reason         string
	ReferencePrice float64
	DriftPercent   float64
	TargetPrice    float64
}

// EvaluateReconcile decides whether an order adopted at startup still tracks
// the market price. The order is replaced when the price has drifted from
// the quoted reference by at least the threshold, when the market has
// crossed the limit, or when the limit no longer sits within the markup band
// of the ideal quote. The reference is derived from the limit because the
// price the order was quoted against is unknown for adopted orders.
func EvaluateReconcile(params Parameters, order RestingOrder, marketPrice float64) ReconcileDecision {
	ref := ReferencePrice(order.LimitPrice, params.MarkupPercent)
	target := marketPrice * (1 + params.MarkupPercent/100)
	decision := ReconcileDecision{
		Action:         ActionHold,
		ReferencePrice: ref,
		TargetPrice:    target,
	}
	if ref > 0 {
		decision.DriftPercent = math.Abs(marketPrice-ref) / ref * 100
		if decision.DriftPercent >= params.RequoteThresholdPercent {
			decision.Action = ActionRequote
			decision.Reason = "reference drift"
			return decision
		}
	}
	if marketPrice >= order.LimitPrice {
		decision.Action = ActionRequote
		decision.Reason = "market crossed limit"
		return decision
	}
	if order.LimitPrice > 0 {
		bandDrift := math.Abs(target-order.LimitPrice) / order.LimitPrice * 100
		if bandDrift > markupBandPercent {
			decision.Action = ActionRequote
			decision.Reason = "markup band exceeded"
			return decision
		}
	}
	return decision
}

// EvaluateRequote decides whether a live resting order should follow the
// market. Unlike startup reconciliation the reference is the price captured
// at placement, and only threshold drift triggers a requote.
func EvaluateRequote(params Parameters, order RestingOrder, marketPrice float64) ReconcileDecision {
	ref := order.ReferencePrice
	if ref <= 0 {
		ref = ReferencePrice(order.LimitPrice, params.MarkupPercent)
	}
	decision := ReconcileDecision{
		Action:         ActionHold,
		ReferencePrice: ref,
		TargetPrice:    marketPrice * (1 + params.MarkupPercent/100),
	}
	if ref <= 0 {
		return decision
	}
	decision.DriftPercent = math.Abs(marketPrice-ref) / ref * 100
	if decision.DriftPercent >= params.RequoteThresholdPercent {
		decision.Action = ActionRequote
		decision.Reason = "reference drift"
	}
	return decision
}
