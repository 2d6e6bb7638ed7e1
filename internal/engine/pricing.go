package engine

import (
	"math"

	"musicow-insight-go/internal/market"
)

// DefaultReferencePrice is the notional unit price royalty accrual is denominated against.
const DefaultReferencePrice = 10000.0

// SpreadRate returns how far orderPrice sits from recentPrice, in percent rounded to 2 decimals.
// Negative means the order is priced below the last trade. Nil when recentPrice is zero or
// either input is not a finite number.
func SpreadRate(orderPrice, recentPrice float64) *float64 {
	if recentPrice == 0 || !finite(orderPrice) || !finite(recentPrice) {
		return nil
	}
	return roundedPtr((orderPrice - recentPrice) / recentPrice * 100)
}

// ExpectedYield returns the annual royalty income implied by buying at orderPrice, normalized
// to referencePrice, in percent rounded to 2 decimals. Nil when orderPrice is zero or any input
// is not a finite number.
func ExpectedYield(royaltyRate, orderPrice, referencePrice float64) *float64 {
	if orderPrice == 0 || !finite(royaltyRate) || !finite(orderPrice) || !finite(referencePrice) {
		return nil
	}
	return roundedPtr(royaltyRate * referencePrice / orderPrice * 100)
}

func roundedPtr(v float64) *float64 {
	if !finite(v) {
		return nil
	}
	r := market.Round(v, 2)
	return &r
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
