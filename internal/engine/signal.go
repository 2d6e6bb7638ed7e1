package engine

import (
	"strings"

	"musicow-insight-go/internal/market"
)

// Thresholds are the cut-offs the signal is derived from. All comparisons are strict.
type Thresholds struct {
	PremiumHigh   float64
	PremiumLow    float64
	LiquidityHigh float64
	LiquidityLow  float64
}

// DefaultThresholds returns the stock cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{PremiumHigh: 10, PremiumLow: -10, LiquidityHigh: 80, LiquidityLow: 30}
}

// Signal labels an order from its spread rate and its song's liquidity score.
// Overvalued on a thin book collapses to Caution; every other combination is
// reported tag by tag, so Undervalued on a thin book stays "Undervalued, LowLiquidity".
func (t Thresholds) Signal(spreadRate *float64, liquidity float64) market.Signal {
	var tags []string
	overvalued := false
	if spreadRate != nil {
		switch {
		case *spreadRate < t.PremiumLow:
			tags = append(tags, string(market.Undervalued))
		case *spreadRate > t.PremiumHigh:
			tags = append(tags, string(market.Overvalued))
			overvalued = true
		}
	}
	switch {
	case liquidity > t.LiquidityHigh:
		tags = append(tags, string(market.HighLiquidity))
	case liquidity < t.LiquidityLow:
		tags = append(tags, string(market.LowLiquidity))
	}
	if overvalued && liquidity < t.LiquidityLow {
		return market.Caution
	}
	if len(tags) == 0 {
		return market.Normal
	}
	return market.Signal(strings.Join(tags, ", "))
}
