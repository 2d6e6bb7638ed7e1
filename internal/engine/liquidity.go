package engine

import (
	"fmt"
	"math"
	"time"

	"musicow-insight-go/internal/market"
)

// neutralScore substitutes a sub-score that could not be computed.
const neutralScore = 50.0

const (
	spreadWeight    = 0.4
	depthWeight     = 0.3
	frequencyWeight = 0.3
)

// Score is a sub-score plus whether it was substituted by the neutral value.
type Score struct {
	Value    float64
	Degraded bool
	Reason   string
}

func computed(v float64) Score { return Score{Value: v} }

func degraded(reason string) Score {
	return Score{Value: neutralScore, Degraded: true, Reason: reason}
}

// Liquidity is the composite liquidity score of one song and its parts.
type Liquidity struct {
	Value     float64
	Spread    Score
	Depth     Score
	Frequency Score
}

// Degraded reports whether any part fell back to the neutral score.
func (l Liquidity) Degraded() bool {
	return l.Spread.Degraded || l.Depth.Degraded || l.Frequency.Degraded
}

// Reasons lists why parts were degraded.
func (l Liquidity) Reasons() []string {
	var out []string
	for _, s := range []Score{l.Spread, l.Depth, l.Frequency} {
		if s.Degraded {
			out = append(out, s.Reason)
		}
	}
	return out
}

// scoreLiquidity combines the sub-scores over orders that all belong to one song.
// An empty set has no market and scores exactly zero.
func scoreLiquidity(songOrders []market.Order, now time.Time, window time.Duration, loc *time.Location) Liquidity {
	if len(songOrders) == 0 {
		return Liquidity{}
	}
	l := Liquidity{
		Spread:    bookSpreadScore(songOrders),
		Depth:     bookDepthScore(songOrders),
		Frequency: recentFrequencyScore(songOrders, now, window, loc),
	}
	total := spreadWeight*l.Spread.Value + depthWeight*l.Depth.Value + frequencyWeight*l.Frequency.Value
	if !finite(total) {
		return Liquidity{Spread: l.Spread, Depth: l.Depth, Frequency: l.Frequency}
	}
	l.Value = market.Round(clamp(total, 0, 100), 1)
	return l
}

func bookSpreadScore(orders []market.Order) Score {
	var bestBuy, bestSell float64
	var haveBuy, haveSell bool
	for _, o := range orders {
		if !o.Waiting() {
			continue
		}
		switch o.Type {
		case market.Buy:
			if !haveBuy || o.Price > bestBuy {
				bestBuy, haveBuy = o.Price, true
			}
		case market.Sell:
			if !haveSell || o.Price < bestSell {
				bestSell, haveSell = o.Price, true
			}
		}
	}
	if !haveBuy || !haveSell {
		// one-sided book: unknown, not penalized
		return computed(neutralScore)
	}
	if bestBuy <= 0 {
		return degraded(fmt.Sprintf("spread: best buy price %v", bestBuy))
	}
	pct := (bestSell - bestBuy) / bestBuy * 100
	if !finite(pct) {
		return degraded("spread: non-finite spread")
	}
	return computed(spreadScore(pct))
}

// spreadScore maps a bid/ask spread percentage onto [0,100]; tighter is better.
func spreadScore(pct float64) float64 {
	var s float64
	switch {
	case pct <= 0:
		s = 100
	case pct <= 5:
		s = 100 - 5*pct
	case pct <= 10:
		s = 75 - 5*(pct-5)
	case pct <= 20:
		s = 50 - 5*(pct-10)
	default:
		s = 0
	}
	return clamp(s, 0, 100)
}

func bookDepthScore(orders []market.Order) Score {
	waiting := 0
	for _, o := range orders {
		if o.Waiting() {
			waiting++
		}
	}
	return computed(depthScore(waiting))
}

// depthScore maps the number of resting orders onto [0,100].
func depthScore(count int) float64 {
	n := float64(count)
	var s float64
	switch {
	case count <= 0:
		s = 0
	case count <= 5:
		s = n * 10
	case count <= 10:
		s = 50 + 5*(n-5)
	case count <= 20:
		s = 75 + 2.5*(n-10)
	default:
		s = 100
	}
	return clamp(s, 0, 100)
}

func recentFrequencyScore(orders []market.Order, now time.Time, window time.Duration, loc *time.Location) Score {
	cutoff := now.Add(-window)
	recent := 0
	for _, o := range orders {
		ts, err := o.Time(loc)
		if err != nil {
			continue
		}
		if !ts.Before(cutoff) {
			recent++
		}
	}
	return computed(frequencyScore(recent))
}

// frequencyScore maps the number of orders placed inside the recency window onto [0,100].
func frequencyScore(count int) float64 {
	n := float64(count)
	var s float64
	switch {
	case count <= 0:
		s = 0
	case count <= 3:
		s = n * 16.7
	case count <= 10:
		s = 50 + 7.1*(n-3)
	default:
		s = 100
	}
	return clamp(s, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
