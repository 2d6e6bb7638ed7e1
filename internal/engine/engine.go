// Package engine derives spread, yield, liquidity, and signal metrics from order book snapshots.
package engine

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"musicow-insight-go/internal/market"
	"musicow-insight-go/internal/metrics"
)

const defaultFrequencyWindow = 30 * time.Minute

// Engine enriches orders. It holds configuration only; every call is evaluated
// against the orders it is given.
type Engine struct {
	thresholds     Thresholds
	referencePrice float64
	window         time.Duration
	loc            *time.Location
	now            func() time.Time
	log            zerolog.Logger
}

// Option configures Engine construction parameters.
type Option func(*Engine)

// WithThresholds overrides the signal cut-offs.
func WithThresholds(t Thresholds) Option {
	return func(e *Engine) { e.thresholds = t }
}

// WithReferencePrice overrides the yield reference price. Non-positive values are ignored.
func WithReferencePrice(p float64) Option {
	return func(e *Engine) {
		if p > 0 {
			e.referencePrice = p
		}
	}
}

// WithFrequencyWindow sets how far back an order counts as recent activity.
func WithFrequencyWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.window = d
		}
	}
}

// WithLocation sets the zone order dates are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New constructs an Engine with the stock thresholds unless overridden.
func New(log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		thresholds:     DefaultThresholds(),
		referencePrice: DefaultReferencePrice,
		window:         defaultFrequencyWindow,
		loc:            time.Local,
		now:            time.Now,
		log:            log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Thresholds returns the signal cut-offs in use.
func (e *Engine) Thresholds() Thresholds { return e.thresholds }

// ReferencePrice returns the yield reference price in use.
func (e *Engine) ReferencePrice() float64 { return e.referencePrice }

// ExpectedYield applies the engine's reference price.
func (e *Engine) ExpectedYield(royaltyRate, orderPrice float64) *float64 {
	return ExpectedYield(royaltyRate, orderPrice, e.referencePrice)
}

// Signal applies the engine's thresholds.
func (e *Engine) Signal(spreadRate *float64, liquidity float64) market.Signal {
	return e.thresholds.Signal(spreadRate, liquidity)
}

// LiquidityScore scores song against every order in all that belongs to it.
func (e *Engine) LiquidityScore(all []market.Order, song string) Liquidity {
	return scoreLiquidity(filterSong(all, song), e.now(), e.window, e.loc)
}

// CalculateOrder enriches one order using all as the market context.
// If enrichment fails the order is returned unchanged with an Unchanged outcome.
func (e *Engine) CalculateOrder(order market.Order, all []market.Order) (out market.EnrichedOrder) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Str("order_no", order.OrderNo).Interface("panic", r).Msg("order enrichment failed")
			out = market.PassThrough(order, fmt.Sprint(r))
		}
	}()
	songOrders := filterSong(all, order.SongName)
	liq := scoreLiquidity(songOrders, e.now(), e.window, e.loc)
	return e.enrich(order, liq, BuyPressure(songOrders))
}

// CalculateBatch enriches every order against the whole batch. The output has the same
// length and order as the input. Orders are grouped by song once and every song is
// scored against a single clock reading.
func (e *Engine) CalculateBatch(orders []market.Order) (out []market.EnrichedOrder) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Int("orders", len(orders)).Msg("batch enrichment failed")
			out = make([]market.EnrichedOrder, len(orders))
			for i, o := range orders {
				out[i] = market.PassThrough(o, fmt.Sprint(r))
			}
		}
		metrics.BatchDuration.Observe(time.Since(start).Seconds())
		for _, o := range out {
			metrics.EnrichmentsTotal.WithLabelValues(o.Outcome.Status.String()).Inc()
		}
	}()

	now := e.now()
	groups := make(map[string][]market.Order)
	for _, o := range orders {
		groups[o.SongName] = append(groups[o.SongName], o)
	}
	type songMetrics struct {
		liq      Liquidity
		pressure *float64
	}
	songs := make(map[string]songMetrics, len(groups))
	for song, group := range groups {
		songs[song] = songMetrics{
			liq:      scoreLiquidity(group, now, e.window, e.loc),
			pressure: BuyPressure(group),
		}
	}

	out = make([]market.EnrichedOrder, len(orders))
	for i, o := range orders {
		m := songs[o.SongName]
		out[i] = e.safeEnrich(o, m.liq, m.pressure)
	}
	e.log.Debug().Int("orders", len(orders)).Int("songs", len(groups)).Dur("took", time.Since(start)).Msg("batch enriched")
	return out
}

func (e *Engine) safeEnrich(order market.Order, liq Liquidity, pressure *float64) (out market.EnrichedOrder) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Str("order_no", order.OrderNo).Interface("panic", r).Msg("order enrichment failed")
			out = market.PassThrough(order, fmt.Sprint(r))
		}
	}()
	return e.enrich(order, liq, pressure)
}

func (e *Engine) enrich(order market.Order, liq Liquidity, pressure *float64) market.EnrichedOrder {
	spread := SpreadRate(order.Price, order.RecentPrice)
	enriched := market.EnrichedOrder{
		Order:          order,
		SpreadRate:     spread,
		ExpectedYield:  e.ExpectedYield(order.RoyaltyRate, order.Price),
		LiquidityScore: liq.Value,
		Signal:         e.thresholds.Signal(spread, liq.Value),
		BuyPressure:    pressure,
	}
	if liq.Degraded() {
		enriched.Outcome = market.Outcome{Status: market.Degraded, Reasons: liq.Reasons()}
		e.log.Debug().Str("order_no", order.OrderNo).Strs("reasons", enriched.Outcome.Reasons).Msg("liquidity sub-score degraded")
	}
	return enriched
}

func filterSong(all []market.Order, song string) []market.Order {
	out := make([]market.Order, 0, len(all))
	for _, o := range all {
		if o.SongName == song {
			out = append(out, o)
		}
	}
	return out
}
