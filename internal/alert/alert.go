// Package alert detects notable order book movements and delivers them to chat channels.
package alert

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"musicow-insight-go/internal/config"
	"musicow-insight-go/internal/market"
	"musicow-insight-go/internal/metrics"
)

// Kind classifies what triggered an alert.
type Kind string

const (
	KindPremium     Kind = "premium"
	KindYieldChange Kind = "yield_change"
	KindSignal      Kind = "signal"
)

// Severity ranks alerts for display.
type Severity string

const (
	High   Severity = "high"
	Medium Severity = "medium"
	Low    Severity = "low"
)

// premiumHigh is the absolute spread above which a premium alert is high severity.
const premiumHigh = 5.0

// Alert is a single notification about one order.
type Alert struct {
	ID       string    `json:"id"`
	Kind     Kind      `json:"kind"`
	Severity Severity  `json:"severity"`
	OrderNo  string    `json:"order_no"`
	Song     string    `json:"song"`
	Message  string    `json:"message"`
	Price    float64   `json:"price"`
	Spread   *float64  `json:"spread_rate"`
	Yield    *float64  `json:"expected_yield"`
	Change   float64   `json:"change,omitempty"`
	At       time.Time `json:"at"`
}

func newAlert(kind Kind, sev Severity, o market.EnrichedOrder, msg string, at time.Time) Alert {
	return Alert{
		ID:       uuid.NewString(),
		Kind:     kind,
		Severity: sev,
		OrderNo:  o.OrderNo,
		Song:     songName(o),
		Message:  msg,
		Price:    o.Price,
		Spread:   o.SpreadRate,
		Yield:    o.ExpectedYield,
		At:       at,
	}
}

func songName(o market.EnrichedOrder) string {
	if o.SongName == "" {
		return "Unknown"
	}
	return o.SongName
}

// Detector evaluates enriched snapshots against the alert rules.
type Detector struct {
	premiumThreshold float64
	yieldChange      float64
	window           time.Duration
	history          *History
	loc              *time.Location
	now              func() time.Time
	log              zerolog.Logger
}

// Option customises a Detector.
type Option func(*Detector)

// WithPremiumThreshold sets the absolute spread that raises a premium alert.
func WithPremiumThreshold(v float64) Option {
	return func(d *Detector) {
		if v > 0 {
			d.premiumThreshold = v
		}
	}
}

// WithYieldChange sets the yield movement that raises a yield change alert.
func WithYieldChange(v float64) Option {
	return func(d *Detector) {
		if v > 0 {
			d.yieldChange = v
		}
	}
}

// WithWindow bounds how far apart two snapshots of an order may be for a yield comparison.
func WithWindow(w time.Duration) Option {
	return func(d *Detector) {
		if w > 0 {
			d.window = w
		}
	}
}

// WithLocation sets the zone order dates are parsed in.
func WithLocation(loc *time.Location) Option {
	return func(d *Detector) {
		if loc != nil {
			d.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDetector builds a Detector that records raised alerts in history.
// A nil history gets a fresh one with the default dedupe window.
func NewDetector(history *History, log zerolog.Logger, opts ...Option) *Detector {
	if history == nil {
		history = NewHistory(time.Hour)
	}
	d := &Detector{
		premiumThreshold: 3,
		yieldChange:      2,
		window:           10 * time.Minute,
		history:          history,
		loc:              time.Local,
		now:              time.Now,
		log:              log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// FromConfig builds a Detector and its History from the alerts section.
func FromConfig(cfg config.Alerts, loc *time.Location, log zerolog.Logger, opts ...Option) *Detector {
	base := []Option{
		WithPremiumThreshold(cfg.PremiumThreshold),
		WithYieldChange(cfg.YieldChange),
		WithWindow(cfg.Window()),
		WithLocation(loc),
	}
	return NewDetector(NewHistory(cfg.Dedupe()), log, append(base, opts...)...)
}

// History returns the dedupe state shared by the detector.
func (d *Detector) History() *History { return d.history }

// Check runs every rule over orders. previous is the snapshot of the prior pass and may be nil,
// in which case yield change alerts are skipped.
func (d *Detector) Check(orders, previous []market.EnrichedOrder) []Alert {
	now := d.now()
	var alerts []Alert
	alerts = append(alerts, d.premium(orders, now)...)
	if len(previous) > 0 {
		alerts = append(alerts, d.yieldChanges(orders, previous, now)...)
	}
	alerts = append(alerts, d.signals(orders, now)...)

	for _, a := range alerts {
		metrics.AlertsTotal.WithLabelValues(string(a.Kind), string(a.Severity)).Inc()
	}
	if len(alerts) > 0 {
		d.log.Info().Int("alerts", len(alerts)).Msg("alerts raised")
		for _, a := range alerts {
			d.log.Debug().Str("kind", string(a.Kind)).Str("severity", string(a.Severity)).Str("order", a.OrderNo).Msg(a.Message)
		}
	}
	return alerts
}

func (d *Detector) premium(orders []market.EnrichedOrder, now time.Time) []Alert {
	var out []Alert
	for _, o := range orders {
		if !o.Enriched() || !o.Waiting() || o.SpreadRate == nil {
			continue
		}
		spread := *o.SpreadRate
		if math.Abs(spread) <= d.premiumThreshold {
			continue
		}
		if !d.history.Admit(o.OrderNo, KindPremium, now) {
			continue
		}
		sev := Medium
		if math.Abs(spread) > premiumHigh {
			sev = High
		}
		out = append(out, newAlert(KindPremium, sev, o, fmt.Sprintf("Premium %.2f%% - %s", spread, songName(o)), now))
	}
	return out
}

func (d *Detector) yieldChanges(orders, previous []market.EnrichedOrder, now time.Time) []Alert {
	prev := make(map[string]market.EnrichedOrder, len(previous))
	for _, p := range previous {
		prev[p.OrderNo] = p
	}
	var out []Alert
	for _, o := range orders {
		p, ok := prev[o.OrderNo]
		if !ok || o.ExpectedYield == nil || p.ExpectedYield == nil {
			continue
		}
		change := math.Abs(*o.ExpectedYield - *p.ExpectedYield)
		if change <= d.yieldChange {
			continue
		}
		cur, err := o.Time(d.loc)
		if err != nil {
			continue
		}
		before, err := p.Time(d.loc)
		if err != nil {
			continue
		}
		if cur.Sub(before) > d.window {
			continue
		}
		if !d.history.Admit(o.OrderNo, KindYieldChange, now) {
			continue
		}
		a := newAlert(KindYieldChange, High, o, fmt.Sprintf("Yield moved %.2f%% - %s", change, songName(o)), now)
		a.Change = market.Round(change, 2)
		out = append(out, a)
	}
	return out
}

var signalSeverity = map[market.Signal]Severity{
	market.Caution:     High,
	market.Undervalued: Medium,
	market.Overvalued:  Low,
}

func (d *Detector) signals(orders []market.EnrichedOrder, now time.Time) []Alert {
	var out []Alert
	for _, o := range orders {
		sev, ok := signalSeverity[o.Signal]
		if !ok || !o.Enriched() {
			continue
		}
		if !d.history.Admit(o.OrderNo, KindSignal, now) {
			continue
		}
		out = append(out, newAlert(KindSignal, sev, o, fmt.Sprintf("Signal %s - %s", o.Signal, songName(o)), now))
	}
	return out
}
