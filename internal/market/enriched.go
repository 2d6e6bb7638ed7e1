package market

import (
	"strings"

	json "github.com/goccy/go-json"
)

// Signal is the categorical label attached to every enriched order.
// Tag combinations are joined with ", " (e.g. "Undervalued, LowLiquidity").
type Signal string

const (
	Undervalued   Signal = "Undervalued"
	Overvalued    Signal = "Overvalued"
	HighLiquidity Signal = "HighLiquidity"
	LowLiquidity  Signal = "LowLiquidity"
	Caution       Signal = "Caution"
	Normal        Signal = "Normal"
)

// Has reports whether tag is one of the comma-joined tags of s.
func (s Signal) Has(tag Signal) bool {
	for _, part := range strings.Split(string(s), ",") {
		if Signal(strings.TrimSpace(part)) == tag {
			return true
		}
	}
	return false
}

// OutcomeStatus tells whether enrichment values were computed or substituted.
type OutcomeStatus int

const (
	// Computed means every metric came from the inputs.
	Computed OutcomeStatus = iota
	// Degraded means at least one sub-score fell back to a neutral value.
	Degraded
	// Unchanged means enrichment failed and the order is passed through as received.
	Unchanged
)

func (s OutcomeStatus) String() string {
	switch s {
	case Computed:
		return "computed"
	case Degraded:
		return "degraded"
	case Unchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// Outcome records how an EnrichedOrder was produced.
type Outcome struct {
	Status  OutcomeStatus
	Reasons []string
}

// EnrichedOrder is an Order plus the derived metrics.
type EnrichedOrder struct {
	Order
	SpreadRate     *float64 `json:"spread_rate"`
	ExpectedYield  *float64 `json:"expected_yield"`
	LiquidityScore float64  `json:"liquidity_score"`
	Signal         Signal   `json:"signal"`
	BuyPressure    *float64 `json:"buy_pressure,omitempty"`
	Outcome        Outcome  `json:"-"`
}

// PassThrough wraps an order that could not be enriched.
func PassThrough(o Order, reason string) EnrichedOrder {
	return EnrichedOrder{Order: o, Outcome: Outcome{Status: Unchanged, Reasons: []string{reason}}}
}

// Enriched reports whether the metric fields carry values.
func (e EnrichedOrder) Enriched() bool { return e.Outcome.Status != Unchanged }

// MarshalJSON emits only the order fields for pass-through records so they
// serialize exactly as received.
func (e EnrichedOrder) MarshalJSON() ([]byte, error) {
	if !e.Enriched() {
		return json.Marshal(e.Order)
	}
	type plain EnrichedOrder
	return json.Marshal(plain(e))
}

// UnmarshalJSON restores a record written by MarshalJSON. Records without a signal
// were passed through and come back as Unchanged.
func (e *EnrichedOrder) UnmarshalJSON(data []byte) error {
	type plain EnrichedOrder
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = EnrichedOrder(p)
	if e.Signal == "" {
		e.Outcome = Outcome{Status: Unchanged, Reasons: []string{"not enriched"}}
	}
	return nil
}

// Orders strips enrichment, returning the underlying orders in the same order.
func Orders(enriched []EnrichedOrder) []Order {
	out := make([]Order, len(enriched))
	for i, e := range enriched {
		out[i] = e.Order
	}
	return out
}
