package market

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Round rounds v to the given number of decimal places using the exact binary value,
// with ties going to the even digit. Non-finite values are returned as is.
func Round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', int(places), 64), 64)
	if err != nil || r == 0 {
		return 0
	}
	return r
}

// Summary aggregates a snapshot of enriched orders.
type Summary struct {
	TotalOrders   int            `json:"total_orders"`
	BuyOrders     int            `json:"buy_orders"`
	SellOrders    int            `json:"sell_orders"`
	WaitingOrders int            `json:"waiting_orders"`
	AvgSpread     float64        `json:"avg_spread_rate"`
	AvgYield      float64        `json:"avg_expected_yield"`
	AvgLiquidity  float64        `json:"avg_liquidity"`
	BuyRatio      float64        `json:"buy_ratio"`
	SellRatio     float64        `json:"sell_ratio"`
	Signals       map[Signal]int `json:"signals"`
}

// Summarize computes counts, averages, and the signal mix of orders.
func Summarize(orders []EnrichedOrder) Summary {
	s := Summary{TotalOrders: len(orders), Signals: make(map[Signal]int)}
	var spreads, yields, liquidity []float64
	for _, o := range orders {
		switch o.Type {
		case Buy:
			s.BuyOrders++
		case Sell:
			s.SellOrders++
		}
		if o.Waiting() {
			s.WaitingOrders++
		}
		if !o.Enriched() {
			continue
		}
		if o.SpreadRate != nil {
			spreads = append(spreads, *o.SpreadRate)
		}
		if o.ExpectedYield != nil {
			yields = append(yields, *o.ExpectedYield)
		}
		liquidity = append(liquidity, o.LiquidityScore)
		s.Signals[o.Signal]++
	}
	s.AvgSpread = Round(mean(spreads), 2)
	s.AvgYield = Round(mean(yields), 2)
	s.AvgLiquidity = Round(mean(liquidity), 1)
	if s.TotalOrders > 0 {
		s.BuyRatio = Round(float64(s.BuyOrders)/float64(s.TotalOrders)*100, 1)
		s.SellRatio = Round(float64(s.SellOrders)/float64(s.TotalOrders)*100, 1)
	}
	return s
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// SignalShare is one row of the signal distribution.
type SignalShare struct {
	Signal     Signal  `json:"signal"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// SignalShares returns the signal distribution, most frequent first.
func SignalShares(orders []EnrichedOrder) []SignalShare {
	counts := make(map[Signal]int)
	total := 0
	for _, o := range orders {
		if !o.Enriched() {
			continue
		}
		counts[o.Signal]++
		total++
	}
	out := make([]SignalShare, 0, len(counts))
	for sig, n := range counts {
		out = append(out, SignalShare{Signal: sig, Count: n, Percentage: Round(float64(n)/float64(total)*100, 1)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Signal < out[j].Signal
	})
	return out
}

// Bucket is one range of the spread distribution.
type Bucket struct {
	Range string `json:"range"`
	Count int    `json:"count"`
}

// SpreadDistribution buckets spread rates into five valuation ranges.
func SpreadDistribution(orders []EnrichedOrder) []Bucket {
	out := []Bucket{
		{Range: "deep discount (< -20%)"},
		{Range: "discount (-20% ~ -10%)"},
		{Range: "fair (-10% ~ 10%)"},
		{Range: "premium (10% ~ 20%)"},
		{Range: "deep premium (> 20%)"},
	}
	for _, o := range orders {
		if o.SpreadRate == nil {
			continue
		}
		switch v := *o.SpreadRate; {
		case v < -20:
			out[0].Count++
		case v < -10:
			out[1].Count++
		case v <= 10:
			out[2].Count++
		case v <= 20:
			out[3].Count++
		default:
			out[4].Count++
		}
	}
	return out
}

// SortKey selects the metric used by TopBy.
type SortKey string

const (
	BySpread    SortKey = "spread"
	ByYield     SortKey = "yield"
	ByLiquidity SortKey = "liquidity"
)

// ParseSortKey accepts a SortKey name, with "premium" as an alias of spread.
func ParseSortKey(raw string) (SortKey, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "spread", "premium", "spread_rate":
		return BySpread, nil
	case "yield", "expected_yield":
		return ByYield, nil
	case "liquidity", "liquidity_score":
		return ByLiquidity, nil
	}
	return "", fmt.Errorf("unknown sort key %q", raw)
}

func (k SortKey) value(o EnrichedOrder) (float64, bool) {
	if !o.Enriched() {
		return 0, false
	}
	switch k {
	case BySpread:
		if o.SpreadRate == nil {
			return 0, false
		}
		return *o.SpreadRate, true
	case ByYield:
		if o.ExpectedYield == nil {
			return 0, false
		}
		return *o.ExpectedYield, true
	default:
		return o.LiquidityScore, true
	}
}

// TopBy returns up to n orders carrying key, sorted by it. Ties keep input order.
// A non-positive n returns every matching order.
func TopBy(orders []EnrichedOrder, key SortKey, n int, ascending bool) []EnrichedOrder {
	out := make([]EnrichedOrder, 0, len(orders))
	for _, o := range orders {
		if _, ok := key.value(o); ok {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, _ := key.value(out[i])
		b, _ := key.value(out[j])
		if ascending {
			return a < b
		}
		return a > b
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Filter names a subset of orders.
type Filter string

const (
	FilterAll         Filter = "all"
	FilterWaiting     Filter = "waiting"
	FilterCompleted   Filter = "completed"
	FilterBuy         Filter = "buy"
	FilterSell        Filter = "sell"
	FilterUndervalued Filter = "undervalued"
	FilterOvervalued  Filter = "overvalued"
	FilterAlert       Filter = "alert"
)

// ParseFilter validates a filter name. An empty name means FilterAll.
func ParseFilter(raw string) (Filter, error) {
	f := Filter(strings.ToLower(strings.TrimSpace(raw)))
	switch f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterWaiting, FilterCompleted, FilterBuy, FilterSell, FilterUndervalued, FilterOvervalued, FilterAlert:
		return f, nil
	}
	return "", fmt.Errorf("unknown filter %q", raw)
}

// Match reports whether o belongs to the subset.
func (f Filter) Match(o EnrichedOrder) bool {
	switch f {
	case FilterWaiting:
		return o.Status == Waiting
	case FilterCompleted:
		return o.Status.Done()
	case FilterBuy:
		return o.Type == Buy
	case FilterSell:
		return o.Type == Sell
	case FilterUndervalued:
		return o.Signal.Has(Undervalued)
	case FilterOvervalued:
		return o.Signal.Has(Overvalued)
	case FilterAlert:
		return o.Signal == Caution || o.Signal == Undervalued || o.Signal == Overvalued
	default:
		return true
	}
}

// Apply returns the orders matching f in input order.
func (f Filter) Apply(orders []EnrichedOrder) []EnrichedOrder {
	out := make([]EnrichedOrder, 0, len(orders))
	for _, o := range orders {
		if f.Match(o) {
			out = append(out, o)
		}
	}
	return out
}

// SongStat aggregates the orders of one song.
type SongStat struct {
	Song       string  `json:"song_name"`
	Artist     string  `json:"song_artist"`
	Orders     int     `json:"orders"`
	BuyOrders  int     `json:"buy_orders"`
	SellOrders int     `json:"sell_orders"`
	AvgSpread  float64 `json:"avg_spread_rate"`
	AvgYield   float64 `json:"avg_expected_yield"`
	Liquidity  float64 `json:"liquidity_score"`
}

// SongStats groups orders by song name, sorted by name.
func SongStats(orders []EnrichedOrder) []SongStat {
	type acc struct {
		stat           SongStat
		spreads, yield []float64
	}
	groups := make(map[string]*acc)
	for _, o := range orders {
		g := groups[o.SongName]
		if g == nil {
			g = &acc{stat: SongStat{Song: o.SongName, Artist: o.SongArtist, Liquidity: o.LiquidityScore}}
			groups[o.SongName] = g
		}
		g.stat.Orders++
		switch o.Type {
		case Buy:
			g.stat.BuyOrders++
		case Sell:
			g.stat.SellOrders++
		}
		if o.SpreadRate != nil {
			g.spreads = append(g.spreads, *o.SpreadRate)
		}
		if o.ExpectedYield != nil {
			g.yield = append(g.yield, *o.ExpectedYield)
		}
	}
	out := make([]SongStat, 0, len(groups))
	for _, g := range groups {
		g.stat.AvgSpread = Round(mean(g.spreads), 2)
		g.stat.AvgYield = Round(mean(g.yield), 2)
		out = append(out, g.stat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Song < out[j].Song })
	return out
}

// TopSongs returns the n songs with the most orders.
func TopSongs(orders []EnrichedOrder, n int) []SongStat {
	stats := SongStats(orders)
	sort.SliceStable(stats, func(i, j int) bool { return stats[i].Orders > stats[j].Orders })
	if n > 0 && len(stats) > n {
		stats = stats[:n]
	}
	return stats
}
