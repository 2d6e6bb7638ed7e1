// Package collector stores raw feed snapshots and accumulates the day's distinct orders.
package collector

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"musicow-insight-go/internal/feed"
	"musicow-insight-go/internal/market"
	"musicow-insight-go/internal/metrics"
	"musicow-insight-go/internal/util"
)

const (
	dayLayout   = "20060102"
	stampLayout = "20060102_1504"
	topSongs    = 10
)

// Stats counts a set of orders by side and state.
type Stats struct {
	Total   int `json:"total"`
	Buy     int `json:"buy"`
	Sell    int `json:"sell"`
	Waiting int `json:"waiting"`
	Done    int `json:"done"`
}

// Count tallies orders.
func Count(orders []market.Order) Stats {
	s := Stats{Total: len(orders)}
	for _, o := range orders {
		switch o.Type {
		case market.Buy:
			s.Buy++
		case market.Sell:
			s.Sell++
		}
		if o.Waiting() {
			s.Waiting++
		}
		if o.Status.Done() {
			s.Done++
		}
	}
	return s
}

// Collector persists snapshots under rawDir and keeps the daily Book.
type Collector struct {
	fetcher feed.Fetcher
	rawDir  string
	loc     *time.Location
	now     func() time.Time
	book    *Book
	log     zerolog.Logger
}

// Option configures Collector construction parameters.
type Option func(*Collector)

// WithLocation sets the zone used for day boundaries and file stamps.
func WithLocation(loc *time.Location) Option {
	return func(c *Collector) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// New constructs a Collector. fetcher may be nil when snapshots are only ingested.
func New(fetcher feed.Fetcher, rawDir string, log zerolog.Logger, opts ...Option) *Collector {
	c := &Collector{fetcher: fetcher, rawDir: rawDir, loc: time.Local, now: time.Now, log: log}
	for _, opt := range opts {
		opt(c)
	}
	c.book = NewBook(c.today())
	return c
}

func (c *Collector) today() string { return c.now().In(c.loc).Format(dayLayout) }

// Book exposes the daily accumulation.
func (c *Collector) Book() *Book { return c.book }

// Collect fetches the feed once and ingests the result.
func (c *Collector) Collect(ctx context.Context) (feed.Snapshot, error) {
	if c.fetcher == nil {
		return feed.Snapshot{}, fmt.Errorf("collector has no fetcher")
	}
	orders, report, err := c.fetcher.Fetch(ctx)
	if err != nil {
		return feed.Snapshot{}, err
	}
	snap := feed.Snapshot{At: c.now(), Orders: orders, Report: report}
	if _, err := c.Ingest(snap); err != nil {
		return snap, err
	}
	return snap, nil
}

// Ingest writes snap to raw/<day>/<stamp>_orders.json and merges it into the daily book.
// It returns the written path.
func (c *Collector) Ingest(snap feed.Snapshot) (string, error) {
	at := snap.At
	if at.IsZero() {
		at = c.now()
	}
	at = at.In(c.loc)
	path := filepath.Join(c.rawDir, at.Format(dayLayout), at.Format(stampLayout)+"_orders.json")
	if err := util.WriteJSON(path, snap.Orders); err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}
	distinct := c.book.Record(snap.Orders)
	metrics.DailyOrders.Set(float64(distinct))

	st := Count(snap.Orders)
	c.log.Info().
		Str("file", path).
		Int("total", st.Total).
		Int("buy", st.Buy).
		Int("sell", st.Sell).
		Int("waiting", st.Waiting).
		Int("done", st.Done).
		Int("daily_distinct", distinct).
		Msg("snapshot collected")
	return path, nil
}

// SummaryPath is where the daily summary for day is written.
func (c *Collector) SummaryPath(day string) string {
	return filepath.Join(c.rawDir, day+"_daily_summary.json")
}

// SaveDailySummary writes the deduplicated orders of the current day and logs the most
// traded songs. It returns "" without error when nothing was collected.
func (c *Collector) SaveDailySummary() (string, error) {
	orders := c.book.Snapshot()
	if len(orders) == 0 {
		c.log.Warn().Msg("no daily orders to summarize")
		return "", nil
	}
	path := c.SummaryPath(c.book.Day())
	if err := util.WriteJSON(path, orders); err != nil {
		return "", fmt.Errorf("save daily summary: %w", err)
	}
	c.log.Info().Str("file", path).Int("orders", len(orders)).Msg("daily summary saved")
	c.logTopSongs(orders)
	return path, nil
}

// Rollover saves the finished day's summary and starts a new day.
func (c *Collector) Rollover() (string, error) {
	path, err := c.SaveDailySummary()
	day := c.today()
	c.book.Reset(day)
	metrics.DailyOrders.Set(0)
	c.log.Info().Str("day", day).Msg("daily book reset")
	return path, err
}

type songActivity struct {
	song                   string
	buy, sell, waitingRows int
}

// rankSongs ranks songs by buy plus sell order count.
func rankSongs(orders []market.Order, n int) []songActivity {
	bySong := make(map[string]*songActivity)
	for _, o := range orders {
		name := o.SongName
		if name == "" {
			name = "Unknown"
		}
		s := bySong[name]
		if s == nil {
			s = &songActivity{song: name}
			bySong[name] = s
		}
		switch o.Type {
		case market.Buy:
			s.buy++
		case market.Sell:
			s.sell++
		}
		if o.Waiting() {
			s.waitingRows++
		}
	}
	out := make([]songActivity, 0, len(bySong))
	for _, s := range bySong {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].buy+out[i].sell, out[j].buy+out[j].sell
		if ti != tj {
			return ti > tj
		}
		return out[i].song < out[j].song
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func (c *Collector) logTopSongs(orders []market.Order) {
	for i, s := range rankSongs(orders, topSongs) {
		c.log.Info().
			Int("rank", i+1).
			Str("song", s.song).
			Int("orders", s.buy+s.sell).
			Int("buy", s.buy).
			Int("sell", s.sell).
			Int("waiting", s.waitingRows).
			Msg("daily top song")
	}
}
