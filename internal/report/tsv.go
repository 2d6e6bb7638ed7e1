package report

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"musicow-insight-go/internal/market"
	"musicow-insight-go/internal/util"
)

// OrderHeader is the column set of order-level TSV exports.
var OrderHeader = []string{"time", "song", "artist", "side", "price", "recent", "yield(%)", "spread(%)", "liquidity", "signal", "url"}

// SongHeader is the column set of the per-song TSV export.
var SongHeader = []string{"song", "artist", "buy_orders", "sell_orders", "avg_spread(%)", "avg_yield(%)", "liquidity"}

// WriteOrdersTSV writes one row per order. Nullable metrics render as empty cells.
func WriteOrdersTSV(out io.Writer, orders []market.EnrichedOrder, delim string, header bool) error {
	var lines []string
	if header {
		lines = append(lines, strings.Join(OrderHeader, delim))
	}
	for _, o := range orders {
		lines = append(lines, strings.Join([]string{
			cell(o.Date, delim),
			cell(o.SongName, delim),
			cell(o.SongArtist, delim),
			o.Type.String(),
			plain(o.Price),
			plain(o.RecentPrice),
			fixedPtr(o.ExpectedYield, 2),
			fixedPtr(o.SpreadRate, 2),
			fixed(o.LiquidityScore, 1),
			cell(string(o.Signal), delim),
			cell(o.URL, delim),
		}, delim))
	}
	_, err := io.WriteString(out, strings.Join(lines, "\n"))
	return err
}

// WriteSongsTSV writes one row per song, sorted by song name.
func WriteSongsTSV(out io.Writer, stats []market.SongStat, delim string) error {
	lines := []string{strings.Join(SongHeader, delim)}
	for _, s := range stats {
		lines = append(lines, strings.Join([]string{
			cell(s.Song, delim),
			cell(s.Artist, delim),
			strconv.Itoa(s.BuyOrders),
			strconv.Itoa(s.SellOrders),
			fixed(s.AvgSpread, 2),
			fixed(s.AvgYield, 2),
			fixed(s.Liquidity, 1),
		}, delim))
	}
	_, err := io.WriteString(out, strings.Join(lines, "\n"))
	return err
}

// ExportTSV writes every order to reports/<name>, defaulting to market_summary_<stamp>.tsv.
func (w *Writer) ExportTSV(orders []market.EnrichedOrder, name string) (string, error) {
	return w.writeOrders(w.reportPath(name, "market_summary_"+w.stamp()+".tsv"), orders)
}

// ExportFiltered writes the orders matching f, defaulting to market_<filter>_<stamp>.tsv.
func (w *Writer) ExportFiltered(orders []market.EnrichedOrder, f market.Filter, name string) (string, error) {
	filtered := f.Apply(orders)
	w.log.Info().Str("filter", string(f)).Int("matched", len(filtered)).Int("total", len(orders)).Msg("orders filtered")
	return w.writeOrders(w.reportPath(name, fmt.Sprintf("market_%s_%s.tsv", f, w.stamp())), filtered)
}

// ExportTop writes the n best orders by key, defaulting to top_<key>_<stamp>.tsv.
// Orders missing the metric are skipped.
func (w *Writer) ExportTop(orders []market.EnrichedOrder, key market.SortKey, n int, ascending bool, name string) (string, error) {
	top := market.TopBy(orders, key, n, ascending)
	return w.writeOrders(w.reportPath(name, fmt.Sprintf("top_%s_%s.tsv", key, w.stamp())), top)
}

func (w *Writer) writeOrders(path string, orders []market.EnrichedOrder) (string, error) {
	var buf bytes.Buffer
	if err := WriteOrdersTSV(&buf, orders, w.delim, true); err != nil {
		return "", err
	}
	if err := util.WriteFile(path, buf.Bytes()); err != nil {
		return "", fmt.Errorf("export tsv: %w", err)
	}
	w.log.Info().Str("file", path).Int("orders", len(orders)).Msg("tsv exported")
	return path, nil
}

// ExportSongSummary writes per-song aggregates to song_summary_<stamp>.tsv.
func (w *Writer) ExportSongSummary(orders []market.EnrichedOrder, name string) (string, error) {
	path := w.reportPath(name, "song_summary_"+w.stamp()+".tsv")
	stats := market.SongStats(orders)
	var buf bytes.Buffer
	if err := WriteSongsTSV(&buf, stats, w.delim); err != nil {
		return "", err
	}
	if err := util.WriteFile(path, buf.Bytes()); err != nil {
		return "", fmt.Errorf("export song summary: %w", err)
	}
	w.log.Info().Str("file", path).Int("songs", len(stats)).Msg("song summary exported")
	return path, nil
}

func cell(s, delim string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if delim != "" {
		s = strings.ReplaceAll(s, delim, " ")
	}
	return s
}

func plain(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func fixed(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}

func fixedPtr(v *float64, places int32) string {
	if v == nil {
		return ""
	}
	return fixed(*v, places)
}
