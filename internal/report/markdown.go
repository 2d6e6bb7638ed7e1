package report

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"musicow-insight-go/internal/market"
	"musicow-insight-go/internal/util"
)

const reportTopSongs = 10

// RenderMarkdown builds the daily market report for orders as of now.
func RenderMarkdown(orders []market.EnrichedOrder, topN int, now time.Time) string {
	if topN <= 0 {
		topN = defaultTopN
	}
	var b strings.Builder
	sections := []func(*strings.Builder){
		func(b *strings.Builder) { header(b, now) },
		func(b *strings.Builder) { summarySection(b, orders) },
		func(b *strings.Builder) { topYieldSection(b, orders, topN) },
		func(b *strings.Builder) { spreadSection(b, orders, topN) },
		func(b *strings.Builder) { liquiditySection(b, orders, topN) },
		func(b *strings.Builder) { signalSection(b, orders) },
		func(b *strings.Builder) { songSection(b, orders) },
	}
	for _, s := range sections {
		s(&b)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "---\n\n*Generated automatically at %s.*\n", now.Format(market.DateLayout))
	return b.String()
}

// WriteDailyReport renders the report to reports/daily_report_<YYYYMMDD>.md.
func (w *Writer) WriteDailyReport(orders []market.EnrichedOrder) (string, error) {
	now := w.now().In(w.loc)
	path := filepath.Join(w.reportsDir, "daily_report_"+now.Format(dayLayout)+".md")
	if err := util.WriteFile(path, []byte(RenderMarkdown(orders, w.topN, now))); err != nil {
		return "", fmt.Errorf("write daily report: %w", err)
	}
	w.log.Info().Str("file", path).Int("orders", len(orders)).Msg("daily report written")
	return path, nil
}

func header(b *strings.Builder, now time.Time) {
	fmt.Fprintf(b, "# Musicow Market Daily Report\n\n**Generated**: %s\n\n---\n", now.Format("2006-01-02 15:04"))
}

func summarySection(b *strings.Builder, orders []market.EnrichedOrder) {
	b.WriteString("## Market Summary\n\n")
	s := market.Summarize(orders)
	fmt.Fprintf(b, "- **Total orders**: %d\n", s.TotalOrders)
	fmt.Fprintf(b, "- **Buy orders**: %d (%s%%)\n", s.BuyOrders, fixed(s.BuyRatio, 1))
	fmt.Fprintf(b, "- **Sell orders**: %d (%s%%)\n", s.SellOrders, fixed(s.SellRatio, 1))
	fmt.Fprintf(b, "- **Waiting orders**: %d\n\n", s.WaitingOrders)
	if s.TotalOrders > 0 {
		fmt.Fprintf(b, "- **Average spread rate**: %s%%\n", fixed(s.AvgSpread, 2))
		fmt.Fprintf(b, "- **Average expected yield**: %s%%\n", fixed(s.AvgYield, 2))
		fmt.Fprintf(b, "- **Average liquidity score**: %s/100\n", fixed(s.AvgLiquidity, 1))
	}
	b.WriteString("\n---\n")
}

func waiting(orders []market.EnrichedOrder) []market.EnrichedOrder {
	return market.FilterWaiting.Apply(orders)
}

func topYieldSection(b *strings.Builder, orders []market.EnrichedOrder, n int) {
	fmt.Fprintf(b, "## Top Expected Yield (Top %d)\n\n", n)
	top := market.TopBy(waiting(orders), market.ByYield, n, false)
	if len(top) == 0 {
		b.WriteString("*No waiting orders.*\n\n---\n")
		return
	}
	b.WriteString("| # | Song | Artist | Yield | Spread | Liquidity | Signal |\n")
	b.WriteString("|---|------|--------|-------|--------|-----------|--------|\n")
	for i, o := range top {
		fmt.Fprintf(b, "| %d | %s | %s | %s%% | %s | %s | %s |\n",
			i+1, clip(o.SongName, 20), clip(o.SongArtist, 15), fixedPtr(o.ExpectedYield, 2), pct(o.SpreadRate), fixed(o.LiquidityScore, 1), o.Signal)
	}
	b.WriteString("\n---\n")
}

func spreadSection(b *strings.Builder, orders []market.EnrichedOrder, n int) {
	fmt.Fprintf(b, "## Spread Analysis (Top/Bottom %d)\n\n", n)
	ranked := market.TopBy(waiting(orders), market.BySpread, 0, true)

	b.WriteString("### Lowest spread (undervalued)\n\n")
	low := ranked
	if len(low) > n {
		low = low[:n]
	}
	spreadTable(b, low)

	b.WriteString("### Highest spread (overvalued)\n\n")
	high := make([]market.EnrichedOrder, 0, n)
	for i := len(ranked) - 1; i >= 0 && len(high) < n; i-- {
		high = append(high, ranked[i])
	}
	spreadTable(b, high)
	b.WriteString("---\n")
}

func spreadTable(b *strings.Builder, rows []market.EnrichedOrder) {
	if len(rows) == 0 {
		b.WriteString("*No data.*\n\n")
		return
	}
	b.WriteString("| # | Song | Artist | Spread | Yield | Signal |\n")
	b.WriteString("|---|------|--------|--------|-------|--------|\n")
	for i, o := range rows {
		fmt.Fprintf(b, "| %d | %s | %s | %s | %s | %s |\n",
			i+1, clip(o.SongName, 20), clip(o.SongArtist, 15), pct(o.SpreadRate), pct(o.ExpectedYield), o.Signal)
	}
	b.WriteString("\n")
}

func liquiditySection(b *strings.Builder, orders []market.EnrichedOrder, n int) {
	b.WriteString("## Liquidity Analysis\n\n")
	fmt.Fprintf(b, "### Most liquid (Top %d)\n\n", n)
	top := market.TopBy(orders, market.ByLiquidity, n, false)
	if len(top) == 0 {
		b.WriteString("*No data.*\n\n---\n")
		return
	}
	b.WriteString("| # | Song | Artist | Liquidity | Spread | Signal |\n")
	b.WriteString("|---|------|--------|-----------|--------|--------|\n")
	for i, o := range top {
		fmt.Fprintf(b, "| %d | %s | %s | %s | %s | %s |\n",
			i+1, clip(o.SongName, 20), clip(o.SongArtist, 15), fixed(o.LiquidityScore, 1), pct(o.SpreadRate), o.Signal)
	}
	b.WriteString("\n---\n")
}

func signalSection(b *strings.Builder, orders []market.EnrichedOrder) {
	b.WriteString("## Signals\n\n")
	b.WriteString("| Signal | Count | Share |\n")
	b.WriteString("|--------|-------|-------|\n")
	for _, s := range market.SignalShares(orders) {
		fmt.Fprintf(b, "| %s | %d | %s%% |\n", s.Signal, s.Count, fixed(s.Percentage, 1))
	}
	b.WriteString("\n---\n")
}

func songSection(b *strings.Builder, orders []market.EnrichedOrder) {
	b.WriteString("## Most Active Songs\n\n")
	top := market.TopSongs(orders, reportTopSongs)
	if len(top) == 0 {
		b.WriteString("*No data.*\n\n---\n")
		return
	}
	b.WriteString("| # | Song | Artist | Orders |\n")
	b.WriteString("|---|------|--------|--------|\n")
	for i, s := range top {
		fmt.Fprintf(b, "| %d | %s | %s | %d |\n", i+1, clip(s.Song, 25), clip(s.Artist, 15), s.Orders)
	}
	b.WriteString("\n---\n")
}

func pct(v *float64) string {
	if v == nil {
		return "-"
	}
	return fixed(*v, 2) + "%"
}

// clip truncates s to n runes and escapes table separators.
func clip(s string, n int) string {
	s = strings.ReplaceAll(s, "|", "/")
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}
