package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"musicow-insight-go/internal/config"
	"musicow-insight-go/internal/engine"
	"musicow-insight-go/internal/feed"
	"musicow-insight-go/internal/market"
	"musicow-insight-go/internal/report"
)

const (
	defaultConfigPath = "config.yaml"
	rankedRows        = 10
	liveInterval      = 30 * time.Second
)

type app struct {
	path   string
	cfg    *config.Config
	reader *bufio.Reader
}

func main() {
	path := flag.String("config", defaultConfigPath, "YAML config file")
	flag.Parse()

	a := &app{path: *path, reader: bufio.NewReader(os.Stdin)}
	if err := a.reload(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	for {
		fmt.Println("\n=== Musicow Market Insight ===")
		fmt.Println("1) Market summary")
		fmt.Println("2) Top expected yield (buy orders)")
		fmt.Println("3) Undervalued (buy orders)")
		fmt.Println("4) High liquidity")
		fmt.Println("5) Signal distribution")
		fmt.Println("6) Live feed (auto refresh)")
		fmt.Println("7) Edit signal thresholds")
		fmt.Println("8) Save config")
		fmt.Println("9) Launch collector service")
		fmt.Println("r) Reload config from disk")
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		input, err := a.reader.ReadString('\n')
		if err != nil {
			return
		}
		switch strings.TrimSpace(input) {
		case "1":
			a.show(printSummary)
		case "2":
			a.show(func(o []market.EnrichedOrder) {
				printOrders("Top expected yield", market.TopBy(market.FilterBuy.Apply(o), market.ByYield, rankedRows, false))
			})
		case "3":
			a.show(func(o []market.EnrichedOrder) {
				printOrders("Undervalued", market.TopBy(market.FilterBuy.Apply(o), market.BySpread, rankedRows, true))
			})
		case "4":
			a.show(func(o []market.EnrichedOrder) {
				printOrders("High liquidity", market.TopBy(o, market.ByLiquidity, rankedRows, false))
			})
		case "5":
			a.show(printSignals)
		case "6":
			a.live()
		case "7":
			a.editThresholds()
		case "8":
			if err := config.Save(a.path, a.cfg); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			} else {
				fmt.Println("config saved")
			}
		case "9":
			a.launch()
		case "r":
			if err := a.reload(); err != nil {
				fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
			} else {
				fmt.Println("config reloaded")
			}
		case "0":
			return
		default:
			fmt.Println("unknown option")
		}
	}
}

func (a *app) reload() error {
	cfg, err := config.Load(a.path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func (a *app) load() ([]market.EnrichedOrder, string, error) {
	orders, path, err := report.LatestProcessed(a.cfg.Paths.ProcessedDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("no processed snapshot in %s", a.cfg.Paths.ProcessedDir)
	}
	return orders, path, err
}

func (a *app) show(render func([]market.EnrichedOrder)) {
	orders, path, err := a.load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	fmt.Printf("\n(source: %s)\n", path)
	render(orders)
}

// fetch pulls the feed and enriches it with the current thresholds, bypassing files on disk.
func (a *app) fetch(ctx context.Context) ([]market.EnrichedOrder, error) {
	log := zerolog.Nop()
	orders, _, err := feed.FromConfig(a.cfg.Feed, log).Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return engine.Build(a.cfg.Engine, a.cfg.App.Location(), log).CalculateBatch(orders), nil
}

func (a *app) live() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_, _ = a.reader.ReadString('\n')
		cancel()
	}()

	ticker := time.NewTicker(liveInterval)
	defer ticker.Stop()
	for {
		fmt.Print("\033[H\033[2J")
		orders, err := a.fetch(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			fmt.Fprintf(os.Stderr, "fetch failed: %v\n", err)
		default:
			fmt.Printf("(live feed at %s)\n", time.Now().Format("15:04:05"))
			printSummary(orders)
			printOrders("Top expected yield", market.TopBy(market.FilterBuy.Apply(orders), market.ByYield, 5, false))
			printSignals(orders)
		}
		fmt.Printf("\nrefreshing every %s, press ENTER to return...", liveInterval)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *app) editThresholds() {
	fmt.Println("\n--- Edit Signal Thresholds ---")
	e := &a.cfg.Engine
	e.PremiumHigh = a.promptFloat("Overvalued above spread (%)", e.PremiumHigh)
	e.PremiumLow = a.promptFloat("Undervalued below spread (%)", e.PremiumLow)
	e.LiquidityHigh = a.promptFloat("High liquidity above score", e.LiquidityHigh)
	e.LiquidityLow = a.promptFloat("Low liquidity below score", e.LiquidityLow)
	e.ReferencePrice = a.promptFloat("Reference price (KRW)", e.ReferencePrice)
	if err := a.cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
}

func (a *app) launch() {
	fmt.Println("Launching collector service (Ctrl+C to stop)...")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "run", "./cmd/musicow-insight", "run", "--config", a.path)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start service: %v\n", err)
		return
	}

	go func() {
		_ = cmd.Wait()
		cancel()
	}()

	fmt.Print("\nPress ENTER to stop the service and return to menu...")
	_, _ = a.reader.ReadString('\n')
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func (a *app) promptFloat(label string, current float64) float64 {
	fmt.Printf("%s [%.2f]: ", label, current)
	line, _ := a.reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Printf("invalid number, keeping %.2f\n", current)
		return current
	}
	return val
}

func width() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w < 60 {
		return 100
	}
	return w
}

func printSummary(orders []market.EnrichedOrder) {
	s := market.Summarize(orders)
	fmt.Println("\n--- Market Summary ---")
	fmt.Printf("Orders: %d | Buy %d (%.1f%%) | Sell %d (%.1f%%) | Waiting %d\n",
		s.TotalOrders, s.BuyOrders, s.BuyRatio, s.SellOrders, s.SellRatio, s.WaitingOrders)
	fmt.Printf("Avg spread %.2f%% | Avg yield %.2f%% | Avg liquidity %.1f\n", s.AvgSpread, s.AvgYield, s.AvgLiquidity)
}

func printSignals(orders []market.EnrichedOrder) {
	fmt.Println("\n--- Signals ---")
	bar := width() - 45
	for _, sh := range market.SignalShares(orders) {
		n := int(sh.Percentage / 100 * float64(bar))
		fmt.Printf("%-28s %5d %5.1f%% %s\n", sh.Signal, sh.Count, sh.Percentage, strings.Repeat("#", n))
	}
}

func printOrders(title string, orders []market.EnrichedOrder) {
	fmt.Printf("\n--- %s ---\n", title)
	if len(orders) == 0 {
		fmt.Println("(no data)")
		return
	}
	song := width() - 70
	if song < 12 {
		song = 12
	}
	fmt.Printf("%-3s %-*s %10s %9s %9s %6s  %s\n", "#", song, "Song", "Price", "Spread", "Yield", "Liq", "Signal")
	for i, o := range orders {
		fmt.Printf("%-3d %-*s %10.0f %9s %9s %6.1f  %s\n",
			i+1, song, fit(o.SongName, song), o.Price, pct(o.SpreadRate), pct(o.ExpectedYield), o.LiquidityScore, o.Signal)
	}
}

func pct(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", *v)
}

func fit(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
