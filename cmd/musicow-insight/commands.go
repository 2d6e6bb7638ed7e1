package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"musicow-insight-go/internal/config"
	"musicow-insight-go/internal/dashboard"
	"musicow-insight-go/internal/feed"
	"musicow-insight-go/internal/market"
	"musicow-insight-go/internal/pipeline"
	"musicow-insight-go/internal/report"
	"musicow-insight-go/internal/util"
)

type globals struct {
	configPath string
	envFile    string
	logLevel   string
}

// setup loads .env, the YAML config (defaults when the file is absent), and the logger.
func (g *globals) setup() (*config.Config, zerolog.Logger, io.Closer, error) {
	if err := config.LoadDotEnv(g.envFile); err != nil {
		return nil, zerolog.Nop(), nil, fmt.Errorf("load env: %w", err)
	}
	cfg, err := config.Load(g.configPath)
	missing := errors.Is(err, fs.ErrNotExist)
	switch {
	case missing:
		cfg = config.Default()
	case err != nil:
		return nil, zerolog.Nop(), nil, err
	}
	cfg.ApplyEnv()
	if g.logLevel != "" {
		cfg.App.LogLevel = g.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	log, closer, err := util.NewFileLogger(cfg.App.LogLevel, cfg.App.LogFile, util.Rotation{})
	if err != nil {
		return nil, zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
	}
	log = log.With().Str("app", cfg.App.Name).Str("env", cfg.App.Env).Logger()
	if missing {
		log.Warn().Str("path", g.configPath).Msg("config file not found; using defaults")
	}
	return cfg, log, closer, nil
}

func rootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "musicow-insight",
		Short:         "Musicow royalty market collector, metrics engine, and dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "config.yaml", "YAML config file")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "dotenv file with secrets")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override app.log_level")

	root.AddCommand(runCmd(g), collectCmd(g), reportCmd(g), serveCmd(g), pingCmd(g))
	return root
}

func runCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll the feed on schedule, write reports, send alerts, and serve the dashboard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, closer, err := g.setup()
			if err != nil {
				return err
			}
			defer closer.Close()

			svc, err := pipeline.Assemble(cmd.Context(), cfg, log, os.Stdout)
			if err != nil {
				return err
			}
			defer svc.Close()
			log.Info().
				Str("feed", svc.Client.URL()).
				Dur("interval", cfg.Feed.PollInterval()).
				Bool("dashboard", cfg.Dashboard.Enabled).
				Msg("service started")
			err = svc.Run(cmd.Context())
			log.Info().Msg("shutting down")
			return err
		},
	}
}

func collectCmd(g *globals) *cobra.Command {
	var daily bool
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run a single collect and enrich pass",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, closer, err := g.setup()
			if err != nil {
				return err
			}
			defer closer.Close()
			cfg.Dashboard.Enabled = false

			svc, err := pipeline.Assemble(cmd.Context(), cfg, log, os.Stdout)
			if err != nil {
				return err
			}
			defer svc.Close()
			res, err := svc.Pipeline.RunOnce(cmd.Context())
			if err != nil && len(res.Orders) == 0 {
				return err
			}
			printSummary(cmd.OutOrStdout(), res.Orders)
			fmt.Fprintf(cmd.OutOrStdout(), "processed: %s\ntsv: %s\nalerts: %d\n", res.Processed, res.TSV, len(res.Alerts))
			if daily {
				files, derr := svc.Pipeline.DailyReport(cmd.Context())
				for _, f := range files {
					fmt.Fprintf(cmd.OutOrStdout(), "daily: %s\n", f)
				}
				err = errors.Join(err, derr)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&daily, "daily", false, "also write the daily summary and Markdown report")
	return cmd
}

func reportCmd(g *globals) *cobra.Command {
	var (
		input     string
		filter    string
		sortKey   string
		top       int
		ascending bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write TSV and Markdown reports from a processed snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, closer, err := g.setup()
			if err != nil {
				return err
			}
			defer closer.Close()

			orders, path, err := loadSnapshot(cfg, input)
			if err != nil {
				return err
			}
			log.Info().Str("file", path).Int("orders", len(orders)).Msg("snapshot loaded")
			w := pipeline.Writer(cfg, log)

			var files []string
			add := func(p string, err error) error {
				if err == nil {
					files = append(files, p)
				}
				return err
			}
			var errs []error
			errs = append(errs, add(w.ExportTSV(orders, "")))
			errs = append(errs, add(w.ExportSongSummary(orders, "")))
			errs = append(errs, add(w.WriteDailyReport(orders)))
			if filter != "" {
				f, err := market.ParseFilter(filter)
				if err != nil {
					return err
				}
				errs = append(errs, add(w.ExportFiltered(orders, f, "")))
			}
			if sortKey != "" {
				key, err := market.ParseSortKey(sortKey)
				if err != nil {
					return err
				}
				errs = append(errs, add(w.ExportTop(orders, key, top, ascending, "")))
			}
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "processed *_metrics.json file (default: newest in processed_dir)")
	cmd.Flags().StringVar(&filter, "filter", "", "also export a filtered TSV (waiting|completed|buy|sell|undervalued|overvalued|alert)")
	cmd.Flags().StringVar(&sortKey, "top", "", "also export a top-N TSV sorted by spread|yield|liquidity")
	cmd.Flags().IntVarP(&top, "limit", "n", 10, "rows in the top-N export")
	cmd.Flags().BoolVar(&ascending, "asc", false, "sort the top-N export ascending")
	return cmd
}

func loadSnapshot(cfg *config.Config, input string) ([]market.EnrichedOrder, string, error) {
	if input != "" {
		orders, err := report.LoadProcessed(input)
		return orders, input, err
	}
	orders, path, err := report.LatestProcessed(cfg.Paths.ProcessedDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("no processed snapshot in %s; run collect first", cfg.Paths.ProcessedDir)
	}
	return orders, path, err
}

func serveCmd(g *globals) *cobra.Command {
	var addr string
	var refresh time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard from the newest processed snapshot on disk",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, closer, err := g.setup()
			if err != nil {
				return err
			}
			defer closer.Close()
			if addr == "" {
				addr = cfg.Dashboard.Addr
			}
			srv := dashboard.NewServer(dashboard.NewDirStore(cfg.Paths.ProcessedDir), addr, log, dashboard.WithRefresh(refresh))
			err = srv.Run(cmd.Context())
			if errors.Is(err, cmd.Context().Err()) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: dashboard.addr)")
	cmd.Flags().DurationVar(&refresh, "refresh", 30*time.Second, "live update interval for WebSocket clients")
	return cmd
}

func pingCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the order feed is reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, closer, err := g.setup()
			if err != nil {
				return err
			}
			defer closer.Close()
			client := feed.FromConfig(cfg.Feed, log)
			rows, err := client.Ping(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s serves %d rows\n", client.URL(), rows)
			return nil
		},
	}
}

func printSummary(out io.Writer, orders []market.EnrichedOrder) {
	s := market.Summarize(orders)
	fmt.Fprintf(out, "orders: %d (buy %d / sell %d, waiting %d)\n", s.TotalOrders, s.BuyOrders, s.SellOrders, s.WaitingOrders)
	fmt.Fprintf(out, "avg spread %.2f%%, avg yield %.2f%%, avg liquidity %.1f\n", s.AvgSpread, s.AvgYield, s.AvgLiquidity)
	for _, sh := range market.SignalShares(orders) {
		fmt.Fprintf(out, "  %-28s %4d  %5.1f%%\n", sh.Signal, sh.Count, sh.Percentage)
	}
}
