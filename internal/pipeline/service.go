package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"musicow-insight-go/internal/alert"
	"musicow-insight-go/internal/archive"
	"musicow-insight-go/internal/collector"
	"musicow-insight-go/internal/config"
	"musicow-insight-go/internal/dashboard"
	"musicow-insight-go/internal/engine"
	"musicow-insight-go/internal/feed"
	"musicow-insight-go/internal/metrics"
	"musicow-insight-go/internal/report"
)

// Service is a fully wired process: pipeline, poller, dashboard, and metrics endpoint.
type Service struct {
	Config    *config.Config
	Client    *feed.Client
	Poller    *feed.Poller
	Pipeline  *Pipeline
	Store     *dashboard.MemoryStore
	Dashboard *dashboard.Server

	closers []io.Closer
	log     zerolog.Logger
}

// Writer builds the report writer for cfg.
func Writer(cfg *config.Config, log zerolog.Logger) *report.Writer {
	return report.NewWriter(cfg.Paths.ProcessedDir, cfg.Paths.ReportsDir, log.With().Str("component", "report").Logger(),
		report.WithDelimiter(cfg.Reports.Delimiter),
		report.WithTopN(cfg.Reports.TopN),
		report.WithLocation(cfg.App.Location()),
	)
}

// Assemble constructs every component from cfg. Console alerts go to alertOut.
func Assemble(ctx context.Context, cfg *config.Config, log zerolog.Logger, alertOut io.Writer) (*Service, error) {
	loc := cfg.App.Location()
	client := feed.FromConfig(cfg.Feed, log.With().Str("component", "feed").Logger())
	coll := collector.New(client, cfg.Paths.RawDir, log.With().Str("component", "collector").Logger(), collector.WithLocation(loc))
	eng := engine.Build(cfg.Engine, loc, log.With().Str("component", "engine").Logger())

	svc := &Service{
		Config: cfg,
		Client: client,
		Poller: feed.NewPoller(client, log.With().Str("component", "poller").Logger(), feed.WithPollInterval(cfg.Feed.PollInterval())),
		Store:  dashboard.NewMemoryStore(),
		log:    log,
	}

	alog := log.With().Str("component", "alert").Logger()
	notifiers, err := alert.NotifiersFromConfig(cfg.Alerts, alertOut, alog)
	if err != nil {
		return nil, err
	}
	if cfg.Alerts.LogFile != "" {
		rec, err := alert.NewJSONLRecorder(cfg.Alerts.LogFile)
		if err != nil {
			return nil, fmt.Errorf("open alert log: %w", err)
		}
		notifiers = append(notifiers, rec)
		svc.closers = append(svc.closers, rec)
	}
	detector := alert.FromConfig(cfg.Alerts, loc, alog)

	reportAt, err := parseClock(cfg.Schedule.DailyReportTime)
	if err != nil {
		return nil, err
	}
	rolloverAt, err := parseClock(cfg.Schedule.RolloverTime)
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithAlerts(detector, alert.NewDispatcher(alog, notifiers...)),
		WithSchedule(reportAt, rolloverAt),
		WithLocation(loc),
	}
	if cfg.Dashboard.Enabled {
		svc.Dashboard = dashboard.NewServer(svc.Store, cfg.Dashboard.Addr, log.With().Str("component", "dashboard").Logger())
		opts = append(opts, WithPublisher(svc.Store, svc.Dashboard.Refresh))
	} else {
		opts = append(opts, WithPublisher(svc.Store, nil))
	}
	if cfg.Archive.Enabled {
		arc, err := archive.FromConfig(ctx, cfg.Archive, log.With().Str("component", "archive").Logger())
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithArchive(arc))
	}

	svc.Pipeline = New(coll, eng, Writer(cfg, log), log.With().Str("component", "pipeline").Logger(), opts...)
	return svc, nil
}

func parseClock(raw string) (Clock, error) {
	h, m, err := config.ParseClock(raw)
	if err != nil {
		return Clock{}, err
	}
	return Clock{Hour: h, Minute: m}, nil
}

// Run starts the metrics endpoint, the dashboard, and the pipeline, and blocks until ctx
// is cancelled or one of them fails.
func (s *Service) Run(ctx context.Context) error {
	var metricsSrv *http.Server
	if s.Config.App.MetricsAddr != "" && (s.Dashboard == nil || s.Config.App.MetricsAddr != s.Config.Dashboard.Addr) {
		metricsSrv = metrics.Serve(s.Config.App.MetricsAddr)
		s.log.Info().Str("addr", s.Config.App.MetricsAddr).Msg("metrics listening")
	}

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		return s.Pipeline.Run(ctx, s.Poller)
	})
	if s.Dashboard != nil {
		p.Go(s.Dashboard.Run)
	}
	err := p.Wait()

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases files held by the service.
func (s *Service) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
