// Package pipeline drives the periodic collect, enrich, report, and alert cycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"musicow-insight-go/internal/alert"
	"musicow-insight-go/internal/collector"
	"musicow-insight-go/internal/engine"
	"musicow-insight-go/internal/feed"
	"musicow-insight-go/internal/market"
	"musicow-insight-go/internal/metrics"
	"musicow-insight-go/internal/report"
)

const historyRetention = 24 * time.Hour

// Publisher receives every enriched snapshot, typically the dashboard store.
type Publisher interface {
	Publish(orders []market.EnrichedOrder, source string, at time.Time)
}

// Sender delivers raised alerts.
type Sender interface {
	Send(ctx context.Context, alerts []alert.Alert) error
}

// Uploader archives generated files.
type Uploader interface {
	UploadAll(ctx context.Context, paths []string, day time.Time) ([]string, error)
}

// Result describes one processed snapshot.
type Result struct {
	At        time.Time
	Orders    []market.EnrichedOrder
	Report    market.ValidationReport
	RawFile   string
	Processed string
	TSV       string
	Alerts    []alert.Alert
}

// Pipeline owns the components of one running service.
type Pipeline struct {
	collector *collector.Collector
	engine    *engine.Engine
	writer    *report.Writer
	detector  *alert.Detector
	sender    Sender
	publisher Publisher
	onPublish func(context.Context)
	archive   Uploader

	reportAt   Clock
	rolloverAt Clock
	loc        *time.Location
	now        func() time.Time
	log        zerolog.Logger

	mu       sync.Mutex
	previous []market.EnrichedOrder
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithAlerts enables alert detection, delivering through sender when it is non-nil.
func WithAlerts(d *alert.Detector, sender Sender) Option {
	return func(p *Pipeline) {
		p.detector = d
		p.sender = sender
	}
}

// WithPublisher hands every enriched snapshot to pub. onPublish, when set, runs afterwards.
func WithPublisher(pub Publisher, onPublish func(context.Context)) Option {
	return func(p *Pipeline) {
		p.publisher = pub
		p.onPublish = onPublish
	}
}

// WithArchive uploads daily artifacts through u.
func WithArchive(u Uploader) Option {
	return func(p *Pipeline) { p.archive = u }
}

// WithSchedule sets when the daily report and the midnight rollover run.
func WithSchedule(reportAt, rolloverAt Clock) Option {
	return func(p *Pipeline) {
		p.reportAt = reportAt
		p.rolloverAt = rolloverAt
	}
}

// WithLocation sets the zone the schedule is evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(p *Pipeline) {
		if loc != nil {
			p.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// New assembles a pipeline around the mandatory components.
func New(c *collector.Collector, e *engine.Engine, w *report.Writer, log zerolog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		collector:  c,
		engine:     e,
		writer:     w,
		reportAt:   Clock{Hour: 18},
		rolloverAt: Clock{},
		loc:        time.Local,
		now:        time.Now,
		log:        log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunOnce fetches the feed a single time and processes the result.
func (p *Pipeline) RunOnce(ctx context.Context) (Result, error) {
	snap, err := p.collector.Collect(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("collect: %w", err)
	}
	return p.process(ctx, snap, "")
}

// Tick ingests a snapshot delivered by the poller and processes it.
func (p *Pipeline) Tick(ctx context.Context, snap feed.Snapshot) (Result, error) {
	raw, err := p.collector.Ingest(snap)
	if err != nil {
		return Result{}, err
	}
	return p.process(ctx, snap, raw)
}

func (p *Pipeline) process(ctx context.Context, snap feed.Snapshot, raw string) (Result, error) {
	res := Result{At: snap.At, Report: snap.Report, RawFile: raw}
	res.Orders = p.engine.CalculateBatch(snap.Orders)
	observeSignals(res.Orders)

	var errs []error
	var err error
	if res.Processed, err = p.writer.WriteProcessed(res.Orders); err != nil {
		errs = append(errs, err)
	}
	if res.TSV, err = p.writer.ExportTSV(res.Orders, ""); err != nil {
		errs = append(errs, err)
	}

	p.mu.Lock()
	previous := p.previous
	p.previous = res.Orders
	p.mu.Unlock()

	if p.detector != nil {
		res.Alerts = p.detector.Check(res.Orders, previous)
		if len(res.Alerts) > 0 && p.sender != nil {
			if err := p.sender.Send(ctx, res.Alerts); err != nil {
				errs = append(errs, fmt.Errorf("send alerts: %w", err))
			}
		}
	}

	if p.publisher != nil {
		p.publisher.Publish(res.Orders, res.Processed, snap.At)
		if p.onPublish != nil {
			p.onPublish(ctx)
		}
	}
	p.log.Info().
		Int("orders", len(res.Orders)).
		Int("alerts", len(res.Alerts)).
		Str("processed", res.Processed).
		Msg("snapshot processed")
	return res, errors.Join(errs...)
}

func observeSignals(orders []market.EnrichedOrder) {
	metrics.Signals.Reset()
	for _, s := range market.SignalShares(orders) {
		metrics.Signals.WithLabelValues(string(s.Signal)).Set(float64(s.Count))
	}
}

// DailyReport saves the daily summary and renders the Markdown report and per-song summary
// from the day's deduplicated orders. It returns the files written.
func (p *Pipeline) DailyReport(ctx context.Context) ([]string, error) {
	var files []string
	var errs []error
	summary, err := p.collector.SaveDailySummary()
	if err != nil {
		errs = append(errs, err)
	} else if summary != "" {
		files = append(files, summary)
	}

	daily := p.engine.CalculateBatch(p.collector.Book().Snapshot())
	if path, err := p.writer.WriteDailyReport(daily); err != nil {
		errs = append(errs, err)
	} else {
		files = append(files, path)
	}
	if len(daily) > 0 {
		if path, err := p.writer.ExportSongSummary(daily, ""); err != nil {
			errs = append(errs, err)
		} else {
			files = append(files, path)
		}
	}
	p.upload(ctx, files)
	return files, errors.Join(errs...)
}

// Rollover closes the day, resets the book, and forgets stale alert history.
func (p *Pipeline) Rollover(ctx context.Context) (string, error) {
	path, err := p.collector.Rollover()
	if p.detector != nil {
		removed := p.detector.History().Prune(p.now(), historyRetention)
		p.log.Info().Int("removed", removed).Msg("alert history pruned")
	}
	if path != "" {
		p.upload(ctx, []string{path})
	}
	return path, err
}

func (p *Pipeline) upload(ctx context.Context, files []string) {
	if p.archive == nil || len(files) == 0 {
		return
	}
	if _, err := p.archive.UploadAll(ctx, files, p.now().In(p.loc)); err != nil {
		p.log.Error().Err(err).Msg("archive upload failed")
	}
}

// Run polls on interval and fires the daily jobs until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, poller *feed.Poller) error {
	snaps := make(chan feed.Snapshot, 1)
	pollErr := make(chan error, 1)
	go func() { pollErr <- poller.Run(ctx, snaps) }()

	reportTimer := time.NewTimer(p.until(p.reportAt))
	defer reportTimer.Stop()
	rolloverTimer := time.NewTimer(p.until(p.rolloverAt))
	defer rolloverTimer.Stop()

	p.log.Info().
		Str("daily_report", p.reportAt.String()).
		Str("rollover", p.rolloverAt.String()).
		Msg("scheduler started")

	for {
		select {
		case <-ctx.Done():
			<-pollErr
			return ctx.Err()
		case err := <-pollErr:
			return err
		case snap := <-snaps:
			if _, err := p.Tick(ctx, snap); err != nil {
				p.log.Error().Err(err).Msg("snapshot processing failed")
			}
		case <-reportTimer.C:
			if _, err := p.DailyReport(ctx); err != nil {
				p.log.Error().Err(err).Msg("daily report failed")
			}
			reportTimer.Reset(p.until(p.reportAt))
		case <-rolloverTimer.C:
			if _, err := p.Rollover(ctx); err != nil {
				p.log.Error().Err(err).Msg("rollover failed")
			}
			rolloverTimer.Reset(p.until(p.rolloverAt))
		}
	}
}

func (p *Pipeline) until(c Clock) time.Duration {
	now := p.now().In(p.loc)
	return c.Next(now).Sub(now)
}
