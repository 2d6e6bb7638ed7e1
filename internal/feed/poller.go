package feed

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"musicow-insight-go/internal/market"
)

const defaultPollInterval = 5 * time.Minute

// Fetcher yields one validated pull of the order feed.
type Fetcher interface {
	Fetch(ctx context.Context) ([]market.Order, market.ValidationReport, error)
}

// Snapshot is the result of one successful poll.
type Snapshot struct {
	At     time.Time
	Orders []market.Order
	Report market.ValidationReport
}

// Poller polls a Fetcher on a fixed cadence.
type Poller struct {
	fetcher  Fetcher
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// PollerOption configures Poller construction parameters.
type PollerOption func(*Poller)

// WithPollInterval overrides the default polling cadence.
func WithPollInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithPollClock replaces time.Now for snapshot timestamps.
func WithPollClock(now func() time.Time) PollerOption {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPoller constructs a Poller around fetcher.
func NewPoller(fetcher Fetcher, log zerolog.Logger, opts ...PollerOption) *Poller {
	p := &Poller{fetcher: fetcher, interval: defaultPollInterval, now: time.Now, log: log}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls immediately and then on every tick, pushing snapshots onto out until the
// context is canceled. Failed polls are logged and skipped.
func (p *Poller) Run(ctx context.Context, out chan<- Snapshot) error {
	if err := p.poll(ctx, out); err != nil && !errors.Is(err, context.Canceled) {
		p.log.Warn().Err(err).Msg("initial poll failed")
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.poll(ctx, out); err != nil && !errors.Is(err, context.Canceled) {
				p.log.Warn().Err(err).Msg("poll failed")
			}
		}
	}
}

func (p *Poller) poll(ctx context.Context, out chan<- Snapshot) error {
	orders, report, err := p.fetcher.Fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	snap := Snapshot{At: p.now(), Orders: orders, Report: report}
	select {
	case out <- snap:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
