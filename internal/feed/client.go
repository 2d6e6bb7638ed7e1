// Package feed fetches the marketplace order dump over HTTP.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"musicow-insight-go/internal/config"
	"musicow-insight-go/internal/market"
	"musicow-insight-go/internal/metrics"
)

var (
	// ErrUnexpectedPayload means the feed answered with something other than a JSON array.
	ErrUnexpectedPayload = errors.New("feed: unexpected payload")
	// ErrNoValidOrders means every row of a fetched payload failed validation.
	ErrNoValidOrders = errors.New("feed: no valid orders")
)

const (
	defaultTimeout    = 30 * time.Second
	defaultRetries    = 3
	defaultRetryDelay = 5 * time.Second
	defaultUserAgent  = "musicow-insight-go/1.0"
	pingTimeout       = 10 * time.Second
)

// StatusError is returned for non-200 responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("unexpected status %d", e.Code) }

// Retryable reports whether the request is worth repeating.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Client pulls and validates the order feed.
type Client struct {
	url        string
	userAgent  string
	http       *http.Client
	retries    int
	retryDelay time.Duration
	breaker    *gobreaker.CircuitBreaker
	validator  *market.Validator
	log        zerolog.Logger
}

// Option configures Client construction parameters.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRetry sets how many attempts a fetch makes and the pause between them.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.retries = attempts
		}
		if delay >= 0 {
			c.retryDelay = delay
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if strings.TrimSpace(ua) != "" {
			c.userAgent = ua
		}
	}
}

// NewClient constructs a Client for url.
func NewClient(url string, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		url:        strings.TrimSpace(url),
		userAgent:  defaultUserAgent,
		http:       &http.Client{Timeout: defaultTimeout},
		retries:    defaultRetries,
		retryDelay: defaultRetryDelay,
		validator:  market.NewValidator(log),
		log:        log,
	}
	if c.url == "" {
		c.url = config.DefaultFeedURL
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "order-feed",
		Interval: 60 * time.Second,
		Timeout:  60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(c.retries*2)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("feed breaker state change")
		},
	})
	return c
}

// FromConfig builds a Client from the YAML feed section.
func FromConfig(cfg config.Feed, log zerolog.Logger) *Client {
	return NewClient(cfg.URL, log,
		WithTimeout(time.Duration(cfg.TimeoutSecs)*time.Second),
		WithRetry(cfg.RetryCount, time.Duration(cfg.RetryDelaySecs)*time.Second),
		WithUserAgent(cfg.UserAgent),
	)
}

// URL returns the endpoint being polled.
func (c *Client) URL() string { return c.url }

// FetchRaw downloads the feed, retrying throttling and server errors with a constant delay.
func (c *Client) FetchRaw(ctx context.Context) ([]json.RawMessage, error) {
	attempt := 0
	op := func() ([]json.RawMessage, error) {
		attempt++
		c.log.Debug().Int("attempt", attempt).Int("of", c.retries).Str("url", c.url).Msg("fetching orders")
		res, err := c.breaker.Execute(func() (interface{}, error) {
			return c.get(ctx)
		})
		if err != nil {
			var status *StatusError
			switch {
			case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
				return nil, backoff.Permanent(err)
			case errors.As(err, &status) && !status.Retryable():
				return nil, backoff.Permanent(err)
			case errors.Is(err, ErrUnexpectedPayload):
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return res.([]json.RawMessage), nil
	}
	rows, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.retryDelay)),
		backoff.WithMaxTries(uint(c.retries)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.log.Warn().Err(err).Dur("retry_in", wait).Msg("order fetch failed")
		}),
	)
	if err != nil {
		metrics.PollsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("fetch orders after %d attempt(s): %w", attempt, err)
	}
	metrics.PollsTotal.WithLabelValues("ok").Inc()
	c.log.Info().Int("rows", len(rows)).Msg("orders received")
	return rows, nil
}

// Fetch downloads and validates the feed. Rows that fail validation are dropped.
func (c *Client) Fetch(ctx context.Context) ([]market.Order, market.ValidationReport, error) {
	rows, err := c.FetchRaw(ctx)
	if err != nil {
		return nil, market.ValidationReport{}, err
	}
	orders, report := c.validator.Validate(rows)
	metrics.OrdersIngested.Add(float64(report.Valid))
	metrics.OrdersRejected.Add(float64(report.Rejected))
	if len(orders) == 0 {
		return nil, report, ErrNoValidOrders
	}
	return orders, report, nil
}

// Ping performs a single short request and returns how many rows the feed serves.
func (c *Client) Ping(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	rows, err := c.get(ctx)
	if err != nil {
		return 0, fmt.Errorf("ping %s: %w", c.url, err)
	}
	return len(rows), nil
}

func (c *Client) get(ctx context.Context) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Code: resp.StatusCode}
	}
	var rows []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedPayload, err)
	}
	return rows, nil
}
