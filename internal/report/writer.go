// Package report renders enriched order snapshots as JSON, TSV, and Markdown files.
package report

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"musicow-insight-go/internal/market"
	"musicow-insight-go/internal/util"
)

const (
	stampLayout    = "20060102_1504"
	dayLayout      = "20060102"
	defaultTopN    = 3
	defaultDelim   = "\t"
	metricsPattern = "*_metrics.json"
)

// Writer places generated files under the processed and reports directories.
type Writer struct {
	processedDir string
	reportsDir   string
	delim        string
	topN         int
	loc          *time.Location
	now          func() time.Time
	log          zerolog.Logger
}

// Option configures Writer construction parameters.
type Option func(*Writer)

// WithDelimiter overrides the TSV column separator.
func WithDelimiter(d string) Option {
	return func(w *Writer) {
		if d != "" {
			w.delim = d
		}
	}
}

// WithTopN sets how many rows the ranked Markdown sections show.
func WithTopN(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.topN = n
		}
	}
}

// WithLocation sets the zone used for file stamps and report headers.
func WithLocation(loc *time.Location) Option {
	return func(w *Writer) {
		if loc != nil {
			w.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWriter constructs a Writer.
func NewWriter(processedDir, reportsDir string, log zerolog.Logger, opts ...Option) *Writer {
	w := &Writer{
		processedDir: processedDir,
		reportsDir:   reportsDir,
		delim:        defaultDelim,
		topN:         defaultTopN,
		loc:          time.Local,
		now:          time.Now,
		log:          log,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Writer) stamp() string { return w.now().In(w.loc).Format(stampLayout) }

// WriteProcessed stores the enriched snapshot as processed/<stamp>_metrics.json.
func (w *Writer) WriteProcessed(orders []market.EnrichedOrder) (string, error) {
	path := filepath.Join(w.processedDir, w.stamp()+"_metrics.json")
	if orders == nil {
		orders = []market.EnrichedOrder{}
	}
	if err := util.WriteJSON(path, orders); err != nil {
		return "", fmt.Errorf("write processed: %w", err)
	}
	w.log.Info().Str("file", path).Int("orders", len(orders)).Msg("processed snapshot saved")
	return path, nil
}

// LoadProcessed reads a file written by WriteProcessed.
func LoadProcessed(path string) ([]market.EnrichedOrder, error) {
	var orders []market.EnrichedOrder
	if err := util.ReadJSON(path, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// LatestProcessed returns the newest processed snapshot in dir and its path.
func LatestProcessed(dir string) ([]market.EnrichedOrder, string, error) {
	path, err := util.Latest(dir, metricsPattern)
	if err != nil {
		return nil, "", err
	}
	orders, err := LoadProcessed(path)
	if err != nil {
		return nil, path, err
	}
	return orders, path, nil
}

func (w *Writer) reportPath(name, fallback string) string {
	if strings.TrimSpace(name) == "" {
		name = fallback
	}
	return filepath.Join(w.reportsDir, name)
}
