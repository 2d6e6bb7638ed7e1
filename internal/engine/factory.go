package engine

import (
	"time"

	"github.com/rs/zerolog"

	"musicow-insight-go/internal/config"
)

// ThresholdsFromConfig maps the YAML engine section onto signal cut-offs.
func ThresholdsFromConfig(cfg config.Engine) Thresholds {
	return Thresholds{
		PremiumHigh:   cfg.PremiumHigh,
		PremiumLow:    cfg.PremiumLow,
		LiquidityHigh: cfg.LiquidityHigh,
		LiquidityLow:  cfg.LiquidityLow,
	}
}

// Build returns an Engine configured from the YAML engine section. Extra options are
// applied last.
func Build(cfg config.Engine, loc *time.Location, log zerolog.Logger, opts ...Option) *Engine {
	base := []Option{
		WithThresholds(ThresholdsFromConfig(cfg)),
		WithReferencePrice(cfg.ReferencePrice),
		WithFrequencyWindow(time.Duration(cfg.FrequencyWindowMins) * time.Minute),
		WithLocation(loc),
	}
	return New(log, append(base, opts...)...)
}
