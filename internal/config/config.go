// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFeedURL is the public order book dump published by the marketplace.
const DefaultFeedURL = "https://data.musicow.com/files/v1/market/orders.json"

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	Timezone    string `yaml:"timezone"`
}

// Feed configures the HTTP polling client targeting the order feed.
type Feed struct {
	URL              string `yaml:"url"`
	TimeoutSecs      int    `yaml:"timeout_secs"`
	RetryCount       int    `yaml:"retry_count"`
	RetryDelaySecs   int    `yaml:"retry_delay_secs"`
	PollIntervalMins int    `yaml:"poll_interval_mins"`
	UserAgent        string `yaml:"user_agent"`
}

// Engine holds the thresholds the metrics engine scores against.
type Engine struct {
	PremiumHigh         float64 `yaml:"premium_threshold_high"`
	PremiumLow          float64 `yaml:"premium_threshold_low"`
	LiquidityHigh       float64 `yaml:"liquidity_high_score"`
	LiquidityLow        float64 `yaml:"liquidity_low_score"`
	ReferencePrice      float64 `yaml:"reference_price"`
	FrequencyWindowMins int     `yaml:"frequency_window_mins"`
}

// Alerts configures alert detection and delivery.
type Alerts struct {
	PremiumThreshold  float64  `yaml:"premium_threshold"`
	YieldChange       float64  `yaml:"yield_change"`
	TimeWindowMins    int      `yaml:"time_window_mins"`
	DedupeMins        int      `yaml:"dedupe_mins"`
	Channels          []string `yaml:"channels"`
	MaxPerMessage     int      `yaml:"max_per_message"`
	MinSendIntervalMs int      `yaml:"min_send_interval_ms"`
	SlackWebhookURL   string   `yaml:"slack_webhook_url"`
	TelegramBotToken  string   `yaml:"telegram_bot_token"`
	TelegramChatID    string   `yaml:"telegram_chat_id"`
	LogFile           string   `yaml:"log_file"`
}

// Reports tunes the generated TSV and Markdown artifacts.
type Reports struct {
	TopN      int    `yaml:"top_n"`
	Delimiter string `yaml:"delimiter"`
}

// Schedule sets the wall-clock times of the daily jobs (HH:MM, local time).
type Schedule struct {
	DailyReportTime string `yaml:"daily_report_time"`
	RolloverTime    string `yaml:"rollover_time"`
}

// Dashboard configures the HTTP dashboard.
type Dashboard struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Archive configures optional upload of generated files to S3-compatible storage.
type Archive struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Paths lists the directories the service writes into.
type Paths struct {
	RawDir       string `yaml:"raw_dir"`
	ProcessedDir string `yaml:"processed_dir"`
	ReportsDir   string `yaml:"reports_dir"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App       App       `yaml:"app"`
	Feed      Feed      `yaml:"feed"`
	Engine    Engine    `yaml:"engine"`
	Alerts    Alerts    `yaml:"alerts"`
	Reports   Reports   `yaml:"reports"`
	Schedule  Schedule  `yaml:"schedule"`
	Dashboard Dashboard `yaml:"dashboard"`
	Archive   Archive   `yaml:"archive"`
	Paths     Paths     `yaml:"paths"`
}

// Default returns the settings the service runs with when no file overrides them.
func Default() *Config {
	return &Config{
		App: App{
			Name:        "musicow-insight",
			Env:         "dev",
			MetricsAddr: ":9102",
			LogLevel:    "info",
			LogFile:     "logs/musicow_insight.log",
			Timezone:    "Asia/Seoul",
		},
		Feed: Feed{
			URL:              DefaultFeedURL,
			TimeoutSecs:      30,
			RetryCount:       3,
			RetryDelaySecs:   5,
			PollIntervalMins: 5,
			UserAgent:        "musicow-insight-go/1.0",
		},
		Engine: Engine{
			PremiumHigh:         10.0,
			PremiumLow:          -10.0,
			LiquidityHigh:       80,
			LiquidityLow:        30,
			ReferencePrice:      10000,
			FrequencyWindowMins: 30,
		},
		Alerts: Alerts{
			PremiumThreshold:  3.0,
			YieldChange:       2.0,
			TimeWindowMins:    10,
			DedupeMins:        60,
			Channels:          []string{"console"},
			MaxPerMessage:     5,
			MinSendIntervalMs: 1000,
			LogFile:           "logs/alerts.jsonl",
		},
		Reports: Reports{
			TopN:      3,
			Delimiter: "\t",
		},
		Schedule: Schedule{
			DailyReportTime: "18:00",
			RolloverTime:    "00:00",
		},
		Dashboard: Dashboard{
			Enabled: true,
			Addr:    ":5000",
		},
		Paths: Paths{
			RawDir:       "data/raw",
			ProcessedDir: "data/processed",
			ReportsDir:   "reports",
		},
	}
}

// Load reads a YAML file from disk on top of Default.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	config := Default()
	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate rejects combinations the engine and scheduler cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Engine.PremiumLow >= c.Engine.PremiumHigh {
		errs = append(errs, fmt.Errorf("engine: premium_threshold_low %.2f must be below premium_threshold_high %.2f", c.Engine.PremiumLow, c.Engine.PremiumHigh))
	}
	if c.Engine.LiquidityLow >= c.Engine.LiquidityHigh {
		errs = append(errs, fmt.Errorf("engine: liquidity_low_score %.1f must be below liquidity_high_score %.1f", c.Engine.LiquidityLow, c.Engine.LiquidityHigh))
	}
	if c.Engine.ReferencePrice <= 0 {
		errs = append(errs, errors.New("engine: reference_price must be positive"))
	}
	if strings.TrimSpace(c.Feed.URL) == "" {
		errs = append(errs, errors.New("feed: url is required"))
	}
	for name, clock := range map[string]string{"daily_report_time": c.Schedule.DailyReportTime, "rollover_time": c.Schedule.RolloverTime} {
		if _, _, err := ParseClock(clock); err != nil {
			errs = append(errs, fmt.Errorf("schedule: %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Window returns the look-back for yield change alerts.
func (a Alerts) Window() time.Duration {
	if a.TimeWindowMins <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(a.TimeWindowMins) * time.Minute
}

// Dedupe returns how long a repeated alert for the same order is suppressed.
func (a Alerts) Dedupe() time.Duration {
	if a.DedupeMins <= 0 {
		return time.Hour
	}
	return time.Duration(a.DedupeMins) * time.Minute
}

// SendInterval returns the minimum spacing between chat messages.
func (a Alerts) SendInterval() time.Duration {
	if a.MinSendIntervalMs <= 0 {
		return 0
	}
	return time.Duration(a.MinSendIntervalMs) * time.Millisecond
}

// PollInterval returns the feed polling cadence.
func (f Feed) PollInterval() time.Duration {
	if f.PollIntervalMins <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(f.PollIntervalMins) * time.Minute
}

// Location resolves the configured timezone, falling back to the process local zone.
func (a App) Location() *time.Location {
	if strings.TrimSpace(a.Timezone) == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ParseClock splits an HH:MM string into hour and minute.
func ParseClock(clock string) (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(clock))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock %q: want HH:MM", clock)
	}
	return t.Hour(), t.Minute(), nil
}
