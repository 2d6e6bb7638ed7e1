// Package config also resolves secrets and overrides from the environment.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables recognised by ApplyEnv.
const (
	EnvLogLevel         = "LOG_LEVEL"
	EnvFeedURL          = "MUSICOW_API_URL"
	EnvSlackWebhookURL  = "SLACK_WEBHOOK_URL"
	EnvTelegramBotToken = "TELEGRAM_BOT_TOKEN"
	EnvTelegramChatID   = "TELEGRAM_CHAT_ID"
	EnvArchiveAccessKey = "AWS_ACCESS_KEY_ID"
	EnvArchiveSecretKey = "AWS_SECRET_ACCESS_KEY"
	EnvArchiveBucket    = "ARCHIVE_BUCKET"
)

// LoadDotEnv loads .env style files into the process environment without
// overwriting variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ApplyEnv overlays non-empty environment values onto the config.
func (c *Config) ApplyEnv() {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.App.LogLevel, EnvLogLevel)
	set(&c.Feed.URL, EnvFeedURL)
	set(&c.Alerts.SlackWebhookURL, EnvSlackWebhookURL)
	set(&c.Alerts.TelegramBotToken, EnvTelegramBotToken)
	set(&c.Alerts.TelegramChatID, EnvTelegramChatID)
	set(&c.Archive.AccessKeyID, EnvArchiveAccessKey)
	set(&c.Archive.SecretAccessKey, EnvArchiveSecretKey)
	set(&c.Archive.Bucket, EnvArchiveBucket)
}
