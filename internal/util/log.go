package util

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Rotation mirrors the size-based rotation knobs of the log file sink.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func NewLogger(level string) zerolog.Logger {
	return newLogger(os.Stdout, level)
}

// NewFileLogger tees log lines to stdout and a rotating file under path.
// The returned closer flushes the file sink.
func NewFileLogger(level, path string, rot Rotation) (zerolog.Logger, io.Closer, error) {
	if strings.TrimSpace(path) == "" {
		return NewLogger(level), io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return zerolog.Nop(), nil, err
	}
	if rot.MaxSizeMB <= 0 {
		rot.MaxSizeMB = 10
	}
	if rot.MaxBackups <= 0 {
		rot.MaxBackups = 5
	}
	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rot.MaxSizeMB,
		MaxBackups: rot.MaxBackups,
		MaxAge:     rot.MaxAgeDays,
		Compress:   rot.Compress,
	}
	return newLogger(zerolog.MultiLevelWriter(os.Stdout, sink), level), sink, nil
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(lvl)
}
