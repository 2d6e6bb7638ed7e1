package main

import (
	"context"
	"io"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/rs/zerolog"
)

func main() {
	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// execute runs the CLI with args and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		log := zerolog.New(stderr).With().Timestamp().Logger()
		log.Error().Err(err).Msg("musicow-insight failed")
		return 1
	}
	return 0
}
