package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestExecuteReportsFailures(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := execute(context.Background(), []string{"bogus"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "musicow-insight failed") || !strings.Contains(stderr.String(), "unknown command") {
		t.Fatalf("expected logged failure, got %q", stderr.String())
	}
}

func TestExecuteHelpListsCommands(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := execute(context.Background(), []string{"--help"}, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit code 0, got %d: %s", code, stderr.String())
	}
	for _, name := range []string{"run", "collect", "report", "serve", "ping"} {
		if !strings.Contains(stdout.String(), name) {
			t.Fatalf("help output missing %q:\n%s", name, stdout.String())
		}
	}
}
