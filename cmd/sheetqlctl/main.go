package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sheetql/sheetql/internal/cli/sheetqlctl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	options := sheetqlctl.Options{
		BaseURL: envOr("SHEETQL_API_URL", "http://localhost:8080"),
		APIKey:  strings.TrimSpace(os.Getenv("SHEETQL_API_KEY")),
		Timeout: parseDurationWithDefault(strings.TrimSpace(os.Getenv("SHEETQL_CLI_TIMEOUT")), 2*time.Minute),
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}

	code := sheetqlctl.Run(ctx, os.Args[1:], options)
	stop()
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid SHEETQL_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
