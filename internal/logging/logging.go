package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the service logger. Development gets a console writer and debug
// level unless level says otherwise; every other env logs JSON to stdout.
func New(env, level string) zerolog.Logger {
	return newWithWriter(os.Stdout, env, level)
}

func newWithWriter(w io.Writer, env, level string) zerolog.Logger {
	lvl := zerolog.InfoLevel
	if isDevelopment(env) {
		lvl = zerolog.DebugLevel
	}
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil && level != "" {
		lvl = parsed
	}

	out := w
	if isDevelopment(env) {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "pixelbook").
		Logger()
}

func isDevelopment(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "development", "dev", "local":
		return true
	default:
		return false
	}
}
