// Package logging builds the process logger and renders oops errors into it.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/oops"
)

// New returns a logger writing to w. DEV gets the console writer, every
// other environment gets JSON lines.
func New(w io.Writer, env, level string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if env == "DEV" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// LogError logs err at error level. oops errors contribute their code and
// context as fields.
func LogError(logger zerolog.Logger, msg string, err error) {
	event := logger.Error()
	if oopsErr, ok := oops.AsOops(err); ok {
		event = event.Str("error", oopsErr.Error())
		if code := oopsErr.Code(); code != nil {
			event = event.Interface("code", code)
		}
		if ctx := oopsErr.Context(); len(ctx) > 0 {
			event = event.Interface("context", ctx)
		}
		event.Msg(msg)
		return
	}
	event.Err(err).Msg(msg)
}

// TokenPrefix shortens a secret value for logs.
func TokenPrefix(value string) string {
	const n = 10
	if len(value) <= n {
		return value
	}
	return value[:n] + "..."
}
