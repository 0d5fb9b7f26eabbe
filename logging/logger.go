// Package logging builds the process logger for goAccess binaries.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Options selects the logger output.
type Options struct {
	Level   string
	Service string
	// Format is "json" (default) or "console".
	Format string
	Output io.Writer
}

// New creates a structured zerolog.Logger with a timestamp and the service
// name. Unknown levels fall back to info.
func New(opts Options) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(opts.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if opts.Service != "" {
		ctx = ctx.Str("service", opts.Service)
	}
	logger := ctx.Logger()

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	return logger.Level(level)
}
