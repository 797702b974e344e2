// Package logger holds the process-wide zerolog logger.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is used by every package that logs.
var Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// InitLogger sets the global level and output format. Unknown levels fall
// back to info. pretty selects the human-readable console writer.
func InitLogger(level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var out io.Writer = os.Stderr
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	Logger = zerolog.New(out).With().Timestamp().Logger()
}
