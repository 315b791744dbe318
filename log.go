package geocore

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is the package-wide structured logger. §7 specifies four levels used
// by readers: CRITICAL for corrupt inputs, ERROR for I/O failures, WARNING
// for retryable failures that succeeded on retry, and DEBUG for
// out-of-bounds sampling. zerolog has no CRITICAL level, so it is mapped to
// zerolog's own Fatal-adjacent "error" level tagged with a "critical" field
// rather than terminating the process — a corrupt dataset tears down one
// read, not the server.
var Log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

func LogCritical(err error, reason string) {
	Log.Error().Bool("critical", true).Err(err).Msg(reason)
}

func LogError(err error, msg string) {
	Log.Error().Err(err).Msg(msg)
}

func LogWarningRetry(err error, msg string) {
	Log.Warn().Err(err).Msg(msg)
}

func LogDebugOutOfBounds(msg string) {
	Log.Debug().Msg(msg)
}
