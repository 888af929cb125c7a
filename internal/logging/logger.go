package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LevelEnv is the environment variable consulted when no explicit level is given.
const LevelEnv = "PENGUIN_LOG_LEVEL"

// Init configures the global zerolog logger.
// level is one of debug, info, warn, error (default: info). When empty the
// value of PENGUIN_LOG_LEVEL is used. format "json" writes raw JSON lines
// (CloudWatch friendly); anything else uses the human console writer.
func Init(level, format string) {
	if level == "" {
		level = os.Getenv(LevelEnv)
	}
	zerolog.SetGlobalLevel(ParseLevel(level))
	log.Logger = zerolog.New(writerFor(format, os.Stderr)).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func writerFor(format string, out io.Writer) io.Writer {
	if strings.EqualFold(format, "json") {
		return out
	}
	return zerolog.ConsoleWriter{Out: out}
}
