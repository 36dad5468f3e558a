package logger

import (
	"os"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func New() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Caller().
		Logger()

	logger = logger.Level(zerolog.InfoLevel)

	return logger
}

// WithLevel re-levels a logger from a config string, keeping the default
// when the string does not parse. The global level is lowered too so that
// loggers derived before the config was loaded honor it.
func WithLevel(logger zerolog.Logger, level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		logger.Warn().Str("level", level).Msg("unknown log level, keeping default")
		return logger
	}
	zerolog.SetGlobalLevel(parsed)
	return logger.Level(parsed)
}

var Module = fx.Provide(New)
