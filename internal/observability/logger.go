package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger derives a component logger from the process logger.
func Logger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
