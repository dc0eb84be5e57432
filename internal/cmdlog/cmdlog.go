package cmdlog

import (
	"time"

	"github.com/rs/zerolog"

	"reactally/internal/metrics"
)

// Run executes one CLI command, counting it and logging its outcome.
func Run(log zerolog.Logger, cmd string, f func() error) error {
	metrics.IncCommandRun(cmd)
	start := time.Now()
	err := f()
	if err != nil {
		metrics.IncCommandError(cmd)
		log.Error().Err(err).Str("command", cmd).Dur("took", time.Since(start)).Msg("command failed")
	} else {
		log.Debug().Str("command", cmd).Dur("took", time.Since(start)).Msg("command ok")
	}
	return err
}
