package testlog

import (
	"fmt"
	"testing"

	"github.com/danmuck/devexec/internal/logging"
	"github.com/rs/zerolog/log"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Info().Msgf("test=%s", t.Name())
}

// Logf writes a debug line tagged with the running test.
func Logf(t *testing.T, format string, args ...any) {
	t.Helper()
	log.Debug().Str("test", t.Name()).Msg(fmt.Sprintf(format, args...))
}
