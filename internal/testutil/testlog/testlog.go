package testlog

import (
	"testing"

	"github.com/rs/zerolog"
)

// Logger returns a logger that routes through t so output stays attached
// to the test that produced it.
func Logger(t *testing.T) zerolog.Logger {
	t.Helper()
	return zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
}
