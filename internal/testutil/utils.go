package testutil

import (
	"log"
	"os"
	"testing"
)

// TestLogger returns a logger with the marketplace test prefix for
// handing to components under test.
func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "[marketplace-test] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}
