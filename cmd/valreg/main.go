// Command valreg compares metric snapshots of a pull request against the
// snapshots of its merge-base and reports the result on the pull request.
//
// Usage:
//
//	valreg run                                  # inside a GitHub Actions job
//	valreg compare --expected DIR --actual DIR  # local comparison
//	valreg version
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}

// exitError carries a process exit code without being logged as a failure.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return "exit status " + strconv.Itoa(e.code) }

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	slog.Error("valreg failed", "error", err)
	return 1
}
