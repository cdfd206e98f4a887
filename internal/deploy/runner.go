// Package deploy triggers the external publish action, typically a
// script that rebuilds the static site and pushes it. The command is
// opaque to this service: it either succeeds or fails, and its output is
// passed back to the operator.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// ErrNotConfigured is returned when no deploy command is set.
var ErrNotConfigured = errors.New("no deploy command configured")

type Runner struct {
	command []string
	timeout time.Duration
}

func NewRunner(command []string, timeout time.Duration) *Runner {
	return &Runner{command: command, timeout: timeout}
}

// Trigger runs the configured command and returns its combined output.
// The returned message is meaningful on failure too: build tools report
// their errors on stdout/stderr, not in the exit code alone.
func (r *Runner) Trigger(ctx context.Context) (string, error) {
	if len(r.command) == 0 {
		return "", ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	slog.Info("deploy triggered", "command", r.command[0])
	started := time.Now()

	cmd := exec.CommandContext(ctx, r.command[0], r.command[1:]...)
	output, err := cmd.CombinedOutput()
	message := strings.TrimSpace(string(output))
	if err != nil {
		slog.Error("deploy failed", "error", err, "elapsed", time.Since(started))
		if message == "" {
			message = err.Error()
		}
		return message, fmt.Errorf("deploy command failed: %w", err)
	}

	slog.Info("deploy finished", "elapsed", time.Since(started))
	if message == "" {
		message = "deploy completed"
	}
	return message, nil
}
