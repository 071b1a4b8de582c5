// Package collaborator runs the external inference and mesh tools.
package collaborator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"sharp-job-service/internal/entity"
)

// maxStderr bounds how much tool output ends up in a job's error text.
const maxStderr = 2000

// run executes name with a wall-clock bound. A blown deadline maps to
// ErrTimeout, anything else that fails to ErrCollaboratorFailure.
func run(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%s exceeded %s: %w", name, timeout, entity.ErrTimeout)
	}
	if errors.Is(err, exec.ErrNotFound) {
		return nil, fmt.Errorf("%s not installed: %w", name, entity.ErrCollaboratorFailure)
	}
	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		msg = err.Error()
	}
	return nil, fmt.Errorf("%s failed: %s: %w", name, Truncate(msg, maxStderr), entity.ErrCollaboratorFailure)
}

// Truncate cuts s to at most max bytes without splitting a UTF-8 sequence.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
