package services

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// CommandResult captures the outcome of one external command invocation.
type CommandResult struct {
	Success bool
	Output  string
}

// RunCommand executes an external command in dir with a bounded timeout.
// Timeout is classified as ErrTimeout; any other non-zero exit is an
// ErrExternalTool carrying the combined output.
func RunCommand(ctx context.Context, dir string, timeout time.Duration, name string, args ...string) (CommandResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	output := strings.TrimSpace(buf.String())
	if err == nil {
		return CommandResult{Success: true, Output: output}, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return CommandResult{Output: output}, Wrap(ErrTimeout, "", name, "command timed out", err)
	}
	return CommandResult{Output: output}, Wrap(ErrExternalTool, "", name, output, err)
}
