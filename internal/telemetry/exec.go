package telemetry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ExecResult holds the output of running a telemetry collector.
type ExecResult struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
	ExitCode int
}

// ExecOpts configures collector execution.
type ExecOpts struct {
	Path    string
	Timeout time.Duration
	Env     map[string]string
}

// Exec runs a collector executable and captures its output.
// Non-zero exit codes are captured (not treated as errors).
// Timeouts are treated as errors.
func Exec(ctx context.Context, opts ExecOpts) (*ExecResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, opts.Path)
	cmd.Env = buildEnv(opts.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return result, fmt.Errorf("telemetry collector timed out after %s", opts.Timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("executing telemetry collector: %w", err)
	}

	return result, nil
}

func buildEnv(vars map[string]string) []string {
	env := make([]string, 0, len(vars))
	for k, v := range vars {
		env = append(env, "CRASHRELAY_"+strings.ToUpper(k)+"="+v)
	}
	return env
}
