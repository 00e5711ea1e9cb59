// Package runner executes external tools (poppler, tesseract) behind an
// interface so tests can stub them.
package runner

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Runner runs a command to completion and returns its output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// Exec runs real binaries via os/exec.
type Exec struct {
	Log *slog.Logger
}

// New returns an Exec runner. A nil logger falls back to slog.Default.
func New(log *slog.Logger) *Exec {
	if log == nil {
		log = slog.Default()
	}
	return &Exec{Log: log}
}

func (e *Exec) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	dur := time.Since(start)

	if err != nil {
		e.Log.Warn("exec failed",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", dur.Milliseconds(),
			"error", err,
			"stderr", Truncate(errb.String(), 8<<10), // cap at 8KB
		)
	} else {
		e.Log.Debug("exec ok",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", dur.Milliseconds(),
			"stdout_bytes", out.Len(),
			"stderr_bytes", errb.Len(),
		)
	}

	return out.Bytes(), errb.Bytes(), err
}

// Truncate caps s at max bytes.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

// Func adapts a function to the Runner interface.
type Func func(ctx context.Context, name string, args ...string) ([]byte, []byte, error)

func (f Func) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	return f(ctx, name, args...)
}
