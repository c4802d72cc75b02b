// Package invoker implements the Claude Invoker (spec §4.4): the thin
// leaf that executes exactly one task by spawning the `claude` CLI as a
// child process. Grounded on the teacher's internal/tools.HostExecutor
// (exec.CommandContext + buffer capture + timeout) and on the fixed
// `claude --print ... --output-format` invocation shape shown by the
// pack's Claude-Code-orchestrator reference file.
package invoker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/noxhq/nox/internal/shared"
)

const (
	// DefaultTimeout is the wall-clock budget for one invocation
	// (spec §4.4, "default 10 minutes, configurable per agent").
	DefaultTimeout = 10 * time.Minute

	// DefaultOutputCap bounds captured stdout/stderr (spec §4.4, "default 4 MiB").
	DefaultOutputCap = 4 * 1024 * 1024

	// terminationGrace is how long the invoker waits after SIGTERM before
	// escalating to SIGKILL (spec §4.4, "grace period (5s)").
	terminationGrace = 5 * time.Second

	stderrTailLen = 4096
)

// ErrorKind is the closed set of invocation failure kinds (spec §4.4).
type ErrorKind string

const (
	KindSpawnFailed    ErrorKind = "SpawnFailed"
	KindTimeout        ErrorKind = "Timeout"
	KindNonZeroExit    ErrorKind = "NonZeroExit"
	KindOutputTooLarge ErrorKind = "OutputTooLarge"
	KindSignalled      ErrorKind = "Signalled"
)

// InvocationError reports why an invocation did not produce Ok(text).
type InvocationError struct {
	Kind       ErrorKind
	ExitCode   int
	StderrTail string
	Err        error
}

func (e *InvocationError) Error() string {
	switch e.Kind {
	case KindNonZeroExit:
		return fmt.Sprintf("%s: exit code %d: %s", e.Kind, e.ExitCode, e.StderrTail)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		return string(e.Kind)
	}
}

func (e *InvocationError) Unwrap() error { return e.Err }

// Limits bounds a single invocation; a zero value field falls back to the
// package default.
type Limits struct {
	Timeout   time.Duration
	OutputCap int
	Model     string
}

// Result is the successful outcome of one invocation.
type Result struct {
	Text     string
	Duration time.Duration
}

// Invoker spawns the `claude` CLI binary. Binary is overridable for tests.
type Invoker struct {
	Binary string
}

// New returns an Invoker that spawns the "claude" binary found on PATH.
func New() *Invoker {
	return &Invoker{Binary: "claude"}
}

// Invoke executes one task: spawn, wait (bounded by limits.Timeout),
// capture output (bounded by limits.OutputCap), and classify the outcome.
// No retry happens here (spec §4.4); retry policy, if any, lives above
// this layer.
func (inv *Invoker) Invoke(ctx context.Context, systemPrompt, taskDescription string, limits Limits) (Result, error) {
	timeout := limits.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	outputCap := limits.OutputCap
	if outputCap <= 0 {
		outputCap = DefaultOutputCap
	}
	model := limits.Model
	if model == "" {
		model = "default"
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := systemPrompt + "\n\n" + taskDescription

	// Built with exec.Command, not exec.CommandContext: the latter installs
	// its own ctx-cancel watcher that SIGKILLs the process the instant
	// runCtx's deadline elapses, racing startAndWait's manual
	// SIGTERM-then-grace-then-SIGKILL protocol below. startAndWait alone
	// owns termination.
	cmd := exec.Command(inv.Binary,
		"--print",
		"--model", model,
		"--output-format", "text",
		prompt,
	)

	stdout := newCappedBuffer(outputCap)
	stderr := newTailBuffer(stderrTailLen)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := startAndWait(cmd, runCtx, terminationGrace)
	elapsed := time.Since(start)

	if stdout.overflowed {
		return Result{}, &InvocationError{Kind: KindOutputTooLarge}
	}

	if err != nil {
		return Result{}, classifyExecError(err, runCtx, stderr)
	}

	return Result{Text: shared.Redact(stdout.String()), Duration: elapsed}, nil
}

// classifyExecError distinguishes why startAndWait's cmd.Wait failed. The
// deadline check runs first: a timed-out invocation is terminated by
// startAndWait's own SIGTERM/SIGKILL, so cmd.Wait always reports a
// signalled ExitError in that case too, and the two outcomes are only
// distinguishable through runCtx's own error, not the signal (spec §4.4,
// scenario expecting "Timeout" in metadata.error on deadline).
func classifyExecError(err error, runCtx context.Context, stderr *tailBuffer) error {
	if runCtx.Err() == context.DeadlineExceeded {
		return &InvocationError{Kind: KindTimeout, Err: runCtx.Err()}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return &InvocationError{Kind: KindSignalled, Err: err}
		}
		return &InvocationError{
			Kind:       KindNonZeroExit,
			ExitCode:   exitErr.ExitCode(),
			StderrTail: shared.Redact(stderr.String()),
			Err:        err,
		}
	}
	return &InvocationError{Kind: KindSpawnFailed, Err: err}
}

// startAndWait runs cmd to completion, converting a context-deadline kill
// into the polite-SIGTERM-then-grace-then-SIGKILL protocol of spec §4.4
// instead of Go's default immediate SIGKILL-on-cancel behavior.
func startAndWait(cmd *exec.Cmd, ctx context.Context, grace time.Duration) error {
	if err := cmd.Start(); err != nil {
		return &InvocationError{Kind: KindSpawnFailed, Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = cmd.Process.Signal(syscall.SIGTERM)
		}
		select {
		case err := <-done:
			return err
		case <-time.After(grace):
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
			<-done
			return ctx.Err()
		}
	}
}

// cappedBuffer accumulates up to limit bytes, recording whether it would
// have overflowed (spec §4.4 "caps captured stdout/stderr at a fixed
// size").
type cappedBuffer struct {
	buf        bytes.Buffer
	limit      int
	overflowed bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if c.overflowed {
		return len(p), nil
	}
	remaining := c.limit - c.buf.Len()
	if remaining <= 0 {
		c.overflowed = true
		return len(p), nil
	}
	if len(p) > remaining {
		c.buf.Write(p[:remaining])
		c.overflowed = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) String() string { return c.buf.String() }

// tailBuffer keeps only the last limit bytes written to it, for
// stderr_tail (spec §4.4 "NonZeroExit(code, stderr_tail)").
type tailBuffer struct {
	limit int
	data  []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.data = append(t.data, p...)
	if len(t.data) > t.limit {
		t.data = t.data[len(t.data)-t.limit:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return string(t.data) }
