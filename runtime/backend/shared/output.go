// Package shared provides common utilities for backend implementations.
package shared

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/jonwraymond/geoexec/runtime"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Frame is the single result line a worker writes.
type Frame struct {
	Status          string         `json:"status"`
	Value           *runtime.Value `json:"value,omitempty"`
	Stdout          string         `json:"stdout"`
	StdoutTruncated bool           `json:"stdout_truncated,omitempty"`
	Error           *FrameError    `json:"error,omitempty"`
}

// FrameError describes a failure reported by the worker.
type FrameError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Reason  string `json:"reason"`
}

// Frame statuses written by the driver.
const (
	StatusOK      = "ok"
	StatusMissing = "missing"
	StatusSyntax  = "syntax"
	StatusRuntime = "runtime"
	StatusDenied  = "denied"
	StatusLimit   = "limit"

	// StatusUnavailable means the worker image lacks a required module.
	StatusUnavailable = "unavailable"
)

// ExtractFrame finds the frame for nonce in stdout.
//
// Behavior:
//   - Scans lines from the end; the last line carrying the prefix and nonce wins
//   - Lines without the exact nonce are treated as program output and kept
//   - Returns ok=false when no frame line is present
//   - Returns ErrProtocol when the frame line is present but not valid JSON
func ExtractFrame(stdout, nonce string) (frame Frame, remaining string, ok bool, err error) {
	if stdout == "" {
		return Frame{}, "", false, nil
	}
	marker := runtime.FramePrefix + nonce + ":"
	lines := strings.Split(stdout, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, marker) {
			continue
		}
		payload := strings.TrimPrefix(line, marker)
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			return Frame{}, stdout, true, fmt.Errorf("%w: decode frame: %v", runtime.ErrProtocol, err)
		}
		rest := append(append([]string(nil), lines[:i]...), lines[i+1:]...)
		return frame, strings.TrimRight(strings.Join(rest, "\n"), "\n"), true, nil
	}
	return Frame{}, stdout, false, nil
}

// Output splits a worker's stdout stream.
type Output struct {
	// Stdout is what the program printed, as captured by the driver.
	Stdout string

	// Stray is every line outside the frame: native writes to fd 1 and, on
	// backends that merge streams, tracebacks. It is for operators only.
	Stray string
}

// Diagnostics appends the stray lines to a worker's stderr.
func (o Output) Diagnostics(stderr string) string {
	switch {
	case o.Stray == "":
		return stderr
	case stderr == "":
		return o.Stray
	}
	return strings.TrimRight(stderr, "\n") + "\n" + o.Stray
}

// Outcome decodes a worker's stdout into the result value, the program's own
// output, and a classified error. Only frame.Stdout is treated as program
// output; everything else lands in Output.Stray.
func Outcome(env runtime.Envelope, stdout string) (runtime.Value, Output, error) {
	frame, rest, ok, err := ExtractFrame(stdout, env.Nonce)
	if err != nil {
		return runtime.Value{}, Output{Stray: rest}, err
	}
	if !ok {
		return runtime.Value{}, Output{Stray: rest}, fmt.Errorf("%w: worker exited without a result frame", runtime.ErrProtocol)
	}
	out := Output{Stdout: frame.Stdout, Stray: rest}
	switch frame.Status {
	case StatusOK:
		if frame.Value == nil {
			return runtime.Value{}, out, fmt.Errorf("%w: ok frame without a value", runtime.ErrProtocol)
		}
		return *frame.Value, out, nil
	case StatusMissing:
		return runtime.Value{}, out, runtime.MissingError(env.ResultName)
	case StatusUnavailable:
		msg := "worker environment is incomplete"
		if frame.Error != nil && frame.Error.Message != "" {
			msg = frame.Error.Message
		}
		return runtime.Value{}, out, fmt.Errorf("%w: %s", runtime.ErrRuntimeUnavailable, msg)
	case StatusSyntax, StatusRuntime, StatusDenied, StatusLimit:
		return runtime.Value{}, out, frameError(frame, env.CodeOffset)
	}
	return runtime.Value{}, out, fmt.Errorf("%w: unknown frame status %q", runtime.ErrProtocol, frame.Status)
}

func frameError(frame Frame, offset int) *runtime.ExecError {
	fe := frame.Error
	if fe == nil {
		fe = &FrameError{}
	}
	e := &runtime.ExecError{
		Exception: fe.Type,
		Message:   fe.Message,
		Line:      codeLine(fe.Line, offset),
		Reason:    fe.Reason,
	}
	if e.Line > 0 {
		e.Column = fe.Column
	}
	switch frame.Status {
	case StatusSyntax:
		e.Kind = runtime.KindSyntax
	case StatusDenied:
		e.Kind = runtime.KindRuntime
		if e.Reason == "" {
			e.Reason = "import"
		}
	case StatusLimit:
		e.Kind = runtime.KindLimit
		if e.Message == "" {
			e.Message = "resource limit exceeded"
		}
	default:
		e.Kind = runtime.KindRuntime
	}
	return e
}

// codeLine maps a program line onto the generated code. Lines inside the
// preamble map to zero.
func codeLine(line, offset int) int {
	if line <= offset {
		return 0
	}
	return line - offset
}

// Unframed classifies a worker that produced no frame. oomKilled is set by
// backends that can observe the kernel or orchestrator OOM verdict.
func Unframed(err error, exitCode int, oomKilled bool) error {
	switch {
	case oomKilled:
		return runtime.LimitError("memory", "worker was killed after exceeding its memory limit")
	case exitCode == 137:
		return runtime.LimitError("killed", "worker was killed (exit status 137)")
	}
	return fmt.Errorf("%w (exit status %d)", err, exitCode)
}
