package pipeline

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jonwraymond/geoexec/bootstrap"
	"github.com/jonwraymond/geoexec/extract"
	"github.com/jonwraymond/geoexec/prompt"
	"github.com/jonwraymond/geoexec/runtime"
)

// Kind names the boundary that failed.
type Kind string

const (
	KindServiceError       Kind = "service_error"
	KindExtractionMiss     Kind = "extraction_miss"
	KindMalformedInput     Kind = "malformed_input"
	KindCodeSyntaxError    Kind = "code_syntax_error"
	KindCodeRuntimeError   Kind = "code_runtime_error"
	KindResultMissing      Kind = "result_missing"
	KindLimitExceeded      Kind = "limit_exceeded"
	KindSandboxUnavailable Kind = "sandbox_unavailable"
	KindCanceled           Kind = "canceled"
	KindInternal           Kind = "internal"
)

// Sentinel errors, one per Kind. An *Error matches the sentinel of its Kind.
var (
	ErrServiceFailure     = errors.New("model service failure")
	ErrExtractionMiss     = errors.New("no code in model response")
	ErrMalformedInput     = errors.New("malformed input")
	ErrCodeSyntax         = errors.New("generated code has a syntax error")
	ErrCodeRuntime        = errors.New("generated code raised an error")
	ErrResultMissing      = errors.New("generated code bound no result")
	ErrLimitExceeded      = errors.New("execution limit exceeded")
	ErrSandboxUnavailable = errors.New("sandbox unavailable")
	ErrCanceled           = errors.New("request canceled")
	ErrInternal           = errors.New("internal error")
)

// ErrConfiguration indicates an invalid or incomplete configuration.
var ErrConfiguration = errors.New("configuration error")

// ErrEmptyTask is the cause of a MalformedInput error for a blank task.
var ErrEmptyTask = errors.New("task is empty")

var sentinels = map[Kind]error{
	KindServiceError:       ErrServiceFailure,
	KindExtractionMiss:     ErrExtractionMiss,
	KindMalformedInput:     ErrMalformedInput,
	KindCodeSyntaxError:    ErrCodeSyntax,
	KindCodeRuntimeError:   ErrCodeRuntime,
	KindResultMissing:      ErrResultMissing,
	KindLimitExceeded:      ErrLimitExceeded,
	KindSandboxUnavailable: ErrSandboxUnavailable,
	KindCanceled:           ErrCanceled,
	KindInternal:           ErrInternal,
}

// Error is the only error type the pipeline returns.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Message is sanitized: one line, no file paths, no traceback.
	Message string

	// Err is the unsanitized cause.
	Err error
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// classify wraps err in an *Error of the matching Kind.
func classify(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Kind: kindOf(err), Message: sanitize(err.Error()), Err: err}
}

func kindOf(err error) Kind {
	var (
		serviceErr *prompt.ServiceError
		execErr    *runtime.ExecError
	)
	switch {
	case errors.As(err, &serviceErr):
		if serviceErr.Reason == prompt.ReasonCanceled {
			return KindCanceled
		}
		return KindServiceError
	case errors.Is(err, extract.ErrNotFound):
		return KindExtractionMiss
	case errors.Is(err, bootstrap.ErrMalformedInput), errors.Is(err, ErrEmptyTask):
		return KindMalformedInput
	case errors.As(err, &execErr):
		switch execErr.Kind {
		case runtime.KindSyntax:
			return KindCodeSyntaxError
		case runtime.KindRuntime:
			return KindCodeRuntimeError
		case runtime.KindMissing:
			return KindResultMissing
		case runtime.KindLimit:
			return KindLimitExceeded
		}
	case errors.Is(err, runtime.ErrRuntimeUnavailable), errors.Is(err, runtime.ErrBackendDenied):
		return KindSandboxUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	}
	return KindInternal
}

const maxMessageRunes = 240

var (
	tracebackPattern = regexp.MustCompile(`(?s)Traceback \(most recent call last\):.*`)
	pathPattern      = regexp.MustCompile(`(?:[A-Za-z]:\\|/)(?:[\w.\-]+[/\\])+[\w.\-]*`)
	spacePattern     = regexp.MustCompile(`\s{2,}`)
)

// sanitize keeps the first line of msg, drops tracebacks and file paths and
// caps the length.
func sanitize(msg string) string {
	msg = tracebackPattern.ReplaceAllString(msg, "")
	for _, line := range strings.Split(msg, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			msg = line
			break
		}
	}
	msg = strings.TrimSpace(msg)
	msg = pathPattern.ReplaceAllString(msg, "<path>")
	msg = spacePattern.ReplaceAllString(msg, " ")
	if r := []rune(msg); len(r) > maxMessageRunes {
		msg = string(r[:maxMessageRunes-3]) + "..."
	}
	return msg
}
