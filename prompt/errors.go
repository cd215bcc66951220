package prompt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Reason classifies a ServiceError.
type Reason string

const (
	ReasonTransport   Reason = "transport"
	ReasonTimeout     Reason = "timeout"
	ReasonAuth        Reason = "auth"
	ReasonQuota       Reason = "quota"
	ReasonRateLimited Reason = "rate_limited"
	ReasonBadRequest  Reason = "bad_request"
	ReasonEmpty       Reason = "empty"
	ReasonCanceled    Reason = "canceled"
)

// Retryable reports whether another attempt may succeed.
func (r Reason) Retryable() bool {
	switch r {
	case ReasonTransport, ReasonTimeout, ReasonRateLimited:
		return true
	}
	return false
}

// ErrEmptyResponse is wrapped by ServiceErrors with ReasonEmpty.
var ErrEmptyResponse = errors.New("model returned no content")

// ServiceError is the failure half of an Ask.
type ServiceError struct {
	Reason     Reason
	StatusCode int
	Attempts   int
	Err        error
}

func (e *ServiceError) Error() string {
	var b strings.Builder
	b.WriteString("chat completion ")
	b.WriteString(string(e.Reason))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// classify maps a client error onto a ServiceError.
func classify(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, context.Canceled):
		return &ServiceError{Reason: ReasonCanceled, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &ServiceError{Reason: ReasonTimeout, Err: err}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		reason := byStatus(apiErr.HTTPStatusCode)
		if reason == ReasonRateLimited && isQuota(apiErr) {
			reason = ReasonQuota
		}
		return &ServiceError{Reason: reason, StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		reason := byStatus(reqErr.HTTPStatusCode)
		if reason == ReasonBadRequest && reqErr.HTTPStatusCode == 0 {
			reason = ReasonTransport
		}
		return &ServiceError{Reason: reason, StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return &ServiceError{Reason: ReasonTransport, Err: err}
}

func byStatus(code int) Reason {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ReasonAuth
	case code == http.StatusTooManyRequests:
		return ReasonRateLimited
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return ReasonTimeout
	case code >= 500:
		return ReasonTransport
	}
	return ReasonBadRequest
}

func isQuota(apiErr *openai.APIError) bool {
	if code, ok := apiErr.Code.(string); ok && code == "insufficient_quota" {
		return true
	}
	return apiErr.Type == "insufficient_quota"
}
