package providers

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
)

type ErrorKind string

const (
	ErrorKindAuth      ErrorKind = "auth"
	ErrorKindRateLimit ErrorKind = "rate-limit"
	ErrorKindNetwork   ErrorKind = "network"
	ErrorKindModel     ErrorKind = "model"
	ErrorKindUnknown   ErrorKind = "unknown"
)

// Error is a backend failure. Message is meant for users and never carries
// key material.
type Error struct {
	Kind     ErrorKind
	Provider string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Provider)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind ErrorKind, provider string, message string, err error) *Error {
	return &Error{
		Kind:     kind,
		Provider: provider,
		Message:  message,
		Err:      err,
	}
}

// KindFromStatus maps an HTTP status code to an error kind.
func KindFromStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorKindAuth
	case status == http.StatusTooManyRequests:
		return ErrorKindRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		return ErrorKindNetwork
	case status >= 400:
		return ErrorKindModel
	default:
		return ErrorKindUnknown
	}
}

// Classify turns an arbitrary error into an *Error. Errors that already are
// *Error are returned as is. Context cancellation passes through untouched so
// callers can tell a stop from a failure.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(ErrorKindNetwork, provider, fmt.Sprintf("%s request timed out", provider), err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewError(ErrorKindNetwork, provider, fmt.Sprintf("could not reach %s: %s", provider, netErr.Error()), err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return NewError(ErrorKindNetwork, provider, fmt.Sprintf("could not reach %s: %s", provider, urlErr.Error()), err)
	}
	return NewError(ErrorKindUnknown, provider, err.Error(), err)
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == kind
}
