package relay

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the public classification of a relay failure.
type Kind int

const (
	KindInternal Kind = iota
	KindAuthenticationRequired
	KindRateLimitExceeded
	KindValidationFailed
	KindAssistantNotConfigured
	KindServiceConfig
	KindThreadCreateFailed
	KindMessageSendFailed
	KindRunStartFailed
	KindUpstreamFailed
)

var kinds = map[Kind]struct {
	code    string
	status  int
	message string
}{
	KindInternal:               {"internal-error", http.StatusInternalServerError, "internal server error"},
	KindAuthenticationRequired: {"authentication-required", http.StatusUnauthorized, "authentication required"},
	KindRateLimitExceeded:      {"rate-limit-exceeded", http.StatusTooManyRequests, "too many requests, please try again later"},
	KindValidationFailed:       {"validation-failed", http.StatusBadRequest, "invalid request"},
	KindAssistantNotConfigured: {"assistant-not-configured", http.StatusBadRequest, "no assistant configured, choose an assistant first"},
	KindServiceConfig:          {"service-not-configured", http.StatusInternalServerError, "service configuration error"},
	KindThreadCreateFailed:     {"thread-create-failed", http.StatusInternalServerError, "failed to create thread"},
	KindMessageSendFailed:      {"message-send-failed", http.StatusInternalServerError, "failed to send message"},
	KindRunStartFailed:         {"run-start-failed", http.StatusInternalServerError, "failed to start assistant run"},
	KindUpstreamFailed:         {"upstream-error", http.StatusInternalServerError, "AI service error"},
}

func (k Kind) Code() string   { return kinds[k].code }
func (k Kind) Status() int    { return kinds[k].status }
func (k Kind) String() string { return kinds[k].code }

// Error is a relay failure. Message is safe to return to the caller; Err is for logs only.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind.Code(), e.Message)
	}
	return fmt.Sprintf("%s: %v", e.Kind.Code(), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func fail(kind Kind, err error) *Error {
	return &Error{Kind: kind, Message: kinds[kind].message, Err: err}
}

func invalid(msg string) *Error {
	return &Error{Kind: KindValidationFailed, Message: msg}
}

// AsError classifies err; anything that is not an *Error is internal.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return fail(KindInternal, err)
}
