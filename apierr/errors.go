// Package apierr holds the error taxonomy shared by the request gateway, the
// event dispatcher and the client facade.
package apierr

import (
	"errors"
	"fmt"
	"time"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindAuthenticationFailed
	KindNotFound
	KindRateLimited
	KindTransport
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindAuthenticationFailed:
		return "authentication failed"
	case KindNotFound:
		return "not found"
	case KindRateLimited:
		return "rate limited"
	case KindTransport:
		return "transport error"
	case KindDecode:
		return "decode error"
	}
	return "unknown"
}

// Error carries the kind of failure together with the operation that hit it.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	// Status is the remote status code, zero when no response was received.
	Status int
	// RetryAfter is only set for KindRateLimited.
	RetryAfter time.Duration
	Err        error
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrInvalidArgument      = &Error{Kind: KindInvalidArgument}
	ErrAuthenticationFailed = &Error{Kind: KindAuthenticationFailed}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrRateLimited          = &Error{Kind: KindRateLimited}
	ErrTransport            = &Error{Kind: KindTransport}
	ErrDecode               = &Error{Kind: KindDecode}
)

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status=%d)", e.Status)
	}
	if e.Kind == KindRateLimited && e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry_after=%s)", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Err == nil
}

func InvalidArgument(op, format string, args ...any) error {
	return &Error{Kind: KindInvalidArgument, Op: op, Message: fmt.Sprintf(format, args...)}
}

func AuthenticationFailed(op string, status int, err error) error {
	return &Error{Kind: KindAuthenticationFailed, Op: op, Status: status, Err: err}
}

func NotFound(op, message string) error {
	return &Error{Kind: KindNotFound, Op: op, Message: message, Status: 404}
}

func RateLimited(op string, retryAfter time.Duration) error {
	return &Error{Kind: KindRateLimited, Op: op, Status: 429, RetryAfter: retryAfter}
}

func Transport(op string, status int, err error) error {
	return &Error{Kind: KindTransport, Op: op, Status: status, Err: err}
}

func Decode(op string, err error) error {
	return &Error{Kind: KindDecode, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// RetryAfter reports the advertised delay of a rate limited error.
func RetryAfter(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindRateLimited {
		return e.RetryAfter, true
	}
	return 0, false
}
