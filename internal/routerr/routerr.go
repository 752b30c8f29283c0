// Package routerr implements the router's closed error taxonomy.
package routerr

import "fmt"

// Kind is one of the exhaustive, closed set of error kinds the router ever
// returns to a caller.
type Kind string

const (
	KindInvalidRequest Kind = "invalid_request"
	KindRejected        Kind = "rejected"
	KindEndpointOpen    Kind = "endpoint_open"
	KindTimeout         Kind = "timeout"
	KindCapacity        Kind = "capacity"
	KindUpstream5xx     Kind = "upstream_5xx"
	KindUpstream4xx     Kind = "upstream_4xx"
	KindNetwork         Kind = "network"
	KindCancelled       Kind = "cancelled"
	KindConfig          Kind = "config"
)

// Error is the concrete error type carrying a Kind, a message, and the
// endpoint(s) attempted so far.
type Error struct {
	Kind      Kind
	Message   string
	Attempted []string
	Hint      string
	Wrapped   error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// New builds a bare Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind wrapping an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Wrapped: err}
}

// WithAttempted returns a copy of e with Attempted set.
func (e *Error) WithAttempted(names ...string) *Error {
	c := *e
	c.Attempted = append([]string(nil), names...)
	return &c
}

// WithHint returns a copy of e with a routing hint attached.
func (e *Error) WithHint(hint string) *Error {
	c := *e
	c.Hint = hint
	return &c
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}

// CountsAsBreakerFailure reports whether an outcome of this kind should be
// counted against the per-endpoint circuit breaker: only timeouts, 5xx,
// connection errors (network), and capacity (429) count.
func CountsAsBreakerFailure(kind Kind) bool {
	switch kind {
	case KindTimeout, KindCapacity, KindUpstream5xx, KindNetwork:
		return true
	default:
		return false
	}
}

// ShouldRetrySameEndpoint reports whether this kind warrants a same-endpoint
// retry (only ErrNetwork, the policy summary).
func ShouldRetrySameEndpoint(kind Kind) bool {
	return kind == KindNetwork
}

// ShouldFailOver reports whether this kind warrants trying the next
// candidate endpoint.
func ShouldFailOver(kind Kind) bool {
	switch kind {
	case KindTimeout, KindCapacity, KindUpstream5xx, KindUpstream4xx, KindNetwork:
		return true
	default:
		return false
	}
}

// IsFastFail reports whether this kind must be returned immediately with no
// retry and no failover.
func IsFastFail(kind Kind) bool {
	switch kind {
	case KindCancelled, KindEndpointOpen, KindInvalidRequest, KindRejected:
		return true
	default:
		return false
	}
}
