package router

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failed operation.
type Kind string

const (
	KindNotFound            Kind = "NotFound"
	KindDisabled            Kind = "Disabled"
	KindConnectionRefused   Kind = "ConnectionRefused"
	KindTimeout             Kind = "Timeout"
	KindNoStateAvailable    Kind = "NoStateAvailable"
	KindAllTransportsFailed Kind = "AllTransportsFailed"
)

// ErrNoState means no document was observed in the settle window.
var ErrNoState = errors.New("no state available")

// Error is returned by Router.Execute.
type Error struct {
	Kind Kind
	Op   Op
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind of err. Errors not produced by the router are
// reported as ConnectionRefused.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindConnectionRefused
}

// connectionFailure maps a failed acquisition when no fallback applies.
func connectionFailure(op Op, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Op: op, Err: err}
	}
	return &Error{Kind: KindConnectionRefused, Op: op, Err: err}
}
