package translator

import (
	"errors"
	"fmt"
)

var (
	ErrUnreachable   = errors.New("model unreachable")
	ErrEmptyResponse = errors.New("model returned nothing")
	ErrUnparseable   = errors.New("model output is not a single command")
	ErrUnsafeCommand = errors.New("model proposed a destructive command")
	ErrDisabled      = errors.New("model translator disabled")
)

// Kind classifies a translation failure.
type Kind int

const (
	KindUnreachable Kind = iota
	KindEmptyResponse
	KindUnparseable
	KindUnsafe
	KindDisabled
)

func (k Kind) sentinel() error {
	switch k {
	case KindUnreachable:
		return ErrUnreachable
	case KindEmptyResponse:
		return ErrEmptyResponse
	case KindUnparseable:
		return ErrUnparseable
	case KindUnsafe:
		return ErrUnsafeCommand
	default:
		return ErrDisabled
	}
}

func (k Kind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindEmptyResponse:
		return "empty"
	case KindUnparseable:
		return "unparseable"
	case KindUnsafe:
		return "unsafe"
	default:
		return "disabled"
	}
}

// Error is returned by Translate. errors.Is matches both the kind's sentinel and
// the underlying cause.
type Error struct {
	Kind      Kind
	Err       error
	Candidate string // the rejected command, for unsafe and unparseable output
}

func (e *Error) Error() string {
	msg := e.Kind.sentinel().Error()
	if e.Candidate != "" {
		msg = fmt.Sprintf("%s: %q", msg, e.Candidate)
	}
	if e.Err != nil && !errors.Is(e.Err, e.Kind.sentinel()) {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind.sentinel() }

func newError(k Kind, err error, candidate string) *Error {
	return &Error{Kind: k, Err: err, Candidate: candidate}
}
