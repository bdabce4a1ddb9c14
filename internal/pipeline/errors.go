package pipeline

import (
	"context"
	"errors"
	"fmt"

	"jarvis-shell/internal/translator"
)

// ErrorKind classifies why a request was left unresolved.
type ErrorKind int

const (
	// NotUnderstood covers a rule miss with no usable model answer.
	NotUnderstood ErrorKind = iota
	// Unsafe means the candidate command matched the deny-list.
	Unsafe
	// Unavailable means the model could not be reached in time.
	Unavailable
	// Cancelled means the caller gave up on the request.
	Cancelled
)

func (k ErrorKind) String() string {
	switch k {
	case Unsafe:
		return "unsafe"
	case Unavailable:
		return "unavailable"
	case Cancelled:
		return "cancelled"
	default:
		return "not_understood"
	}
}

const msgNotUnderstood = "I couldn't understand that."

// ResolutionError carries the user-facing reason a request stayed unresolved.
type ResolutionError struct {
	Kind      ErrorKind
	Message   string
	Candidate string // rejected command, for Unsafe
	Err       error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// classify maps a translator failure to a user-facing resolution error.
func classify(ctx context.Context, err error) *ResolutionError {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &ResolutionError{Kind: Cancelled, Message: "Request cancelled.", Err: ctxErr}
	}

	var te *translator.Error
	errors.As(err, &te)

	switch {
	case errors.Is(err, translator.ErrUnsafeCommand):
		re := &ResolutionError{Kind: Unsafe, Err: err}
		if te != nil {
			re.Candidate = te.Candidate
		}
		re.Message = unsafeMessage(re.Candidate)
		return re
	case errors.Is(err, translator.ErrUnreachable):
		return &ResolutionError{
			Kind:    Unavailable,
			Message: msgNotUnderstood + " The local model is not responding.",
			Err:     err,
		}
	default:
		return &ResolutionError{Kind: NotUnderstood, Message: msgNotUnderstood, Err: err}
	}
}

func unsafeMessage(cmd string) string {
	if cmd == "" {
		return "🚫 Refused: the command looks destructive."
	}
	return fmt.Sprintf("🚫 Refused to run %q: it looks destructive.", cmd)
}
