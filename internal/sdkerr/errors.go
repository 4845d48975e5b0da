package sdkerr

import (
	"errors"
	"fmt"
)

var (
	ErrTransport           = errors.New("transport error")
	ErrDecode              = errors.New("decode error")
	ErrDerivationExhausted = errors.New("no valid program address for seeds")
	ErrInvalidSeeds        = errors.New("invalid seeds")
	ErrInvalidMarketIndex  = errors.New("invalid market index")
	ErrAlreadyInitialized  = errors.New("account already initialized")
	ErrAccountNotFound     = errors.New("account not found")
	ErrSubmit              = errors.New("submission failed")
)

// Error carries the failing operation and subject alongside its kind.
// errors.Is matches both Kind and the wrapped cause.
type Error struct {
	Kind    error
	Op      string
	Subject string
	Err     error
}

func New(kind error, op string, subject string, err error) *Error {
	return &Error{Kind: kind, Op: op, Subject: subject, Err: err}
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Subject != "" {
		msg += " " + e.Subject
	}
	msg = fmt.Sprintf("%s: %v", msg, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// KindOf reports the first sentinel kind found in err's chain, or nil.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrTransport,
		ErrDecode,
		ErrDerivationExhausted,
		ErrInvalidSeeds,
		ErrInvalidMarketIndex,
		ErrAlreadyInitialized,
		ErrAccountNotFound,
		ErrSubmit,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
