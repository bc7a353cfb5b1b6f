package chat

import (
	"errors"
	"fmt"
)

// Kind classifies errors for callers and transports.
type Kind uint8

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindNotFound
	KindConflict
	KindInvalidInput
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidInput:
		return "invalid_input"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// ParseKind is the inverse of Kind.String. Unknown names map to KindInternal.
func ParseKind(s string) Kind {
	for _, k := range []Kind{KindUnauthorized, KindNotFound, KindConflict, KindInvalidInput, KindRateLimited} {
		if k.String() == s {
			return k
		}
	}
	return KindInternal
}

// Error is a classified domain error.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// Sentinels for errors.Is checks. Matching is by Kind.
var (
	ErrUnauthorized = &Error{Kind: KindUnauthorized, Msg: "unauthorized"}
	ErrNotFound     = &Error{Kind: KindNotFound, Msg: "not found"}
	ErrConflict     = &Error{Kind: KindConflict, Msg: "conflict"}
	ErrInvalidInput = &Error{Kind: KindInvalidInput, Msg: "invalid input"}
	ErrRateLimited  = &Error{Kind: KindRateLimited, Msg: "rate limited"}
	ErrInternal     = &Error{Kind: KindInternal, Msg: "internal error"}

	// ErrNotMember is the Conflict returned when leaving a room the user is not in.
	ErrNotMember = &Error{Kind: KindConflict, Msg: "not a member of this room"}
)

// E builds a classified error.
func E(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = fmt.Sprintf("%s: %v", msg, e.Err)
		}
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind, so errors.Is(err, ErrConflict)
// holds for every conflict. ErrNotMember additionally requires the same message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t == ErrNotMember {
		return e.Kind == KindConflict && e.Msg == ErrNotMember.Msg
	}
	return t.Op == "" && t.Err == nil && e.Kind == t.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicMessage returns text safe to send to a client. Internal errors never
// expose their cause.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) || e.Kind == KindInternal {
		return "Internal server error."
	}
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.String()
}
