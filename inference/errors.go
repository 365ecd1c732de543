package inference

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindMissingInput
	KindBadRequest
	KindUnreadableImage
	KindFetchFailure
	KindUnavailable
	KindInferenceFailure
)

func (k Kind) String() string {
	switch k {
	case KindMissingInput:
		return "missing_input"
	case KindBadRequest:
		return "bad_request"
	case KindUnreadableImage:
		return "unreadable_image"
	case KindFetchFailure:
		return "fetch_failure"
	case KindUnavailable:
		return "unavailable"
	case KindInferenceFailure:
		return "inference_failure"
	default:
		return "internal"
	}
}

// MsgNoImage is the client-facing message for a request carrying neither a file nor a URL.
const MsgNoImage = "No image data provided"

// ErrMissingInput is returned when a request carries neither an image nor a url.
var ErrMissingInput = &Error{Kind: KindMissingInput, Message: MsgNoImage}

type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf reports the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the client-safe message of the first *Error in err's chain.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
