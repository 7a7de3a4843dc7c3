package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
)

// Error carries a Code, a caller-facing message and optional details over an
// underlying cause.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the code of the first typed error in err's chain. Untyped
// errors report CodeInternal; nil reports an empty code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if typed := As(err); typed != nil {
		return typed.Code()
	}
	return CodeInternal
}

// HasCode reports whether err carries any of codes.
func HasCode(err error, codes ...Code) bool {
	if err == nil {
		return false
	}
	got := CodeOf(err)
	for _, code := range codes {
		if got == code {
			return true
		}
	}
	return false
}

// IsRetryable reports whether the operation that produced err may succeed
// when repeated unchanged. Deadline overruns are retryable; cancellation is not.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case stdErrors.Is(err, context.Canceled):
		return false
	case stdErrors.Is(err, context.DeadlineExceeded):
		return true
	}
	if typed := As(err); typed != nil {
		return MetadataFor(typed.Code()).Retryable
	}
	return false
}
