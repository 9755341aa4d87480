package errs

import (
	"errors"
	"fmt"
)

var (
	InvalidFormat = errors.New("invalid format")
	InvalidLength = errors.New("invalid length")
	IsNil         = errors.New("argument must not be nil")
)

// Wrap prefixes the given error (if there is one) with a formatted message.
func Wrap(err *error, str string, args ...any) {
	if *err != nil {
		*err = fmt.Errorf("%s: %w", fmt.Sprintf(str, args...), *err)
	}
}

// WrapErr wraps the given error (if there is one) in the wrapper error.
func WrapErr(err *error, wrapper error) {
	if *err != nil {
		*err = fmt.Errorf("%w: %w", wrapper, *err)
	}
}
