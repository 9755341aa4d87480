package pontifex

import (
	"errors"

	"github.com/Amnesic-Systems/pontifex/internal/wire"
)

var (
	// ErrConnection means the vsock connection could not be established or
	// broke down. Calls are never retried internally.
	ErrConnection = errors.New("connection failed")

	// ErrDuplicateRoute means a route identifier was registered twice on
	// the same router.
	ErrDuplicateRoute = errors.New("route already registered")

	// Protocol errors. All of them are scoped to a single connection.
	ErrTruncated    = wire.ErrTruncated
	ErrMalformed    = wire.ErrMalformed
	ErrUnknownRoute = wire.ErrUnknownRoute
	ErrTypeMismatch = wire.ErrTypeMismatch
)

// HandlerError is an application-level failure produced by a registered
// handler. It travels back to the client inside the reply envelope, so the
// caller can tell "the enclave ran the request and it failed" apart from
// "the protocol itself broke".
type HandlerError struct {
	Msg string
}

func (e *HandlerError) Error() string {
	return e.Msg
}
