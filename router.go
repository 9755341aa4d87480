package pontifex

import (
	"context"
	"fmt"
	"time"

	"github.com/Amnesic-Systems/pontifex/internal/wire"
)

const (
	// DefaultMaxFrameLen caps the size of a single frame. The codec itself
	// enforces no limit; the server does, to bound memory use against
	// hostile or buggy peers.
	DefaultMaxFrameLen = 1 << 20

	// DefaultReadTimeout bounds how long the server waits for a complete
	// frame from an accepted connection.
	DefaultReadTimeout = 10 * time.Second
)

// Handler processes one decoded request. It receives the router's shared
// state, which it may read concurrently with other handler invocations; any
// mutation must be synchronized by the state implementation itself.
type Handler[S, Req, Res any] func(ctx context.Context, state S, req Req) (Res, error)

// dispatchFunc is the type-erased form of a registered handler: it decodes
// the request bytes, invokes the handler, and encodes the result. Only the
// closure knows the concrete shapes.
type dispatchFunc func(ctx context.Context, payload []byte) *wire.Reply

// Router maps route identifiers to handlers and hands each invocation the
// shared state S. Registration happens once, before serving; dispatch is
// safe to call from any number of concurrent connection handlers because
// the table is read-only by then.
type Router[S any] struct {
	state  S
	routes map[string]dispatchFunc

	// ReadTimeout bounds how long the server waits for a complete request
	// frame on an accepted connection. Zero means DefaultReadTimeout.
	ReadTimeout time.Duration

	// MaxFrameLen caps the request frame size. Zero means
	// DefaultMaxFrameLen.
	MaxFrameLen uint32
}

// New returns a router whose handlers share the given state for the
// lifetime of the server.
func New[S any](state S) *Router[S] {
	return &Router[S]{
		state:  state,
		routes: make(map[string]dispatchFunc),
	}
}

// Handle registers a handler for the given route. Handle is a function
// rather than a method because Go methods cannot introduce the request and
// response type parameters.
func Handle[S, Req, Res any](
	r *Router[S],
	route Route[Req, Res],
	h Handler[S, Req, Res],
) error {
	if _, ok := r.routes[route.id]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateRoute, route.id)
	}

	r.routes[route.id] = func(ctx context.Context, payload []byte) *wire.Reply {
		var req Req
		if err := wire.Unmarshal(payload, &req); err != nil {
			return &wire.Reply{
				Error: err.Error(),
				Code:  wire.CodeTypeMismatch,
			}
		}

		res, err := h(ctx, r.state, req)
		if err != nil {
			return &wire.Reply{Error: err.Error()}
		}

		body, err := wire.Marshal(res)
		if err != nil {
			return &wire.Reply{
				Error: fmt.Sprintf("failed to encode response: %v", err),
				Code:  wire.CodeMalformed,
			}
		}
		return &wire.Reply{Payload: body}
	}
	return nil
}

// dispatch looks up the route and runs its type-erased handler. Failures
// are expressed as reply envelopes so they can travel back to the client
// before the connection is closed.
func (r *Router[S]) dispatch(ctx context.Context, route string, payload []byte) *wire.Reply {
	fn, ok := r.routes[route]
	if !ok {
		return &wire.Reply{
			Error: fmt.Sprintf("no handler registered for route %q", route),
			Code:  wire.CodeUnknownRoute,
		}
	}
	return fn(ctx, payload)
}

func (r *Router[S]) readTimeout() time.Duration {
	if r.ReadTimeout > 0 {
		return r.ReadTimeout
	}
	return DefaultReadTimeout
}

func (r *Router[S]) maxFrameLen() uint32 {
	if r.MaxFrameLen > 0 {
		return r.MaxFrameLen
	}
	return DefaultMaxFrameLen
}
