package pontifex

import (
	"context"
	"fmt"
	"net"

	"github.com/Amnesic-Systems/pontifex/internal/wire"
	"github.com/mdlayher/vsock"
)

// Call sends one request to the enclave and waits for its response. A new
// connection is opened per call and closed afterwards; there is no retry,
// no connection reuse, and no pipelining. Callers wanting a timeout set a
// deadline on the context.
func Call[Req, Res any](
	ctx context.Context,
	details ConnectionDetails,
	route Route[Req, Res],
	req *Req,
) (*Res, error) {
	conn, err := vsock.Dial(details.CID, details.Port, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer conn.Close()

	return roundTrip[Req, Res](ctx, conn, route.id, req)
}

// roundTrip drives one request/response exchange over an established
// connection. Split from Call so the exchange can be exercised over any
// net.Conn.
func roundTrip[Req, Res any](
	ctx context.Context,
	conn net.Conn,
	route string,
	req *Req,
) (*Res, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	body, err := wire.EncodeRequest(route, req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	if err := wire.WriteFrame(conn, body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	respBody, err := wire.ReadFrame(conn, DefaultMaxFrameLen)
	if err != nil {
		return nil, err
	}
	reply, err := wire.DecodeReply(respBody)
	if err != nil {
		return nil, err
	}

	// Map protocol-level failure codes back onto our sentinels; anything
	// else with an error message is an application-level handler failure.
	switch reply.Code {
	case wire.CodeUnknownRoute:
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoute, reply.Error)
	case wire.CodeTypeMismatch:
		return nil, fmt.Errorf("%w: %s", ErrTypeMismatch, reply.Error)
	case wire.CodeMalformed:
		return nil, fmt.Errorf("%w: %s", ErrMalformed, reply.Error)
	}
	if reply.Error != "" {
		return nil, &HandlerError{Msg: reply.Error}
	}

	res := new(Res)
	if err := wire.Unmarshal(reply.Payload, res); err != nil {
		return nil, err
	}
	return res, nil
}
