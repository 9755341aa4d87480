package pontifex

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/Amnesic-Systems/pontifex/internal/wire"
	"github.com/mdlayher/vsock"
	"github.com/rs/zerolog/log"
)

// ListenAndServe binds a vsock listener on the given port and serves
// requests until the context is canceled. Inside a Nitro Enclave this is
// the only way for the host to reach us.
func (r *Router[S]) ListenAndServe(ctx context.Context, port uint32) error {
	ln, err := vsock.Listen(port, nil)
	if err != nil {
		return fmt.Errorf("failed to bind vsock port %d: %w", port, err)
	}
	return r.Serve(ctx, ln)
}

// Serve accepts connections on the given listener and drives one request
// through the router per connection. Each connection is handled in its own
// goroutine; a misbehaving peer only ever costs us that one connection.
// Serve returns once the context is canceled or the listener fails.
func (r *Router[S]) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()

	// Unblock Accept when the context is canceled.
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("listening for requests")

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Debug().Err(err).Msg("failed to accept connection")
			continue
		}
		go r.handle(ctx, conn)
	}
}

// handle drives a single connection: read one frame, dispatch, write one
// frame, close. Every exit path closes the connection, and a panicking
// handler must never take down the accept loop.
func (r *Router[S]) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer func() {
		if v := recover(); v != nil {
			log.Error().Interface("panic", v).Msg("handler panicked")
		}
	}()

	// A peer that connects but never sends a complete frame gets dropped.
	_ = conn.SetDeadline(time.Now().Add(r.readTimeout()))

	body, err := wire.ReadFrame(conn, r.maxFrameLen())
	if err != nil {
		log.Debug().Err(err).Msg("failed to read request frame")
		return
	}

	route, payload, err := wire.DecodeRequest(body)
	var reply *wire.Reply
	if err != nil {
		reply = &wire.Reply{Error: err.Error(), Code: wire.CodeMalformed}
	} else {
		reply = r.dispatch(ctx, route, payload)
	}

	if reply.Error != "" {
		log.Debug().
			Str("route", route).
			Str("code", reply.Code).
			Str("error", reply.Error).
			Msg("request failed")
	}

	out, err := wire.EncodeReply(reply)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode reply")
		return
	}
	if err := wire.WriteFrame(conn, out); err != nil {
		log.Debug().Err(err).Msg("failed to write reply frame")
	}
}
