// Package wire implements the envelope encoding and length-prefixed framing
// used on the vsock stream between host and enclave.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Errors at the framing and envelope layer. They are recoverable at the
// connection granularity: the server drops only the offending connection.
var (
	ErrTruncated    = errors.New("stream ended before the full frame arrived")
	ErrMalformed    = errors.New("malformed envelope")
	ErrUnknownRoute = errors.New("unknown route")
	ErrTypeMismatch = errors.New("payload does not match the expected shape")
)

// Failure codes carried in a reply for protocol-level errors, so the client
// can tell them apart from application-level handler failures.
const (
	CodeUnknownRoute = "unknown_route"
	CodeTypeMismatch = "type_mismatch"
	CodeMalformed    = "malformed"
)

const lenPrefixSize = 4

// Envelope carries one request across the stream.
type Envelope struct {
	Route   string `cbor:"route"`
	Payload []byte `cbor:"payload"`
}

// Reply carries one response back. Exactly one of Payload and Error is set.
// Code is set in addition to Error when the failure happened at the protocol
// layer rather than inside a handler.
type Reply struct {
	Payload []byte `cbor:"payload,omitempty"`
	Error   string `cbor:"error,omitempty"`
	Code    string `cbor:"code,omitempty"`
}

// decMode rejects unknown fields so that a contract disagreement between
// client and server surfaces as a type mismatch instead of a silently
// zero-filled struct.
var decMode, _ = cbor.DecOptions{
	ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
}.DecMode()

// Marshal serializes a request or response payload.
func Marshal(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

// Unmarshal deserializes a payload into the shape the caller expects. The
// decode is strict: bytes that don't fit the shape yield ErrTypeMismatch.
func Unmarshal(b []byte, v any) error {
	if err := decMode.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %v", ErrTypeMismatch, err)
	}
	return nil
}

// EncodeRequest wraps an encoded payload in an envelope and serializes it.
// The result is a frame body, still missing its length prefix.
func EncodeRequest(route string, v any) ([]byte, error) {
	payload, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return cbor.Marshal(&Envelope{Route: route, Payload: payload})
}

// DecodeRequest deserializes a frame body into its route identifier and the
// still-opaque payload bytes.
func DecodeRequest(body []byte) (route string, payload []byte, err error) {
	var e Envelope
	if err := cbor.Unmarshal(body, &e); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return e.Route, e.Payload, nil
}

// EncodeReply serializes a reply envelope into a frame body.
func EncodeReply(r *Reply) ([]byte, error) {
	return cbor.Marshal(r)
}

// DecodeReply deserializes a frame body into a reply envelope.
func DecodeReply(body []byte) (*Reply, error) {
	r := new(Reply)
	if err := cbor.Unmarshal(body, r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return r, nil
}

// WriteFrame writes the 4-byte big-endian length prefix followed by the
// frame body.
func WriteFrame(w io.Writer, body []byte) error {
	var prefix [lenPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("failed to write length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	return nil
}

// ReadFrame reads exactly one frame from the stream: the length prefix
// first, then precisely that many body bytes. A stream that ends early
// yields ErrTruncated; a declared length beyond maxLen yields ErrMalformed
// so a hostile peer cannot make us allocate arbitrary amounts of memory.
func ReadFrame(r io.Reader, maxLen uint32) ([]byte, error) {
	var prefix [lenPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("%w: reading length: %v", ErrTruncated, err)
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length > maxLen {
		return nil, fmt.Errorf("%w: frame length %d exceeds limit %d",
			ErrMalformed, length, maxLen)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: reading payload: %v", ErrTruncated, err)
	}
	return body, nil
}
