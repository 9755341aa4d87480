// Package pontifex implements a typed request/response protocol for talking
// to code inside an AWS Nitro Enclave over a vsock channel.
//
// The host and the enclave agree on a set of route contracts: a request
// shape, a response shape, and a unique route identifier. The enclave
// registers a handler per route on a [Router] and serves it with
// [Router.ListenAndServe]; the host issues one-shot calls with [Call]. Each
// connection carries exactly one request and one response, CBOR-encoded and
// framed with a 4-byte big-endian length prefix.
//
// The nsm subpackage interfaces with the Nitro Secure Module to produce
// attestation documents and to verify them on the relying side.
package pontifex

// Route binds a request shape and a response shape to a wire identifier.
// Routes are defined once, at compile time, and shared between the host and
// the enclave. The identifier must be unique among all routes registered
// with a single Router.
type Route[Req, Res any] struct {
	id string
}

// NewRoute returns the route contract for the given identifier.
func NewRoute[Req, Res any](id string) Route[Req, Res] {
	return Route[Req, Res]{id: id}
}

// ID returns the route's wire identifier.
func (r Route[Req, Res]) ID() string {
	return r.id
}

// ConnectionDetails identifies the remote vsock endpoint of an enclave.
type ConnectionDetails struct {
	// CID is the vsock context identifier of the enclave.
	CID uint32
	// Port is the vsock port the enclave's router listens on.
	Port uint32
}
