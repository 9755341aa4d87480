// Package echo holds the route contracts shared by the example client and
// enclave binaries.
package echo

import "github.com/Amnesic-Systems/pontifex"

// EchoRequest asks the enclave to echo a message.
type EchoRequest struct {
	Message string `cbor:"message"`
}

// EchoResponse is the enclave's echo.
type EchoResponse struct {
	Echoed    string `cbor:"echoed"`
	Timestamp uint64 `cbor:"timestamp"`
}

// HealthRequest probes the enclave's health.
type HealthRequest struct{}

// HealthResponse reports the enclave's health.
type HealthResponse struct {
	Healthy bool   `cbor:"healthy"`
	Uptime  uint64 `cbor:"uptime"`
}

// AttestRequest asks the enclave for an attestation document embedding the
// caller's nonce.
type AttestRequest struct {
	Nonce []byte `cbor:"nonce"`
}

// AttestResponse carries the COSE-encoded attestation document.
type AttestResponse struct {
	Document []byte `cbor:"document"`
}

var (
	RouteEcho   = pontifex.NewRoute[EchoRequest, EchoResponse]("echo_v1")
	RouteHealth = pontifex.NewRoute[HealthRequest, HealthResponse]("health_check_v1")
	RouteAttest = pontifex.NewRoute[AttestRequest, AttestResponse]("attest_v1")
)
