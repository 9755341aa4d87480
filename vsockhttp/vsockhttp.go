// Package vsockhttp provides an HTTP client for code inside an enclave that
// has no network access of its own. Every request is tunneled through the
// vsock proxy running on the parent instance, which forwards raw bytes to
// the intended TCP destination.
package vsockhttp

import (
	"context"
	"net"
	"net/http"

	"github.com/mdlayher/vsock"
)

// ProxyCID is the vsock context ID of the parent EC2 instance. According to
// AWS docs, it is always 3:
// https://docs.aws.amazon.com/enclaves/latest/user/nitro-enclave-concepts.html
const ProxyCID = 3

// NewClient returns an HTTP client that tunnels all requests through the
// host's vsock proxy listening on the given port. The dialer ignores the
// request URL's host and always connects to the fixed vsock address, while
// Host and SNI are preserved, so TLS terminates at the upstream service and
// not at the proxy.
func NewClient(proxyPort uint32) *http.Client {
	return newClient(func(ctx context.Context, network, addr string) (net.Conn, error) {
		return vsock.Dial(ProxyCID, proxyPort, nil)
	})
}

func newClient(dial func(ctx context.Context, network, addr string) (net.Conn, error)) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: dial,
		},
	}
}
