package transport

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// DialTimeout specifies default maximum connection initialization time.
const DialTimeout = 3 * time.Second

// KeepAlive specifies default interval between keep-alive probes.
const KeepAlive = 10 * time.Second

// TLSHandshakeTimeout specifies default timeout of TLS handshake.
const TLSHandshakeTimeout = 5 * time.Second

// MaxConnectionsPerHost specifies default maximum number of open connections to a host.
const MaxConnectionsPerHost = 32

// DefaultRoundTripper with reasonable connection limits.
// Response header timeout is not set, exchanges are bounded only by Abort.
// Compression is disabled, the HTTP transport sends Accept-Encoding and decodes bodies via the decode package.
func DefaultRoundTripper() http.RoundTripper {
	dialer := Dialer()
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		ForceAttemptHTTP2:   true, // HTTP2 is preferred.
		TLSHandshakeTimeout: TLSHandshakeTimeout,
		MaxConnsPerHost:     MaxConnectionsPerHost,
		MaxIdleConnsPerHost: MaxConnectionsPerHost,
		DisableCompression:  true,
	}
}

// HTTP2RoundTripper forces HTTP2 protocol.
func HTTP2RoundTripper() http.RoundTripper {
	dialer := Dialer()
	return &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, cfg *tls.Config) (net.Conn, error) {
			d := &tls.Dialer{NetDialer: dialer, Config: cfg}
			return d.DialContext(ctx, network, addr)
		},
		DisableCompression: true,
		ReadIdleTimeout:    3 * time.Second,
		PingTimeout:        3 * time.Second,
		WriteByteTimeout:   3 * time.Second,
	}
}

// Dialer - default dialer.
func Dialer() *net.Dialer {
	return &net.Dialer{
		Timeout:   DialTimeout,
		KeepAlive: KeepAlive,
	}
}
