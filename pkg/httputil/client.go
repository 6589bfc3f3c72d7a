// Package httputil provides shared HTTP utilities with connection pooling
// and safe response handling for the Moat gateway.
package httputil

import (
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// MaxResponseSize is the default maximum size for reading HTTP response bodies.
// This prevents OOM attacks from malicious/compromised services.
const MaxResponseSize = 10 * 1024 * 1024 // 10MB

// Shared transport with optimized connection pooling.
// This is safe for concurrent use and dramatically improves performance
// by reusing TCP connections across requests.
var sharedTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	ForceAttemptHTTP2:     true,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

var (
	fastClient *http.Client
	fastOnce   sync.Once
)

// FastClient returns the shared client with a 5s timeout, suited to webhook
// notifications and other short calls. Initialized once, reused everywhere.
func FastClient() *http.Client {
	fastOnce.Do(func() {
		fastClient = NewClient(5 * time.Second)
	})
	return fastClient
}

// NewClient returns a client with a custom timeout on the shared transport.
// Use this when the timeout comes from configuration (e.g. the AI provider
// timeout), so connection pooling is still shared.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: sharedTransport,
	}
}

// ReadResponseBody safely reads an HTTP response body with size limits.
// This prevents OOM attacks from malicious or compromised services.
//
// Usage:
//
//	body, err := httputil.ReadResponseBody(resp.Body, httputil.MaxResponseSize)
func ReadResponseBody(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = MaxResponseSize
	}
	return io.ReadAll(io.LimitReader(r, maxSize))
}

// DrainAndClose properly drains and closes an HTTP response body.
// This ensures connection reuse in the pool.
func DrainAndClose(body io.ReadCloser) {
	if body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(body, MaxResponseSize))
		_ = body.Close()
	}
}
