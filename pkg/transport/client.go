package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/keboola/go-demand/pkg/transport/decode"
	"github.com/keboola/go-demand/pkg/transport/trace"
)

const DefaultUserAgent = "keboola-go-demand"

// Client is an immutable configuration shared by HTTP transports.
// Each With* method returns a modified clone.
type Client struct {
	roundTripper http.RoundTripper
	baseURL      *url.URL
	header       http.Header
	traceFactory trace.Factory
}

// New creates new Client with the DefaultRoundTripper.
func New() Client {
	c := Client{roundTripper: DefaultRoundTripper(), header: make(http.Header)}
	c.header.Set("User-Agent", DefaultUserAgent)
	c.header.Set("Accept-Encoding", decode.AcceptEncoding)
	return c
}

// WithBaseURL returns a clone of the Client with base url set.
// Relative URLs passed to Open are resolved against it.
func (c Client) WithBaseURL(baseURLStr string) Client {
	baseURL, err := url.Parse(baseURLStr)
	if err != nil {
		panic(fmt.Errorf(`base url "%s" is not valid: %w`, baseURLStr, err))
	}
	c.baseURL = baseURL
	return c
}

// WithUserAgent returns a clone of the Client with user agent set.
func (c Client) WithUserAgent(v string) Client {
	return c.WithHeader("User-Agent", v)
}

// WithHeader returns a clone of the Client with common header set.
func (c Client) WithHeader(key, value string) Client {
	c.header = c.header.Clone()
	c.header.Set(key, value)
	return c
}

// WithHeaders returns a clone of the Client with common headers set.
func (c Client) WithHeaders(headers map[string]string) Client {
	c.header = c.header.Clone()
	for k, v := range headers {
		c.header.Set(k, v)
	}
	return c
}

// WithRoundTripper returns a clone of the Client with a HTTP round tripper set.
func (c Client) WithRoundTripper(rt http.RoundTripper) Client {
	if rt == nil {
		panic(fmt.Errorf("round tripper cannot be nil"))
	}
	c.roundTripper = rt
	return c
}

// WithTrace returns a clone of the Client with Trace hooks set.
// Previously registered trace factories are replaced.
func (c Client) WithTrace(fn trace.Factory) Client {
	c.traceFactory = fn
	return c
}

// AndTrace returns a clone of the Client with Trace hooks added.
// Hooks of the previously registered factories are called first.
func (c Client) AndTrace(fn trace.Factory) Client {
	if c.traceFactory == nil {
		c.traceFactory = fn
		return c
	}
	oldFactory := c.traceFactory
	c.traceFactory = func(ctx context.Context, request *http.Request) (context.Context, *trace.ClientTrace) {
		ctx, oldTrace := oldFactory(ctx, request)
		ctx, newTrace := fn(ctx, request)
		if newTrace == nil {
			return ctx, oldTrace
		}
		newTrace.Compose(oldTrace)
		return ctx, newTrace
	}
	return c
}

// NewTransport creates a new HTTP transport, one for each demand.
func (c Client) NewTransport() *HTTP {
	// Method cannot be called on an empty value
	if c.roundTripper == nil {
		panic(fmt.Errorf("client value is not initialized"))
	}
	return newHTTP(c)
}

func (c Client) resolveURL(rawURL string) (*url.URL, error) {
	if c.baseURL == nil {
		return url.Parse(rawURL)
	}
	return c.baseURL.Parse(rawURL)
}
