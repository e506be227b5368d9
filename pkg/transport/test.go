package transport

import (
	"os"

	"github.com/jarcoal/httpmock"

	"github.com/keboola/go-demand/pkg/transport/trace"
)

var testRoundTripper = DefaultRoundTripper()

// NewTestClient creates the Client for tests.
//
// If the TEST_HTTP_CLIENT_VERBOSE environment variable is set to "true",
// then all HTTP requests and responses are dumped to stdout.
//
// Output may contain unmasked tokens, do not use it in production.
func NewTestClient() Client {
	c := New().WithRoundTripper(testRoundTripper)
	if os.Getenv("TEST_HTTP_CLIENT_VERBOSE") == "true" { //nolint:forbidigo
		c = c.WithTrace(trace.DumpTracer(os.Stdout))
	}
	return c
}

// NewMockedClient creates the Client with mocked HTTP round tripper.
func NewMockedClient() (Client, *httpmock.MockTransport) {
	mockTransport := httpmock.NewMockTransport()
	return NewTestClient().WithRoundTripper(mockTransport), mockTransport
}

// NewMockedTransport creates a HTTP transport with mocked HTTP round tripper.
func NewMockedTransport() (*HTTP, *httpmock.MockTransport) {
	c, mockTransport := NewMockedClient()
	return c.NewTransport(), mockTransport
}
