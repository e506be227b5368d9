package transport_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/keboola/go-demand/pkg/transport"
)

func TestHTTP_Get(t *testing.T) {
	t.Parallel()

	tr, mock := NewMockedTransport()
	mock.RegisterResponder("GET", `https://example.com`, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, DefaultUserAgent, req.Header.Get("User-Agent"))
		assert.Equal(t, "gzip, deflate, br", req.Header.Get("Accept-Encoding"))
		assert.Equal(t, "bar", req.Header.Get("X-Foo"))
		return httpmock.NewStringResponse(200, "test"), nil
	})

	rec := &recorder{}
	tr.AddListener(rec.listener())
	require.NoError(t, tr.Open("get", "https://example.com", true))
	assert.Equal(t, Opened, tr.ReadyState())
	require.NoError(t, tr.SetRequestHeader("X-Foo", "bar"))
	require.NoError(t, tr.Send(Text("ignored for GET")))
	require.NoError(t, waitDone(t, tr))

	assert.Equal(t, Done, tr.ReadyState())
	assert.Equal(t, 200, tr.Status())
	assert.Contains(t, tr.StatusText(), "200")
	assert.Equal(t, "test", string(tr.Response()))
	assert.NoError(t, tr.Err())
	assert.Equal(t, []string{"OPENED", "HEADERS_RECEIVED", "LOADING", "DONE"}, rec.states())
	assert.Equal(t, int64(4), rec.last(EventProgress).Loaded)
	assert.Empty(t, rec.all(EventUploadProgress))
	assert.Empty(t, rec.all(EventAbort))
	assert.Equal(t, 1, mock.GetCallCountInfo()["GET https://example.com"])
}

func TestHTTP_PostUploadProgress(t *testing.T) {
	t.Parallel()

	tr, mock := NewMockedTransport()
	mock.RegisterResponder("POST", `https://example.com/form`, func(req *http.Request) (*http.Response, error) {
		body, err := io.ReadAll(req.Body)
		assert.NoError(t, err)
		assert.Equal(t, "a=1&b=2", string(body))
		assert.Equal(t, ContentTypeFormURLEncoded, req.Header.Get("Content-Type"))
		return httpmock.NewStringResponse(201, ""), nil
	})

	rec := &recorder{}
	tr.AddListener(rec.listener())
	require.NoError(t, tr.Open("POST", "https://example.com/form", true))
	require.NoError(t, tr.Send(FormURLEncoded("a=1&b=2")))
	require.NoError(t, waitDone(t, tr))

	assert.Equal(t, 201, tr.Status())
	upload := rec.last(EventUploadProgress)
	assert.Equal(t, int64(7), upload.Loaded)
	assert.Equal(t, int64(7), upload.Total)
	assert.True(t, upload.LengthComputable)
	assert.Equal(t, "DONE", rec.states()[len(rec.states())-1])
}

func TestHTTP_ContentTypeHeaderOverride(t *testing.T) {
	t.Parallel()

	tr, mock := NewMockedTransport()
	mock.RegisterResponder("PUT", `https://example.com`, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "application/vnd.custom+json", req.Header.Get("Content-Type"))
		return httpmock.NewStringResponse(204, ""), nil
	})

	require.NoError(t, tr.Open("put", "https://example.com", true))
	require.NoError(t, tr.SetRequestHeader("Content-Type", "application/vnd.custom+json"))
	require.NoError(t, tr.Send(JSON{Value: map[string]any{"foo": "bar"}}))
	require.NoError(t, waitDone(t, tr))
	assert.Equal(t, 204, tr.Status())
}

func TestHTTP_NetworkError(t *testing.T) {
	t.Parallel()

	tr, mock := NewMockedTransport()
	mock.RegisterResponder("GET", `https://example.com`, httpmock.NewErrorResponder(errors.New("connection refused")))

	rec := &recorder{}
	tr.AddListener(rec.listener())
	require.NoError(t, tr.Open("GET", "https://example.com", true))
	require.NoError(t, tr.Send(nil))
	require.NoError(t, waitDone(t, tr))

	assert.Equal(t, Done, tr.ReadyState())
	assert.Equal(t, 0, tr.Status())
	assert.Nil(t, tr.ResponseHeader())
	if assert.Error(t, tr.Err()) {
		assert.Equal(t, `request GET "https://example.com" failed: connection refused`, tr.Err().Error())
	}
	assert.Equal(t, []string{"OPENED", "DONE"}, rec.states())
}

func TestHTTP_Abort(t *testing.T) {
	t.Parallel()

	tr, mock := NewMockedTransport()
	started := make(chan struct{})
	mock.RegisterResponder("GET", `https://example.com`, func(req *http.Request) (*http.Response, error) {
		close(started)
		<-req.Context().Done()
		return nil, req.Context().Err()
	})

	rec := &recorder{}
	tr.AddListener(rec.listener())
	require.NoError(t, tr.Open("GET", "https://example.com", true))
	require.NoError(t, tr.Send(nil))
	<-started
	tr.Abort()
	require.NoError(t, waitDone(t, tr))

	// Abort after abort is a no-op
	tr.Abort()

	// Wait for the exchange goroutine
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, Unsent, tr.ReadyState())
	assert.Equal(t, 0, tr.Status())
	assert.ErrorIs(t, tr.Err(), ErrAborted)
	assert.Equal(t, []string{"OPENED"}, rec.states())
	assert.Len(t, rec.all(EventAbort), 1)
}

func TestHTTP_AbortFromListener(t *testing.T) {
	t.Parallel()

	tr, mock := NewMockedTransport()
	mock.RegisterResponder("GET", `https://example.com`, func(req *http.Request) (*http.Response, error) {
		res := httpmock.NewStringResponse(200, "")
		res.Body = &blockingBody{ctx: req.Context()}
		return res, nil
	})

	rec := &recorder{}
	tr.AddListener(rec.listener())
	tr.AddListener(&Listener{ReadyStateChange: func(ev Event) {
		if ev.ReadyState == HeadersReceived {
			tr.Abort()
		}
	}})
	require.NoError(t, tr.Open("GET", "https://example.com", true))
	require.NoError(t, tr.Send(nil))
	require.NoError(t, waitDone(t, tr))

	assert.Equal(t, []string{"OPENED", "HEADERS_RECEIVED"}, rec.states())
	assert.Len(t, rec.all(EventAbort), 1)
	assert.ErrorIs(t, tr.Err(), ErrAborted)
}

func TestHTTP_AbortAfterDone(t *testing.T) {
	t.Parallel()

	tr, mock := NewMockedTransport()
	mock.RegisterResponder("GET", `https://example.com`, httpmock.NewStringResponder(404, "not found"))

	rec := &recorder{}
	tr.AddListener(rec.listener())
	require.NoError(t, tr.Open("GET", "https://example.com", true))
	require.NoError(t, tr.Send(nil))
	require.NoError(t, waitDone(t, tr))
	tr.Abort()

	assert.Equal(t, Done, tr.ReadyState())
	assert.Equal(t, 404, tr.Status())
	assert.NoError(t, tr.Err())
	assert.Empty(t, rec.all(EventAbort))
}

func TestHTTP_ReopenTerminatesExchange(t *testing.T) {
	t.Parallel()

	tr, mock := NewMockedTransport()
	mock.RegisterResponder("GET", `https://example.com/slow`, func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})
	mock.RegisterResponder("GET", `https://example.com/fast`, httpmock.NewStringResponder(200, "fast"))

	rec := &recorder{}
	tr.AddListener(rec.listener())
	require.NoError(t, tr.Open("GET", "https://example.com/slow", true))
	require.NoError(t, tr.Send(nil))
	firstDone := tr.Done()

	// Re-open, the first exchange is terminated without notifications
	require.NoError(t, tr.Open("GET", "https://example.com/fast", true))
	select {
	case <-firstDone:
	default:
		assert.Fail(t, "first exchange should be done")
	}
	require.NoError(t, tr.Send(nil))
	require.NoError(t, waitDone(t, tr))

	assert.Equal(t, "fast", string(tr.Response()))
	assert.Empty(t, rec.all(EventAbort))
	assert.Equal(t, "DONE", rec.states()[len(rec.states())-1])
}

func TestHTTP_SyncSend(t *testing.T) {
	t.Parallel()

	tr, mock := NewMockedTransport()
	mock.RegisterResponder("DELETE", `https://example.com/item`, httpmock.NewStringResponder(204, ""))

	rec := &recorder{}
	tr.AddListener(rec.listener())
	require.NoError(t, tr.Open("delete", "https://example.com/item", false))
	require.NoError(t, tr.Send(nil))

	// All notifications are delivered when the synchronous Send returns
	assert.Equal(t, Done, tr.ReadyState())
	assert.Equal(t, 204, tr.Status())
	assert.Equal(t, []string{"OPENED", "HEADERS_RECEIVED", "DONE"}, rec.states())
}

func TestHTTP_InvalidUsage(t *testing.T) {
	t.Parallel()

	tr, _ := NewMockedTransport()

	// Send before Open
	assert.ErrorIs(t, tr.Send(nil), ErrInvalidState)
	assert.ErrorIs(t, tr.SetRequestHeader("X-Foo", "bar"), ErrInvalidState)

	// Invalid methods
	assert.ErrorIs(t, tr.Open("", "https://example.com", true), ErrInvalidMethod)
	assert.ErrorIs(t, tr.Open("GE T", "https://example.com", true), ErrInvalidMethod)
	assert.ErrorIs(t, tr.Open("connect", "https://example.com", true), ErrForbiddenMethod)
	assert.ErrorIs(t, tr.Open("TRACE", "https://example.com", true), ErrForbiddenMethod)
	assert.ErrorIs(t, tr.Open("track", "https://example.com", true), ErrForbiddenMethod)
	assert.Equal(t, Unsent, tr.ReadyState())

	// Invalid URL
	assert.Error(t, tr.Open("GET", "://example.com", true))

	// Invalid header
	require.NoError(t, tr.Open("GET", "https://example.com", true))
	assert.ErrorIs(t, tr.SetRequestHeader("X Foo", "bar"), ErrInvalidHeader)
	assert.ErrorIs(t, tr.SetRequestHeader("X-Foo", "bar\n"), ErrInvalidHeader)

	// Abort of not sent exchange
	tr.Abort()
	assert.Equal(t, Unsent, tr.ReadyState())
	assert.ErrorIs(t, tr.Send(nil), ErrInvalidState)
}

func TestHTTP_SendTwice(t *testing.T) {
	t.Parallel()

	tr, mock := NewMockedTransport()
	mock.RegisterResponder("GET", `https://example.com`, httpmock.NewStringResponder(200, ""))

	require.NoError(t, tr.Open("GET", "https://example.com", true))
	require.NoError(t, tr.Send(nil))
	assert.ErrorIs(t, tr.Send(nil), ErrInvalidState)
	assert.ErrorIs(t, tr.SetRequestHeader("X-Foo", "bar"), ErrInvalidState)
	require.NoError(t, waitDone(t, tr))
}

func TestHTTP_CustomMethod(t *testing.T) {
	t.Parallel()

	tr, mock := NewMockedTransport()
	mock.RegisterResponder("PURGE", `https://example.com/cache`, httpmock.NewStringResponder(200, ""))

	require.NoError(t, tr.Open("PURGE", "https://example.com/cache", true))
	require.NoError(t, tr.Send(nil))
	require.NoError(t, waitDone(t, tr))
	assert.Equal(t, 200, tr.Status())
	assert.Equal(t, 1, mock.GetCallCountInfo()["PURGE https://example.com/cache"])
}

func TestHTTP_DoneBeforeSend(t *testing.T) {
	t.Parallel()

	tr, _ := NewMockedTransport()
	select {
	case <-tr.Done():
	default:
		assert.Fail(t, "done channel should be closed")
	}
}

func TestClient_BaseURL(t *testing.T) {
	t.Parallel()

	c, mock := NewMockedClient()
	mock.RegisterResponder("GET", `https://example.com/api/v1/items`, httpmock.NewStringResponder(200, "[]"))

	tr := c.WithBaseURL("https://example.com/api/v1/").WithUserAgent("my-agent").NewTransport()
	require.NoError(t, tr.Open("GET", "items", true))
	require.NoError(t, tr.Send(nil))
	require.NoError(t, waitDone(t, tr))
	assert.Equal(t, "[]", string(tr.Response()))
}

func TestClient_Headers(t *testing.T) {
	t.Parallel()

	c, mock := NewMockedClient()
	mock.RegisterResponder("GET", `https://example.com`, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "my-agent", req.Header.Get("User-Agent"))
		assert.Equal(t, "1", req.Header.Get("X-A"))
		assert.Equal(t, "2", req.Header.Get("X-B"))
		assert.Equal(t, "override", req.Header.Get("X-C"))
		return httpmock.NewStringResponse(200, ""), nil
	})

	base := c.WithUserAgent("my-agent").WithHeader("X-A", "1").WithHeaders(map[string]string{"X-B": "2", "X-C": "3"})
	tr := base.NewTransport()
	require.NoError(t, tr.Open("GET", "https://example.com", true))
	require.NoError(t, tr.SetRequestHeader("X-C", "override"))
	require.NoError(t, tr.Send(nil))
	require.NoError(t, waitDone(t, tr))
	assert.Equal(t, 1, mock.GetTotalCallCount())
}

func TestClient_WithRoundTripperNil(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { New().WithRoundTripper(nil) })
	assert.Panics(t, func() { Client{}.NewTransport() })
	assert.Panics(t, func() { New().WithBaseURL("://foo") })
}

func waitDone(t *testing.T, tr Transport) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return WaitDone(ctx, tr)
}

// recorder collects notifications of a transport.
type recorder struct {
	lock   sync.Mutex
	events []Event
}

func (r *recorder) listener() *Listener {
	record := func(ev Event) {
		r.lock.Lock()
		defer r.lock.Unlock()
		r.events = append(r.events, ev)
	}
	return &Listener{UploadProgress: record, Progress: record, ReadyStateChange: record, Abort: record}
}

func (r *recorder) all(eventType EventType) (out []Event) {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, ev := range r.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) last(eventType EventType) Event {
	all := r.all(eventType)
	if len(all) == 0 {
		return Event{}
	}
	return all[len(all)-1]
}

func (r *recorder) states() (out []string) {
	for _, ev := range r.all(EventReadyStateChange) {
		out = append(out, ev.ReadyState.String())
	}
	return out
}

// blockingBody blocks until the request context is canceled.
type blockingBody struct {
	ctx context.Context
}

func (b *blockingBody) Read(_ []byte) (int, error) {
	<-b.ctx.Done()
	return 0, b.ctx.Err()
}

func (b *blockingBody) Close() error {
	return nil
}
