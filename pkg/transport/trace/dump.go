package trace

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/keboola/go-demand/pkg/transport/decode"
)

const dumpTraceMaxLength = 2000

// dumpTrace holds the state of one exchange, redirects included.
type dumpTrace struct {
	ClientTrace
	lock *sync.Mutex // shared by all exchanges of the tracer, so dumps are not mixed
	wr   io.Writer

	method          string
	requestURI      string
	statusCode      int
	responseErr     error
	startTime       time.Time
	headersTime     time.Time
	contentEncoding string
	body            *bytes.Buffer // raw response body, captured while the transport reads it
}

// DumpTracer dumps HTTP request and response to a writer.
// The response body is captured while it is streamed, and dumped decoded when it has been processed.
// Output may contain unmasked tokens, do not use it in production!
func DumpTracer(wr io.Writer) Factory {
	lock := &sync.Mutex{}
	return func(ctx context.Context, _ *http.Request) (context.Context, *ClientTrace) {
		t := &dumpTrace{lock: lock, wr: wr}
		t.HTTPRequestStart = t.requestStart
		t.HTTPRequestDone = t.requestDone
		t.ResponseProcessed = t.responseProcessed
		t.RequestAborted = t.requestAborted
		return ctx, &t.ClientTrace
	}
}

func (t *dumpTrace) requestStart(r *http.Request) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.startTime = time.Now()
	t.method = r.Method
	t.requestURI = r.URL.RequestURI()

	// The body is not dumped, reading it would report upload progress before the request is sent
	requestDump, _ := httputil.DumpRequestOut(r, false)
	t.log()
	t.log(">>>>>> HTTP DUMP")
	t.dump(string(requestDump))
}

func (t *dumpTrace) requestDone(r *http.Response, err error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.responseErr = err
	t.log("------")
	if err != nil {
		// Response is nil, for example, if some network error occurred
		t.log("ERROR: ", err)
		t.log("<<<<<< HTTP DUMP END")
		return
	}

	t.statusCode = r.StatusCode
	t.headersTime = time.Now()
	if v, err := httputil.DumpResponse(r, false); err == nil {
		t.log(strings.TrimSpace(string(v)))
	} else {
		t.log("cannot dump response headers: ", err)
	}

	// Body of a redirect is discarded by the client
	if r.Body == nil || r.Body == http.NoBody || (r.StatusCode >= 300 && r.StatusCode < 400 && r.Header.Get("Location") != "") {
		t.log("<<<<<< HTTP DUMP END")
		return
	}

	t.body = &bytes.Buffer{}
	t.contentEncoding = r.Header.Get("Content-Encoding")
	r.Body = teeBody{Reader: io.TeeReader(r.Body, t.body), Closer: r.Body}
}

func (t *dumpTrace) responseProcessed(_ *http.Response, sent, received int64, err error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.body != nil {
		t.log("------")
		var decoded strings.Builder
		if reader, err := decode.Decode(io.NopCloser(t.body), t.contentEncoding); err != nil {
			t.log("cannot decode response body: ", err)
		} else if _, err := io.Copy(&decoded, reader); err != nil {
			t.log("cannot decode response body: ", err)
		}
		t.dump(decoded.String())
		t.log("<<<<<< HTTP DUMP END")
		t.body = nil
	}

	if err != nil {
		t.responseErr = err
	}
	t.log()
	t.log(">>>>>> HTTP RESPONSE PROCESSED", "| ", t.method, t.requestURI, t.statusCode, "| SENT:", sent, "| RECEIVED:", received, "| ERROR:", t.responseErr, "| HEADERS AT:", t.headersTime.Sub(t.startTime), "| DONE AT:", time.Since(t.startTime))
}

func (t *dumpTrace) requestAborted(_ *http.Request) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.log()
	t.log(">>>>>> HTTP REQUEST ABORTED", "| ", t.method, t.requestURI, "| AFTER:", time.Since(t.startTime))
}

func (t *dumpTrace) dump(body string) {
	body = strings.TrimSpace(strings.ReplaceAll(body, "\r\n", "\n"))
	if len(body) > dumpTraceMaxLength && os.Getenv("HTTP_DUMP_TRACE_FULL") != "true" { //nolint:forbidigo
		t.log(body[:dumpTraceMaxLength])
		t.log("... (set env HTTP_DUMP_TRACE_FULL=true to see full output)")
	} else {
		t.log(body)
	}
}

func (t *dumpTrace) log(a ...any) {
	_, _ = fmt.Fprintln(t.wr, a...)
}

type teeBody struct {
	io.Reader
	io.Closer
}
