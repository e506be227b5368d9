package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/net/http/httpguts"

	"github.com/keboola/go-demand/pkg/transport/counter"
	"github.com/keboola/go-demand/pkg/transport/decode"
	"github.com/keboola/go-demand/pkg/transport/trace"
)

// HTTP is the default Transport implementation based on the net/http package.
// Each exchange runs in its own goroutine, notifications are delivered by a serial loop.
// Synchronous Send must not be called from a Listener hook, it would wait for itself.
type HTTP struct {
	client Client
	events loop

	lock       sync.Mutex
	listener   *Listener
	generation uint64 // incremented by Open, notifications of previous generations are dropped
	state      ReadyState
	method     string
	url        *url.URL
	async      bool
	header     http.Header
	exchange   *exchange // the last sent exchange of the current generation
	status     int
	statusText string
	resHeader  http.Header
	response   []byte
	err        error
}

type exchange struct {
	request  *http.Request
	trace    *trace.ClientTrace
	cancel   context.CancelFunc
	finished bool // Done or aborted, protected by HTTP.lock
	sent     atomic.Int64
	done     chan struct{}
	doneOnce sync.Once
}

// closedCh is returned by Done if no exchange has been sent.
var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

var standardMethods = []string{
	http.MethodDelete, http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPost, http.MethodPut,
}

var forbiddenMethods = []string{
	http.MethodConnect, http.MethodTrace, "TRACK",
}

func newHTTP(c Client) *HTTP {
	return &HTTP{client: c}
}

func (t *HTTP) Open(method, rawURL string, async bool) error {
	method, err := normalizeMethod(method)
	if err != nil {
		return err
	}

	u, err := t.client.resolveURL(rawURL)
	if err != nil {
		return fmt.Errorf(`invalid URL "%s": %w`, rawURL, err)
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	// Terminate in-flight exchange silently
	if ex := t.exchange; ex != nil {
		if !ex.finished {
			ex.finished = true
			ex.cancel()
		}
		ex.close()
	}

	t.generation++
	t.method = method
	t.url = u
	t.async = async
	t.header = make(http.Header)
	t.exchange = nil
	t.status = 0
	t.statusText = ""
	t.resHeader = nil
	t.response = nil
	t.err = nil
	t.setState(Opened)
	return nil
}

func (t *HTTP) SetRequestHeader(key, value string) error {
	if !httpguts.ValidHeaderFieldName(key) || !httpguts.ValidHeaderFieldValue(value) {
		return fmt.Errorf(`%w "%s"`, ErrInvalidHeader, key)
	}

	t.lock.Lock()
	defer t.lock.Unlock()
	if t.state != Opened || t.exchange != nil {
		return fmt.Errorf(`cannot set header "%s": %w`, key, ErrInvalidState)
	}
	t.header.Add(key, value)
	return nil
}

func (t *HTTP) Send(payload Payload) error {
	t.lock.Lock()
	if t.state != Opened || t.exchange != nil {
		t.lock.Unlock()
		return fmt.Errorf(`cannot send: %w`, ErrInvalidState)
	}

	// GET and HEAD requests have no body
	if t.method == http.MethodGet || t.method == http.MethodHead {
		payload = nil
	}

	ex := &exchange{done: make(chan struct{})}
	req, err := t.newRequest(ex, payload)
	if err != nil {
		t.lock.Unlock()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	if t.client.traceFactory != nil {
		ctx, ex.trace = t.client.traceFactory(ctx, req)
		if ex.trace != nil {
			ctx = httptrace.WithClientTrace(ctx, &ex.trace.ClientTrace)
		}
	}
	ex.request = req.WithContext(ctx)
	ex.cancel = cancel
	t.exchange = ex
	async := t.async
	t.lock.Unlock()

	go t.run(ex)

	if !async {
		<-ex.done
	}
	return nil
}

func (t *HTTP) Abort() {
	t.lock.Lock()
	ex := t.exchange
	if ex == nil || ex.finished {
		if ex == nil && t.state == Opened {
			// Opened but not sent
			t.state = Unsent
		}
		t.lock.Unlock()
		return
	}

	ex.finished = true
	ex.cancel()
	t.state = Unsent
	t.status = 0
	t.statusText = ""
	t.resHeader = nil
	t.response = nil
	t.err = ErrAborted
	t.emitTerminal(ex, Event{Type: EventAbort, ReadyState: Unsent})
	t.lock.Unlock()

	if ex.trace != nil && ex.trace.RequestAborted != nil {
		ex.trace.RequestAborted(ex.request)
	}
}

func (t *HTTP) AddListener(listener *Listener) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.listener = t.listener.Compose(listener)
}

// UploadSupported is always true, request bodies are counted while sent.
func (t *HTTP) UploadSupported() bool {
	return true
}

func (t *HTTP) ReadyState() ReadyState {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.state
}

func (t *HTTP) Status() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.status
}

func (t *HTTP) StatusText() string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.statusText
}

func (t *HTTP) ResponseHeader() http.Header {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.resHeader.Clone()
}

func (t *HTTP) Response() []byte {
	t.lock.Lock()
	defer t.lock.Unlock()
	return bytes.Clone(t.response)
}

func (t *HTTP) Err() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.err
}

func (t *HTTP) Done() <-chan struct{} {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.exchange == nil {
		return closedCh
	}
	return t.exchange.done
}

// newRequest must be called with the lock held.
func (t *HTTP) newRequest(ex *exchange, payload Payload) (*http.Request, error) {
	req, err := http.NewRequest(t.method, t.url.String(), nil)
	if err != nil {
		return nil, err
	}

	// Global headers
	for k, values := range t.client.header {
		for _, v := range values {
			req.Header.Set(k, v)
		}
	}

	// Request headers
	for k, values := range t.header {
		req.Header.Del(k) // clear global values
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	if payload == nil {
		return req, nil
	}

	// GetBody factory is used when a redirect requires reading the body more than once.
	var contentType string
	req.GetBody = func() (io.ReadCloser, error) {
		body, length, ct, err := payload.Encode()
		if err != nil {
			return nil, fmt.Errorf(`request %s "%s": cannot prepare request body: %w`, req.Method, req.URL.String(), err)
		}
		contentType = ct
		req.ContentLength = length
		return counter.NewReadCloser(body, func(_ int, total int64) {
			ex.sent.Store(total)
			t.progress(ex, EventUploadProgress, total, length)
		}), nil
	}
	if req.Body, err = req.GetBody(); err != nil {
		return nil, err
	}
	if req.Header.Get("Content-Type") == "" && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

func (t *HTTP) run(ex *exchange) {
	nativeClient := http.Client{
		Transport: roundTripper{trace: ex.trace, wrapped: t.client.roundTripper}, // wrapped for trace
	}

	res, err := nativeClient.Do(ex.request) //nolint:bodyclose // closed by the counter
	if err != nil {
		t.fail(ex, fmt.Errorf(`request %s "%s" failed: %w`, ex.request.Method, ex.request.URL.String(), unwrapURLError(err)))
		return
	}

	// Headers received
	t.lock.Lock()
	if t.exchange != ex || ex.finished {
		t.lock.Unlock()
		_ = res.Body.Close()
		if ex.trace != nil && ex.trace.ResponseProcessed != nil {
			ex.trace.ResponseProcessed(res, ex.sent.Load(), 0, ErrAborted)
		}
		return
	}
	t.status = res.StatusCode
	t.statusText = res.Status
	t.resHeader = res.Header
	t.setState(HeadersReceived)
	t.lock.Unlock()

	// Raw body bytes are counted, before decoding
	var loading sync.Once
	rawBody := counter.NewReadCloser(res.Body, func(_ int, total int64) {
		loading.Do(func() {
			t.lock.Lock()
			defer t.lock.Unlock()
			if t.exchange == ex && !ex.finished {
				t.setState(Loading)
			}
		})
		t.progress(ex, EventProgress, total, res.ContentLength)
	})

	var readErr error
	if !hasBody(ex.request, res) {
		_, readErr = io.Copy(io.Discard, rawBody)
	} else if body, err := decode.Decode(rawBody, res.Header.Get("Content-Encoding")); err != nil {
		readErr = err
	} else {
		_, readErr = io.Copy(responseWriter{t: t, ex: ex}, body)
	}
	err = multierror.Append(nil, readErr, rawBody.Close()).ErrorOrNil()

	// Trace response processed
	if ex.trace != nil && ex.trace.ResponseProcessed != nil {
		ex.trace.ResponseProcessed(res, ex.sent.Load(), rawBody.Bytes(), err)
	}

	if err != nil {
		t.fail(ex, fmt.Errorf(`cannot read response body %s "%s": %w`, ex.request.Method, ex.request.URL.String(), err))
		return
	}

	t.lock.Lock()
	defer t.lock.Unlock()
	if t.exchange != ex || ex.finished {
		return
	}
	ex.finished = true
	t.state = Done
	t.emitTerminal(ex, Event{Type: EventReadyStateChange, ReadyState: Done})
}

// hasBody reports whether the response may carry content, see RFC 9110, section 6.4.1.
func hasBody(req *http.Request, res *http.Response) bool {
	switch {
	case req.Method == http.MethodHead, res.Body == http.NoBody:
		return false
	case res.StatusCode == http.StatusNoContent, res.StatusCode == http.StatusNotModified:
		return false
	default:
		return true
	}
}

// fail finishes the exchange with a network error.
func (t *HTTP) fail(ex *exchange, err error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.exchange != ex || ex.finished {
		return
	}
	ex.finished = true
	t.status = 0
	t.statusText = ""
	t.resHeader = nil
	t.response = nil
	t.err = err
	t.state = Done
	t.emitTerminal(ex, Event{Type: EventReadyStateChange, ReadyState: Done})
}

func (t *HTTP) progress(ex *exchange, eventType EventType, loaded, total int64) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.exchange != ex || ex.finished {
		return
	}
	t.emit(Event{Type: eventType, ReadyState: t.state, Loaded: loaded, Total: max(total, 0), LengthComputable: total >= 0})
}

// setState must be called with the lock held.
func (t *HTTP) setState(state ReadyState) {
	t.state = state
	t.emit(Event{Type: EventReadyStateChange, ReadyState: state})
}

// emit must be called with the lock held, so notifications are queued in the order of state transitions.
func (t *HTTP) emit(ev Event) {
	generation := t.generation
	t.events.enqueue(func() {
		t.deliver(generation, ev)
	})
}

// emitTerminal queues the last notification of the exchange, the exchange is closed after the delivery.
func (t *HTTP) emitTerminal(ex *exchange, ev Event) {
	generation := t.generation
	t.events.enqueue(func() {
		defer ex.close()
		t.deliver(generation, ev)
	})
}

func (t *HTTP) deliver(generation uint64, ev Event) {
	t.lock.Lock()
	current := t.generation == generation
	listener := t.listener
	t.lock.Unlock()
	if !current {
		return
	}
	if hook := listener.hook(ev.Type); hook != nil {
		hook(ev)
	}
}

func (ex *exchange) close() {
	ex.doneOnce.Do(func() {
		close(ex.done)
	})
}

// responseWriter appends decoded body chunks to the transport response.
type responseWriter struct {
	t  *HTTP
	ex *exchange
}

func (w responseWriter) Write(p []byte) (int, error) {
	w.t.lock.Lock()
	defer w.t.lock.Unlock()
	if w.t.exchange != w.ex || w.ex.finished {
		return 0, ErrAborted
	}
	w.t.response = append(w.t.response, p...)
	return len(p), nil
}

// roundTripper wraps a http.RoundTripper and adds trace hooks, redirects included.
type roundTripper struct {
	trace   *trace.ClientTrace
	wrapped http.RoundTripper
}

func (rt roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// Trace request start
	if rt.trace != nil && rt.trace.HTTPRequestStart != nil {
		rt.trace.HTTPRequestStart(req)
	}

	// Send
	res, err := rt.wrapped.RoundTrip(req)

	// Trace request done
	if rt.trace != nil && rt.trace.HTTPRequestDone != nil {
		rt.trace.HTTPRequestDone(res, err)
	}

	return res, err
}

func normalizeMethod(method string) (string, error) {
	if method == "" {
		return "", fmt.Errorf(`%w: empty`, ErrInvalidMethod)
	}
	for _, r := range method {
		if !httpguts.IsTokenRune(r) {
			return "", fmt.Errorf(`%w "%s"`, ErrInvalidMethod, method)
		}
	}
	upper := strings.ToUpper(method)
	for _, m := range forbiddenMethods {
		if upper == m {
			return "", fmt.Errorf(`%w "%s"`, ErrForbiddenMethod, method)
		}
	}
	for _, m := range standardMethods {
		if upper == m {
			return m, nil
		}
	}
	return method, nil
}

func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
