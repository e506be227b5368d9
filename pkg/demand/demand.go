// Package demand provides Demand, a single HTTP request with named event callbacks.
//
// A Demand owns one transport.Transport and translates its low-level notifications
// to the events "uploadprogress", "progress", "complete", "success", "failure" and "abort".
//
// Example:
//
//	d, err := demand.New("https://example.com/items", map[string]demand.Callback{
//		demand.EventSuccess: func(t transport.Transport, args ...any) {
//			fmt.Println(string(t.Response()))
//		},
//	})
//	if err != nil {
//		return err
//	}
//	if err := d.Post(demand.FieldsMap(map[string]any{"name": "foo"})); err != nil {
//		return err
//	}
//	return d.Wait(ctx)
//
// Callbacks are invoked serially from a transport goroutine, after the dispatch method returns.
// Transport-level failures are reported only by the "failure" and "abort" events, and by Err.
package demand

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/http/httpguts"

	"github.com/keboola/go-demand/pkg/transport"
)

// Demand is one logical HTTP request, see the package documentation.
type Demand struct {
	url       string
	transport transport.Transport
	logger    Logger

	lock   sync.Mutex
	events map[string]Callback
	method string
}

// New creates a Demand for the URL and registers the initial callbacks, nil callbacks are ignored.
func New(rawURL string, events map[string]Callback, opts ...Option) (*Demand, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf(`%w "%s": %w`, ErrInvalidURL, rawURL, err)
	}

	cfg := newConfig(opts)
	d := &Demand{
		url:       rawURL,
		transport: cfg.transport,
		logger:    cfg.logger,
		events:    make(map[string]Callback),
	}

	for name, cb := range events {
		if cb != nil {
			d.On(name, cb)
		}
	}

	d.transport.AddListener(d.listener())
	return d, nil
}

// URL returns the target URL.
func (d *Demand) URL() string {
	return d.url
}

// Transport returns the owned transport.
func (d *Demand) Transport() transport.Transport {
	return d.transport
}

// On registers the callback for the event name, a previous callback is replaced.
// It returns false if the callback is nil.
func (d *Demand) On(name string, cb Callback) bool {
	if cb == nil {
		d.logger.Warnf(`demand: cannot register nil callback for the event "%s"`, name)
		return false
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	d.events[name] = cb
	return true
}

// Trigger invokes the callback registered for the event name synchronously.
// It returns false if no callback is registered. A panic in the callback is not recovered.
func (d *Demand) Trigger(name string, args ...any) bool {
	d.lock.Lock()
	cb, found := d.events[name]
	d.lock.Unlock()
	if !found {
		return false
	}
	cb(d.transport, args...)
	return true
}

// Head sends a HEAD request.
func (d *Demand) Head() error {
	return d.dispatch("HEAD", nil, true)
}

// Options sends an OPTIONS request.
func (d *Demand) Options() error {
	return d.dispatch("OPTIONS", nil, true)
}

// Get sends a GET request.
func (d *Demand) Get() error {
	return d.dispatch("GET", nil, true)
}

// Delete sends a DELETE request without body.
func (d *Demand) Delete() error {
	return d.dispatch("DELETE", nil, true)
}

// Post sends a POST request, a nil body means no body.
func (d *Demand) Post(body Body) error {
	return d.dispatchBody("POST", body)
}

// Put sends a PUT request, a nil body means no body.
func (d *Demand) Put(body Body) error {
	return d.dispatchBody("PUT", body)
}

// Raw sends a request with any method, the payload is sent unmodified.
// Async defaults to true, a synchronous request blocks until the terminal event has been delivered,
// so it must not be sent from a callback.
//
// ErrInvalidMethod and ErrInvalidAsync are returned without touching the transport.
func (d *Demand) Raw(method string, payload transport.Payload, async ...bool) error {
	if !validMethod(method) {
		d.logger.Warnf(`demand: invalid method "%s"`, method)
		return fmt.Errorf(`%w "%s"`, ErrInvalidMethod, method)
	}
	if len(async) > 1 {
		d.logger.Warnf(`demand: expected at most one async flag, found %d`, len(async))
		return fmt.Errorf(`%w: expected at most one value, found %d`, ErrInvalidAsync, len(async))
	}
	isAsync := true
	if len(async) == 1 {
		isAsync = async[0]
	}
	return d.dispatch(method, payload, isAsync)
}

// Abort cancels the in-flight exchange, the "abort" event follows.
func (d *Demand) Abort() {
	d.logger.Debugf(`demand: aborting "%s"`, d.url)
	d.transport.Abort()
}

// Done returns a channel closed when the terminal event of the last exchange has been delivered.
func (d *Demand) Done() <-chan struct{} {
	return d.transport.Done()
}

// Wait waits for the terminal event of the last exchange and returns Err.
func (d *Demand) Wait(ctx context.Context) error {
	if err := transport.WaitDone(ctx, d.transport); err != nil {
		return err
	}
	return d.Err()
}

// Err returns the outcome of the last exchange.
// It is nil for a 2xx status or an unfinished exchange, ErrAborted after Abort,
// *StatusError for other statuses or the network error.
func (d *Demand) Err() error {
	if err := d.transport.Err(); err != nil {
		return err
	}
	if d.transport.ReadyState() != transport.Done {
		return nil
	}
	if status := d.transport.Status(); !isSuccess(status) {
		d.lock.Lock()
		method := d.method
		d.lock.Unlock()
		return &StatusError{Method: method, URL: d.url, StatusCode: status, StatusText: d.transport.StatusText()}
	}
	return nil
}

func (d *Demand) dispatchBody(method string, body Body) error {
	var payload transport.Payload
	if body != nil {
		var err error
		if payload, err = body.payload(); err != nil {
			return fmt.Errorf(`cannot encode %s "%s" body: %w`, method, d.url, err)
		}
	}
	return d.dispatch(method, payload, true)
}

func (d *Demand) dispatch(method string, payload transport.Payload, async bool) error {
	d.logger.Debugf(`demand: %s "%s"`, method, d.url)

	if err := d.transport.Open(method, d.url, async); err != nil {
		return err
	}

	d.lock.Lock()
	d.method = strings.ToUpper(method)
	d.lock.Unlock()

	return d.transport.Send(payload)
}

// listener translates transport notifications to the demand events.
func (d *Demand) listener() *transport.Listener {
	l := &transport.Listener{
		Progress: func(ev transport.Event) {
			d.Trigger(EventProgress, ev)
		},
		ReadyStateChange: func(ev transport.Event) {
			if ev.ReadyState != transport.Done {
				return
			}
			d.Trigger(EventComplete, ev)
			if isSuccess(d.transport.Status()) {
				d.Trigger(EventSuccess, ev)
			} else {
				d.Trigger(EventFailure, ev)
			}
		},
		Abort: func(ev transport.Event) {
			d.Trigger(EventAbort, ev)
		},
	}
	if d.transport.UploadSupported() {
		l.UploadProgress = func(ev transport.Event) {
			d.Trigger(EventUploadProgress, ev)
		}
	}
	return l
}

func validMethod(method string) bool {
	if method == "" {
		return false
	}
	for _, r := range method {
		if !httpguts.IsTokenRune(r) {
			return false
		}
	}
	return true
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
