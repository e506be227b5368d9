// Package transport defines the asynchronous HTTP transport consumed by a demand.
//
// Transport is modeled after the browser XMLHttpRequest primitive:
// Open configures an exchange, Send starts it, Abort cancels it,
// and lifecycle notifications are delivered to registered Listener hooks.
//
// HTTP is the default implementation based on the standard net/http package.
// Use Client to configure it, one HTTP transport is created per demand by Client.NewTransport.
//
// Notifications of one transport are delivered serially, in order, from a loop goroutine.
// For asynchronous exchanges they are always delivered after Send returns.
package transport

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrInvalidState is returned when a method is called in a ready state that does not allow it.
	ErrInvalidState = errors.New("transport is in an invalid state")
	// ErrInvalidMethod is returned by Open for an empty or malformed HTTP method.
	ErrInvalidMethod = errors.New("invalid HTTP method")
	// ErrForbiddenMethod is returned by Open for CONNECT, TRACE and TRACK.
	ErrForbiddenMethod = errors.New("forbidden HTTP method")
	// ErrInvalidHeader is returned by SetRequestHeader for a malformed header name or value.
	ErrInvalidHeader = errors.New("invalid HTTP header")
	// ErrAborted is reported by Err after the exchange has been aborted.
	ErrAborted = errors.New("exchange aborted")
)

// Transport is an asynchronous HTTP client primitive performing one exchange at a time.
type Transport interface {
	// Open configures the method and URL of the next exchange.
	// An in-flight exchange is terminated silently, without notifications.
	Open(method, url string, async bool) error
	// SetRequestHeader adds a header to the opened exchange, before Send.
	SetRequestHeader(key, value string) error
	// Send starts the opened exchange. A nil payload means no body.
	// Asynchronous exchanges return immediately, synchronous ones block
	// until the terminal notification has been delivered.
	Send(payload Payload) error
	// Abort cancels the in-flight exchange, it is a no-op if nothing is in flight.
	Abort()
	// AddListener registers notification hooks, previously registered hooks are kept.
	AddListener(listener *Listener)
	// UploadSupported reports whether UploadProgress notifications are emitted.
	UploadSupported() bool
	// ReadyState returns the current state of the exchange.
	ReadyState() ReadyState
	// Status returns the HTTP status code, 0 before headers are received or after a failure.
	Status() int
	// StatusText returns the HTTP status text, for example "200 OK".
	StatusText() string
	// ResponseHeader returns the response headers, nil before headers are received.
	ResponseHeader() http.Header
	// Response returns the raw (decoded) response body received so far.
	Response() []byte
	// Err returns the network error of the last exchange, ErrAborted if it has been aborted.
	Err() error
	// Done returns a channel closed when the terminal notification of the last exchange has been delivered.
	// If no exchange has been sent, the channel is already closed.
	Done() <-chan struct{}
}

// ReadyState of an exchange, values match the XMLHttpRequest readyState.
type ReadyState int

const (
	Unsent ReadyState = iota
	Opened
	HeadersReceived
	Loading
	Done
)

func (s ReadyState) String() string {
	switch s {
	case Unsent:
		return "UNSENT"
	case Opened:
		return "OPENED"
	case HeadersReceived:
		return "HEADERS_RECEIVED"
	case Loading:
		return "LOADING"
	case Done:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// EventType identifies a low-level notification.
type EventType string

const (
	EventUploadProgress   EventType = "uploadprogress"
	EventProgress         EventType = "progress"
	EventReadyStateChange EventType = "readystatechange"
	EventAbort            EventType = "abort"
)

// Event is a low-level notification emitted by a Transport.
type Event struct {
	Type       EventType
	ReadyState ReadyState
	// Loaded is the number of body bytes transferred so far, for progress events.
	Loaded int64
	// Total is the expected body length, valid only if LengthComputable is true.
	Total            int64
	LengthComputable bool
}

// Listener is a set of notification hooks. Nil hooks are skipped.
type Listener struct {
	// UploadProgress is called while the request body is sent.
	UploadProgress func(ev Event)
	// Progress is called while the response body is received.
	Progress func(ev Event)
	// ReadyStateChange is called on each ready state transition.
	ReadyStateChange func(ev Event)
	// Abort is called when the in-flight exchange has been aborted.
	Abort func(ev Event)
}

// Compose returns a Listener calling hooks of l and then hooks of next.
func (l *Listener) Compose(next *Listener) *Listener {
	if l == nil {
		return next
	}
	if next == nil {
		return l
	}
	return &Listener{
		UploadProgress:   composeHook(l.UploadProgress, next.UploadProgress),
		Progress:         composeHook(l.Progress, next.Progress),
		ReadyStateChange: composeHook(l.ReadyStateChange, next.ReadyStateChange),
		Abort:            composeHook(l.Abort, next.Abort),
	}
}

func (l *Listener) hook(t EventType) func(ev Event) {
	if l == nil {
		return nil
	}
	switch t {
	case EventUploadProgress:
		return l.UploadProgress
	case EventProgress:
		return l.Progress
	case EventReadyStateChange:
		return l.ReadyStateChange
	case EventAbort:
		return l.Abort
	default:
		return nil
	}
}

func composeHook(first, second func(ev Event)) func(ev Event) {
	switch {
	case first == nil:
		return second
	case second == nil:
		return first
	default:
		return func(ev Event) {
			first(ev)
			second(ev)
		}
	}
}

// WaitDone waits until the last exchange of the transport is done or the context is canceled.
func WaitDone(ctx context.Context, t Transport) error {
	select {
	case <-t.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
