package demand

import (
	"github.com/keboola/go-demand/pkg/transport"
)

// Names of the events a Callback can be registered for.
const (
	EventUploadProgress = "uploadprogress"
	EventProgress       = "progress"
	EventComplete       = "complete"
	EventSuccess        = "success"
	EventFailure        = "failure"
	EventAbort          = "abort"
)

// Callback is invoked by Trigger with the owning transport and the trigger arguments.
// Callbacks registered for the built-in events receive one transport.Event argument, see EventOf.
type Callback func(t transport.Transport, args ...any)

// EventOf returns the transport.Event passed to a callback of a built-in event.
func EventOf(args []any) (transport.Event, bool) {
	if len(args) == 0 {
		return transport.Event{}, false
	}
	ev, ok := args[0].(transport.Event)
	return ev, ok
}

// OnEvent adapts a function of the transport.Event to a Callback of a built-in event.
func OnEvent(fn func(t transport.Transport, ev transport.Event)) Callback {
	return func(t transport.Transport, args ...any) {
		ev, _ := EventOf(args)
		fn(t, ev)
	}
}
