package demand_test

import (
	"net/http"
	"sync"

	"github.com/keboola/go-demand/pkg/demand"
	"github.com/keboola/go-demand/pkg/transport"
)

type openCall struct {
	method string
	url    string
	async  bool
}

// fakeTransport records calls and delivers notifications synchronously on emit.
type fakeTransport struct {
	lock            sync.Mutex
	uploadSupported bool
	listener        *transport.Listener
	opens           []openCall
	sends           []transport.Payload
	aborts          int
	state           transport.ReadyState
	status          int
	err             error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{uploadSupported: true}
}

func (f *fakeTransport) Open(method, url string, async bool) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.opens = append(f.opens, openCall{method: method, url: url, async: async})
	f.state = transport.Opened
	return nil
}

func (f *fakeTransport) SetRequestHeader(_, _ string) error {
	return nil
}

func (f *fakeTransport) Send(payload transport.Payload) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.sends = append(f.sends, payload)
	return nil
}

func (f *fakeTransport) Abort() {
	f.lock.Lock()
	f.aborts++
	f.lock.Unlock()
	f.emit(transport.Event{Type: transport.EventAbort, ReadyState: transport.Unsent})
}

func (f *fakeTransport) AddListener(listener *transport.Listener) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.listener = f.listener.Compose(listener)
}

func (f *fakeTransport) UploadSupported() bool {
	return f.uploadSupported
}

func (f *fakeTransport) ReadyState() transport.ReadyState {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.state
}

func (f *fakeTransport) Status() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.status
}

func (f *fakeTransport) StatusText() string {
	return http.StatusText(f.Status())
}

func (f *fakeTransport) ResponseHeader() http.Header {
	return nil
}

func (f *fakeTransport) Response() []byte {
	return nil
}

func (f *fakeTransport) Err() error {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.err
}

func (f *fakeTransport) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// complete finishes the exchange with the status code.
func (f *fakeTransport) complete(status int) {
	f.lock.Lock()
	f.state = transport.Done
	f.status = status
	f.lock.Unlock()
	f.emit(transport.Event{Type: transport.EventReadyStateChange, ReadyState: transport.Done})
}

func (f *fakeTransport) emit(ev transport.Event) {
	f.lock.Lock()
	l := f.listener
	f.lock.Unlock()
	if l == nil {
		return
	}
	var hook func(ev transport.Event)
	switch ev.Type {
	case transport.EventUploadProgress:
		hook = l.UploadProgress
	case transport.EventProgress:
		hook = l.Progress
	case transport.EventReadyStateChange:
		hook = l.ReadyStateChange
	case transport.EventAbort:
		hook = l.Abort
	}
	if hook != nil {
		hook(ev)
	}
}

func (f *fakeTransport) openCalls() []openCall {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]openCall(nil), f.opens...)
}

func (f *fakeTransport) sentPayloads() []transport.Payload {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]transport.Payload(nil), f.sends...)
}

// recorder collects triggered events.
type recorder struct {
	lock   sync.Mutex
	names  []string
	events []transport.Event
}

func (r *recorder) callbacks() map[string]demand.Callback {
	out := make(map[string]demand.Callback)
	for _, name := range []string{
		demand.EventUploadProgress, demand.EventProgress, demand.EventComplete,
		demand.EventSuccess, demand.EventFailure, demand.EventAbort,
	} {
		out[name] = func(_ transport.Transport, args ...any) {
			r.lock.Lock()
			defer r.lock.Unlock()
			r.names = append(r.names, name)
			if ev, ok := args[0].(transport.Event); ok {
				r.events = append(r.events, ev)
			}
		}
	}
	return out
}

func (r *recorder) triggered() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]string(nil), r.names...)
}
