// Package trace extends the httptrace.ClientTrace and adds additional exchange hooks.
// A custom ClientTrace definition can be registered in the transport.Client by the WithTrace or AndTrace method.
package trace

import (
	"context"
	"net/http"
	"net/http/httptrace"
	"reflect"
)

// Factory creates ClientTrace hooks for an exchange.
// It is called once per Send, before the request is sent.
type Factory func(ctx context.Context, request *http.Request) (context.Context, *ClientTrace)

// ClientTrace is a set of hooks to run at various stages of an exchange.
type ClientTrace struct {
	httptrace.ClientTrace // native, low level trace
	// HTTPRequestStart is called when the request begins.
	HTTPRequestStart func(request *http.Request)
	// HTTPRequestDone is called when the response headers are received or the request failed.
	HTTPRequestDone func(response *http.Response, err error)
	// ResponseProcessed is called when the response body has been read, or reading failed.
	// Sent and received are counts of the raw body bytes.
	ResponseProcessed func(response *http.Response, sent, received int64, err error)
	// RequestAborted is called when the exchange is aborted before completion.
	RequestAborted func(request *http.Request)
}

// Compose modifies t such that it respects the previously-registered hooks in old.
// Hooks of the embedded httptrace.ClientTrace are composed too.
// Based on httptrace.compose.
func (t *ClientTrace) Compose(old *ClientTrace) {
	if old == nil {
		return
	}
	compose(reflect.ValueOf(t).Elem(), reflect.ValueOf(old).Elem())
}

func compose(tv, ov reflect.Value) {
	structType := tv.Type()
	for i := range structType.NumField() {
		tf := tv.Field(i)
		of := ov.Field(i)

		// Embedded httptrace.ClientTrace
		if tf.Kind() == reflect.Struct {
			compose(tf, of)
			continue
		}

		hookType := tf.Type()
		if hookType.Kind() != reflect.Func {
			continue
		}
		if of.IsNil() {
			continue
		}
		if tf.IsNil() {
			tf.Set(of)
			continue
		}

		// Make a copy of tf for tf to call. (Otherwise it
		// creates a recursive call cycle and stack overflows)
		tfCopy := reflect.ValueOf(tf.Interface())

		// We need to call both tf and of in some order.
		newFunc := reflect.MakeFunc(hookType, func(args []reflect.Value) []reflect.Value {
			of.Call(args)
			return tfCopy.Call(args)
		})
		tf.Set(newFunc)
	}
}
