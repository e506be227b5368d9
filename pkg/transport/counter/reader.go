// Package counter provides readers counting bytes flowing through a request or response body.
package counter

import (
	"io"
)

// ReadCloser wraps an io.ReadCloser (request/response body) to count bytes read from the reader.
// Optionally, an OnRead callback can be registered.
type ReadCloser struct {
	wrapped io.ReadCloser
	onRead  OnRead
	bytes   int64
}

// OnRead is called after each read that returned some bytes, total is the running sum.
type OnRead func(n int, total int64)

func NewReadCloser(wrapped io.ReadCloser, onRead OnRead) *ReadCloser {
	return &ReadCloser{wrapped: wrapped, onRead: onRead}
}

func (w *ReadCloser) Bytes() int64 {
	return w.bytes
}

func (w *ReadCloser) Read(b []byte) (int, error) {
	n, err := w.wrapped.Read(b)
	w.bytes += int64(n)
	if n > 0 && w.onRead != nil {
		w.onRead(n, w.bytes)
	}
	return n, err
}

func (w *ReadCloser) Close() error {
	return w.wrapped.Close()
}
