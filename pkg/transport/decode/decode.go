// Package decode unwraps response bodies according to the Content-Encoding header.
package decode

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// AcceptEncoding lists encodings supported by Decode, it is sent in the Accept-Encoding header.
const AcceptEncoding = "gzip, deflate, br"

// Decode wraps the body with a decoder. An empty body is returned as is, whatever the encoding.
func Decode(body io.ReadCloser, contentEncoding string) (io.ReadCloser, error) {
	contentEncoding = strings.ToLower(strings.TrimSpace(contentEncoding))
	switch contentEncoding {
	case "gzip", "deflate", "br":
	default:
		return body, nil
	}

	buffered := bufio.NewReader(body)
	if _, err := buffered.Peek(1); errors.Is(err, io.EOF) {
		return io.NopCloser(buffered), nil
	}

	switch contentEncoding {
	case "gzip":
		if v, err := gzip.NewReader(buffered); err == nil {
			return v, nil
		} else {
			return nil, fmt.Errorf("cannot decode gzip: %w", err)
		}
	case "deflate":
		return decodeDeflate(buffered)
	default:
		return io.NopCloser(brotli.NewReader(buffered)), nil
	}
}

// decodeDeflate reads zlib format (RFC 1950), some servers send raw deflate data (RFC 1951) instead.
func decodeDeflate(buffered *bufio.Reader) (io.ReadCloser, error) {
	if header, err := buffered.Peek(2); err == nil && isZlibHeader(header) {
		if v, err := zlib.NewReader(buffered); err == nil {
			return v, nil
		} else {
			return nil, fmt.Errorf("cannot decode deflate: %w", err)
		}
	}
	return flate.NewReader(buffered), nil
}

// isZlibHeader checks the compression method and the FCHECK bits.
func isZlibHeader(h []byte) bool {
	return h[0]&0x0f == 8 && (uint16(h[0])<<8|uint16(h[1]))%31 == 0
}
