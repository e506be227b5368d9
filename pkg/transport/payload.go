package transport

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	ContentTypeText           = "text/plain;charset=UTF-8"
	ContentTypeFormURLEncoded = "application/x-www-form-urlencoded;charset=UTF-8"
	ContentTypeJSON           = "application/json"
)

// Payload is a request body.
//
// Encode is called once per sent request, including redirects,
// so it must return a fresh reader each time.
// The content length is -1 if it is unknown. An empty content type means none.
type Payload interface {
	Encode() (body io.ReadCloser, length int64, contentType string, err error)
}

// Text payload is sent as "text/plain".
type Text string

func (v Text) Encode() (io.ReadCloser, int64, string, error) {
	return io.NopCloser(strings.NewReader(string(v))), int64(len(v)), ContentTypeText, nil
}

// Bytes payload is sent without a content type.
type Bytes []byte

func (v Bytes) Encode() (io.ReadCloser, int64, string, error) {
	return io.NopCloser(bytes.NewReader(v)), int64(len(v)), "", nil
}

// FormURLEncoded payload contains an already encoded form body, see the demand/form package.
type FormURLEncoded string

func (v FormURLEncoded) Encode() (io.ReadCloser, int64, string, error) {
	return io.NopCloser(strings.NewReader(string(v))), int64(len(v)), ContentTypeFormURLEncoded, nil
}

// JSON payload marshals the value to JSON.
type JSON struct {
	Value any
}

func (v JSON) Encode() (io.ReadCloser, int64, string, error) {
	c, err := json.Marshal(v.Value)
	if err != nil {
		return nil, 0, "", fmt.Errorf(`cannot encode JSON body: %w`, err)
	}
	return io.NopCloser(bytes.NewReader(c)), int64(len(c)), ContentTypeJSON, nil
}

// Stream payload reads the body from a seekable reader, it is rewound before each request.
type Stream struct {
	Reader      io.ReadSeeker
	ContentType string
}

func (v Stream) Encode() (io.ReadCloser, int64, string, error) {
	end, err := v.Reader.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, 0, "", fmt.Errorf(`cannot seek body: %w`, err)
	}
	if _, err := v.Reader.Seek(0, io.SeekStart); err != nil {
		return nil, 0, "", fmt.Errorf(`cannot seek body: %w`, err)
	}
	return io.NopCloser(v.Reader), end, v.ContentType, nil
}

// Multipart payload is a "multipart/form-data" body, the equivalent of the browser FormData.
// Parts are encoded in the order in which they were appended.
type Multipart struct {
	parts []multipartPart
}

type multipartPart struct {
	name     string
	filename string
	content  []byte
}

func NewMultipart() *Multipart {
	return &Multipart{}
}

// Append adds a field.
func (v *Multipart) Append(name, value string) *Multipart {
	v.parts = append(v.parts, multipartPart{name: name, content: []byte(value)})
	return v
}

// AppendFile adds a file.
func (v *Multipart) AppendFile(name, filename string, content []byte) *Multipart {
	v.parts = append(v.parts, multipartPart{name: name, filename: filename, content: content})
	return v
}

// Len returns number of parts.
func (v *Multipart) Len() int {
	return len(v.parts)
}

func (v *Multipart) Encode() (io.ReadCloser, int64, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range v.parts {
		var pw io.Writer
		var err error
		if p.filename == "" {
			pw, err = w.CreateFormField(p.name)
		} else {
			pw, err = w.CreateFormFile(p.name, p.filename)
		}
		if err != nil {
			return nil, 0, "", fmt.Errorf(`cannot encode multipart part "%s": %w`, p.name, err)
		}
		if _, err := pw.Write(p.content); err != nil {
			return nil, 0, "", fmt.Errorf(`cannot encode multipart part "%s": %w`, p.name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, 0, "", fmt.Errorf(`cannot encode multipart body: %w`, err)
	}
	return io.NopCloser(&buf), int64(buf.Len()), w.FormDataContentType(), nil
}
