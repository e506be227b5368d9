package transport_test

import (
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/keboola/go-demand/pkg/transport"
)

func TestPayload_Encode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		payload     Payload
		body        string
		contentType string
	}{
		{name: "text", payload: Text("foo"), body: "foo", contentType: ContentTypeText},
		{name: "bytes", payload: Bytes("\x00\x01"), body: "\x00\x01", contentType: ""},
		{name: "form", payload: FormURLEncoded("a=1"), body: "a=1", contentType: ContentTypeFormURLEncoded},
		{name: "json", payload: JSON{Value: map[string]any{"foo": []int{1, 2}}}, body: `{"foo":[1,2]}`, contentType: ContentTypeJSON},
	}

	for _, tc := range cases {
		body, length, contentType, err := tc.payload.Encode()
		require.NoError(t, err, tc.name)
		content, err := io.ReadAll(body)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.body, string(content), tc.name)
		assert.Equal(t, int64(len(tc.body)), length, tc.name)
		assert.Equal(t, tc.contentType, contentType, tc.name)
	}
}

func TestPayload_JSONError(t *testing.T) {
	t.Parallel()
	_, _, _, err := JSON{Value: math.Inf(1)}.Encode()
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "cannot encode JSON body")
	}
}

func TestPayload_Multipart(t *testing.T) {
	t.Parallel()

	payload := NewMultipart().Append("a", "1").AppendFile("b", "b.txt", []byte("2"))
	assert.Equal(t, 2, payload.Len())

	body, length, contentType, err := payload.Encode()
	require.NoError(t, err)
	content, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), length)
	assert.Contains(t, contentType, "multipart/form-data; boundary=")
	assert.Contains(t, string(content), `Content-Disposition: form-data; name="a"`)
	assert.Contains(t, string(content), `Content-Disposition: form-data; name="b"; filename="b.txt"`)
}
