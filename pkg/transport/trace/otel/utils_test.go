package otel

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSuccess(t *testing.T) {
	t.Parallel()
	assert.False(t, isSuccess(0))
	assert.False(t, isSuccess(http.StatusContinue))
	assert.True(t, isSuccess(http.StatusOK))
	assert.True(t, isSuccess(http.StatusNoContent))
	assert.False(t, isSuccess(http.StatusMovedPermanently))
	assert.False(t, isSuccess(http.StatusNotFound))
}

func TestIsRedirection(t *testing.T) {
	t.Parallel()
	assert.False(t, isRedirection(nil))
	assert.False(t, isRedirection(&http.Response{}))
	assert.False(t, isRedirection(&http.Response{StatusCode: http.StatusOK}))
	assert.False(t, isRedirection(&http.Response{StatusCode: http.StatusBadRequest}))
	assert.True(t, isRedirection(&http.Response{StatusCode: http.StatusTemporaryRedirect}))
}

func TestRedactURL(t *testing.T) {
	t.Parallel()
	attrs := &attributes{config: newConfig([]Option{WithRedactedQueryParam("Secret")})}
	req, err := http.NewRequest(http.MethodGet, "https://example.com/path?secret=123&foo=bar%20baz", nil)
	assert.NoError(t, err)
	assert.Equal(t, "https://example.com/path?foo=bar+baz&secret=****", attrs.redactURL(req.URL))

	req, err = http.NewRequest(http.MethodGet, "https://example.com/path", nil)
	assert.NoError(t, err)
	assert.Equal(t, "https://example.com/path", attrs.redactURL(req.URL))
}
