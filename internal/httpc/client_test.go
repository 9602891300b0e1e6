package httpc

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckResponse(t *testing.T) {
	ok := &http.Response{StatusCode: 204, Body: io.NopCloser(strings.NewReader(""))}
	assert.NoError(t, CheckResponse(ok))

	bad := &http.Response{StatusCode: 503, Body: io.NopCloser(strings.NewReader(" overloaded \n"))}
	err := CheckResponse(bad)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "http 503: overloaded", se.Error())
	assert.True(t, se.Temporary())

	notFound := &StatusError{StatusCode: 404}
	assert.False(t, notFound.Temporary())
	assert.Equal(t, "http 404", notFound.Error())
}

func TestNewClient(t *testing.T) {
	c := NewClient(5 * time.Second)
	assert.Equal(t, 5*time.Second, c.Timeout)
	assert.NotNil(t, Client.Transport)
}
