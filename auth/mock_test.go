package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClient(t *testing.T) {
	c := &MockClient{}

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.AddCookie(&http.Cookie{Name: "x-uid", Value: "7"})
	uid, err := c.Auth(r)
	require.NoError(t, err)
	assert.Equal(t, int32(7), uid)

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("x-uid", "3")
	uid, err = c.Auth(r)
	require.NoError(t, err)
	assert.Equal(t, int32(3), uid)

	for _, v := range []string{"", "abc", "0", "-1", "99999999999"} {
		r = httptest.NewRequest(http.MethodGet, "/ws", nil)
		if v != "" {
			r.Header.Set("x-uid", v)
		}
		_, err = c.Auth(r)
		assert.Error(t, err, "x-uid: %q", v)
	}
}
