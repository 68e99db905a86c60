package rest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/context"
)

func TestHTTPRequester(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "Bot secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		switch r.URL.Path {
		case "/api/channels/7/messages/42":
			assert.Equal(t, http.MethodPatch, r.Method)
			assert.JSONEq(t, `{"content": "edited"}`, string(body))
			w.Write([]byte(`{"id": "42"}`))
		case "/api/channels/7/messages":
			assert.Equal(t, "5", r.URL.Query().Get("limit"))
			w.Write([]byte(`[]`))
		default:
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer server.Close()

	hr := NewHTTPRequester(server.URL+"/api/", 100)
	require.NotNil(t, hr.Limiter)
	token := NewToken("secret")

	resp, err := hr.Do(context.Background(), &Request{
		Method: http.MethodPatch,
		Path:   "/channels/7/messages/42",
		Body:   []byte(`{"content":"edited"}`),
		Token:  token,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.JSONEq(t, `{"id": "42"}`, string(resp.Body))

	resp, err = hr.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/channels/7/messages?limit=5", Token: token})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)

	resp, err = hr.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/unknown", Token: token})
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.Status)
	assert.Equal(t, "2", resp.Header.Get("Retry-After"))
}

func TestHTTPRequesterCancelled(t *testing.T) {
	hr := NewHTTPRequester("http://127.0.0.1:1", 0)
	assert.Nil(t, hr.Limiter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := hr.Do(ctx, &Request{Method: http.MethodGet, Path: "/users/@me"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTokenRedaction(t *testing.T) {
	token := NewToken("secret")
	assert.Equal(t, "[REDACTED]", token.String())
	assert.NotContains(t, token.GoString(), "secret")
	text, err := token.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "[REDACTED]", string(text))
	assert.Equal(t, "secret", token.Expose())
	assert.True(t, Token{}.IsEmpty())
}
