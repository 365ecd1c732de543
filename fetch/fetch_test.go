package fetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte("payload"))
		case "/json":
			w.Write([]byte(`{"ready":true}`))
		case "/missing":
			http.Error(w, "nope", http.StatusNotFound)
		default:
			http.Error(w, "down", http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c := New(Options{AllowPrivate: true})

	body, err := c.Get(context.Background(), srv.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))

	var state struct{ Ready bool }
	require.NoError(t, c.GetJSON(context.Background(), srv.URL+"/json", &state))
	assert.True(t, state.Ready)
	require.Error(t, c.GetJSON(context.Background(), srv.URL+"/ok", &state))

	_, err = c.Get(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	status, ok := StatusCode(err)
	assert.True(t, ok)
	assert.Equal(t, http.StatusNotFound, status)

	hits.Store(0)
	_, err = c.Get(context.Background(), srv.URL+"/broken")
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load(), "zero retries must mean one attempt")
}

func TestGetRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ready"))
	}))
	defer srv.Close()

	c := New(Options{AllowPrivate: true, Retries: 3, RetryInterval: time.Millisecond})
	body, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ready", string(body))
	assert.Equal(t, int32(3), hits.Load())
}

func TestBlocksPrivateHosts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the server")
	}))
	defer srv.Close()

	_, err := New(Options{}).Get(context.Background(), srv.URL)
	assert.Error(t, err)

	_, err = New(Options{}).Get(context.Background(), "ftp://example.com/a.jpg")
	assert.Error(t, err)
}

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in map[string]int
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		json.NewEncoder(w).Encode(map[string]int{"sum": in["a"] + in["b"]})
	}))
	defer srv.Close()

	for _, retries := range []uint64{0, 2} {
		c := New(Options{AllowPrivate: true, Retries: retries, RetryInterval: time.Millisecond})
		body, err := c.PostJSON(context.Background(), srv.URL, map[string]int{"a": 2, "b": 3})
		require.NoError(t, err)
		assert.JSONEq(t, `{"sum":5}`, string(body))
	}
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := New(Options{AllowPrivate: true, Timeout: 20 * time.Millisecond}).Get(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestPostRaw(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/plain", r.Header.Get("Content-Type"))
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	resp, err := New(Options{AllowPrivate: true}).Post(context.Background(), srv.URL, "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	_, err = New(Options{}).Post(context.Background(), srv.URL, "text/plain", strings.NewReader("x"))
	assert.Error(t, err)
}
