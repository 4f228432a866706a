package httpjson

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmared/pulse/pkg/pulse"
)

type received struct {
	path   string
	header http.Header
	body   map[string]any
}

type collector struct {
	mu     sync.Mutex
	status int
	got    []received
}

func (c *collector) handle(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	c.mu.Lock()
	c.got = append(c.got, received{path: r.URL.Path, header: r.Header.Clone(), body: body})
	status := c.status
	c.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func (c *collector) requests() []received {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]received(nil), c.got...)
}

func newServer(t *testing.T, c *collector) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Post(pulse.SessionEndpoint, c.handle)
	r.Post(pulse.ErrorEndpoint, c.handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestSend_PostsJSONToEndpoint(t *testing.T) {
	c := &collector{}
	srv := newServer(t, c)
	tr := New(srv.URL+"/", WithHeader("X-Site", "blog"))

	err := tr.Send(context.Background(), pulse.SessionEndpoint, map[string]any{"sessionId": "sess_1", "heartbeat": true})
	require.NoError(t, err)

	got := c.requests()
	require.Len(t, got, 1)
	assert.Equal(t, pulse.SessionEndpoint, got[0].path)
	assert.Equal(t, "application/json", got[0].header.Get("Content-Type"))
	assert.Equal(t, "blog", got[0].header.Get("X-Site"))
	assert.Equal(t, "sess_1", got[0].body["sessionId"])
	assert.Equal(t, true, got[0].body["heartbeat"])
}

func TestSend_Non2xxIsStatusError(t *testing.T) {
	c := &collector{status: http.StatusServiceUnavailable}
	srv := newServer(t, c)
	tr := New(srv.URL)

	err := tr.Send(context.Background(), pulse.ErrorEndpoint, map[string]any{"message": "boom"})
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, pulse.ErrorEndpoint, statusErr.Endpoint)
}

func TestSend_UnknownRouteFails(t *testing.T) {
	c := &collector{}
	srv := newServer(t, c)
	tr := New(srv.URL)

	err := tr.Send(context.Background(), "/api/unknown", map[string]any{})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestSend_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := New(url).Send(context.Background(), pulse.SessionEndpoint, map[string]any{})
	require.Error(t, err)
	var statusErr *StatusError
	assert.False(t, errors.As(err, &statusErr))
}

func TestSend_UnencodableBody(t *testing.T) {
	err := New("http://127.0.0.1:1").Send(context.Background(), pulse.SessionEndpoint, map[string]any{"f": func() {}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encode")
}

func TestSend_RespectsContext(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := New(srv.URL).Send(ctx, pulse.SessionEndpoint, map[string]any{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSendOnUnload_DeliversDetached(t *testing.T) {
	c := &collector{}
	srv := newServer(t, c)
	tr := New(srv.URL)

	ok := tr.SendOnUnload(pulse.SessionEndpoint, map[string]any{"sessionId": "sess_2", "endSession": true})
	require.True(t, ok)

	require.Eventually(t, func() bool { return len(c.requests()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := c.requests()[0]
	assert.Equal(t, true, got.body["endSession"])
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
}

func TestSendOnUnload_UnencodableBody(t *testing.T) {
	ok := New("http://127.0.0.1:1").SendOnUnload(pulse.SessionEndpoint, make(chan int))
	assert.False(t, ok)
}

func TestFromConfig_RequiresEndpoint(t *testing.T) {
	cfg := pulse.DefaultConfig()
	cfg.Production = true

	_, err := FromConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint is required")
}

func TestFromConfig_PostsToEndpoint(t *testing.T) {
	c := &collector{}
	srv := newServer(t, c)
	cfg := pulse.DefaultConfig()
	cfg.Endpoint = srv.URL + "/"
	cfg.RequestTimeout = 3 * time.Second

	tr, err := FromConfig(cfg, WithHeader("X-Site", "blog"))
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, tr.client.Timeout)

	require.NoError(t, tr.Send(context.Background(), pulse.ErrorEndpoint, map[string]any{"message": "boom"}))
	got := c.requests()
	require.Len(t, got, 1)
	assert.Equal(t, pulse.ErrorEndpoint, got[0].path)
	assert.Equal(t, "blog", got[0].header.Get("X-Site"))
}
