package zuul

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testConfig(url string) Config {
	return Config{
		URL:        url + "/",
		Tenant:     "local",
		Connection: "virtual",
		Project:    "gateway",
		Token:      "secret",
	}
}

func newTestClient(url string) *Client {
	log := logrus.New()
	log.Out = io.Discard
	return New(testConfig(url), WithRetry(3, time.Millisecond), WithLogger(log))
}

func TestSign(t *testing.T) {
	// python -c 'import hmac,hashlib;print(hmac.new(b"secret",b"{\"a\":1}",hashlib.sha1).hexdigest())'
	require.Equal(t, "f8446672f033e4b2beafc5ca3a71eafcd2cafb6e", Sign("secret", []byte(`{"a":1}`)))
}

func TestURLs(t *testing.T) {
	c := New(testConfig("http://zuul:9000"))

	require.Equal(t, "http://zuul:9000/api/connection/virtual/payload", c.PayloadURL())
	require.Equal(t, "http://zuul:9000/t/local/build/abc", c.BuildPage("abc"))
}

func TestPullRequestNew(t *testing.T) {
	var got struct {
		MsgID string         `json:"msg_id"`
		Topic string         `json:"topic"`
		Msg   map[string]any `json:"msg"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/connection/virtual/payload", r.URL.Path)
		require.Equal(t, "gateway", r.Header.Get("x-pagure-project"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Equal(t, Sign("secret", body), r.Header.Get("x-pagure-signature"))
		require.NoError(t, json.Unmarshal(body, &got))
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(srv.URL).PullRequestNew(context.Background(), "42"))

	_, err := uuid.Parse(got.MsgID)
	require.NoError(t, err)
	require.Equal(t, TopicPullRequestNew, got.Topic)
	require.Equal(t, map[string]any{
		"pullrequest": map[string]any{
			"branch":  "master",
			"id":      "42",
			"project": map[string]any{"name": "gateway"},
			"title":   "Trigger event",
		},
	}, got.Msg)
}

func TestSendPayloadRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NotEmpty(t, body, "every attempt must carry the payload")
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(srv.URL).SendPayload(context.Background(), "t", map[string]any{}))
	require.Equal(t, int32(3), calls.Load())
}

func TestSendPayloadDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad signature", http.StatusForbidden)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).SendPayload(context.Background(), "t", map[string]any{})
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusForbidden, statusErr.Code)
	require.Equal(t, "bad signature", statusErr.Body)
}

func TestLatestBuild(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tenant/local/builds", r.URL.Path)
		switch r.URL.Query().Get("ref") {
		case "refs/pull/1/head":
			w.Write([]byte(`[{"uuid": "newest"}, {"uuid": "older"}]`))
		default:
			w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	id, found, err := c.LatestBuild(context.Background(), "refs/pull/1/head")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "newest", id)

	_, found, err = c.LatestBuild(context.Background(), "refs/pull/2/head")
	require.NoError(t, err)
	require.False(t, found)
}
