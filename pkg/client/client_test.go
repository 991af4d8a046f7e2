package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denysvitali/deployment-downloader/internal/models"
	"github.com/denysvitali/deployment-downloader/pkg/config"
)

func newTestClient(t *testing.T, baseURL string, mutate func(*config.APIConfig)) (*Client, *[]time.Duration) {
	t.Helper()
	cfg := config.APIConfig{
		BearerToken:      "test-token",
		BaseURL:          baseURL,
		RequestTimeoutMs: 1000,
		MaxRetries:       3,
		RetryBackoffMs:   1000,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	c := New(cfg, logger)
	var waits []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return c, &waits
}

func TestRequest_SendsBearerToken(t *testing.T) {
	var auth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	c, waits := newTestClient(t, ts.URL, nil)
	body, err := c.Request(context.Background(), ts.URL+"/x")
	require.NoError(t, err)

	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, "Bearer test-token", auth)
	assert.Empty(t, *waits)
}

func TestRequest_RetriesWithLinearBackoff(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	c, waits := newTestClient(t, ts.URL, nil)
	body, err := c.Request(context.Background(), ts.URL)
	require.NoError(t, err)

	assert.Equal(t, "[]", string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *waits)
}

func TestRequest_Exhausted(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer ts.Close()

	c, waits := newTestClient(t, ts.URL, nil)
	_, err := c.Request(context.Background(), ts.URL+"/files")
	require.Error(t, err)

	var exhausted *RequestExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, ts.URL+"/files", exhausted.URL)
	assert.Equal(t, 3, exhausted.Attempts)

	var status *HTTPStatusError
	require.True(t, errors.As(err, &status))
	assert.Equal(t, http.StatusInternalServerError, status.StatusCode)

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Len(t, *waits, 2, "no wait after the final attempt")
}

func TestRequest_TimeoutCountsAsFailure(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		_, _ = w.Write([]byte(`{"data":"aGk="}`))
	}))
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL, func(cfg *config.APIConfig) {
		cfg.RequestTimeoutMs = 50
	})

	body, err := c.Request(context.Background(), ts.URL)
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":"aGk="}`, string(body))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRequest_MalformedJSONIsNotRetried(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"data":`))
	}))
	defer ts.Close()

	c, waits := newTestClient(t, ts.URL, nil)
	_, err := c.Request(context.Background(), ts.URL)
	require.Error(t, err)

	var decodeErr *DecodeError
	assert.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, *waits)
}

func TestRequest_SingleAttempt(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	c, waits := newTestClient(t, ts.URL, func(cfg *config.APIConfig) {
		cfg.MaxRetries = 1
	})
	_, err := c.Request(context.Background(), ts.URL)

	var exhausted *RequestExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 1, exhausted.Attempts)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, *waits)
}

func TestRequest_CancelledContextStopsRetrying(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL, nil)
	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := c.Request(ctx, ts.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	var exhausted *RequestExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 1, exhausted.Attempts, "only the attempts actually made are reported")
}

func TestFetchTree(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/dpl_1/files", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"name":"src","type":"directory","children":[{"name":"a.txt","type":"file","uid":"u1"}]},
			{"name":"readme.log","type":"file","uid":"u2"}
		]`))
	}))
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL, nil)
	nodes, err := c.FetchTree(context.Background(), "dpl_1")
	require.NoError(t, err)

	require.Len(t, nodes, 2)
	assert.True(t, nodes[0].IsDirectory())
	assert.Equal(t, "src", nodes[0].Name)
	require.Len(t, nodes[0].Children, 1)
	assert.Equal(t, models.TreeNode{Name: "a.txt", Type: models.NodeTypeFile, UID: "u1"}, nodes[0].Children[0])
	assert.True(t, nodes[1].IsFile())
}

func TestFetchTree_InvalidShape(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"code":"forbidden"}}`))
	}))
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL, nil)
	_, err := c.FetchTree(context.Background(), "dpl_1")

	var shapeErr *InvalidResponseShapeError
	require.True(t, errors.As(err, &shapeErr))
	assert.Equal(t, "object", shapeErr.Kind)
}

func TestFetchFile(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/dpl_1/files/u1":
			_, _ = w.Write([]byte(`{"data":"aGVsbG8="}`))
		case "/dpl_1/files/empty":
			_, _ = w.Write([]byte(`{}`))
		default:
			_, _ = w.Write([]byte(`null`))
		}
	}))
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL, nil)

	content, err := c.FetchFile(context.Background(), "dpl_1", "u1")
	require.NoError(t, err)
	assert.True(t, content.HasData())
	assert.Equal(t, "aGVsbG8=", content.Data)

	content, err = c.FetchFile(context.Background(), "dpl_1", "empty")
	require.NoError(t, err)
	assert.False(t, content.HasData())

	content, err = c.FetchFile(context.Background(), "dpl_1", "other")
	require.NoError(t, err)
	assert.False(t, content.HasData())
}

func TestURLs(t *testing.T) {
	c, _ := newTestClient(t, "https://api.example.com/v8/deployments", nil)

	assert.Equal(t, "https://api.example.com/v8/deployments/dpl_1/files", c.TreeURL("dpl_1"))
	assert.Equal(t, "https://api.example.com/v8/deployments/dpl_1/files/abc", c.FileURL("dpl_1", "abc"))
	assert.Equal(t, "https://api.example.com/v8/deployments", c.BaseURL())
}
