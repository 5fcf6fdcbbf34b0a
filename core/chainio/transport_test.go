package chainio

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ap-staking/pkg/logger"
)

// newTestHTTPClient records the backoff the policy asks for and waits a
// millisecond instead.
func newTestHTTPClient(attempts int) (*http.Client, *retryablehttp.Client, *[]time.Duration) {
	var sleeps []time.Duration
	rc := newRetryClient(RetryPolicy{Attempts: attempts, Backoff: 2 * time.Second, Timeout: 5 * time.Second}, logger.NewNoOpLogger())
	backoff := rc.Backoff
	rc.Backoff = func(min, max time.Duration, attempt int, resp *http.Response) time.Duration {
		sleeps = append(sleeps, backoff(min, max, attempt, resp))
		return time.Millisecond
	}
	return rc.StandardClient(), rc, &sleeps
}

func TestRetryTransportRetriesUnavailable(t *testing.T) {
	var calls int32
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	client, _, sleeps := newTestHTTPClient(3)
	resp, err := client.Post(srv.URL, "application/json", strings.NewReader(`{"id":1}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.Equal(t, []string{`{"id":1}`, `{"id":1}`, `{"id":1}`}, bodies)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, *sleeps)
}

func TestRetryTransportStopsAtAttemptLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client, _, _ := newTestHTTPClient(3)
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestRetryTransportDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client, _, sleeps := newTestHTTPClient(3)
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Empty(t, *sleeps)
}

func TestRetryTransportConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client, _, sleeps := newTestHTTPClient(3)
	_, err := client.Get(url)
	require.Error(t, err)
	assert.Len(t, *sleeps, 2)
}

func TestRetryTransportHonoursCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client, rc, _ := newTestHTTPClient(3)
	rc.Backoff = func(time.Duration, time.Duration, int, *http.Response) time.Duration {
		cancel()
		return time.Second
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	_, err = client.Do(req)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryTransportLogsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	log := logger.NewRecorder()
	rc := newRetryClient(RetryPolicy{Attempts: 2, Backoff: time.Millisecond}, log)
	resp, err := rc.StandardClient().Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.True(t, log.Has(logger.LevelWarn, "retrying"))
}

func TestNewHTTPClientKeepsTimeout(t *testing.T) {
	client := NewHTTPClient(RetryPolicy{Attempts: 3, Backoff: time.Second, Timeout: 30 * time.Second}, nil)
	assert.Equal(t, 30*time.Second, client.Timeout)
	_, ok := client.Transport.(*retryablehttp.RoundTripper)
	assert.True(t, ok)
}
