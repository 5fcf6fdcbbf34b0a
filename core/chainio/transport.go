package chainio

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/AvaProtocol/ap-staking/pkg/logger"
)

// RetryPolicy bounds the automatic retries done at the transport layer. These
// are the only automatic retries in the system; callers above never retry the
// same call again.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
	Timeout  time.Duration
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// checkRetry retries connection failures and the statuses that mean "try
// later". Other 5xx answers carry a JSON-RPC error body worth returning.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return retryableStatus(resp.StatusCode), nil
}

func newRetryClient(policy RetryPolicy, log logger.Logger) *retryablehttp.Client {
	log = logger.EnsureLogger(log)
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = attempts - 1
	rc.CheckRetry = checkRetry
	// the last answer is handed back as is, so a 502 body still reaches the
	// JSON-RPC decoder
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Backoff = func(_, _ time.Duration, attempt int, resp *http.Response) time.Duration {
		status := ""
		if resp != nil {
			status = resp.Status
		}
		log.Warn("transport attempt failed, retrying",
			"attempt", attempt+1,
			"max_attempts", attempts,
			"status", status)
		return policy.Backoff
	}
	return rc
}

// NewHTTPClient returns the shared client used for the chain RPC, the bundler
// and the history endpoint.
func NewHTTPClient(policy RetryPolicy, log logger.Logger) *http.Client {
	client := newRetryClient(policy, log).StandardClient()
	client.Timeout = policy.Timeout
	return client
}
