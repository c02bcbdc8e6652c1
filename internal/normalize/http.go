package normalize

import (
	"context"
	"io"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// retryableClient wraps http.Client with the same retry policy as
// get_normalization_requests_session in orion/normalization.py: the first
// attempt plus up to the configured number of retries (MaxRetries, 8 by
// default), exponential backoff of 1s, 2s, 4s, ... between attempts,
// retrying on 502/503/504/403/429
// in addition to connection errors. Standard library only: no example repo
// in the pack imports an HTTP retry library (e.g. hashicorp/go-retryablehttp),
// so the policy is hand-rolled rather than introducing an unexercised
// dependency for a single concern.
type retryableClient struct {
	http    *http.Client
	limiter *rate.Limiter
	retries int
}

func newRetryableClient(timeout time.Duration, ratePerSec float64, maxRetries int) *retryableClient {
	return &retryableClient{
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 1),
		retries: maxRetries,
	}
}

var retryableStatus = map[int]bool{502: true, 503: true, 504: true, 403: true, 429: true}

func (c *retryableClient) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		attemptReq := req.Clone(ctx)
		resp, err := c.http.Do(attemptReq)
		if err != nil {
			lastErr = err
			continue
		}
		if !retryableStatus[resp.StatusCode] {
			return resp, nil
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = &httpStatusError{statusCode: resp.StatusCode}
	}
	return nil, lastErr
}

type httpStatusError struct {
	statusCode int
}

func (e *httpStatusError) Error() string {
	return http.StatusText(e.statusCode)
}
