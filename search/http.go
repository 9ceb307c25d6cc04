package search

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

var defaultClient = &http.Client{Timeout: 15 * time.Second}

const (
	maxBackoff  = 30 * time.Second
	maxAttempts = 4
)

// doWithBackoff sends the request built by newReq and retries on 429,
// doubling the wait each time up to maxBackoff. After maxAttempts rate
// limited responses it gives up with an error. The caller owns the body of
// the returned response.
func doWithBackoff(ctx context.Context, client *http.Client, initial time.Duration, newReq func() (*http.Request, error)) (*http.Response, error) {
	if initial <= 0 {
		initial = time.Second
	}
	delay := initial
	for attempt := 1; ; attempt++ {
		req, err := newReq()
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		resp.Body.Close()
		if attempt >= maxAttempts {
			return nil, fmt.Errorf("rate limited after %d attempts", attempt)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if delay < maxBackoff {
			delay *= 2
		}
	}
}
