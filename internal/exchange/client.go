package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"perpscan/logger"
)

const (
	requestTimeout = 30 * time.Second
	maxAttempts    = 3
	baseRetryDelay = time.Second
	userAgent      = "perpscan/1.0"
)

// restClient wraps http.Client with request pacing and bounded retries. The
// limiter is fed from the exchange's advisory rate_limit (requests per
// minute); pacing happens client side, the core never enforces it.
type restClient struct {
	http    *http.Client
	limiter *rate.Limiter
	log     *logger.Entry
}

func newRESTClient(exchangeName string, requestsPerMinute int) *restClient {
	limit := rate.Limit(float64(requestsPerMinute) / 60.0)
	return &restClient{
		http:    &http.Client{Timeout: requestTimeout},
		limiter: rate.NewLimiter(limit, requestsPerMinute/10+1),
		log:     logger.GetLogger().WithComponent(exchangeName + "_adapter"),
	}
}

// getJSON fetches url and decodes the response body into out, retrying
// transport failures and non-2xx statuses with exponential backoff.
func (c *restClient) getJSON(ctx context.Context, url string, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := baseRetryDelay << (attempt - 1)
			c.log.WithFields(logger.Fields{
				"url":     url,
				"attempt": attempt + 1,
			}).Debug("retrying request")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		body, err := c.doGet(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}
		if err := json.Unmarshal(body, out); err != nil {
			// A malformed payload will not improve on retry.
			return fmt.Errorf("decode response from %s: %w", url, err)
		}
		return nil
	}
	return lastErr
}

func (c *restClient) doGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("HTTP error: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}
