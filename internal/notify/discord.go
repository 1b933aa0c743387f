package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"perpscan/internal/models"
	"perpscan/logger"
)

const (
	requestTimeout = 30 * time.Second
	maxAttempts    = 3
	baseRetryDelay = 1 * time.Second

	// Identical error messages inside this window are sent once.
	errorDedupWindow = 1 * time.Hour
)

// NotifyError reports a webhook delivery failure. Status is the last
// HTTP status observed, or zero when the request never reached Discord.
type NotifyError struct {
	Status int
	Err    error
}

func (e *NotifyError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("webhook delivery failed with status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("webhook delivery failed: %v", e.Err)
}

func (e *NotifyError) Unwrap() error { return e.Err }

// Notifier posts embeds to a Discord webhook URL.
type Notifier struct {
	webhookURL string
	client     *http.Client
	log        *logger.Entry

	mu            sync.Mutex
	lastErrorMsg  string
	lastErrorTime time.Time
}

func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: requestTimeout},
		log:        logger.GetLogger().WithComponent("notify"),
	}
}

// SendMarketAlert delivers the combined analysis embed.
func (n *Notifier) SendMarketAlert(ctx context.Context, divergences []models.DivergenceResult, ratios []models.RatioResult, exchanges []string, baseExchange string) error {
	embed := FormatMarketAlert(divergences, ratios, exchanges, baseExchange, time.Now())
	if err := n.send(ctx, embed); err != nil {
		return err
	}
	n.log.WithFields(logger.Fields{
		"divergences": len(divergences),
		"ratios":      len(ratios),
	}).Info("market alert delivered")
	return nil
}

// SendError delivers a red error embed. Repeats of the same message
// within the dedup window are dropped so a persistently failing cycle
// does not flood the channel.
func (n *Notifier) SendError(ctx context.Context, message string) error {
	n.mu.Lock()
	if message == n.lastErrorMsg && time.Since(n.lastErrorTime) < errorDedupWindow {
		n.mu.Unlock()
		n.log.WithFields(logger.Fields{"message": message}).Debug("suppressing duplicate error notification")
		return nil
	}
	n.mu.Unlock()

	if err := n.send(ctx, FormatError(message, time.Now())); err != nil {
		return err
	}

	n.mu.Lock()
	n.lastErrorMsg = message
	n.lastErrorTime = time.Now()
	n.mu.Unlock()
	return nil
}

type webhookPayload struct {
	Embeds []Embed `json:"embeds"`
}

func (n *Notifier) send(ctx context.Context, embed Embed) error {
	body, err := json.Marshal(webhookPayload{Embeds: []Embed{embed}})
	if err != nil {
		return &NotifyError{Err: fmt.Errorf("encoding payload: %w", err)}
	}

	var lastErr *NotifyError
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := baseRetryDelay << (attempt - 2)
			select {
			case <-ctx.Done():
				return &NotifyError{Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		status, err := n.post(ctx, body)
		if err == nil {
			return nil
		}

		lastErr = &NotifyError{Status: status, Err: err}
		// Client errors will not heal on retry.
		if status >= 400 && status < 500 {
			return lastErr
		}
		n.log.WithError(err).WithFields(logger.Fields{
			"attempt": attempt,
			"status":  status,
		}).Warn("webhook delivery failed, retrying")
	}
	return lastErr
}

func (n *Notifier) post(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()

	// Discord answers 204 on success; accept any 2xx.
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return resp.StatusCode, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
}
