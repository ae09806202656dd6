package alert

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const maxAttempts = 3

var httpClient = &http.Client{Timeout: 5 * time.Second}

// permanentError marks a delivery failure that retrying cannot fix.
type permanentError struct{ status int }

func (e *permanentError) Error() string {
	return fmt.Sprintf("webhook rejected: HTTP %d", e.status)
}

// Send posts an event to a webhook endpoint. Transport failures and 5xx
// responses are retried with linear backoff; 4xx responses are not.
func Send(cfg Config, event Event) error {
	payload, err := FormatPayload(cfg.Format, event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = post(cfg, payload)
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return lastErr
		}
		if attempt < maxAttempts {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}
	return fmt.Errorf("webhook failed after %d attempts: %w", maxAttempts, lastErr)
}

func post(cfg Config, payload []byte) error {
	req, err := http.NewRequest(http.MethodPost, cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return &permanentError{}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &permanentError{status: resp.StatusCode}
	default:
		return fmt.Errorf("webhook server error: HTTP %d", resp.StatusCode)
	}
}
