package webhook

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

const DefaultTimeout = 10 * time.Second

// Sender performs single signed POSTs. It never retries; retries belong to the Dispatcher.
type Sender struct {
	client *http.Client
}

func NewSender(timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sender{client: &http.Client{Timeout: timeout}}
}

func (s *Sender) Send(ctx context.Context, target Target, d Delivery) AttemptResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return AttemptResult{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "batirama-webhooks/1.0")
	req.Header.Set(HeaderSignature, Sign(target.Secret, d.Payload))
	req.Header.Set(HeaderEvent, d.Event)
	req.Header.Set(HeaderDeliveryID, d.ID)

	start := time.Now()
	resp, err := s.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return AttemptResult{Duration: elapsed, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return AttemptResult{StatusCode: resp.StatusCode, Duration: elapsed}
}
