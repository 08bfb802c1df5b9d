package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/prepvoice/internal/interview"
	"github.com/antoniostano/prepvoice/internal/reliability"
)

// HTTPCreator posts finished transcripts to the feedback backend.
type HTTPCreator struct {
	url    string
	client *http.Client
}

func NewHTTPCreator(url string, timeout time.Duration) *HTTPCreator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPCreator{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *HTTPCreator) Create(ctx context.Context, req interview.FeedbackRequest) (interview.FeedbackResult, error) {
	if c.url == "" {
		return interview.FeedbackResult{}, fmt.Errorf("feedback backend url is not configured")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return interview.FeedbackResult{}, fmt.Errorf("marshal request: %w", err)
	}

	res, retryable, err := c.post(ctx, payload)
	if err != nil && retryable {
		select {
		case <-ctx.Done():
			return interview.FeedbackResult{}, ctx.Err()
		case <-time.After(reliability.ExponentialBackoff(1, 250*time.Millisecond, 2*time.Second)):
		}
		res, _, err = c.post(ctx, payload)
	}
	return res, err
}

func (c *HTTPCreator) post(ctx context.Context, payload []byte) (interview.FeedbackResult, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return interview.FeedbackResult{}, false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return interview.FeedbackResult{}, false, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		retryable := reliability.IsRetryableHTTPStatus(res.StatusCode)
		return interview.FeedbackResult{}, retryable, fmt.Errorf("feedback http status %d: %s", res.StatusCode, string(body))
	}

	var out interview.FeedbackResult
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return interview.FeedbackResult{}, false, fmt.Errorf("decode response: %w", err)
	}
	return out, false, nil
}
