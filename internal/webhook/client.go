package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
)

var ErrEmptyBody = errors.New("empty response body")

// TransportError is a send that never produced a usable 2xx body.
type TransportError struct {
	Status   int
	Reason   string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("webhook transport failure (status %d, %d attempts): %s", e.Status, e.Attempts, e.Reason)
	}
	return fmt.Sprintf("webhook transport failure (%d attempts): %s", e.Attempts, e.Reason)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Request is the JSON body posted to the webhook.
type Request struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

type Client struct {
	url     string
	source  string
	http    *http.Client
	policy  RetryPolicy
	now     func() time.Time
	onRetry func(attempt int, err error, delay time.Duration)
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetryHook is called before every delayed retry.
func WithRetryHook(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(c *Client) { c.onRetry = fn }
}

func NewClient(url, source string, policy RetryPolicy, opts ...Option) *Client {
	c := &Client{
		url:    url,
		source: source,
		http:   http.DefaultClient,
		policy: policy,
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Send posts message and returns the raw 2xx body. Transport failures are
// retried per the policy; the last one is returned as *TransportError.
func (c *Client) Send(ctx context.Context, message string) ([]byte, error) {
	var (
		body     []byte
		attempts int
	)
	op := func() error {
		attempts++
		b, err := c.attempt(ctx, message)
		if err != nil {
			return err
		}
		body = b
		return nil
	}
	notify := func(err error, d time.Duration) {
		log.Printf("webhook: attempt %d failed, retrying in %s: %v", attempts, d, err)
		if c.onRetry != nil {
			c.onRetry(attempts, err, d)
		}
	}

	if err := backoff.RetryNotify(op, c.policy.BackOff(ctx), notify); err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			te.Attempts = attempts
			return nil, te
		}
		return nil, &TransportError{Reason: err.Error(), Attempts: attempts, Err: err}
	}
	return body, nil
}

func (c *Client) attempt(ctx context.Context, message string) ([]byte, error) {
	payload, err := json.Marshal(Request{
		Message:   message,
		Timestamp: c.now().UTC().Format(time.RFC3339Nano),
		Source:    c.source,
	})
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Reason: err.Error(), Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Status: resp.StatusCode, Reason: "read body: " + err.Error(), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Status: resp.StatusCode, Reason: errorReason(resp.StatusCode, body)}
	}
	if strings.TrimSpace(string(body)) == "" {
		return nil, &TransportError{Status: resp.StatusCode, Reason: ErrEmptyBody.Error(), Err: ErrEmptyBody}
	}
	return body, nil
}

// errorReason prefers a structured "message" in an error body and falls back
// to the raw text.
func errorReason(status int, body []byte) string {
	text := strings.TrimSpace(string(body))
	if gjson.Valid(text) {
		if m := gjson.Get(text, "message"); m.Type == gjson.String && strings.TrimSpace(m.String()) != "" {
			return m.String()
		}
	}
	if text == "" {
		text = "no details"
	}
	return fmt.Sprintf("status %d: %s", status, text)
}
