package callbacks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/platehaus/storefront/internal/httputil"
	"github.com/platehaus/storefront/internal/storage"
)

// Request describes one delivery attempt.
type Request struct {
	URL       string
	Body      []byte // Sent byte-for-byte; the signature covers exactly these bytes
	EventType string
	EntryID   string
	Secret    string // Empty disables the signature header
	Timeout   time.Duration
}

// Sender performs webhook POSTs and classifies the result.
type Sender struct {
	client    *http.Client
	userAgent string
	now       func() time.Time
}

// NewSender creates a sender. Deadlines come from each Request, not the client.
func NewSender(userAgent string) *Sender {
	if strings.TrimSpace(userAgent) == "" {
		userAgent = DefaultUserAgent
	}
	return &Sender{
		client:    httputil.NewNoRedirectClient(0),
		userAgent: userAgent,
		now:       time.Now,
	}
}

// WithHTTPClient replaces the underlying client (tests use httptest clients).
func (s *Sender) WithHTTPClient(c *http.Client) *Sender {
	s.client = c
	return s
}

// Send performs one attempt. It never panics and never returns an error: every
// failure is folded into the Outcome.
func (s *Sender) Send(ctx context.Context, req Request) (out Outcome) {
	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Kind: FailureLocal, Error: fmt.Sprintf("panic during delivery: %v", r)}
		}
		out.Duration = s.now().Sub(start)
	}()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return Outcome{Kind: FailureLocal, Error: fmt.Sprintf("build request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", s.userAgent)
	httpReq.Header.Set(HeaderEvent, req.EventType)
	if req.EntryID != "" {
		httpReq.Header.Set(HeaderID, req.EntryID)
	}
	if req.Secret != "" {
		httpReq.Header.Set(HeaderSignature, Sign(req.Secret, req.Body))
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return classifyTransportError(ctx, err, timeout)
	}
	defer resp.Body.Close()

	// Up to four bytes per rune of excerpt; the rest is drained so the connection can be reused.
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, int64(storage.MaxResponseExcerpt*4)))
	_, _ = io.Copy(io.Discard, resp.Body)
	body := storage.TruncateExcerpt(string(raw))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Outcome{Success: true, StatusCode: resp.StatusCode, ResponseBody: body}
	}
	return Outcome{
		StatusCode:   resp.StatusCode,
		ResponseBody: body,
		Kind:         FailureHTTPStatus,
		Error:        fmt.Sprintf("receiver returned HTTP %d", resp.StatusCode),
	}
}

func classifyTransportError(ctx context.Context, err error, timeout time.Duration) Outcome {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return Outcome{Kind: FailureTimeout, Error: fmt.Sprintf("request timed out after %s", timeout)}
	}
	return Outcome{Kind: FailureNetwork, Error: fmt.Sprintf("send request: %v", err)}
}
