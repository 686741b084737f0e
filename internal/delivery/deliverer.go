package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Deliverer sends one duplicate of req to target. Any returned error counts as a
// failed attempt.
type Deliverer interface {
	Deliver(ctx context.Context, target string, req *SharedRequest) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, target string, req *SharedRequest) error

func (f DelivererFunc) Deliver(ctx context.Context, target string, req *SharedRequest) error {
	return f(ctx, target, req)
}

// DeliveryError describes a failed attempt. StatusCode is zero when no response
// was received.
type DeliveryError struct {
	Target     string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("deliver to %s: %v", e.Target, e.Err)
	}
	return fmt.Sprintf("deliver to %s: unexpected status %d", e.Target, e.StatusCode)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// HTTPDeliverer replays the shared request against the target URL. A 2xx
// response is a success; everything else is a failure.
type HTTPDeliverer struct {
	client *http.Client
}

// NewHTTPDeliverer returns a deliverer whose client times out after timeout and
// propagates trace context on every outbound request.
func NewHTTPDeliverer(timeout time.Duration) *HTTPDeliverer {
	return &HTTPDeliverer{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// NewHTTPDelivererWithClient uses c as is.
func NewHTTPDelivererWithClient(c *http.Client) *HTTPDeliverer {
	return &HTTPDeliverer{client: c}
}

func (d *HTTPDeliverer) Deliver(ctx context.Context, target string, req *SharedRequest) error {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	out, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return &DeliveryError{Target: target, Err: err}
	}
	// the shared header map is read-only; the transport may write to ours
	out.Header = req.Header.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}

	resp, err := d.client.Do(out)
	if err != nil {
		return &DeliveryError{Target: target, Err: err}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{Target: target, StatusCode: resp.StatusCode}
	}
	return nil
}

// ClassifyReason maps a failed attempt to a short label for metrics and logs.
func ClassifyReason(err error) string {
	if err == nil {
		return "other"
	}
	if errors.Is(err, ErrQueueFull) {
		return "queue_full"
	}
	var de *DeliveryError
	if errors.As(err, &de) && de.Err == nil {
		switch {
		case de.StatusCode >= 500:
			return "http_5xx"
		case de.StatusCode == http.StatusTooManyRequests:
			return "http_429"
		case de.StatusCode >= 400:
			return "http_4xx"
		}
		return "other"
	}
	errLower := strings.ToLower(err.Error())
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(errLower, "timeout") {
		return "timeout"
	}
	if strings.Contains(errLower, "connection refused") {
		return "connection_refused"
	}
	if strings.Contains(errLower, "no such host") || strings.Contains(errLower, "dns") {
		return "dns_error"
	}
	return "network"
}

// StatusCode returns the HTTP status carried by err, or zero.
func StatusCode(err error) int {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.StatusCode
	}
	return 0
}
