package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	"hookgate/internal/engine/signature"
)

// HTTPDispatcher posts alerts as JSON to an external receiver, retrying
// transient failures behind a circuit breaker. When a secret is set the
// body is signed the same way facebook signs its deliveries.
type HTTPDispatcher struct {
	url      string
	secret   string
	client   *http.Client
	executor failsafe.Executor[*http.Response]
}

func shouldRetry(resp *http.Response, err error) bool {
	if err != nil || resp == nil {
		return true
	}
	return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
}

func NewHTTPDispatcher(url, secret string, timeout time.Duration) *HTTPDispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retry := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(shouldRetry).
		WithBackoff(200*time.Millisecond, 2*time.Second).
		WithMaxRetries(2).
		WithJitterFactor(0.1).
		ReturnLastFailure().
		Build()
	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(shouldRetry).
		WithFailureThresholdRatio(5, 10).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		Build()

	return &HTTPDispatcher{
		url:      url,
		secret:   secret,
		client:   &http.Client{Timeout: timeout},
		executor: failsafe.With[*http.Response](retry, breaker),
	}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}
	delivery := uuid.NewString()

	resp, err := d.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Hookgate-Alert", a.Type)
		req.Header.Set("X-Hookgate-Delivery", delivery)
		if d.secret != "" {
			req.Header.Set("X-Hookgate-Signature", signature.SignHub(d.secret, body))
		}
		resp, err := d.client.Do(req)
		if err != nil {
			return nil, err
		}
		if shouldRetry(resp, nil) {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		return resp, nil
	})
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("post alert: receiver returned %d", resp.StatusCode)
	}
	return nil
}
