package telemetry

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectors_Handler(t *testing.T) {
	c := New()
	c.Violations.WithLabelValues("twitter", "SignatureMismatch").Inc()
	c.QueueDepth.Set(3)

	if got := testutil.ToFloat64(c.Violations.WithLabelValues("twitter", "SignatureMismatch")); got != 1 {
		t.Errorf("Expected 1 violation, got %v", got)
	}

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body := rr.Body.String()
	for _, want := range []string{"hookgate_security_violations_total", "hookgate_queue_depth 3"} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected %q in exposition", want)
		}
	}
}
