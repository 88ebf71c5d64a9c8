package handlers

import (
	"net/http"
	"time"

	"hookgate/internal/engine/metrics"
	"hookgate/internal/pkg/errors"
	"hookgate/internal/platform/models"
	"hookgate/internal/platform/telemetry"
)

type MetricsHandler struct {
	aggregator *metrics.Aggregator
	collectors *telemetry.Collectors
}

func NewMetricsHandler(aggregator *metrics.Aggregator, collectors *telemetry.Collectors) *MetricsHandler {
	return &MetricsHandler{aggregator: aggregator, collectors: collectors}
}

// Export serves the prometheus exposition format.
func (h *MetricsHandler) Export(w http.ResponseWriter, r *http.Request) {
	h.collectors.Handler().ServeHTTP(w, r)
}

// dateRange reads from/to (YYYY-MM-DD, inclusive), defaulting to the last
// seven days.
func dateRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	to, ok := queryDate(r, "to", nowFunc().UTC())
	if !ok {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid to date, expected YYYY-MM-DD", nil)
		return time.Time{}, time.Time{}, false
	}
	from, ok := queryDate(r, "from", to.AddDate(0, 0, -6))
	if !ok {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid from date, expected YYYY-MM-DD", nil)
		return time.Time{}, time.Time{}, false
	}
	if from.After(to) {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "from must not be after to", nil)
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

// Delivery lists daily rows with totals, or hourly rows when
// granularity=hour.
func (h *MetricsHandler) Delivery(w http.ResponseWriter, r *http.Request) {
	granularity := r.URL.Query().Get("granularity")
	if granularity != "" && granularity != "day" && granularity != "hour" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "granularity must be day or hour", nil)
		return
	}
	from, to, ok := dateRange(w, r)
	if !ok {
		return
	}
	if granularity == "hour" {
		h.hourly(w, r, from, to)
		return
	}
	rows, err := h.aggregator.Delivery(r.Context(), r.URL.Query().Get("config_id"), from, to)
	if err != nil {
		errors.Write(w, errors.Wrap(errors.KindInternal, err, "list delivery metrics"))
		return
	}
	if rows == nil {
		rows = []*models.DeliveryMetric{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"from":    metrics.Date(from),
		"to":      metrics.Date(to),
		"metrics": rows,
		"totals":  summarize(rows),
	})
}

func (h *MetricsHandler) hourly(w http.ResponseWriter, r *http.Request, from, to time.Time) {
	rows, err := h.aggregator.Hourly(r.Context(), r.URL.Query().Get("config_id"), from, to)
	if err != nil {
		errors.Write(w, errors.Wrap(errors.KindInternal, err, "list hourly delivery metrics"))
		return
	}
	if rows == nil {
		rows = []*models.HourlyDeliveryMetric{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"from":        metrics.Date(from),
		"to":          metrics.Date(to),
		"granularity": "hour",
		"metrics":     rows,
	})
}

// DeliveryTotals folds daily rows into one line.
type DeliveryTotals struct {
	TotalReceived             int     `json:"total_received"`
	Processed                 int     `json:"processed"`
	Failed                    int     `json:"failed"`
	Ignored                   int     `json:"ignored"`
	RetryAttempts             int     `json:"retry_attempts"`
	AverageProcessingTimeSecs float64 `json:"average_processing_time_seconds"`
}

func summarize(rows []*models.DeliveryMetric) DeliveryTotals {
	var t DeliveryTotals
	var weighted float64
	var timed int
	for _, m := range rows {
		t.TotalReceived += m.TotalReceived
		t.Processed += m.Processed
		t.Failed += m.Failed
		t.Ignored += m.Ignored
		t.RetryAttempts += m.RetryAttempts
		n := m.Processed + m.Failed + m.Ignored
		weighted += m.AverageProcessingTimeSecs * float64(n)
		timed += n
	}
	if timed > 0 {
		t.AverageProcessingTimeSecs = weighted / float64(timed)
	}
	return t
}
