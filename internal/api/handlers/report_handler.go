package handlers

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"hookgate/internal/engine/metrics"
	"hookgate/internal/engine/security"
	"hookgate/internal/pkg/errors"
	"hookgate/internal/platform/audit"
	"hookgate/internal/platform/models"
	"hookgate/internal/platform/repositories"
)

// ReportHandler exports an operations report combining delivery metrics,
// outcome ratios, security stats and recent violations.
type ReportHandler struct {
	aggregator *metrics.Aggregator
	events     *repositories.EventRepository
	gate       *security.Gatekeeper
	audit      *audit.Logger
	monitor    *metrics.Monitor
	log        zerolog.Logger
}

func NewReportHandler(aggregator *metrics.Aggregator, events *repositories.EventRepository, gate *security.Gatekeeper, auditLog *audit.Logger, monitor *metrics.Monitor, log zerolog.Logger) *ReportHandler {
	return &ReportHandler{aggregator: aggregator, events: events, gate: gate, audit: auditLog, monitor: monitor, log: log}
}

type Report struct {
	GeneratedAt   int64                        `json:"generated_at"`
	From          string                       `json:"from"`
	To            string                       `json:"to"`
	Health        *metrics.Snapshot            `json:"health,omitempty"`
	Outcomes      models.OutcomeCounts         `json:"outcomes"`
	FailureRatio  float64                      `json:"failure_ratio"`
	Totals        DeliveryTotals               `json:"totals"`
	Delivery      []*models.DeliveryMetric     `json:"delivery_metrics"`
	Security      *security.Stats              `json:"security,omitempty"`
	SecurityError string                       `json:"security_error,omitempty"`
	Violations    []*models.SecurityAuditEntry `json:"recent_violations"`
}

func (h *ReportHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "format must be json or csv", nil)
		return
	}
	from, to, ok := dateRange(w, r)
	if !ok {
		return
	}

	report, err := h.build(r, from, to)
	if err != nil {
		errors.Write(w, err)
		return
	}

	if format == "csv" {
		h.writeCSV(w, report)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *ReportHandler) build(r *http.Request, from, to time.Time) (*Report, error) {
	ctx := r.Context()
	report := &Report{
		GeneratedAt: nowFunc().Unix(),
		From:        metrics.Date(from),
		To:          metrics.Date(to),
		Violations:  []*models.SecurityAuditEntry{},
	}

	rows, err := h.aggregator.Delivery(ctx, r.URL.Query().Get("config_id"), from, to)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "load delivery metrics")
	}
	if rows == nil {
		rows = []*models.DeliveryMetric{}
	}
	report.Delivery = rows
	report.Totals = summarize(rows)

	since := from.Unix()
	outcomes, err := h.events.OutcomeCounts(ctx, since)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "count outcomes")
	}
	report.Outcomes = outcomes
	report.FailureRatio = outcomes.FailureRatio()

	// A report must still render when the security store is down.
	if stats, err := h.gate.Stats(ctx); err != nil {
		report.SecurityError = err.Error()
	} else {
		report.Security = stats
	}

	if h.audit != nil {
		entries, err := h.audit.List(ctx, models.AuditFilter{Kind: audit.KindViolation, Since: since, Limit: 100})
		if err != nil {
			h.log.Error().Err(err).Msg("report: failed to list violations")
		} else if entries != nil {
			report.Violations = entries
		}
	}
	if h.monitor != nil {
		report.Health = h.monitor.Snapshot(ctx)
	}
	return report, nil
}

// writeCSV emits one row per config and day, followed by a totals row.
func (h *ReportHandler) writeCSV(w http.ResponseWriter, report *Report) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="hookgate-report-%s-%s.csv"`, report.From, report.To))
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	cw.Write([]string{"webhook_config_id", "date", "total_received", "processed", "failed", "ignored", "retry_attempts", "average_processing_time_seconds"})
	for _, m := range report.Delivery {
		cw.Write([]string{
			m.WebhookConfigID,
			m.Date,
			strconv.Itoa(m.TotalReceived),
			strconv.Itoa(m.Processed),
			strconv.Itoa(m.Failed),
			strconv.Itoa(m.Ignored),
			strconv.Itoa(m.RetryAttempts),
			strconv.FormatFloat(m.AverageProcessingTimeSecs, 'f', 3, 64),
		})
	}
	t := report.Totals
	cw.Write([]string{
		"total", report.From + ".." + report.To,
		strconv.Itoa(t.TotalReceived),
		strconv.Itoa(t.Processed),
		strconv.Itoa(t.Failed),
		strconv.Itoa(t.Ignored),
		strconv.Itoa(t.RetryAttempts),
		strconv.FormatFloat(t.AverageProcessingTimeSecs, 'f', 3, 64),
	})
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.log.Error().Err(err).Msg("report: csv write failed")
	}
}
