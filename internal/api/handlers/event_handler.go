package handlers

import (
	stderrors "errors"
	"net/http"

	"hookgate/internal/engine/processing"
	"hookgate/internal/pkg/errors"
	"hookgate/internal/platform/models"
	"hookgate/internal/platform/repositories"
)

type EventHandler struct {
	events   *repositories.EventRepository
	attempts *repositories.AttemptRepository
	orch     *processing.Orchestrator
}

func NewEventHandler(events *repositories.EventRepository, attempts *repositories.AttemptRepository, orch *processing.Orchestrator) *EventHandler {
	return &EventHandler{events: events, attempts: attempts, orch: orch}
}

func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.EventFilter{
		Status:   models.EventStatus(q.Get("status")),
		ConfigID: q.Get("config_id"),
		Limit:    queryInt(r, "limit", 100),
	}
	if raw := q.Get("platform"); raw != "" {
		p, ok := models.ParsePlatform(raw)
		if !ok {
			errors.Write(w, errors.Newf(errors.KindInvalidInput, "unknown platform %q", raw))
			return
		}
		f.Platform = p
	}
	switch f.Status {
	case "", models.EventPending, models.EventProcessing, models.EventProcessed, models.EventFailed, models.EventIgnored:
	default:
		errors.Write(w, errors.Newf(errors.KindInvalidInput, "unknown status %q", f.Status))
		return
	}
	if q.Get("since") != "" {
		since, ok := querySince(r, nowFunc(), 0)
		if !ok {
			errors.Write(w, errors.New(errors.KindInvalidInput, "invalid since"))
			return
		}
		f.Since = since
	}

	events, err := h.events.List(r.Context(), f)
	if err != nil {
		errors.Write(w, errors.Wrap(errors.KindInternal, err, "list events"))
		return
	}
	if events == nil {
		events = []*models.WebhookEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	event, err := h.events.GetByID(r.Context(), param(r, "event_id"))
	if stderrors.Is(err, repositories.ErrNotFound) {
		errors.Write(w, errors.New(errors.KindNotFound, "event not found"))
		return
	}
	if err != nil {
		errors.Write(w, errors.Wrap(errors.KindInternal, err, "get event"))
		return
	}

	attempts, err := h.attempts.ListByEvent(r.Context(), event.ID)
	if err != nil {
		errors.Write(w, errors.Wrap(errors.KindInternal, err, "list attempts"))
		return
	}
	event.Attempts = attempts
	writeJSON(w, http.StatusOK, event)
}

// Retry schedules a failed event immediately without spending a retry.
func (h *EventHandler) Retry(w http.ResponseWriter, r *http.Request) {
	event, err := h.orch.RetryNow(r.Context(), param(r, "event_id"))
	if err != nil {
		errors.Write(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"event_id":    event.ID,
		"status":      event.Status,
		"retry_count": event.RetryCount,
		"max_retries": h.orch.MaxRetries(),
		"scheduled":   true,
	})
}
