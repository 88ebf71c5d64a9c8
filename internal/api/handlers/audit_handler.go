package handlers

import (
	"net/http"

	"hookgate/internal/pkg/errors"
	"hookgate/internal/platform/audit"
	"hookgate/internal/platform/models"
)

type AuditHandler struct {
	audit *audit.Logger
}

func NewAuditHandler(logger *audit.Logger) *AuditHandler {
	return &AuditHandler{audit: logger}
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.AuditFilter{
		Kind:  q.Get("kind"),
		IP:    q.Get("ip"),
		Limit: queryInt(r, "limit", 100),
	}
	if q.Get("since") != "" || q.Get("window") != "" {
		since, ok := querySince(r, nowFunc(), 0)
		if !ok {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid since or window", nil)
			return
		}
		f.Since = since
	}

	entries, err := h.audit.List(r.Context(), f)
	if err != nil {
		errors.Write(w, errors.Wrap(errors.KindInternal, err, "list audit log"))
		return
	}
	if entries == nil {
		entries = []*models.SecurityAuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries, "count": len(entries)})
}
