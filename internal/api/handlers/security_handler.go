package handlers

import (
	"net/http"
	"time"

	apiContext "hookgate/internal/api/context"
	"hookgate/internal/engine/security"
	"hookgate/internal/pkg/errors"
)

type SecurityHandler struct {
	gate *security.Gatekeeper
}

func NewSecurityHandler(gate *security.Gatekeeper) *SecurityHandler {
	return &SecurityHandler{gate: gate}
}

func (h *SecurityHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.gate.Stats(r.Context())
	if err != nil {
		errors.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *SecurityHandler) ListBlocked(w http.ResponseWriter, r *http.Request) {
	records, err := h.gate.ListBlocked(r.Context())
	if err != nil {
		errors.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"blocked_ips": records, "count": len(records)})
}

type BlockRequest struct {
	IP         string `json:"ip"`
	TTLSeconds int64  `json:"ttl_seconds"`
	Reason     string `json:"reason"`
}

func (h *SecurityHandler) Block(w http.ResponseWriter, r *http.Request) {
	var req BlockRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := h.gate.Block(r.Context(), req.IP, time.Duration(req.TTLSeconds)*time.Second, req.Reason, apiContext.Actor(r.Context()))
	if err != nil {
		errors.Write(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *SecurityHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	ip := param(r, "ip")
	removed, err := h.gate.Unblock(r.Context(), ip, apiContext.Actor(r.Context()))
	if err != nil {
		errors.Write(w, err)
		return
	}
	if !removed {
		errors.Write(w, errors.Newf(errors.KindNotFound, "ip %s is not blocked", ip))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ip": ip, "unblocked": true})
}

// ClearViolations takes optional "type" and "ip" query filters.
func (h *SecurityHandler) ClearViolations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind := q.Get("type")
	if kind != "" && !errors.Kind(kind).IsSecurity() {
		errors.Write(w, errors.Newf(errors.KindInvalidInput, "unknown violation type %q", kind))
		return
	}
	n, err := h.gate.ClearViolations(r.Context(), kind, q.Get("ip"), apiContext.Actor(r.Context()))
	if err != nil {
		errors.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": n})
}

func (h *SecurityHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gate.Policy().View())
}

func (h *SecurityHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch security.PolicyPatch
	if !decode(w, r, &patch) {
		return
	}
	policy, err := h.gate.UpdatePolicy(r.Context(), patch, apiContext.Actor(r.Context()))
	if err != nil {
		errors.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy.View())
}
