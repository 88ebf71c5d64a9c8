package handlers

import (
	stderrors "errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	apiContext "hookgate/internal/api/context"
	"hookgate/internal/engine/intake"
	"hookgate/internal/engine/security"
	"hookgate/internal/engine/signature"
	"hookgate/internal/pkg/errors"
	"hookgate/internal/platform/models"
)

// WebhookHandler is the inbound endpoint for every platform: GET answers
// verification handshakes, POST runs the gatekeeper and then intake.
type WebhookHandler struct {
	gate    *security.Gatekeeper
	secrets *intake.Secrets
	intake  *intake.Service
	log     zerolog.Logger
}

func NewWebhookHandler(gate *security.Gatekeeper, secrets *intake.Secrets, svc *intake.Service, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{gate: gate, secrets: secrets, intake: svc, log: log}
}

type receiveResponse struct {
	Status    string `json:"status"`
	EventID   string `json:"event_id,omitempty"`
	EventType string `json:"event_type,omitempty"`
}

func (h *WebhookHandler) platform(w http.ResponseWriter, r *http.Request) (models.Platform, bool) {
	platform, ok := models.ParsePlatform(param(r, "platform"))
	if !ok {
		errors.Write(w, errors.Newf(errors.KindNotFound, "unknown platform %q", param(r, "platform")))
	}
	return platform, ok
}

func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	platform, ok := h.platform(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	if !signature.IsChallenge(platform, query) {
		errors.Write(w, errors.New(errors.KindValidation, "missing verification challenge"))
		return
	}

	configID := param(r, "config_id")
	resp, err := h.secrets.Challenge(r.Context(), platform, configID, query)
	if err != nil {
		if errors.KindOf(err).IsSecurity() {
			req := security.Request{Platform: platform, IP: apiContext.ClientIPFrom(r.Context()), ConfigID: configID}
			err = h.gate.RecordViolation(r.Context(), req, errors.KindOf(err), err.Error(), "verify_token")
		} else if errors.KindOf(err) == errors.KindInternal {
			h.log.Error().Err(err).Str("platform", string(platform)).Msg("verification handshake failed")
		}
		errors.Write(w, err)
		return
	}

	w.Header().Set("Content-Type", resp.ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(resp.Body)
}

func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	platform, ok := h.platform(w, r)
	if !ok {
		return
	}
	configID := param(r, "config_id")

	// Read one byte past the limit so the gatekeeper can see the overflow
	// even when Content-Length is absent.
	limit := h.gate.Policy().MaxPayloadBytes
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Failed to read request body", nil)
		return
	}
	size := max(int64(len(body)), r.ContentLength)

	req := security.Request{
		Platform: platform,
		IP:       apiContext.ClientIPFrom(r.Context()),
		ConfigID: configID,
		Size:     size,
		Body:     body,
		Header:   r.Header,
		BodyOnly: h.secrets.BodyOnly(platform),
		Secret:   h.secrets.Resolver(platform, configID, body),
	}
	if err := h.gate.Check(r.Context(), req); err != nil {
		writeRejection(w, err)
		return
	}

	res, err := h.intake.Accept(r.Context(), intake.Delivery{
		Platform:  platform,
		ConfigID:  configID,
		Body:      body,
		Signature: r.Header.Get(signature.Header(platform)),
	})
	if err != nil {
		if errors.KindOf(err) == errors.KindInternal {
			h.log.Error().Err(err).Str("platform", string(platform)).Msg("intake failed")
		}
		errors.Write(w, err)
		return
	}

	status := "accepted"
	if res.Duplicate {
		status = "duplicate"
	}
	writeJSON(w, http.StatusOK, receiveResponse{Status: status, EventID: res.Event.ID, EventType: res.Event.EventType})
}

func writeRejection(w http.ResponseWriter, err error) {
	var e *errors.Error
	if stderrors.As(err, &e) && e.Kind == errors.KindRateLimited {
		if retryAfter, ok := e.Details["retry_after"].(int64); ok {
			w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
		}
	}
	errors.Write(w, err)
}
