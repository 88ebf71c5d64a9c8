package handlers

import (
	stderrors "errors"
	"net/http"

	"github.com/rs/zerolog"
	"hookgate/internal/pkg/errors"
	"hookgate/internal/pkg/validator"
	"hookgate/internal/platform/models"
	"hookgate/internal/platform/repositories"
)

// ConfigHandler manages the per-account webhook configurations.
type ConfigHandler struct {
	configs *repositories.WebhookConfigRepository
	log     zerolog.Logger
}

func NewConfigHandler(configs *repositories.WebhookConfigRepository, log zerolog.Logger) *ConfigHandler {
	return &ConfigHandler{configs: configs, log: log}
}

type ConfigRequest struct {
	Platform         string    `json:"platform"`
	AccountID        string    `json:"account_id"`
	WebhookURL       *string   `json:"webhook_url"`
	Secret           *string   `json:"secret"`
	SubscribedEvents *[]string `json:"subscribed_events"`
	IsActive         *bool     `json:"is_active"`
}

// configView adds whether a secret is set; the secret itself is never
// returned.
type configView struct {
	*models.WebhookConfig
	HasSecret bool `json:"has_secret"`
}

func view(cfg *models.WebhookConfig) configView {
	return configView{WebhookConfig: cfg, HasSecret: cfg.Secret != nil && *cfg.Secret != ""}
}

func (h *ConfigHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req ConfigRequest
	if !decode(w, r, &req) {
		return
	}

	platform, ok := models.ParsePlatform(req.Platform)
	if !ok {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Unknown platform", nil)
		return
	}
	accountID, err := validator.AccountID(req.AccountID)
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	cfg := &models.WebhookConfig{
		Platform:  platform,
		AccountID: accountID,
		Secret:    req.Secret,
		IsActive:  true,
	}
	if req.WebhookURL != nil {
		cfg.WebhookURL = *req.WebhookURL
	}
	if err := validator.WebhookURL(cfg.WebhookURL); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	if req.SubscribedEvents != nil {
		cfg.SubscribedEvents = validator.EventTypes(*req.SubscribedEvents)
	}
	if req.IsActive != nil {
		cfg.IsActive = *req.IsActive
	}

	_, err = h.configs.GetByAccount(r.Context(), platform, cfg.AccountID)
	if err == nil {
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "A config already exists for this account", nil)
		return
	}
	if !stderrors.Is(err, repositories.ErrNotFound) {
		errors.Write(w, errors.Wrap(errors.KindInternal, err, "check account"))
		return
	}

	if err := h.configs.Create(r.Context(), cfg); err != nil {
		errors.Write(w, errors.Wrap(errors.KindInternal, err, "create config"))
		return
	}
	h.log.Info().Str("config_id", cfg.ID).Str("platform", string(platform)).Str("account_id", cfg.AccountID).Msg("webhook config created")
	writeJSON(w, http.StatusCreated, view(cfg))
}

func (h *ConfigHandler) List(w http.ResponseWriter, r *http.Request) {
	configs, err := h.configs.List(r.Context())
	if err != nil {
		errors.Write(w, errors.Wrap(errors.KindInternal, err, "list configs"))
		return
	}
	views := make([]configView, 0, len(configs))
	for _, c := range configs {
		views = append(views, view(c))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"configs": views, "count": len(views)})
}

func (h *ConfigHandler) load(w http.ResponseWriter, r *http.Request) (*models.WebhookConfig, bool) {
	cfg, err := h.configs.GetByID(r.Context(), param(r, "config_id"))
	if stderrors.Is(err, repositories.ErrNotFound) {
		errors.Write(w, errors.New(errors.KindNotFound, "config not found"))
		return nil, false
	}
	if err != nil {
		errors.Write(w, errors.Wrap(errors.KindInternal, err, "get config"))
		return nil, false
	}
	return cfg, true
}

func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, view(cfg))
}

// Update patches the mutable fields. Platform and account are fixed; an
// empty secret clears the per-config secret.
func (h *ConfigHandler) Update(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.load(w, r)
	if !ok {
		return
	}
	var req ConfigRequest
	if !decode(w, r, &req) {
		return
	}
	if (req.Platform != "" && req.Platform != string(cfg.Platform)) || (req.AccountID != "" && req.AccountID != cfg.AccountID) {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "platform and account_id cannot change", nil)
		return
	}

	if req.WebhookURL != nil {
		if err := validator.WebhookURL(*req.WebhookURL); err != nil {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
			return
		}
		cfg.WebhookURL = *req.WebhookURL
	}
	if req.Secret != nil {
		if *req.Secret == "" {
			cfg.Secret = nil
		} else {
			cfg.Secret = req.Secret
		}
	}
	if req.SubscribedEvents != nil {
		cfg.SubscribedEvents = validator.EventTypes(*req.SubscribedEvents)
	}
	if req.IsActive != nil {
		cfg.IsActive = *req.IsActive
	}

	if err := h.configs.Update(r.Context(), cfg); err != nil {
		errors.Write(w, errors.Wrap(errors.KindInternal, err, "update config"))
		return
	}
	h.log.Info().Str("config_id", cfg.ID).Msg("webhook config updated")
	writeJSON(w, http.StatusOK, view(cfg))
}

// Delete removes the config. Its stored events are kept and later ignored.
func (h *ConfigHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := param(r, "config_id")
	err := h.configs.Delete(r.Context(), id)
	if stderrors.Is(err, repositories.ErrNotFound) {
		errors.Write(w, errors.New(errors.KindNotFound, "config not found"))
		return
	}
	if err != nil {
		errors.Write(w, errors.Wrap(errors.KindInternal, err, "delete config"))
		return
	}
	h.log.Info().Str("config_id", id).Msg("webhook config deleted")
	w.WriteHeader(http.StatusNoContent)
}
