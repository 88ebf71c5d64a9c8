package handlers

import (
	"net/http"

	"github.com/rs/zerolog"
	apiContext "hookgate/internal/api/context"
	"hookgate/internal/pkg/errors"
	"hookgate/internal/platform/auth"
	"hookgate/internal/platform/config"
)

const roleAdmin = "admin"

type AuthHandler struct {
	authn    *auth.Authenticator
	tokenSvc *auth.TokenService
	ttl      int64
	log      zerolog.Logger
}

func NewAuthHandler(authn *auth.Authenticator, tokenSvc *auth.TokenService, cfg config.JWTConfig, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{authn: authn, tokenSvc: tokenSvc, ttl: int64(cfg.AccessTokenTTL.Seconds()), log: log}
}

type TokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "username and password are required", nil)
		return
	}

	if err := h.authn.Check(req.Username, req.Password); err != nil {
		h.log.Warn().Str("username", req.Username).Str("ip", apiContext.ClientIPFrom(r.Context())).Msg("admin login failed")
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid credentials", nil)
		return
	}

	token, err := h.tokenSvc.GenerateAccessToken(req.Username, roleAdmin)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to generate token", nil)
		return
	}

	ttl := h.ttl
	if ttl <= 0 {
		ttl = 3600
	}
	writeJSON(w, http.StatusOK, TokenResponse{AccessToken: token, TokenType: "Bearer", ExpiresIn: ttl})
}
