package intake

import (
	"context"
	stderrors "errors"
	"net/url"

	"hookgate/internal/engine/payload"
	"hookgate/internal/engine/signature"
	"hookgate/internal/platform/config"
	"hookgate/internal/platform/models"
	"hookgate/internal/platform/repositories"
)

// Secrets resolves signing keys and verify tokens. A config's own secret
// wins over the platform app secret.
type Secrets struct {
	configs   ConfigStore
	platforms func(name string) config.PlatformConfig
}

func NewSecrets(configs ConfigStore, platforms func(name string) config.PlatformConfig) *Secrets {
	return &Secrets{configs: configs, platforms: platforms}
}

// BodyOnly reports whether the platform signs the body without timestamp
// and nonce.
func (s *Secrets) BodyOnly(platform models.Platform) bool {
	return s.platforms(string(platform)).BodyOnly
}

// Resolver returns a lazy secret lookup for one delivery. The body is only
// parsed when the route does not name a config.
func (s *Secrets) Resolver(platform models.Platform, configID string, body []byte) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		cfg, err := s.lookup(ctx, platform, configID, body)
		if err != nil {
			return "", err
		}
		if cfg != nil && cfg.Secret != nil && *cfg.Secret != "" {
			return *cfg.Secret, nil
		}
		return s.platforms(string(platform)).AppSecret, nil
	}
}

func (s *Secrets) lookup(ctx context.Context, platform models.Platform, configID string, body []byte) (*models.WebhookConfig, error) {
	var cfg *models.WebhookConfig
	var err error
	if configID != "" {
		cfg, err = s.configs.GetByID(ctx, configID)
	} else {
		n, perr := payload.Parse(platform, body)
		if perr != nil || n.AccountID == "" {
			return nil, nil
		}
		cfg, err = s.configs.GetByAccount(ctx, platform, n.AccountID)
	}
	if stderrors.Is(err, repositories.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if cfg.Platform != platform {
		return nil, nil
	}
	return cfg, nil
}

// Challenge answers a verification handshake with the secret and verify
// token in force for the route.
func (s *Secrets) Challenge(ctx context.Context, platform models.Platform, configID string, query url.Values) (*signature.ChallengeResponse, error) {
	secret, err := s.Resolver(platform, configID, nil)(ctx)
	if err != nil {
		return nil, err
	}
	return signature.Challenge(platform, query, secret, s.platforms(string(platform)).VerifyToken)
}
