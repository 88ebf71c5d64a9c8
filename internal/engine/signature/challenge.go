package signature

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/url"

	"hookgate/internal/pkg/errors"
	"hookgate/internal/platform/models"
)

// ChallengeResponse is the handshake reply, written verbatim.
type ChallengeResponse struct {
	ContentType string
	Body        []byte
}

// IsChallenge reports whether query carries a verification handshake for
// the platform.
func IsChallenge(platform models.Platform, query url.Values) bool {
	switch platform {
	case models.PlatformFacebook, models.PlatformInstagram:
		return first(query, "hub.challenge", "hub_challenge") != ""
	case models.PlatformTwitter:
		return query.Get("crc_token") != ""
	case models.PlatformLinkedIn:
		return first(query, "challengeCode", "challenge_code") != ""
	}
	return false
}

// Challenge answers a verification handshake. The verify token (hub
// platforms) or the signing secret (crc platforms) must be configured.
func Challenge(platform models.Platform, query url.Values, secret, verifyToken string) (*ChallengeResponse, error) {
	switch platform {
	case models.PlatformFacebook, models.PlatformInstagram:
		mode := first(query, "hub.mode", "hub_mode")
		token := first(query, "hub.verify_token", "hub_verify_token")
		challenge := first(query, "hub.challenge", "hub_challenge")
		if mode != "subscribe" || challenge == "" {
			return nil, errors.New(errors.KindValidation, "invalid hub handshake")
		}
		if verifyToken == "" || !equalString(token, verifyToken) {
			return nil, errors.New(errors.KindSignatureMismatch, "verify token mismatch")
		}
		return &ChallengeResponse{ContentType: "text/plain", Body: []byte(challenge)}, nil

	case models.PlatformTwitter:
		token := query.Get("crc_token")
		if token == "" {
			return nil, errors.New(errors.KindValidation, "missing crc_token")
		}
		if secret == "" {
			return nil, errors.New(errors.KindSignatureMismatch, "no signing secret configured")
		}
		body, err := json.Marshal(map[string]string{
			"response_token": "sha256=" + base64.StdEncoding.EncodeToString(Sum(secret, []byte(token))),
		})
		if err != nil {
			return nil, err
		}
		return &ChallengeResponse{ContentType: "application/json", Body: body}, nil

	case models.PlatformLinkedIn:
		code := first(query, "challengeCode", "challenge_code")
		if code == "" {
			return nil, errors.New(errors.KindValidation, "missing challengeCode")
		}
		if secret == "" {
			return nil, errors.New(errors.KindSignatureMismatch, "no signing secret configured")
		}
		body, err := json.Marshal(map[string]string{
			"challengeCode":     code,
			"challengeResponse": hex.EncodeToString(Sum(secret, []byte(code))),
		})
		if err != nil {
			return nil, err
		}
		return &ChallengeResponse{ContentType: "application/json", Body: body}, nil
	}
	return nil, errors.Newf(errors.KindInvalidInput, "unsupported platform %q", platform)
}

func first(query url.Values, keys ...string) string {
	for _, k := range keys {
		if v := query.Get(k); v != "" {
			return v
		}
	}
	return ""
}

func equalString(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
