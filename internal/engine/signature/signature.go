// Package signature verifies inbound platform deliveries and answers
// verification challenges. Verifiers are pure: they read only their
// arguments.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hookgate/internal/pkg/errors"
	"hookgate/internal/platform/models"
)

const (
	HeaderHubSignature      = "X-Hub-Signature-256"
	HeaderTwitterSignature  = "X-Twitter-Webhooks-Signature"
	HeaderLinkedInSignature = "X-LI-Signature"
	HeaderTimestamp         = "X-Signature-Timestamp"
	HeaderNonce             = "X-Signature-Nonce"

	DefaultTolerance = 300 * time.Second
)

// Result is the outcome of a verification. ReplayKey is set only on success
// and identifies the delivery for the replay guard. ReplayTTL, when set, is
// how long the delivery would keep verifying; the replay entry must live at
// least that long.
type Result struct {
	OK        bool
	Kind      errors.Kind
	Reason    string
	ReplayKey string
	ReplayTTL time.Duration
}

func reject(kind errors.Kind, reason string) Result {
	return Result{Kind: kind, Reason: reason}
}

type Verifier interface {
	Verify(body []byte, header http.Header, secret string, now time.Time) Result
}

type Options struct {
	Tolerance time.Duration
	// BodyOnly signs the raw body without the timestamp and nonce prefix.
	BodyOnly bool
}

// For returns the verifier for a platform.
func For(platform models.Platform, opts Options) (Verifier, error) {
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	switch platform {
	case models.PlatformFacebook, models.PlatformInstagram:
		return HubVerifier{Platform: platform}, nil
	case models.PlatformTwitter:
		return TimestampVerifier{Platform: platform, Header: HeaderTwitterSignature, Options: opts}, nil
	case models.PlatformLinkedIn:
		return TimestampVerifier{Platform: platform, Header: HeaderLinkedInSignature, Options: opts}, nil
	}
	return nil, fmt.Errorf("no verifier for platform %q", platform)
}

// Header names the signature header a platform sends.
func Header(platform models.Platform) string {
	switch platform {
	case models.PlatformTwitter:
		return HeaderTwitterSignature
	case models.PlatformLinkedIn:
		return HeaderLinkedInSignature
	}
	return HeaderHubSignature
}

// HubVerifier checks "sha256=<hex>" signatures over the raw body.
type HubVerifier struct {
	Platform models.Platform
}

func (v HubVerifier) Verify(body []byte, header http.Header, secret string, _ time.Time) Result {
	raw := header.Get(HeaderHubSignature)
	hexSig, ok := strings.CutPrefix(raw, "sha256=")
	if !ok || len(hexSig) != sha256.Size*2 {
		return reject(errors.KindMalformedSignature, "signature header must be sha256=<hex>")
	}
	provided, err := hex.DecodeString(hexSig)
	if err != nil {
		return reject(errors.KindMalformedSignature, "signature is not hex")
	}
	if secret == "" {
		return reject(errors.KindSignatureMismatch, "no signing secret configured")
	}
	if !hmac.Equal(provided, Sum(secret, body)) {
		return reject(errors.KindSignatureMismatch, "signature mismatch")
	}
	return Result{OK: true, ReplayKey: replayKey(v.Platform, strings.ToLower(hexSig), "", body)}
}

// TimestampVerifier checks base64 signatures over timestamp+nonce+body and
// bounds the timestamp's age.
type TimestampVerifier struct {
	Platform models.Platform
	Header   string
	Options
}

func (v TimestampVerifier) Verify(body []byte, header http.Header, secret string, now time.Time) Result {
	raw := strings.TrimPrefix(header.Get(v.Header), "sha256=")
	if raw == "" {
		return reject(errors.KindMalformedSignature, "missing signature header")
	}
	provided, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(provided) != sha256.Size {
		return reject(errors.KindMalformedSignature, "signature is not base64 sha256")
	}

	tsHeader := header.Get(HeaderTimestamp)
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return reject(errors.KindMalformedSignature, "missing or invalid timestamp")
	}
	stamped := time.Unix(ts, 0)
	age := now.Sub(stamped)
	if age < 0 {
		age = -age
	}
	if age > v.Tolerance {
		return reject(errors.KindSignatureMismatch, "timestamp outside tolerance")
	}

	if secret == "" {
		return reject(errors.KindSignatureMismatch, "no signing secret configured")
	}
	nonce := header.Get(HeaderNonce)
	if !hmac.Equal(provided, Sum(secret, v.signedContent(tsHeader, nonce, body))) {
		return reject(errors.KindSignatureMismatch, "signature mismatch")
	}
	// Valid until stamped+tolerance; a future-skewed stamp outlives the
	// tolerance measured from now. One extra second covers truncation.
	return Result{
		OK:        true,
		ReplayKey: replayKey(v.Platform, raw, tsHeader+"|"+nonce, body),
		ReplayTTL: stamped.Add(v.Tolerance).Sub(now) + time.Second,
	}
}

func (v TimestampVerifier) signedContent(ts, nonce string, body []byte) []byte {
	if v.BodyOnly {
		return body
	}
	content := make([]byte, 0, len(ts)+len(nonce)+len(body))
	content = append(content, ts...)
	content = append(content, nonce...)
	return append(content, body...)
}

// Sum is HMAC-SHA256(secret, data).
func Sum(secret string, data []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(data)
	return h.Sum(nil)
}

// SignHub produces a facebook/instagram style header value.
func SignHub(secret string, body []byte) string {
	return "sha256=" + hex.EncodeToString(Sum(secret, body))
}

// SignTimestamped produces a twitter/linkedin style header value.
func SignTimestamped(secret, ts, nonce string, body []byte, bodyOnly bool) string {
	v := TimestampVerifier{Options: Options{BodyOnly: bodyOnly}}
	return base64.StdEncoding.EncodeToString(Sum(secret, v.signedContent(ts, nonce, body)))
}

func replayKey(platform models.Platform, sig, nonce string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(platform))
	h.Write([]byte{0})
	h.Write([]byte(sig))
	h.Write([]byte{0})
	h.Write([]byte(nonce))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
