package validator

import (
	"errors"
	"net/url"
	"strings"
	"unicode"
)

const maxAccountIDLength = 128

// WebhookURL accepts an empty value or an absolute http(s) URL.
func WebhookURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("invalid webhook_url format")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("webhook_url must start with http:// or https://")
	}
	if u.Host == "" {
		return errors.New("webhook_url must include a host")
	}
	return nil
}

// AccountID trims id and rejects empty, oversized or non-printable values.
func AccountID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("account_id is required")
	}
	if len(id) > maxAccountIDLength {
		return "", errors.New("account_id is too long")
	}
	for _, r := range id {
		if !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return "", errors.New("account_id must not contain whitespace or control characters")
		}
	}
	return id, nil
}

// EventTypes trims, drops empties and removes duplicates, keeping order.
func EventTypes(events []string) []string {
	out := make([]string, 0, len(events))
	seen := make(map[string]bool, len(events))
	for _, e := range events {
		e = strings.TrimSpace(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}
