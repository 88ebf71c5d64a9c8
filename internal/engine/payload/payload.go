// Package payload parses platform deliveries into a normalized event. Each
// platform has its own typed variant; callers switch on the variant type,
// never on raw map keys.
package payload

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"hookgate/internal/pkg/errors"
	"hookgate/internal/platform/models"
)

const (
	EventUnknown  = "unknown"
	EventMessages = "messages"
)

// Item is one change carried by a delivery. Hub and twitter deliveries may
// batch several.
type Item struct {
	EventType  string
	ExternalID string
	ObjectType string
	ObjectID   string
}

// Normalized describes a delivery. EventType and the object fields come from
// the first item; ExternalEventID covers every item.
type Normalized struct {
	Platform        models.Platform
	EventType       string
	ObjectType      string
	ObjectID        string
	AccountID       string
	ExternalEventID string
	Items           []Item
	Variant         Variant
}

// settle derives the summary fields from the items. A batch gets an
// external id only when every item has one.
func (n *Normalized) settle() {
	if len(n.Items) == 0 {
		return
	}
	first := n.Items[0]
	n.EventType, n.ObjectType, n.ObjectID = first.EventType, first.ObjectType, first.ObjectID
	if n.ExternalEventID != "" {
		return
	}
	if len(n.Items) == 1 {
		n.ExternalEventID = first.ExternalID
		return
	}
	h := sha256.New()
	for _, it := range n.Items {
		if it.ExternalID == "" {
			return
		}
		h.Write([]byte(it.ExternalID))
		h.Write([]byte{0})
	}
	n.ExternalEventID = "batch:" + hex.EncodeToString(h.Sum(nil))
}

// EventTypes lists the distinct item types in delivery order, or EventType
// alone when no item was recognized.
func (n *Normalized) EventTypes() []string {
	if len(n.Items) == 0 {
		return []string{n.EventType}
	}
	seen := make(map[string]bool, len(n.Items))
	var types []string
	for _, it := range n.Items {
		if !seen[it.EventType] {
			seen[it.EventType] = true
			types = append(types, it.EventType)
		}
	}
	return types
}

// Subscribed narrows the delivery to the items whose type keep accepts. It
// reports false when nothing is left.
func (n *Normalized) Subscribed(keep func(eventType string) bool) (*Normalized, bool) {
	if len(n.Items) == 0 {
		return n, keep(n.EventType)
	}
	out := *n
	out.Items = nil
	for _, it := range n.Items {
		if keep(it.EventType) {
			out.Items = append(out.Items, it)
		}
	}
	if len(out.Items) == 0 {
		return n, false
	}
	if len(out.Items) == len(n.Items) {
		return n, true
	}
	switch v := n.Variant.(type) {
	case *Hub:
		out.Variant = v.only(n.Platform, keep)
	case *Twitter:
		out.Variant = v.only(keep)
	case *LinkedIn:
		out.Variant = v.only(keep)
	}
	return &out, true
}

// IdempotencyKey is the external event id, or a content hash for
// deliveries that carry none.
func (n *Normalized) IdempotencyKey(body []byte) string {
	if n.ExternalEventID != "" {
		return n.ExternalEventID
	}
	return ContentKey(body)
}

// ContentKey hashes a compacted body so whitespace changes do not defeat
// deduplication.
func ContentKey(body []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err == nil {
		body = buf.Bytes()
	}
	sum := sha256.Sum256(body)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Variant is one of *Hub, *Twitter or *LinkedIn.
type Variant interface {
	variant()
}

type Parser interface {
	Parse(body []byte) (*Normalized, error)
}

func ParserFor(platform models.Platform) (Parser, error) {
	switch platform {
	case models.PlatformFacebook:
		return hubParser{platform: platform, object: "page"}, nil
	case models.PlatformInstagram:
		return hubParser{platform: platform, object: "instagram"}, nil
	case models.PlatformTwitter:
		return twitterParser{}, nil
	case models.PlatformLinkedIn:
		return linkedInParser{}, nil
	}
	return nil, errors.Newf(errors.KindInvalidInput, "unsupported platform %q", platform)
}

func Parse(platform models.Platform, body []byte) (*Normalized, error) {
	p, err := ParserFor(platform)
	if err != nil {
		return nil, err
	}
	return p.Parse(body)
}

// decodeObject rejects anything but a JSON object.
func decodeObject(body []byte, v any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return errors.New(errors.KindValidation, "payload must be a JSON object")
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return errors.Wrap(errors.KindValidation, err, "invalid JSON payload")
	}
	return nil
}

// ID accepts identifiers sent either as JSON strings or numbers.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	if string(b) == "null" {
		*id = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}
