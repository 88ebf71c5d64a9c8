package payload

import (
	"strconv"

	"hookgate/internal/platform/models"
)

var facebookFields = map[string]string{
	"feed":          "page_posts",
	"mention":       "page_mentions",
	"ratings":       "page_ratings",
	"conversations": "page_conversations",
}

var instagramFields = map[string]string{
	"comments":       "comments",
	"mentions":       "mentions",
	"story_insights": "story_insights",
	"media":          "media",
}

// Hub is the Graph API delivery shape shared by facebook and instagram.
type Hub struct {
	Object string     `json:"object"`
	Entry  []HubEntry `json:"entry"`
}

func (*Hub) variant() {}

type HubEntry struct {
	ID        ID             `json:"id"`
	Time      int64          `json:"time"`
	Changes   []HubChange    `json:"changes"`
	Messaging []HubMessaging `json:"messaging"`
}

type HubChange struct {
	Field string         `json:"field"`
	Value HubChangeValue `json:"value"`
}

// HubChangeValue holds the union of change fields the processors read.
type HubChangeValue struct {
	Item         string    `json:"item"`
	Verb         string    `json:"verb"`
	PostID       ID        `json:"post_id"`
	CommentID    ID        `json:"comment_id"`
	ParentID     ID        `json:"parent_id"`
	ID           ID        `json:"id"`
	MediaID      ID        `json:"media_id"`
	Message      string    `json:"message"`
	Text         string    `json:"text"`
	ReactionType string    `json:"reaction_type"`
	Rating       *float64  `json:"rating"`
	From         *HubActor `json:"from"`
	Impressions  *int64    `json:"impressions"`
	Reach        *int64    `json:"reach"`
	Replies      *int64    `json:"replies"`
	Exits        *int64    `json:"exits"`
	TapsForward  *int64    `json:"taps_forward"`
	TapsBack     *int64    `json:"taps_back"`
}

type HubActor struct {
	ID       ID     `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

type HubMessaging struct {
	Sender    HubActor `json:"sender"`
	Recipient HubActor `json:"recipient"`
	Timestamp int64    `json:"timestamp"`
	Message   *struct {
		MID  string `json:"mid"`
		Text string `json:"text"`
	} `json:"message"`
}

type hubParser struct {
	platform models.Platform
	object   string
}

// hubEventType maps a change field to the event type configs subscribe to.
func hubEventType(platform models.Platform, field string) string {
	names := facebookFields
	if platform == models.PlatformInstagram {
		names = instagramFields
	}
	if name, ok := names[field]; ok {
		return name
	}
	if field == "" {
		return EventUnknown
	}
	return field
}

func (p hubParser) Parse(body []byte) (*Normalized, error) {
	var hub Hub
	if err := decodeObject(body, &hub); err != nil {
		return nil, err
	}

	n := &Normalized{Platform: p.platform, EventType: EventUnknown, Variant: &hub}
	if hub.Object != "" && hub.Object != p.object {
		return n, nil
	}
	if len(hub.Entry) == 0 {
		return n, nil
	}
	n.AccountID = string(hub.Entry[0].ID)

	for _, entry := range hub.Entry {
		for _, change := range entry.Changes {
			it := Item{EventType: hubEventType(p.platform, change.Field)}
			it.ObjectType, it.ObjectID = hubObject(change)
			if id := firstNonEmpty(change.Value.CommentID, change.Value.ID, change.Value.PostID, change.Value.MediaID); id != "" {
				it.ExternalID = change.Field + ":" + id + ":" + change.Value.Verb + ":" + strconv.FormatInt(entry.Time, 10)
			}
			n.Items = append(n.Items, it)
		}
		for _, m := range entry.Messaging {
			it := Item{EventType: EventMessages, ObjectType: "message"}
			if m.Message != nil && m.Message.MID != "" {
				it.ObjectID = m.Message.MID
				it.ExternalID = "messages:" + m.Message.MID
			}
			n.Items = append(n.Items, it)
		}
	}
	n.settle()
	return n, nil
}

// only keeps the changes and messages whose event type keep accepts.
func (h *Hub) only(platform models.Platform, keep func(string) bool) *Hub {
	out := &Hub{Object: h.Object}
	for _, entry := range h.Entry {
		kept := entry
		kept.Changes, kept.Messaging = nil, nil
		for _, c := range entry.Changes {
			if keep(hubEventType(platform, c.Field)) {
				kept.Changes = append(kept.Changes, c)
			}
		}
		if keep(EventMessages) {
			kept.Messaging = entry.Messaging
		}
		if len(kept.Changes)+len(kept.Messaging) > 0 {
			out.Entry = append(out.Entry, kept)
		}
	}
	return out
}

func hubObject(c HubChange) (string, string) {
	v := c.Value
	switch {
	case v.Item == "comment" || c.Field == "comments":
		return "comment", firstNonEmpty(v.CommentID, v.ID)
	case c.Field == "mentions" || c.Field == "story_insights" || c.Field == "media":
		return "media", firstNonEmpty(v.MediaID, v.ID)
	case v.Item != "":
		return v.Item, firstNonEmpty(v.PostID, v.ID)
	}
	return c.Field, firstNonEmpty(v.PostID, v.ID)
}

func firstNonEmpty(values ...ID) string {
	for _, v := range values {
		if v != "" {
			return string(v)
		}
	}
	return ""
}
