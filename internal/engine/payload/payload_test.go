package payload

import (
	"strings"
	"testing"

	"hookgate/internal/pkg/errors"
	"hookgate/internal/platform/models"
)

func TestParse_EventTypes(t *testing.T) {
	tests := []struct {
		name      string
		platform  models.Platform
		body      string
		eventType string
		account   string
		external  string
	}{
		{
			name:      "facebook feed",
			platform:  models.PlatformFacebook,
			body:      `{"object":"page","entry":[{"id":"123","time":1700000000,"changes":[{"field":"feed","value":{"item":"post","verb":"add","post_id":"123_456"}}]}]}`,
			eventType: "page_posts",
			account:   "123",
			external:  "feed:123_456:add:1700000000",
		},
		{
			name:      "facebook messaging",
			platform:  models.PlatformFacebook,
			body:      `{"object":"page","entry":[{"id":"123","messaging":[{"sender":{"id":"9"},"message":{"mid":"m_1","text":"hi"}}]}]}`,
			eventType: "messages",
			account:   "123",
			external:  "messages:m_1",
		},
		{
			name:      "instagram comment with numeric ids",
			platform:  models.PlatformInstagram,
			body:      `{"object":"instagram","entry":[{"id":17841400000,"time":1,"changes":[{"field":"comments","value":{"id":17865799348089039,"text":"nice"}}]}]}`,
			eventType: "comments",
			account:   "17841400000",
			external:  "comments:17865799348089039::1",
		},
		{
			name:      "twitter tweet",
			platform:  models.PlatformTwitter,
			body:      `{"for_user_id":"42","tweet_create_events":[{"id_str":"1001","text":"hello","favorite_count":3}]}`,
			eventType: "tweet_create",
			account:   "42",
			external:  "tweet_create:1001",
		},
		{
			name:      "twitter follow",
			platform:  models.PlatformTwitter,
			body:      `{"for_user_id":"42","follow_events":[{"type":"follow","created_timestamp":"1517588749178","source":{"id_str":"7"},"target":{"id_str":"42"}}]}`,
			eventType: "follow",
			account:   "42",
			external:  "follow:follow:7:42:1517588749178",
		},
		{
			name:      "linkedin share",
			platform:  models.PlatformLinkedIn,
			body:      `{"notificationId":55,"organizationalEntity":"urn:li:organization:1","shareUpdate":{"id":"urn:li:share:9"}}`,
			eventType: "share_update",
			account:   "urn:li:organization:1",
			external:  "notification:55",
		},
		{
			name:      "linkedin unknown",
			platform:  models.PlatformLinkedIn,
			body:      `{"organizationalEntity":"urn:li:organization:1"}`,
			eventType: EventUnknown,
			account:   "urn:li:organization:1",
		},
		{
			name:      "facebook wrong object",
			platform:  models.PlatformFacebook,
			body:      `{"object":"user","entry":[]}`,
			eventType: EventUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Parse(tt.platform, []byte(tt.body))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if n.EventType != tt.eventType {
				t.Errorf("EventType = %s, want %s", n.EventType, tt.eventType)
			}
			if n.AccountID != tt.account {
				t.Errorf("AccountID = %s, want %s", n.AccountID, tt.account)
			}
			if n.ExternalEventID != tt.external {
				t.Errorf("ExternalEventID = %s, want %s", n.ExternalEventID, tt.external)
			}
		})
	}
}

func TestParse_InvalidBodies(t *testing.T) {
	for _, body := range []string{``, `[]`, `"x"`, `{"object":`, `null`} {
		_, err := Parse(models.PlatformTwitter, []byte(body))
		if !errors.IsKind(err, errors.KindValidation) {
			t.Errorf("body %q: expected ValidationError, got %v", body, err)
		}
	}
}

func TestIdempotencyKey_ContentHashFallback(t *testing.T) {
	n := &Normalized{}
	a := n.IdempotencyKey([]byte(`{"a": 1, "b": 2}`))
	b := n.IdempotencyKey([]byte(`{"a":1,"b":2}`))
	if a != b {
		t.Errorf("Expected whitespace-insensitive key, got %s and %s", a, b)
	}
	n.ExternalEventID = "tweet_create:1"
	if got := n.IdempotencyKey(nil); got != "tweet_create:1" {
		t.Errorf("Expected external id to win, got %s", got)
	}
}

const batchedFeed = `{"object":"page","entry":[{"id":"123","time":1700000000,"changes":[` +
	`{"field":"feed","value":{"item":"comment","verb":"add","post_id":"123_4","comment_id":"4_1"}},` +
	`{"field":"ratings","value":{"verb":"add","post_id":"123_7"}}]}]}`

func TestParse_BatchedHubDelivery(t *testing.T) {
	n, err := Parse(models.PlatformFacebook, []byte(batchedFeed))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(n.Items) != 2 {
		t.Fatalf("Expected 2 items, got %+v", n.Items)
	}
	if n.EventType != "page_posts" || n.ObjectID != "4_1" {
		t.Errorf("Expected first item to summarize the delivery, got %s %s", n.EventType, n.ObjectID)
	}
	if got := n.EventTypes(); len(got) != 2 || got[1] != "page_ratings" {
		t.Errorf("EventTypes() = %v", got)
	}

	// A batch sharing only its first change with another is not a duplicate.
	single := `{"object":"page","entry":[{"id":"123","time":1700000000,"changes":[` +
		`{"field":"feed","value":{"item":"comment","verb":"add","post_id":"123_4","comment_id":"4_1"}}]}]}`
	one, _ := Parse(models.PlatformFacebook, []byte(single))
	if n.ExternalEventID == one.ExternalEventID {
		t.Errorf("Expected distinct keys, both are %s", n.ExternalEventID)
	}
	if !strings.HasPrefix(n.ExternalEventID, "batch:") {
		t.Errorf("ExternalEventID = %s", n.ExternalEventID)
	}
}

func TestSubscribed_NarrowsBatch(t *testing.T) {
	n, _ := Parse(models.PlatformFacebook, []byte(batchedFeed))
	only := func(types ...string) func(string) bool {
		return func(et string) bool {
			for _, want := range types {
				if want == et {
					return true
				}
			}
			return false
		}
	}

	ratings, ok := n.Subscribed(only("page_ratings"))
	if !ok {
		t.Fatal("Expected ratings to survive")
	}
	hub := ratings.Variant.(*Hub)
	if len(hub.Entry) != 1 || len(hub.Entry[0].Changes) != 1 || hub.Entry[0].Changes[0].Field != "ratings" {
		t.Errorf("Unexpected narrowed payload %+v", hub.Entry)
	}
	if len(n.Variant.(*Hub).Entry[0].Changes) != 2 {
		t.Error("Expected original payload to be left intact")
	}

	if _, ok := n.Subscribed(only("page_mentions")); ok {
		t.Error("Expected nothing to survive")
	}
	if all, ok := n.Subscribed(only("page_posts", "page_ratings")); !ok || all != n {
		t.Error("Expected a fully subscribed delivery to pass through unchanged")
	}
}

func TestSubscribed_TwitterBatch(t *testing.T) {
	body := `{"for_user_id":"42","tweet_create_events":[{"id_str":"1"}],"follow_events":[{"type":"follow","created_timestamp":"1","source":{"id_str":"7"},"target":{"id_str":"42"}}]}`
	n, err := Parse(models.PlatformTwitter, []byte(body))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	follows, ok := n.Subscribed(func(et string) bool { return et == "follow" })
	if !ok {
		t.Fatal("Expected follow to survive")
	}
	tw := follows.Variant.(*Twitter)
	if len(tw.TweetCreateEvents) != 0 || len(tw.FollowEvents) != 1 {
		t.Errorf("Unexpected narrowed payload %+v", tw)
	}
}
