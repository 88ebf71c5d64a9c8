package processing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hookgate/internal/engine/payload"
	"hookgate/internal/platform/models"
)

func process(t *testing.T, platform models.Platform, body string) *Actions {
	t.Helper()
	n, err := payload.Parse(platform, []byte(body))
	require.NoError(t, err)
	actions, err := DefaultProcessors()[platform].Process(n)
	require.NoError(t, err)
	return actions
}

func TestInstagramStoryInsights(t *testing.T) {
	a := process(t, models.PlatformInstagram,
		`{"object":"instagram","entry":[{"id":"1","time":2,"changes":[{"field":"story_insights","value":{"media_id":"m1","impressions":44,"reach":40,"exits":3}}]}]}`)

	require.Len(t, a.Analytics, 1)
	assert.Equal(t, "m1", a.Analytics[0].ExternalPostID)
	assert.Equal(t, map[string]int64{"impressions": 44, "reach": 40, "exits": 3}, a.Analytics[0].Metrics)
	assert.Empty(t, a.Notifications)
}

func TestFacebookRatingAndMessaging(t *testing.T) {
	a := process(t, models.PlatformFacebook,
		`{"object":"page","entry":[{"id":"p","time":1,"changes":[{"field":"ratings","value":{"verb":"add","rating":4,"message":"ok"}}],
		  "messaging":[{"sender":{"id":"u"},"recipient":{"id":"p"},"message":{"mid":"m","text":"hi"}},{"sender":{"id":"p"},"message":{"mid":"echo"}}]}]}`)

	require.Len(t, a.Notifications, 2)
	assert.Equal(t, NotifyNewRating, a.Notifications[0].Type)
	assert.Equal(t, 4.0, a.Notifications[0].Data["rating"])
	assert.Equal(t, NotifyNewMessage, a.Notifications[1].Type)
	assert.Equal(t, "m", a.Notifications[1].Data["message_id"])
}

func TestTwitterEvents(t *testing.T) {
	a := process(t, models.PlatformTwitter, `{"for_user_id":"42",
		"tweet_create_events":[{"id_str":"1","text":"@me hi","user":{"id_str":"7","screen_name":"ana"},"favorite_count":3,"retweet_count":1}],
		"follow_events":[{"type":"follow","source":{"id_str":"7","screen_name":"ana"},"target":{"id_str":"42"}}]}`)

	require.Len(t, a.Analytics, 1)
	assert.Equal(t, map[string]int64{"likes": 3, "retweets": 1}, a.Analytics[0].Metrics)
	require.Len(t, a.Notifications, 2)
	assert.Equal(t, NotifyMention, a.Notifications[0].Type)
	assert.Equal(t, NotifyNewFollower, a.Notifications[1].Type)
}

func TestTwitterOwnTweetIsNotANotification(t *testing.T) {
	a := process(t, models.PlatformTwitter,
		`{"for_user_id":"42","tweet_create_events":[{"id_str":"1","user":{"id_str":"42"}}]}`)
	assert.Empty(t, a.Notifications)
	assert.Empty(t, a.Analytics)
}

func TestLinkedInShareStatistics(t *testing.T) {
	a := process(t, models.PlatformLinkedIn, `{"notificationId":1,"organizationalEntity":"urn:li:organization:1",
		"shareUpdate":{"id":"urn:li:share:9","totalShareStatistics":{"likeCount":10,"shareCount":2}},
		"socialAction":{"type":"COMMENT","actor":"urn:li:person:1","object":"urn:li:share:9","text":"nice"}}`)

	require.Len(t, a.Analytics, 1)
	assert.Equal(t, map[string]int64{"likes": 10, "shares": 2}, a.Analytics[0].Metrics)
	require.Len(t, a.Notifications, 1)
	assert.Equal(t, NotifyNewComment, a.Notifications[0].Type)
	assert.Equal(t, "analytics=1 notifications=1", a.String())
}

func TestProcessorRejectsForeignVariant(t *testing.T) {
	n, err := payload.Parse(models.PlatformTwitter, []byte(`{"for_user_id":"1"}`))
	require.NoError(t, err)
	_, err = DefaultProcessors()[models.PlatformLinkedIn].Process(n)
	assert.Error(t, err)
}
