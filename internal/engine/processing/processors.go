package processing

import (
	"fmt"

	"hookgate/internal/engine/payload"
	"hookgate/internal/platform/models"
)

// Notification types handed to the NotificationHandler.
const (
	NotifyNewComment  = "new_comment"
	NotifyMention     = "page_mention"
	NotifyNewRating   = "new_rating"
	NotifyNewMessage  = "new_message"
	NotifyNewFollower = "new_follower"
	NotifyNewLike     = "new_like"
	NotifyNewReaction = "new_reaction"
)

type AnalyticsUpdate struct {
	ExternalPostID string
	Metrics        map[string]int64
}

type Notification struct {
	Type string
	Data map[string]any
}

// Actions is what a processor extracted from one event. Processors never
// call collaborators themselves.
type Actions struct {
	Analytics     []AnalyticsUpdate
	Notifications []Notification
}

func (a *Actions) analytics(postID string, metrics map[string]int64) {
	if postID == "" || len(metrics) == 0 {
		return
	}
	a.Analytics = append(a.Analytics, AnalyticsUpdate{ExternalPostID: postID, Metrics: metrics})
}

func (a *Actions) notify(kind string, data map[string]any) {
	a.Notifications = append(a.Notifications, Notification{Type: kind, Data: data})
}

func (a *Actions) String() string {
	return fmt.Sprintf("analytics=%d notifications=%d", len(a.Analytics), len(a.Notifications))
}

type Processor interface {
	Name() string
	Process(n *payload.Normalized) (*Actions, error)
}

// DefaultProcessors returns one processor per supported platform.
func DefaultProcessors() map[models.Platform]Processor {
	return map[models.Platform]Processor{
		models.PlatformFacebook:  hubProcessor{name: "facebook_processor"},
		models.PlatformInstagram: hubProcessor{name: "instagram_processor"},
		models.PlatformTwitter:   twitterProcessor{},
		models.PlatformLinkedIn:  linkedInProcessor{},
	}
}

type hubProcessor struct {
	name string
}

func (p hubProcessor) Name() string { return p.name }

func (p hubProcessor) Process(n *payload.Normalized) (*Actions, error) {
	hub, ok := n.Variant.(*payload.Hub)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected payload variant %T", p.name, n.Variant)
	}

	out := &Actions{}
	for _, entry := range hub.Entry {
		for _, change := range entry.Changes {
			p.change(out, change)
		}
		for _, m := range entry.Messaging {
			if m.Message == nil || string(m.Sender.ID) == string(entry.ID) {
				continue
			}
			out.notify(NotifyNewMessage, map[string]any{
				"message_id": m.Message.MID,
				"sender_id":  string(m.Sender.ID),
				"text":       m.Message.Text,
			})
		}
	}
	return out, nil
}

func (p hubProcessor) change(out *Actions, c payload.HubChange) {
	v := c.Value
	switch c.Field {
	case "feed":
		if v.Item == "comment" && v.Verb == "add" {
			out.notify(NotifyNewComment, map[string]any{
				"post_id":    string(v.PostID),
				"comment_id": string(v.CommentID),
				"message":    v.Message,
				"from":       actorName(v.From),
			})
		}
	case "comments":
		out.notify(NotifyNewComment, map[string]any{
			"media_id":   string(v.MediaID),
			"comment_id": string(v.ID),
			"message":    v.Text,
			"from":       actorName(v.From),
		})
	case "mention", "mentions":
		out.notify(NotifyMention, map[string]any{
			"post_id":    firstID(v.PostID, v.MediaID),
			"comment_id": string(v.CommentID),
		})
	case "ratings":
		if v.Verb == "remove" {
			return
		}
		data := map[string]any{"review": v.Message, "from": actorName(v.From)}
		if v.Rating != nil {
			data["rating"] = *v.Rating
		}
		out.notify(NotifyNewRating, data)
	case "conversations":
		out.notify(NotifyNewMessage, map[string]any{"thread_id": firstID(v.ID, v.PostID)})
	case "story_insights":
		metrics := map[string]int64{}
		for name, val := range map[string]*int64{
			"impressions":  v.Impressions,
			"reach":        v.Reach,
			"replies":      v.Replies,
			"exits":        v.Exits,
			"taps_forward": v.TapsForward,
			"taps_back":    v.TapsBack,
		} {
			if val != nil {
				metrics[name] = *val
			}
		}
		out.analytics(firstID(v.MediaID, v.ID), metrics)
	}
}

type twitterProcessor struct{}

func (twitterProcessor) Name() string { return "twitter_processor" }

func (twitterProcessor) Process(n *payload.Normalized) (*Actions, error) {
	tw, ok := n.Variant.(*payload.Twitter)
	if !ok {
		return nil, fmt.Errorf("twitter_processor: unexpected payload variant %T", n.Variant)
	}
	self := string(tw.ForUserID)

	out := &Actions{}
	for _, t := range tw.TweetCreateEvents {
		out.analytics(string(t.ID), tweetCounts(t))
		if string(t.User.ID) != self {
			out.notify(NotifyMention, map[string]any{
				"tweet_id":    string(t.ID),
				"text":        t.Text,
				"from":        t.User.ScreenName,
				"in_reply_to": string(t.InReplyToStatusID),
			})
		}
	}
	for _, f := range tw.FavoriteEvents {
		out.analytics(string(f.FavoritedStatus.ID), tweetCounts(f.FavoritedStatus))
		if string(f.User.ID) != self {
			out.notify(NotifyNewLike, map[string]any{
				"tweet_id": string(f.FavoritedStatus.ID),
				"from":     f.User.ScreenName,
			})
		}
	}
	for _, f := range tw.FollowEvents {
		if f.Type == "follow" && string(f.Target.ID) == self {
			out.notify(NotifyNewFollower, map[string]any{
				"user_id": string(f.Source.ID),
				"from":    f.Source.ScreenName,
			})
		}
	}
	for _, d := range tw.DirectMessageEvents {
		if string(d.MessageCreate.SenderID) == self {
			continue
		}
		out.notify(NotifyNewMessage, map[string]any{
			"message_id": string(d.ID),
			"sender_id":  string(d.MessageCreate.SenderID),
			"text":       d.MessageCreate.MessageData.Text,
		})
	}
	return out, nil
}

func tweetCounts(t payload.Tweet) map[string]int64 {
	metrics := map[string]int64{}
	for name, val := range map[string]*int64{
		"likes":    t.FavoriteCount,
		"retweets": t.RetweetCount,
		"replies":  t.ReplyCount,
		"quotes":   t.QuoteCount,
	} {
		if val != nil {
			metrics[name] = *val
		}
	}
	return metrics
}

type linkedInProcessor struct{}

func (linkedInProcessor) Name() string { return "linkedin_processor" }

func (linkedInProcessor) Process(n *payload.Normalized) (*Actions, error) {
	li, ok := n.Variant.(*payload.LinkedIn)
	if !ok {
		return nil, fmt.Errorf("linkedin_processor: unexpected payload variant %T", n.Variant)
	}

	out := &Actions{}
	if s := li.ShareUpdate; s != nil && s.Statistics != nil {
		metrics := map[string]int64{}
		for name, val := range map[string]*int64{
			"likes":       s.Statistics.LikeCount,
			"comments":    s.Statistics.CommentCount,
			"shares":      s.Statistics.ShareCount,
			"impressions": s.Statistics.ImpressionCount,
			"clicks":      s.Statistics.ClickCount,
		} {
			if val != nil {
				metrics[name] = *val
			}
		}
		out.analytics(string(s.ID), metrics)
	}
	if a := li.SocialAction; a != nil {
		kind := NotifyNewReaction
		if a.Type == "COMMENT" {
			kind = NotifyNewComment
		}
		out.notify(kind, map[string]any{
			"action": a.Type,
			"actor":  a.Actor,
			"object": a.Object,
			"text":   a.Text,
		})
	}
	return out, nil
}

func actorName(a *payload.HubActor) string {
	if a == nil {
		return ""
	}
	if a.Username != "" {
		return a.Username
	}
	return a.Name
}

func firstID(ids ...payload.ID) string {
	for _, id := range ids {
		if id != "" {
			return string(id)
		}
	}
	return ""
}
