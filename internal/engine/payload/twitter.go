package payload

import "hookgate/internal/platform/models"

// Twitter is the Account Activity API delivery shape.
type Twitter struct {
	ForUserID           ID                   `json:"for_user_id"`
	TweetCreateEvents   []Tweet              `json:"tweet_create_events"`
	FavoriteEvents      []TwitterFavorite    `json:"favorite_events"`
	FollowEvents        []TwitterFollow      `json:"follow_events"`
	DirectMessageEvents []TwitterDirectMsg   `json:"direct_message_events"`
	TweetDeleteEvents   []TwitterTweetDelete `json:"tweet_delete_events"`
}

func (*Twitter) variant() {}

type TwitterUser struct {
	ID         ID     `json:"id_str"`
	ScreenName string `json:"screen_name"`
	Name       string `json:"name"`
}

type Tweet struct {
	ID                ID          `json:"id_str"`
	Text              string      `json:"text"`
	User              TwitterUser `json:"user"`
	InReplyToStatusID ID          `json:"in_reply_to_status_id_str"`
	InReplyToUserID   ID          `json:"in_reply_to_user_id_str"`
	FavoriteCount     *int64      `json:"favorite_count"`
	RetweetCount      *int64      `json:"retweet_count"`
	ReplyCount        *int64      `json:"reply_count"`
	QuoteCount        *int64      `json:"quote_count"`
}

type TwitterFavorite struct {
	ID              ID          `json:"id"`
	FavoritedStatus Tweet       `json:"favorited_status"`
	User            TwitterUser `json:"user"`
}

type TwitterFollow struct {
	Type             string      `json:"type"`
	CreatedTimestamp ID          `json:"created_timestamp"`
	Source           TwitterUser `json:"source"`
	Target           TwitterUser `json:"target"`
}

type TwitterDirectMsg struct {
	ID            ID `json:"id"`
	MessageCreate struct {
		SenderID ID `json:"sender_id"`
		Target   struct {
			RecipientID ID `json:"recipient_id"`
		} `json:"target"`
		MessageData struct {
			Text string `json:"text"`
		} `json:"message_data"`
	} `json:"message_create"`
}

type TwitterTweetDelete struct {
	Status struct {
		ID     ID `json:"id"`
		UserID ID `json:"user_id"`
	} `json:"status"`
}

type twitterParser struct{}

func (twitterParser) Parse(body []byte) (*Normalized, error) {
	var tw Twitter
	if err := decodeObject(body, &tw); err != nil {
		return nil, err
	}

	n := &Normalized{
		Platform:  models.PlatformTwitter,
		EventType: EventUnknown,
		AccountID: string(tw.ForUserID),
		Variant:   &tw,
	}
	for _, t := range tw.TweetCreateEvents {
		n.Items = append(n.Items, Item{EventType: "tweet_create", ObjectType: "tweet", ObjectID: string(t.ID), ExternalID: external("tweet_create", t.ID)})
	}
	for _, f := range tw.FavoriteEvents {
		n.Items = append(n.Items, Item{EventType: "favorite", ObjectType: "tweet", ObjectID: string(f.FavoritedStatus.ID), ExternalID: external("favorite", f.ID)})
	}
	for _, f := range tw.FollowEvents {
		it := Item{EventType: "follow", ObjectType: "user", ObjectID: string(f.Source.ID)}
		if f.Source.ID != "" && f.CreatedTimestamp != "" {
			it.ExternalID = "follow:" + f.Type + ":" + string(f.Source.ID) + ":" + string(f.Target.ID) + ":" + string(f.CreatedTimestamp)
		}
		n.Items = append(n.Items, it)
	}
	for _, d := range tw.DirectMessageEvents {
		n.Items = append(n.Items, Item{EventType: "direct_message", ObjectType: "message", ObjectID: string(d.ID), ExternalID: external("direct_message", d.ID)})
	}
	for _, d := range tw.TweetDeleteEvents {
		n.Items = append(n.Items, Item{EventType: "tweet_delete", ObjectType: "tweet", ObjectID: string(d.Status.ID), ExternalID: external("tweet_delete", d.Status.ID)})
	}
	n.settle()
	return n, nil
}

func (t *Twitter) only(keep func(string) bool) *Twitter {
	out := &Twitter{ForUserID: t.ForUserID}
	if keep("tweet_create") {
		out.TweetCreateEvents = t.TweetCreateEvents
	}
	if keep("favorite") {
		out.FavoriteEvents = t.FavoriteEvents
	}
	if keep("follow") {
		out.FollowEvents = t.FollowEvents
	}
	if keep("direct_message") {
		out.DirectMessageEvents = t.DirectMessageEvents
	}
	if keep("tweet_delete") {
		out.TweetDeleteEvents = t.TweetDeleteEvents
	}
	return out
}

func external(kind string, id ID) string {
	if id == "" {
		return ""
	}
	return kind + ":" + string(id)
}
