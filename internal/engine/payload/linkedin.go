package payload

import "hookgate/internal/platform/models"

// LinkedIn is the organization social action notification shape.
type LinkedIn struct {
	NotificationID       ID                   `json:"notificationId"`
	OrganizationalEntity string               `json:"organizationalEntity"`
	ShareUpdate          *LinkedInShareUpdate `json:"shareUpdate"`
	SocialAction         *LinkedInAction      `json:"socialAction"`
}

func (*LinkedIn) variant() {}

type LinkedInShareUpdate struct {
	ID         ID                  `json:"id"`
	Owner      string              `json:"owner"`
	Text       string              `json:"text"`
	Statistics *LinkedInShareStats `json:"totalShareStatistics"`
}

type LinkedInShareStats struct {
	LikeCount       *int64 `json:"likeCount"`
	CommentCount    *int64 `json:"commentCount"`
	ShareCount      *int64 `json:"shareCount"`
	ImpressionCount *int64 `json:"impressionCount"`
	ClickCount      *int64 `json:"clickCount"`
}

type LinkedInAction struct {
	ID           ID     `json:"id"`
	Type         string `json:"type"`
	Actor        string `json:"actor"`
	Object       string `json:"object"`
	Text         string `json:"text"`
	Organization string `json:"organizationalEntity"`
}

type linkedInParser struct{}

func (linkedInParser) Parse(body []byte) (*Normalized, error) {
	var li LinkedIn
	if err := decodeObject(body, &li); err != nil {
		return nil, err
	}

	n := &Normalized{
		Platform:  models.PlatformLinkedIn,
		EventType: EventUnknown,
		AccountID: li.OrganizationalEntity,
		Variant:   &li,
	}
	if li.ShareUpdate != nil {
		n.Items = append(n.Items, Item{EventType: "share_update", ObjectType: "share", ObjectID: string(li.ShareUpdate.ID)})
		if n.AccountID == "" {
			n.AccountID = li.ShareUpdate.Owner
		}
	}
	if li.SocialAction != nil {
		it := Item{EventType: "social_action", ObjectType: "social_action", ObjectID: li.SocialAction.Object}
		if li.SocialAction.ID != "" {
			it.ExternalID = "social_action:" + string(li.SocialAction.ID)
		}
		n.Items = append(n.Items, it)
		if n.AccountID == "" {
			n.AccountID = li.SocialAction.Organization
		}
	}
	// One notification id covers both parts of the notification.
	if li.NotificationID != "" {
		n.ExternalEventID = "notification:" + string(li.NotificationID)
	}
	n.settle()
	return n, nil
}

func (li *LinkedIn) only(keep func(string) bool) *LinkedIn {
	out := *li
	if !keep("share_update") {
		out.ShareUpdate = nil
	}
	if !keep("social_action") {
		out.SocialAction = nil
	}
	return &out
}
