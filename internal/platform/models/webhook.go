package models

import "encoding/json"

type Platform string

const (
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformTwitter   Platform = "twitter"
	PlatformLinkedIn  Platform = "linkedin"
)

var Platforms = []Platform{PlatformFacebook, PlatformInstagram, PlatformTwitter, PlatformLinkedIn}

func ParsePlatform(s string) (Platform, bool) {
	for _, p := range Platforms {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

type EventStatus string

const (
	EventPending    EventStatus = "pending"
	EventProcessing EventStatus = "processing"
	EventProcessed  EventStatus = "processed"
	EventFailed     EventStatus = "failed"
	EventIgnored    EventStatus = "ignored"
)

func (s EventStatus) Terminal() bool {
	return s == EventProcessed || s == EventIgnored
}

type AttemptStatus string

const (
	AttemptPending    AttemptStatus = "pending"
	AttemptProcessing AttemptStatus = "processing"
	AttemptCompleted  AttemptStatus = "completed"
	AttemptFailed     AttemptStatus = "failed"
)

// WebhookConfig is one connected social account's webhook subscription.
type WebhookConfig struct {
	ID               string   `json:"id"`
	Platform         Platform `json:"platform"`
	AccountID        string   `json:"account_id"`
	WebhookURL       string   `json:"webhook_url"`
	Secret           *string  `json:"-"`
	SubscribedEvents []string `json:"subscribed_events"` // JSON array in DB
	IsActive         bool     `json:"is_active"`
	CreatedAt        int64    `json:"created_at"`
	UpdatedAt        int64    `json:"updated_at"`
}

func (c *WebhookConfig) Subscribes(eventType string) bool {
	for _, e := range c.SubscribedEvents {
		if e == eventType || e == "*" {
			return true
		}
	}
	return false
}

type WebhookEvent struct {
	ID              string          `json:"id"`
	WebhookConfigID *string         `json:"webhook_config_id,omitempty"`
	Platform        Platform        `json:"platform"`
	EventType       string          `json:"event_type"`
	ExternalEventID *string         `json:"external_event_id,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key"`
	ObjectType      string          `json:"object_type,omitempty"`
	ObjectID        string          `json:"object_id,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	Signature       string          `json:"signature,omitempty"`
	Status          EventStatus     `json:"status"`
	RetryCount      int             `json:"retry_count"`
	NextAttemptAt   int64           `json:"next_attempt_at,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	ReceivedAt      int64           `json:"received_at"`
	ProcessedAt     *int64          `json:"processed_at,omitempty"`
	UpdatedAt       int64           `json:"updated_at"`

	Attempts []*ProcessingAttempt `json:"attempts,omitempty"`
}

type ProcessingAttempt struct {
	ID            string        `json:"id"`
	EventID       string        `json:"event_id"`
	ProcessorName string        `json:"processor_name"`
	Status        AttemptStatus `json:"status"`
	StartedAt     int64         `json:"started_at"`
	CompletedAt   *int64        `json:"completed_at,omitempty"`
	Result        string        `json:"result,omitempty"`
	Error         string        `json:"error,omitempty"`
}

type DeliveryMetric struct {
	WebhookConfigID           string         `json:"webhook_config_id"`
	Date                      string         `json:"date"`
	TotalReceived             int            `json:"total_received"`
	Processed                 int            `json:"processed"`
	Failed                    int            `json:"failed"`
	Ignored                   int            `json:"ignored"`
	RetryAttempts             int            `json:"retry_attempts"`
	AverageProcessingTimeSecs float64        `json:"average_processing_time_seconds"`
	EventTypeBreakdown        map[string]int `json:"event_type_breakdown"`
}

// HourlyDeliveryMetric holds one config's counters for one UTC hour
// (2006-01-02T15).
type HourlyDeliveryMetric struct {
	WebhookConfigID string `json:"webhook_config_id"`
	Hour            string `json:"hour"`
	TotalReceived   int    `json:"total_received"`
	Processed       int    `json:"processed"`
	Failed          int    `json:"failed"`
	Ignored         int    `json:"ignored"`
	RetryAttempts   int    `json:"retry_attempts"`
}

// Job is one scheduled processing task for an event.
type Job struct {
	ID          string `json:"id"`
	EventID     string `json:"event_id"`
	NotBefore   int64  `json:"not_before"`
	Attempt     int    `json:"attempt"`
	LeasedUntil *int64 `json:"leased_until,omitempty"`
	LeaseOwner  string `json:"lease_owner,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

type EventFilter struct {
	Platform Platform
	Status   EventStatus
	ConfigID string
	Since    int64
	Limit    int
}

type OutcomeCounts struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Ignored   int `json:"ignored"`
	Pending   int `json:"pending"`
}

func (o OutcomeCounts) Terminal() int {
	return o.Processed + o.Failed + o.Ignored
}

// FailureRatio is failed over terminal outcomes; zero when there are none.
func (o OutcomeCounts) FailureRatio() float64 {
	total := o.Terminal()
	if total == 0 {
		return 0
	}
	return float64(o.Failed) / float64(total)
}
