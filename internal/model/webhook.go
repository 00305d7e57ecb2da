package model

import (
	"encoding/json"
	"time"
)

// Event names a subscriber may register for.
const (
	EventOrderCreated          = "order.created"
	EventOrderUpdated          = "order.updated"
	EventOrderDelivered        = "order.delivered"
	EventOrderCancelled        = "order.cancelled"
	EventDriverAssigned        = "driver.assigned"
	EventDriverLocationUpdated = "driver.location_updated"
	EventNFTMinted             = "nft.minted"

	// EventWildcard subscribes to every event.
	EventWildcard = "*"
)

// KnownEvents lists every event name accepted in a subscription, including
// the wildcard.
var KnownEvents = []string{
	EventOrderCreated,
	EventOrderUpdated,
	EventOrderDelivered,
	EventOrderCancelled,
	EventDriverAssigned,
	EventDriverLocationUpdated,
	EventNFTMinted,
	EventWildcard,
}

// IsKnownEvent reports whether name is a recognised event or the wildcard.
func IsKnownEvent(name string) bool {
	for _, e := range KnownEvents {
		if e == name {
			return true
		}
	}
	return false
}

// Webhook is a subscription to one or more events, owned by an API key.
type Webhook struct {
	ID              string     `json:"id" db:"id"`
	APIKeyID        string     `json:"api_key_id" db:"api_key_id"`
	URL             string     `json:"url" db:"url"`
	Events          []string   `json:"events"`
	Secret          string     `json:"-" db:"secret"`
	IsActive        bool       `json:"is_active" db:"is_active"`
	FailureCount    int        `json:"failure_count" db:"failure_count"`
	LastDeliveredAt *time.Time `json:"last_delivered_at,omitempty" db:"last_delivered_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// Subscribes reports whether the webhook wants event.
func (w *Webhook) Subscribes(event string) bool {
	for _, e := range w.Events {
		if e == event || e == EventWildcard {
			return true
		}
	}
	return false
}

// WebhookDelivery is one delivery attempt of one event to one webhook.
type WebhookDelivery struct {
	ID             string          `json:"id" db:"id"`
	WebhookID      string          `json:"webhook_id" db:"webhook_id"`
	Event          string          `json:"event" db:"event"`
	Payload        json.RawMessage `json:"payload" db:"payload"`
	ResponseStatus int             `json:"response_status" db:"response_status"`
	ResponseBody   string          `json:"response_body" db:"response_body"`
	Success        bool            `json:"success" db:"success"`
	Attempt        int             `json:"attempt" db:"attempt"`
	DeliveredAt    time.Time       `json:"delivered_at" db:"delivered_at"`
}

// WebhookEnvelope is the JSON body POSTed to subscribers.
type WebhookEnvelope struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}
