package models

import "encoding/json"

// NotificationPayload is carried by email and push work items.
type NotificationPayload struct {
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	EventType  string   `json:"event_type"`
	EntityID   string   `json:"entity_id"`
	Priority   Priority `json:"priority"`
}

// BroadcastPayload is carried by websocket broadcast work items.
type BroadcastPayload struct {
	Channel string          `json:"channel"`
	Event   json.RawMessage `json:"event"`
}

// InvalidationPayload names the cache tag to drop.
type InvalidationPayload struct {
	TenantID      string `json:"tenant_id"`
	ResourceClass string `json:"resource_class"`
}

// ReportPayload requests an after-the-fact summary for a reviewed entity.
type ReportPayload struct {
	EntityID   string `json:"entity_id"`
	NaturalKey string `json:"natural_key"`
	EventType  string `json:"event_type"`
}
