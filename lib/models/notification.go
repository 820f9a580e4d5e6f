package models

import "encoding/json"

const (
	DefaultIcon  = "/icons/icon-192x192.png"
	DefaultBadge = "/icons/badge-72x72.png"
	DefaultTag   = "event-notification"
)

// NotificationPayload is built per dispatch and never persisted. Data is
// forwarded verbatim to the client that handles the notification tap.
type NotificationPayload struct {
	Title string          `json:"title"`
	Body  string          `json:"body"`
	Icon  string          `json:"icon,omitempty"`
	Badge string          `json:"badge,omitempty"`
	Tag   string          `json:"tag,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (p NotificationPayload) WithDefaults() NotificationPayload {
	if p.Icon == "" {
		p.Icon = DefaultIcon
	}
	if p.Badge == "" {
		p.Badge = DefaultBadge
	}
	if p.Tag == "" {
		p.Tag = DefaultTag
	}
	return p
}

type DeliveryStatus string

const (
	DeliverySucceeded       DeliveryStatus = "succeeded"
	DeliveryFailedPermanent DeliveryStatus = "failed_permanent"
	DeliveryFailedTransient DeliveryStatus = "failed_transient"
)

type DeliveryOutcome struct {
	SubscriptionID string
	Status         DeliveryStatus
	Err            error
	Attempts       int
	Pruned         bool
}

type DispatchResult struct {
	SuccessCount  int      `json:"successCount"`
	FailureCount  int      `json:"failureCount"`
	PrunedCount   int      `json:"prunedCount"`
	Errors        []string `json:"errors,omitempty"`
	OmittedErrors int      `json:"omittedErrors,omitempty"`
}
