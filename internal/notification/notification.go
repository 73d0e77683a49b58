package notification

import (
	"time"
)

type NotificationType string

const (
	TypeRequestReceived  NotificationType = "request_received"
	TypeRequestAccepted  NotificationType = "request_accepted"
	TypeRequestDeclined  NotificationType = "request_declined"
	TypePartnerConfirmed NotificationType = "partner_confirmed"
	TypeMealCompleted    NotificationType = "meal_completed"
	TypeEventDeclined    NotificationType = "event_declined"
)

type Notification struct {
	UserID    string           `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Data      map[string]any   `json:"data"`
	CreatedAt time.Time        `json:"created_at"`
}

// DeviceToken is stored at users/{uid}/devices/{key}, key derived from the token.
type DeviceToken struct {
	Token    string    `json:"token"`
	Platform string    `json:"platform"`
	AddedAt  time.Time `json:"addedAt"`
	LastUsed time.Time `json:"lastUsed"`
}
