package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"makanMatesAPI/internal/clock"
	"makanMatesAPI/internal/notification"
	"makanMatesAPI/internal/store"
)

type notificationTemplate struct {
	title string
	body  string
}

var notificationTemplates = map[notification.NotificationType]notificationTemplate{
	notification.TypeRequestReceived: {
		title: "New {{kind}} request",
		body:  "{{senderName}} wants to makan with you on {{day}}",
	},
	notification.TypeRequestAccepted: {
		title: "{{kind}} accepted",
		body:  "{{recipientName}} is in for {{day}}",
	},
	notification.TypeRequestDeclined: {
		title: "{{kind}} declined",
		body:  "{{recipientName}} can't make it on {{day}}",
	},
	notification.TypePartnerConfirmed: {
		title: "Waiting on you",
		body:  "Your kaki confirmed {{name}}. Confirm to complete it!",
	},
	notification.TypeMealCompleted: {
		title: "Meal completed",
		body:  "{{name}} is done. Streak and progress updated",
	},
	notification.TypeEventDeclined: {
		title: "Plans changed",
		body:  "{{name}} on {{day}} was cancelled",
	},
}

// NotificationService renders notifications and hands them to the
// dispatcher. It also keeps the device tokens push delivery needs.
type NotificationService struct {
	store      store.Store
	cal        *clock.Calendar
	dispatcher *NotificationDispatcher
}

func NewNotificationService(st store.Store, cal *clock.Calendar, provider PushProvider, workers int) *NotificationService {
	s := &NotificationService{store: st, cal: cal}
	s.dispatcher = NewNotificationDispatcher(provider, s.deviceTokens, workers)
	return s
}

func (s *NotificationService) Notify(ctx context.Context, uid string, typ notification.NotificationType, data map[string]any) {
	if uid == "" {
		return
	}

	tmpl, ok := notificationTemplates[typ]
	if !ok {
		log.Printf("NotificationService: no template for %s", typ)
		return
	}

	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["type"] = string(typ)

	s.dispatcher.Dispatch(&notification.Notification{
		UserID:    uid,
		Type:      typ,
		Title:     renderTemplate(tmpl.title, data),
		Body:      renderTemplate(tmpl.body, data),
		Data:      payload,
		CreatedAt: s.cal.Now(),
	})
}

func renderTemplate(template string, data map[string]any) string {
	result := template
	for key, value := range data {
		placeholder := fmt.Sprintf("{{%s}}", key)
		result = strings.ReplaceAll(result, placeholder, fmt.Sprintf("%v", value))
	}
	return result
}

// RegisterDevice stores or refreshes a push token for uid.
func (s *NotificationService) RegisterDevice(ctx context.Context, uid string, req *notification.RegisterDeviceRequest) (*notification.DeviceToken, error) {
	if !req.Valid() {
		return nil, fmt.Errorf("invalid device registration")
	}

	now := s.cal.Now()
	path := store.DevicePath(uid, deviceKey(req.Token))

	device := &notification.DeviceToken{
		Token:    req.Token,
		Platform: req.Platform,
		AddedAt:  now,
		LastUsed: now,
	}
	err := s.store.Transaction(ctx, path, func(current json.RawMessage) (any, error) {
		if !store.IsAbsent(current) {
			var existing notification.DeviceToken
			if err := json.Unmarshal(current, &existing); err == nil && !existing.AddedAt.IsZero() {
				device.AddedAt = existing.AddedAt
			}
		}
		return device, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register device: %w", err)
	}
	return device, nil
}

func (s *NotificationService) deviceTokens(ctx context.Context, uid string) ([]notification.DeviceToken, error) {
	children, err := s.store.List(ctx, store.DevicesPath(uid))
	if err != nil {
		return nil, err
	}

	tokens := make([]notification.DeviceToken, 0, len(children))
	for _, key := range sortedKeys(children) {
		var t notification.DeviceToken
		if err := json.Unmarshal(children[key], &t); err != nil || t.Token == "" {
			continue
		}
		tokens = append(tokens, t)
	}
	return tokens, nil
}

func (s *NotificationService) Stop() {
	s.dispatcher.Stop()
}

// deviceKey maps a push token onto a path-safe record key.
func deviceKey(token string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(token)).String()
}
