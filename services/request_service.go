package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"makanMatesAPI/internal/clock"
	"makanMatesAPI/internal/event"
	"makanMatesAPI/internal/notification"
	"makanMatesAPI/internal/request"
	"makanMatesAPI/internal/store"
)

// EventPair is the mirrored pair created when a request is accepted.
type EventPair struct {
	SharedEventID string       `json:"sharedEventId"`
	Recipient     *event.Event `json:"recipient"`
	Sender        *event.Event `json:"sender"`
}

type RequestService struct {
	store    store.Store
	cal      *clock.Calendar
	events   *EventService
	notifier Notifier
}

func NewRequestService(st store.Store, cal *clock.Calendar, events *EventService, notifier Notifier) *RequestService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &RequestService{store: st, cal: cal, events: events, notifier: notifier}
}

func (s *RequestService) CreateRequest(ctx context.Context, req *request.Request) (*request.Request, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Day < s.cal.Today() {
		return nil, fmt.Errorf("%w: day %s is in the past", request.ErrInvalid, req.Day)
	}

	req.ID = ""
	req.CreatedAt = s.cal.Now()

	id, err := s.store.Push(ctx, store.RequestsPath(req.RecipientUID, string(req.Kind)), req)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.ID = id

	s.notifier.Notify(ctx, req.RecipientUID, notification.TypeRequestReceived, requestData(req))
	return req, nil
}

// ListRequests returns uid's pending incoming requests of one kind in arrival
// order.
func (s *RequestService) ListRequests(ctx context.Context, uid string, kind request.Kind) ([]*request.Request, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", request.ErrInvalid, kind)
	}

	children, err := s.store.List(ctx, store.RequestsPath(uid, string(kind)))
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}

	requests := make([]*request.Request, 0, len(children))
	for _, key := range sortedKeys(children) {
		req, err := request.Decode(children[key], uid, kind, key)
		if err != nil {
			log.Printf("RequestService: skipping request %s/%s: %v", uid, key, err)
			continue
		}
		requests = append(requests, req)
	}
	return requests, nil
}

func (s *RequestService) get(ctx context.Context, recipientUID string, kind request.Kind, requestID string) (*request.Request, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", request.ErrInvalid, kind)
	}

	raw, err := s.store.Get(ctx, store.RequestPath(recipientUID, string(kind), requestID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("request %s: %w", requestID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return request.Decode(raw, recipientUID, kind, requestID)
}

// AcceptRequest turns a pending request into a mirrored event pair sharing
// the request id. A copy that already exists is reused, so a retry after a
// partial failure never duplicates either side. The request is removed last.
func (s *RequestService) AcceptRequest(ctx context.Context, recipientUID string, kind request.Kind, requestID string) (*EventPair, error) {
	req, err := s.get(ctx, recipientUID, kind, requestID)
	if err != nil {
		return nil, err
	}

	recipientCopy, err := s.ensureCopy(ctx, recipientUID, &event.Event{
		Day:            req.Day,
		Type:           req.Kind,
		Time:           req.Time,
		Name:           event.DisplayName(req.Kind, req.SenderName),
		CounterpartUID: req.SenderUID,
		SenderUID:      req.SenderUID,
		SharedEventID:  req.ID,
	})
	if err != nil {
		return nil, err
	}

	senderCopy, err := s.ensureCopy(ctx, req.SenderUID, &event.Event{
		Day:            req.Day,
		Type:           req.Kind,
		Time:           req.Time,
		Name:           event.DisplayName(req.Kind, req.RecipientName),
		CounterpartUID: recipientUID,
		SenderUID:      req.SenderUID,
		SharedEventID:  req.ID,
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.Remove(ctx, store.RequestPath(recipientUID, string(kind), requestID)); err != nil {
		return nil, fmt.Errorf("failed to remove accepted request: %w", err)
	}

	s.notifier.Notify(ctx, req.SenderUID, notification.TypeRequestAccepted, requestData(req))

	return &EventPair{
		SharedEventID: req.ID,
		Recipient:     recipientCopy,
		Sender:        senderCopy,
	}, nil
}

func (s *RequestService) ensureCopy(ctx context.Context, ownerUID string, ev *event.Event) (*event.Event, error) {
	existing, err := s.events.FindBySharedID(ctx, ownerUID, ev.SharedEventID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing[0], nil
	}

	if _, err := s.events.Create(ctx, ownerUID, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *RequestService) DeclineRequest(ctx context.Context, recipientUID string, kind request.Kind, requestID string) error {
	req, err := s.get(ctx, recipientUID, kind, requestID)
	if err != nil {
		return err
	}

	if err := s.store.Remove(ctx, store.RequestPath(recipientUID, string(kind), requestID)); err != nil {
		return fmt.Errorf("failed to remove request: %w", err)
	}

	s.notifier.Notify(ctx, req.SenderUID, notification.TypeRequestDeclined, requestData(req))
	return nil
}

func requestData(req *request.Request) map[string]any {
	return map[string]any{
		"requestId":     req.ID,
		"kind":          req.Kind.Label(),
		"senderName":    req.SenderName,
		"recipientName": req.RecipientName,
		"day":           req.Day,
		"time":          req.Time,
	}
}
