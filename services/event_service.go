package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"

	"makanMatesAPI/internal/clock"
	"makanMatesAPI/internal/event"
	"makanMatesAPI/internal/store"
)

// EventService is the event ledger: it owns each user's collection of event
// copies at users/{uid}/events.
type EventService struct {
	store store.Store
	cal   *clock.Calendar
}

func NewEventService(st store.Store, cal *clock.Calendar) *EventService {
	return &EventService{store: st, cal: cal}
}

func (s *EventService) Get(ctx context.Context, ownerUID, eventID string) (*event.Event, error) {
	raw, err := s.store.Get(ctx, store.EventPath(ownerUID, eventID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	ev, err := event.Decode(raw, ownerUID, eventID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInconsistentMirror, err)
	}
	return ev, nil
}

// List returns the owner's events in arrival order. Malformed records are
// logged and skipped.
func (s *EventService) List(ctx context.Context, ownerUID string) ([]*event.Event, error) {
	children, err := s.store.List(ctx, store.EventsPath(ownerUID))
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return decodeEvents(ownerUID, children), nil
}

// ListToday returns the owner's events for the canonical "today", with
// non-booking events first in arrival order followed by bookings by time.
func (s *EventService) ListToday(ctx context.Context, ownerUID string) ([]*event.Event, error) {
	all, err := s.List(ctx, ownerUID)
	if err != nil {
		return nil, err
	}

	today := s.cal.Today()
	events := make([]*event.Event, 0, len(all))
	for _, ev := range all {
		if ev.Day == today {
			events = append(events, ev)
		}
	}

	SortForDay(events)
	return events, nil
}

// SortForDay orders one day's events in place: non-booking events keep their
// order and come first; bookings without a parseable time follow; timed
// bookings come last in ascending time. The sort is stable.
func SortForDay(events []*event.Event) {
	rank := func(ev *event.Event) (int, int) {
		if ev.Type != event.TypeBooking {
			return 0, 0
		}
		t, ok := event.ParseTime(ev.Time)
		if !ok {
			return 1, 0
		}
		return 2, t.Hour()*60 + t.Minute()
	}

	sort.SliceStable(events, func(i, j int) bool {
		ri, mi := rank(events[i])
		rj, mj := rank(events[j])
		if ri != rj {
			return ri < rj
		}
		return mi < mj
	})
}

// Create appends an event to the owner's collection and returns its
// store-assigned id.
func (s *EventService) Create(ctx context.Context, ownerUID string, ev *event.Event) (string, error) {
	ev.OwnerUID = ownerUID
	ev.ID = ""
	if ev.CreatedAt == nil {
		now := s.cal.Now()
		ev.CreatedAt = &now
	}

	id, err := s.store.Push(ctx, store.EventsPath(ownerUID), ev)
	if err != nil {
		return "", fmt.Errorf("failed to create event: %w", err)
	}
	ev.ID = id
	return id, nil
}

// Remove deletes an event; removing an absent event succeeds.
func (s *EventService) Remove(ctx context.Context, ownerUID, eventID string) error {
	if err := s.store.Remove(ctx, store.EventPath(ownerUID, eventID)); err != nil {
		return fmt.Errorf("failed to remove event %s/%s: %w", ownerUID, eventID, err)
	}
	return nil
}

func (s *EventService) MarkConfirmedByUser(ctx context.Context, ownerUID, eventID string) error {
	err := s.store.Update(ctx, store.EventPath(ownerUID, eventID), map[string]any{"confirmedByUser": true})
	if err != nil {
		return fmt.Errorf("failed to confirm event %s: %w", eventID, err)
	}
	return nil
}

func (s *EventService) MarkConfirmedByPartner(ctx context.Context, ownerUID, eventID string) error {
	err := s.store.Update(ctx, store.EventPath(ownerUID, eventID), map[string]any{"confirmedByPartner": true})
	if err != nil {
		return fmt.Errorf("failed to flag partner confirmation on %s/%s: %w", ownerUID, eventID, err)
	}
	return nil
}

// FindBySharedID returns the owner's copies carrying sharedEventID. A
// malformed record that claims the id is reported as an inconsistency
// rather than skipped.
func (s *EventService) FindBySharedID(ctx context.Context, ownerUID, sharedEventID string) ([]*event.Event, error) {
	children, err := s.store.List(ctx, store.EventsPath(ownerUID))
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	var matches []*event.Event
	for _, key := range sortedKeys(children) {
		raw := children[key]

		var probe struct {
			SharedEventID string `json:"sharedEventId"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil || probe.SharedEventID != sharedEventID {
			continue
		}

		ev, err := event.Decode(raw, ownerUID, key)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInconsistentMirror, err)
		}
		matches = append(matches, ev)
	}
	return matches, nil
}

func decodeEvents(ownerUID string, children map[string]json.RawMessage) []*event.Event {
	events := make([]*event.Event, 0, len(children))
	for _, key := range sortedKeys(children) {
		ev, err := event.Decode(children[key], ownerUID, key)
		if err != nil {
			log.Printf("EventService: skipping record: %v", err)
			continue
		}
		events = append(events, ev)
	}
	return events
}

// sortedKeys returns push keys in arrival order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
