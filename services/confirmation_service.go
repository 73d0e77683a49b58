package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"makanMatesAPI/internal/event"
	"makanMatesAPI/internal/metrics"
	"makanMatesAPI/internal/notification"
	"makanMatesAPI/internal/user"
)

type PairState string

const (
	StateUnconfirmed PairState = "unconfirmed"
	StateOneSided    PairState = "one_sided"
	StateMutual      PairState = "mutual"
	StateRemoved     PairState = "removed"
)

type ConfirmResult struct {
	EventID         string    `json:"eventId"`
	SharedEventID   string    `json:"sharedEventId,omitempty"`
	State           PairState `json:"state"`
	AwaitingPartner bool      `json:"awaitingPartner"`
}

// Notifier delivers user-facing notifications. Delivery is best effort and
// never fails the calling operation.
type Notifier interface {
	Notify(ctx context.Context, uid string, typ notification.NotificationType, data map[string]any)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string, notification.NotificationType, map[string]any) {}

// ConfirmationService drives a pair of mirrored events through
// unconfirmed -> one-sided -> mutual -> removed. Every step is a single-path
// write and the whole sequence may be re-run after any failure.
type ConfirmationService struct {
	events      *EventService
	progression *ProgressionService
	notifier    Notifier
}

func NewConfirmationService(events *EventService, progression *ProgressionService, notifier Notifier) *ConfirmationService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &ConfirmationService{events: events, progression: progression, notifier: notifier}
}

// Confirm records that ownerUID attends the event and, when the partner has
// confirmed too, finalizes the pair. Calling it again is harmless.
func (s *ConfirmationService) Confirm(ctx context.Context, ownerUID, eventID string) (*ConfirmResult, error) {
	own, err := s.events.Get(ctx, ownerUID, eventID)
	if err != nil {
		return nil, err
	}

	if !own.ConfirmedByUser {
		if err := s.events.MarkConfirmedByUser(ctx, ownerUID, eventID); err != nil {
			return nil, err
		}
		own.ConfirmedByUser = true
	}

	result, err := s.Reconcile(ctx, own)
	if err != nil {
		return nil, err
	}

	metrics.Confirmations.WithLabelValues(string(result.State)).Inc()
	return result, nil
}

// Reconcile brings the pair that own belongs to up to date. It is the single
// handler behind Confirm, event subscriptions and the periodic sweep.
func (s *ConfirmationService) Reconcile(ctx context.Context, own *event.Event) (*ConfirmResult, error) {
	result := &ConfirmResult{
		EventID:       own.ID,
		SharedEventID: own.SharedEventID,
		State:         StateUnconfirmed,
	}

	mirror, err := s.locateMirror(ctx, own)
	if err != nil {
		return nil, err
	}

	if !own.ConfirmedByUser {
		if mirror != nil && mirror.ConfirmedByUser {
			result.State = StateOneSided
		}
		return result, nil
	}

	if mirror == nil {
		done, err := s.progression.IsFinalized(ctx, own.OwnerUID, MealMarker(pairKey(own)))
		if err != nil {
			return nil, err
		}
		if !done {
			result.State = StateOneSided
			result.AwaitingPartner = true
			return result, nil
		}

		// The partner finalized the pair and crashed before removing this copy.
		if err := s.events.Remove(ctx, own.OwnerUID, own.ID); err != nil {
			return nil, err
		}
		metrics.Finalizations.WithLabelValues("leftover_removed").Inc()
		result.State = StateRemoved
		return result, nil
	}

	if !event.Mutual(own, mirror) {
		if !mirror.ConfirmedByPartner {
			err := s.events.MarkConfirmedByPartner(ctx, mirror.OwnerUID, mirror.ID)
			switch {
			case errors.Is(err, ErrNotFound):
				// mirror vanished between read and write; next reconcile decides
			case err != nil:
				return nil, err
			default:
				s.notifier.Notify(ctx, mirror.OwnerUID, notification.TypePartnerConfirmed, eventData(mirror))
			}
		}
		result.State = StateOneSided
		result.AwaitingPartner = true
		return result, nil
	}

	if err := s.finalize(ctx, own, mirror); err != nil {
		metrics.Finalizations.WithLabelValues("failed").Inc()
		return nil, err
	}
	result.State = StateRemoved
	return result, nil
}

// finalize applies the side effects of a mutual confirmation. Streaks and
// counters are guarded by per-event markers so the sequence can be repeated;
// removing the two copies is the commit point and comes last.
func (s *ConfirmationService) finalize(ctx context.Context, own, mirror *event.Event) error {
	key := pairKey(own)

	if err := s.progression.UpdateStreak(ctx, own.OwnerUID, own.CounterpartUID, key); err != nil {
		return err
	}

	for _, ev := range []*event.Event{own, mirror} {
		applied, err := s.progression.ApplyOnce(ctx, ev.OwnerUID, MealMarker(key), increments(own, ev.OwnerUID))
		if err != nil {
			return err
		}
		if applied {
			s.notifier.Notify(ctx, ev.OwnerUID, notification.TypeMealCompleted, eventData(ev))
		}
	}

	if err := s.events.Remove(ctx, mirror.OwnerUID, mirror.ID); err != nil {
		return err
	}
	if err := s.events.Remove(ctx, own.OwnerUID, own.ID); err != nil {
		return err
	}

	metrics.Finalizations.WithLabelValues("completed").Inc()
	log.Printf("ConfirmationService: finalized %s (%s, %s)", key, own.OwnerUID, mirror.OwnerUID)
	return nil
}

// Decline removes both copies of an event that has not yet been mutually
// confirmed and tells the counterpart.
func (s *ConfirmationService) Decline(ctx context.Context, ownerUID, eventID string) error {
	own, err := s.events.Get(ctx, ownerUID, eventID)
	if err != nil {
		return err
	}

	mirror, err := s.locateMirror(ctx, own)
	if err != nil {
		return err
	}

	if own.ConfirmedByUser {
		if event.Mutual(own, mirror) {
			return ErrAlreadyConfirmed
		}
		if mirror == nil {
			done, err := s.progression.IsFinalized(ctx, ownerUID, MealMarker(pairKey(own)))
			if err != nil {
				return err
			}
			if done {
				return ErrAlreadyConfirmed
			}
		}
	}

	if mirror != nil {
		if err := s.events.Remove(ctx, mirror.OwnerUID, mirror.ID); err != nil {
			return err
		}
	}
	if err := s.events.Remove(ctx, own.OwnerUID, own.ID); err != nil {
		return err
	}

	data := eventData(own)
	if mirror != nil {
		data = eventData(mirror)
	}
	s.notifier.Notify(ctx, own.CounterpartUID, notification.TypeEventDeclined, data)
	return nil
}

// locateMirror finds the counterpart's copy of own. A nil event with a nil
// error means the counterpart holds no copy.
func (s *ConfirmationService) locateMirror(ctx context.Context, own *event.Event) (*event.Event, error) {
	var candidates []*event.Event

	switch {
	case own.SharedEventID != "":
		found, err := s.events.FindBySharedID(ctx, own.CounterpartUID, own.SharedEventID)
		if err != nil {
			return nil, s.inconsistent(own, err)
		}
		candidates = found

	case own.Type == event.TypeOpenInvite:
		all, err := s.events.List(ctx, own.CounterpartUID)
		if err != nil {
			return nil, err
		}
		for _, ev := range all {
			if ev.SharedEventID == "" && ev.Type == event.TypeOpenInvite &&
				ev.Day == own.Day && ev.CounterpartUID == own.OwnerUID {
				candidates = append(candidates, ev)
			}
		}

	default:
		return nil, s.inconsistent(own, fmt.Errorf("%s event has no sharedEventId", own.Type))
	}

	switch len(candidates) {
	case 0:
		return nil, nil
	case 1:
	default:
		return nil, s.inconsistent(own, fmt.Errorf("%d candidate mirrors", len(candidates)))
	}

	mirror := candidates[0]
	switch {
	case mirror.CounterpartUID != own.OwnerUID:
		return nil, s.inconsistent(own, fmt.Errorf("mirror %s names %s as counterpart", mirror.ID, mirror.CounterpartUID))
	case mirror.Type != own.Type:
		return nil, s.inconsistent(own, fmt.Errorf("mirror %s has type %s", mirror.ID, mirror.Type))
	case mirror.Day != own.Day:
		return nil, s.inconsistent(own, fmt.Errorf("mirror %s is on %s", mirror.ID, mirror.Day))
	case mirror.SenderUID != own.SenderUID:
		return nil, s.inconsistent(own, fmt.Errorf("mirror %s has sender %s", mirror.ID, mirror.SenderUID))
	case own.SenderUID != "" && own.SenderUID != own.OwnerUID && own.SenderUID != own.CounterpartUID:
		return nil, s.inconsistent(own, fmt.Errorf("sender %s is not a participant", own.SenderUID))
	}
	return mirror, nil
}

func (s *ConfirmationService) inconsistent(own *event.Event, cause error) error {
	metrics.InconsistentMirrors.Inc()
	log.Printf("ConfirmationService: inconsistent mirror for %s/%s: %v", own.OwnerUID, own.ID, cause)
	if errors.Is(cause, ErrInconsistentMirror) {
		return cause
	}
	return fmt.Errorf("%w: %s/%s: %v", ErrInconsistentMirror, own.OwnerUID, own.ID, cause)
}

// pairKey identifies the logical event shared by both copies. Legacy
// open-invite copies without a shared id are keyed by day and participants.
func pairKey(ev *event.Event) string {
	if ev.SharedEventID != "" {
		return ev.SharedEventID
	}
	uids := []string{ev.OwnerUID, ev.CounterpartUID}
	sort.Strings(uids)
	return fmt.Sprintf("%s:%s:%s:%s", ev.Type, ev.Day, uids[0], uids[1])
}

// increments returns the counter credit uid earns from a completed event.
func increments(ev *event.Event, uid string) map[user.CounterField]int {
	if ev.Type == event.TypeTakeaway {
		return map[user.CounterField]int{user.FieldTakeaway: 1}
	}

	inc := map[user.CounterField]int{user.FieldMeals: 1}
	if ev.SenderUID == uid {
		inc[user.FieldPlanner] = 1
	}
	return inc
}

func eventData(ev *event.Event) map[string]any {
	return map[string]any{
		"eventId": ev.ID,
		"name":    ev.Name,
		"day":     ev.Day,
		"type":    string(ev.Type),
		"time":    ev.Time,
	}
}
