package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"makanMatesAPI/internal/clock"
	"makanMatesAPI/internal/metrics"
	"makanMatesAPI/internal/store"
	"makanMatesAPI/internal/streak"
	"makanMatesAPI/internal/user"
)

const (
	DefaultStreakDecayDays     = 7
	DefaultFinalizedRetainDays = 90

	mealMarkerPrefix   = "meal:"
	friendMarkerPrefix = "friend:"
)

// ProgressionService owns the permanent counters on users/{uid} and the
// pairwise streaks under users/{uid}/streaks.
type ProgressionService struct {
	store      store.Store
	cal        *clock.Calendar
	decayDays  int
	retainDays int
}

func NewProgressionService(st store.Store, cal *clock.Calendar, decayDays, retainDays int) *ProgressionService {
	if decayDays <= 0 {
		decayDays = DefaultStreakDecayDays
	}
	if retainDays <= 0 {
		retainDays = DefaultFinalizedRetainDays
	}
	return &ProgressionService{store: st, cal: cal, decayDays: decayDays, retainDays: retainDays}
}

// MealMarker is the idempotency marker of one finalized shared event.
func MealMarker(sharedKey string) string {
	return mealMarkerPrefix + sharedKey
}

func friendMarker(otherUID string) string {
	return friendMarkerPrefix + otherUID
}

// IncrementCounter adds amount to one counter. It is not idempotent; the
// confirmation flow goes through ApplyOnce instead.
func (s *ProgressionService) IncrementCounter(ctx context.Context, uid string, field user.CounterField, amount int) error {
	if !field.Valid() {
		return fmt.Errorf("unknown counter field %q", field)
	}

	err := s.store.Transaction(ctx, store.UserPath(uid), func(current json.RawMessage) (any, error) {
		doc, err := user.DecodeDocument(current)
		if err != nil {
			return nil, err
		}
		doc.Add(field, amount)
		return doc, nil
	})
	if err != nil {
		return fmt.Errorf("failed to increment %s for %s: %w", field, uid, err)
	}

	metrics.ProgressionsApplied.WithLabelValues(string(field)).Add(float64(amount))
	return nil
}

// ApplyOnce applies increments to uid's counters together with marker in a
// single transaction on users/{uid}. When the marker is already present
// nothing changes and applied is false.
func (s *ProgressionService) ApplyOnce(ctx context.Context, uid, marker string, increments map[user.CounterField]int) (bool, error) {
	for field := range increments {
		if !field.Valid() {
			return false, fmt.Errorf("unknown counter field %q", field)
		}
	}

	today := s.cal.Today()
	var applied bool

	err := s.store.Transaction(ctx, store.UserPath(uid), func(current json.RawMessage) (any, error) {
		applied = false

		doc, err := user.DecodeDocument(current)
		if err != nil {
			return nil, err
		}
		if _, done := doc.Finalized[marker]; done {
			return json.RawMessage(current), nil
		}

		for field, amount := range increments {
			doc.Add(field, amount)
		}
		s.pruneMarkers(doc)
		doc.Finalized[marker] = today
		applied = true
		return doc, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to apply %s for %s: %w", marker, uid, err)
	}

	if applied {
		for field, amount := range increments {
			metrics.ProgressionsApplied.WithLabelValues(string(field)).Add(float64(amount))
		}
	}
	return applied, nil
}

// IsFinalized reports whether uid's ledger already holds marker.
func (s *ProgressionService) IsFinalized(ctx context.Context, uid, marker string) (bool, error) {
	raw, err := s.store.Get(ctx, store.UserPath(uid))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read user %s: %w", uid, err)
	}

	doc, err := user.DecodeDocument(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrInconsistentMirror, err)
	}
	_, ok := doc.Finalized[marker]
	return ok, nil
}

// pruneMarkers drops meal markers older than the retention window. Friend
// markers are permanent.
func (s *ProgressionService) pruneMarkers(doc *user.Document) {
	now := s.cal.Now()
	for marker, day := range doc.Finalized {
		if !strings.HasPrefix(marker, mealMarkerPrefix) {
			continue
		}
		t, err := s.cal.ParseDay(day)
		if err != nil || s.cal.DaysBetween(t, now) > s.retainDays {
			delete(doc.Finalized, marker)
		}
	}
}

func (s *ProgressionService) GetCounters(ctx context.Context, uid string) (*user.Counters, error) {
	raw, err := s.store.Get(ctx, store.UserPath(uid))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &user.Counters{}, nil
		}
		return nil, fmt.Errorf("failed to read counters: %w", err)
	}

	doc, err := user.DecodeDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInconsistentMirror, err)
	}
	return &doc.Counters, nil
}

// UpdateStreak advances the streak of both directions of the pair for one
// shared event.
func (s *ProgressionService) UpdateStreak(ctx context.Context, uidA, uidB, sharedKey string) error {
	if err := s.advanceStreak(ctx, uidA, uidB, sharedKey); err != nil {
		return err
	}
	return s.advanceStreak(ctx, uidB, uidA, sharedKey)
}

func (s *ProgressionService) advanceStreak(ctx context.Context, ownerUID, friendUID, sharedKey string) error {
	now := s.cal.Now()

	err := s.store.Transaction(ctx, store.StreakPath(ownerUID, friendUID), func(current json.RawMessage) (any, error) {
		if store.IsAbsent(current) {
			st := &streak.Streak{Count: 1, LastInteraction: now, LastEventID: sharedKey}
			st.MarkApplied(sharedKey, s.cal.DayOf(now))
			return st, nil
		}

		st, err := streak.Decode(current, friendUID)
		if err != nil {
			return nil, err
		}
		st.FriendUID = ""
		next := s.nextStreak(*st, now, sharedKey)
		return &next, nil
	})
	if err != nil {
		return fmt.Errorf("failed to update streak %s->%s: %w", ownerUID, friendUID, err)
	}
	return nil
}

// nextStreak is the pure streak transition for a qualifying interaction at
// now. A shared event already in the applied set never counts twice, even
// when other events were applied after it.
func (s *ProgressionService) nextStreak(st streak.Streak, now time.Time, sharedKey string) streak.Streak {
	if st.HasApplied(sharedKey) {
		return st
	}
	st.Applied = s.pruneApplied(st.Applied, now)
	st.MarkApplied(sharedKey, s.cal.DayOf(now))

	gap := s.cal.DaysBetween(st.LastInteraction, now)
	switch {
	case gap < 0:
		return st
	case gap == 0 && st.Count > 0:
		st.LastEventID = sharedKey
		return st
	case gap > s.decayDays:
		st.Count = 0
	}

	st.Count++
	st.LastInteraction = now
	st.LastEventID = sharedKey
	return st
}

// pruneApplied returns a copy of applied without entries older than the
// retention window.
func (s *ProgressionService) pruneApplied(applied map[string]string, now time.Time) map[string]string {
	if len(applied) == 0 {
		return nil
	}
	out := make(map[string]string, len(applied))
	for key, day := range applied {
		t, err := s.cal.ParseDay(day)
		if err != nil || s.cal.DaysBetween(t, now) > s.retainDays {
			continue
		}
		out[key] = day
	}
	return out
}

// GetStreak returns ownerUID's streak with friendUID, persisting the lazy
// reset when the last interaction is older than the decay window.
func (s *ProgressionService) GetStreak(ctx context.Context, ownerUID, friendUID string) (*streak.Streak, error) {
	path := store.StreakPath(ownerUID, friendUID)

	raw, err := s.store.Get(ctx, path)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("streak with %s: %w", friendUID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read streak: %w", err)
	}

	st, err := streak.Decode(raw, friendUID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInconsistentMirror, err)
	}

	now := s.cal.Now()
	if !s.decayed(st, now) {
		return st, nil
	}

	var result *streak.Streak
	err = s.store.Transaction(ctx, path, func(current json.RawMessage) (any, error) {
		if store.IsAbsent(current) {
			result = nil
			return nil, nil
		}
		cur, err := streak.Decode(current, friendUID)
		if err != nil {
			return nil, err
		}
		if s.decayed(cur, now) {
			cur.Count = 0
			cur.LastInteraction = now
		}
		result = cur

		out := *cur
		out.FriendUID = ""
		return &out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reset streak: %w", err)
	}
	if result == nil {
		return nil, fmt.Errorf("streak with %s: %w", friendUID, ErrNotFound)
	}

	log.Printf("ProgressionService: streak %s->%s decayed", ownerUID, friendUID)
	return result, nil
}

func (s *ProgressionService) decayed(st *streak.Streak, now time.Time) bool {
	return st.Count > 0 && s.cal.DaysBetween(st.LastInteraction, now) > s.decayDays
}

// RecordFriendship credits friendsCount to both users once per pair.
func (s *ProgressionService) RecordFriendship(ctx context.Context, uidA, uidB string) error {
	if uidA == "" || uidB == "" || uidA == uidB {
		return fmt.Errorf("invalid friendship %q/%q", uidA, uidB)
	}

	inc := map[user.CounterField]int{user.FieldFriends: 1}
	if _, err := s.ApplyOnce(ctx, uidA, friendMarker(uidB), inc); err != nil {
		return err
	}
	if _, err := s.ApplyOnce(ctx, uidB, friendMarker(uidA), inc); err != nil {
		return err
	}
	return nil
}
