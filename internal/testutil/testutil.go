// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"makanMatesAPI/internal/clock"
	"makanMatesAPI/internal/event"
	"makanMatesAPI/internal/store"
)

// Singapore is the default canonical timezone.
func Singapore(t testing.TB) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Singapore")
	require.NoError(t, err)
	return loc
}

// NewCalendar returns a fake clock set to at (RFC3339) and a calendar in the
// Singapore timezone driven by it.
func NewCalendar(t testing.TB, at string) (*clock.Fake, *clock.Calendar) {
	t.Helper()
	now, err := time.Parse(time.RFC3339, at)
	require.NoError(t, err)

	fake := clock.NewFake(now)
	return fake, clock.NewCalendar(fake, Singapore(t))
}

// SeedEvent writes ev directly at users/{owner}/events/{id}.
func SeedEvent(t testing.TB, st store.Store, ev *event.Event) {
	t.Helper()
	require.NotEmpty(t, ev.ID)
	require.NotEmpty(t, ev.OwnerUID)

	body := *ev
	body.ID = ""
	require.NoError(t, st.Set(context.Background(), store.EventPath(ev.OwnerUID, ev.ID), &body))
}

// SeedPair writes two mirrored copies of one shared event for a and b, with
// sender credited for planning.
func SeedPair(t testing.TB, st store.Store, typ event.Type, shared, day, a, b, sender string) (*event.Event, *event.Event) {
	t.Helper()
	evA := &event.Event{
		ID: "ev-" + shared + "-" + a, Day: day, Type: typ, Name: event.DisplayName(typ, b),
		OwnerUID: a, CounterpartUID: b, SenderUID: sender, SharedEventID: shared,
	}
	evB := &event.Event{
		ID: "ev-" + shared + "-" + b, Day: day, Type: typ, Name: event.DisplayName(typ, a),
		OwnerUID: b, CounterpartUID: a, SenderUID: sender, SharedEventID: shared,
	}
	if typ == event.TypeBooking {
		evA.Time, evB.Time = "19:00", "19:00"
	}
	SeedEvent(t, st, evA)
	SeedEvent(t, st, evB)
	return evA, evB
}

// Exists reports whether a record is present at path.
func Exists(t testing.TB, st store.Store, path string) bool {
	t.Helper()
	_, err := st.Get(context.Background(), path)
	if err == nil {
		return true
	}
	require.ErrorIs(t, err, store.ErrNotFound)
	return false
}

// Decode unmarshals the record at path into v.
func Decode(t testing.TB, st store.Store, path string, v any) {
	t.Helper()
	raw, err := st.Get(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}
