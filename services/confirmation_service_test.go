package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"makanMatesAPI/internal/event"
	"makanMatesAPI/internal/notification"
	"makanMatesAPI/internal/store"
	"makanMatesAPI/internal/testutil"
)

func TestConfirm_AThenB(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	evA, evB := testutil.SeedPair(t, h.store, event.TypeBooking, "X", testDay, "alice", "bob", "alice")

	result, err := h.confirmations.Confirm(ctx, "alice", evA.ID)
	require.NoError(t, err)
	assert.Equal(t, StateOneSided, result.State)
	assert.True(t, result.AwaitingPartner)

	ownA, err := h.events.Get(ctx, "alice", evA.ID)
	require.NoError(t, err)
	assert.True(t, ownA.ConfirmedByUser)
	assert.False(t, ownA.ConfirmedByPartner)

	mirrorB, err := h.events.Get(ctx, "bob", evB.ID)
	require.NoError(t, err)
	assert.False(t, mirrorB.ConfirmedByUser)
	assert.True(t, mirrorB.ConfirmedByPartner)
	assert.Equal(t, 1, h.notifier.count("bob", notification.TypePartnerConfirmed))

	result, err = h.confirmations.Confirm(ctx, "bob", evB.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRemoved, result.State)

	assertPairFinalized(t, h, evA, evB)
	assert.Equal(t, 1, h.notifier.count("alice", notification.TypeMealCompleted))
	assert.Equal(t, 1, h.notifier.count("bob", notification.TypeMealCompleted))
}

func TestConfirm_BThenA(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	evA, evB := testutil.SeedPair(t, h.store, event.TypeBooking, "X", testDay, "alice", "bob", "alice")

	_, err := h.confirmations.Confirm(ctx, "bob", evB.ID)
	require.NoError(t, err)
	result, err := h.confirmations.Confirm(ctx, "alice", evA.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRemoved, result.State)

	assertPairFinalized(t, h, evA, evB)
}

// assertPairFinalized checks the end state of one completed booking planned by alice.
func assertPairFinalized(t *testing.T, h *harness, evA, evB *event.Event) {
	t.Helper()

	assert.False(t, testutil.Exists(t, h.store, store.EventPath("alice", evA.ID)))
	assert.False(t, testutil.Exists(t, h.store, store.EventPath("bob", evB.ID)))

	alice := h.counters(t, "alice")
	bob := h.counters(t, "bob")
	assert.Equal(t, 1, alice.MealsCount)
	assert.Equal(t, 1, bob.MealsCount)
	assert.Equal(t, 1, alice.PlannerCount)
	assert.Equal(t, 0, bob.PlannerCount)
	assert.Equal(t, 0, alice.TakeawayCount)

	assert.Equal(t, 1, h.streakCount(t, "alice", "bob"))
	assert.Equal(t, 1, h.streakCount(t, "bob", "alice"))
}

func TestConfirm_IsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	evA, evB := testutil.SeedPair(t, h.store, event.TypeTakeaway, "T", testDay, "alice", "bob", "bob")

	first, err := h.confirmations.Confirm(ctx, "alice", evA.ID)
	require.NoError(t, err)
	second, err := h.confirmations.Confirm(ctx, "alice", evA.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, h.notifier.count("bob", notification.TypePartnerConfirmed))
	assert.Equal(t, 0, h.counters(t, "alice").TakeawayCount)
	assert.True(t, testutil.Exists(t, h.store, store.EventPath("bob", evB.ID)))
}

func TestConfirm_TakeawayCredits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	evA, evB := testutil.SeedPair(t, h.store, event.TypeTakeaway, "T", testDay, "alice", "bob", "bob")

	_, err := h.confirmations.Confirm(ctx, "alice", evA.ID)
	require.NoError(t, err)
	_, err = h.confirmations.Confirm(ctx, "bob", evB.ID)
	require.NoError(t, err)

	for _, uid := range []string{"alice", "bob"} {
		c := h.counters(t, uid)
		assert.Equal(t, 1, c.TakeawayCount, uid)
		assert.Equal(t, 0, c.MealsCount, uid)
		assert.Equal(t, 0, c.PlannerCount, uid)
	}
}

func TestConfirm_ConcurrentConfirmsApplyOnce(t *testing.T) {
	for round := 0; round < 25; round++ {
		t.Run(fmt.Sprintf("round %d", round), func(t *testing.T) {
			h := newHarness(t)
			evA, evB := testutil.SeedPair(t, h.store, event.TypeBooking, "X", testDay, "alice", "bob", "bob")

			var wg sync.WaitGroup
			confirm := func(uid, id string) {
				defer wg.Done()
				for i := 0; i < 3; i++ {
					_, err := h.confirmations.Confirm(context.Background(), uid, id)
					if err != nil && !errors.Is(err, ErrNotFound) {
						t.Errorf("confirm %s: %v", uid, err)
					}
				}
			}
			wg.Add(2)
			go confirm("alice", evA.ID)
			go confirm("bob", evB.ID)
			wg.Wait()

			assert.False(t, testutil.Exists(t, h.store, store.EventPath("alice", evA.ID)))
			assert.False(t, testutil.Exists(t, h.store, store.EventPath("bob", evB.ID)))

			alice, bob := h.counters(t, "alice"), h.counters(t, "bob")
			assert.Equal(t, 1, alice.MealsCount)
			assert.Equal(t, 1, bob.MealsCount)
			assert.Equal(t, 0, alice.PlannerCount)
			assert.Equal(t, 1, bob.PlannerCount)
			assert.Equal(t, 1, h.streakCount(t, "alice", "bob"))
		})
	}
}

func TestConfirm_MirrorAlreadyFinalized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	evA, evB := testutil.SeedPair(t, h.store, event.TypeBooking, "X", testDay, "alice", "bob", "alice")

	// bob's client finalized the pair but died before removing alice's copy
	require.NoError(t, h.store.Update(ctx, store.EventPath("alice", evA.ID), map[string]any{"confirmedByUser": true}))
	require.NoError(t, h.store.Update(ctx, store.EventPath("bob", evB.ID), map[string]any{"confirmedByUser": true}))
	bobCopy, err := h.events.Get(ctx, "bob", evB.ID)
	require.NoError(t, err)
	aliceCopy, err := h.events.Get(ctx, "alice", evA.ID)
	require.NoError(t, err)
	require.NoError(t, h.progression.UpdateStreak(ctx, "bob", "alice", "X"))
	for _, ev := range []*event.Event{bobCopy, aliceCopy} {
		_, err := h.progression.ApplyOnce(ctx, ev.OwnerUID, MealMarker("X"), increments(bobCopy, ev.OwnerUID))
		require.NoError(t, err)
	}
	require.NoError(t, h.events.Remove(ctx, "bob", evB.ID))

	result, err := h.confirmations.Confirm(ctx, "alice", evA.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRemoved, result.State)

	assertPairFinalized(t, h, evA, evB)
}

func TestConfirm_MissingMirrorAwaitsPartner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	testutil.SeedEvent(t, h.store, &event.Event{
		ID: "e1", Day: testDay, Type: event.TypeBooking, Time: "19:00",
		OwnerUID: "alice", CounterpartUID: "bob", SenderUID: "bob", SharedEventID: "X",
	})

	result, err := h.confirmations.Confirm(ctx, "alice", "e1")
	require.NoError(t, err)
	assert.Equal(t, StateOneSided, result.State)
	assert.True(t, result.AwaitingPartner)

	own, err := h.events.Get(ctx, "alice", "e1")
	require.NoError(t, err)
	assert.True(t, own.ConfirmedByUser)
}

func TestConfirm_UnknownEvent(t *testing.T) {
	h := newHarness(t)

	_, err := h.confirmations.Confirm(context.Background(), "alice", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConfirm_InconsistentMirror(t *testing.T) {
	cases := map[string]func(ev *event.Event){
		"type":        func(ev *event.Event) { ev.Type = event.TypeTakeaway; ev.Time = "" },
		"day":         func(ev *event.Event) { ev.Day = "2025-03-11" },
		"sender":      func(ev *event.Event) { ev.SenderUID = "bob" },
		"participant": func(ev *event.Event) { ev.CounterpartUID = "carol" },
	}

	for name, corrupt := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			evA, evB := testutil.SeedPair(t, h.store, event.TypeBooking, "X", testDay, "alice", "bob", "alice")
			evB.ConfirmedByUser = true
			corrupt(evB)
			testutil.SeedEvent(t, h.store, evB)

			_, err := h.confirmations.Confirm(ctx, "alice", evA.ID)
			assert.ErrorIs(t, err, ErrInconsistentMirror)

			assert.True(t, testutil.Exists(t, h.store, store.EventPath("alice", evA.ID)))
			assert.True(t, testutil.Exists(t, h.store, store.EventPath("bob", evB.ID)))
			assert.Equal(t, 0, h.counters(t, "alice").MealsCount)
		})
	}
}

func TestConfirm_DuplicateMirrorsAreInconsistent(t *testing.T) {
	h := newHarness(t)
	evA, evB := testutil.SeedPair(t, h.store, event.TypeBooking, "X", testDay, "alice", "bob", "alice")
	dup := *evB
	dup.ID = "dup"
	testutil.SeedEvent(t, h.store, &dup)

	_, err := h.confirmations.Confirm(context.Background(), "alice", evA.ID)
	assert.ErrorIs(t, err, ErrInconsistentMirror)
}

func TestConfirm_LegacyOpenInviteWithoutSharedID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	evA, evB := testutil.SeedPair(t, h.store, event.TypeOpenInvite, "", testDay, "alice", "bob", "alice")
	// an unrelated same-day invite between bob and carol must not match
	testutil.SeedEvent(t, h.store, &event.Event{
		ID: "carol-invite", Day: testDay, Type: event.TypeOpenInvite,
		OwnerUID: "bob", CounterpartUID: "carol", SenderUID: "carol",
	})

	_, err := h.confirmations.Confirm(ctx, "alice", evA.ID)
	require.NoError(t, err)
	result, err := h.confirmations.Confirm(ctx, "bob", evB.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRemoved, result.State)

	assertPairFinalized(t, h, evA, evB)
	assert.Equal(t, 0, h.counters(t, "carol").MealsCount)

	done, err := h.progression.IsFinalized(ctx, "bob", MealMarker(pairKey(evA)))
	require.NoError(t, err)
	assert.True(t, done)
}

func TestConfirm_BookingWithoutSharedIDIsInconsistent(t *testing.T) {
	h := newHarness(t)
	evA, _ := testutil.SeedPair(t, h.store, event.TypeBooking, "", testDay, "alice", "bob", "alice")

	_, err := h.confirmations.Confirm(context.Background(), "alice", evA.ID)
	assert.ErrorIs(t, err, ErrInconsistentMirror)
}

// failingRemoves fails Remove calls on matching paths while armed.
type failingRemoves struct {
	*store.MemoryStore
	path  string
	armed atomic.Bool
}

func (f *failingRemoves) Remove(ctx context.Context, path string) error {
	if f.armed.Load() && path == f.path {
		return fmt.Errorf("remove %s: %w", path, store.ErrUnavailable)
	}
	return f.MemoryStore.Remove(ctx, path)
}

func TestConfirm_RetryAfterPartialFinalize(t *testing.T) {
	mem := store.NewMemoryStore()
	failing := &failingRemoves{MemoryStore: mem}
	h := newHarnessWithStore(t, failing)
	ctx := context.Background()

	evA, evB := testutil.SeedPair(t, h.store, event.TypeBooking, "X", testDay, "alice", "bob", "alice")
	failing.path = store.EventPath("alice", evA.ID)

	_, err := h.confirmations.Confirm(ctx, "alice", evA.ID)
	require.NoError(t, err)

	failing.armed.Store(true)
	_, err = h.confirmations.Confirm(ctx, "bob", evB.ID)
	require.ErrorIs(t, err, ErrStoreUnavailable)

	// counters were applied before the failed deletion
	assert.Equal(t, 1, h.counters(t, "alice").MealsCount)
	assert.True(t, testutil.Exists(t, h.store, store.EventPath("bob", evB.ID)))

	failing.armed.Store(false)
	result, err := h.confirmations.Confirm(ctx, "bob", evB.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRemoved, result.State)

	assertPairFinalized(t, h, evA, evB)
	assert.Equal(t, 1, h.notifier.count("alice", notification.TypeMealCompleted))
}

func TestConfirm_RetryNextDayAfterAnotherPairFinalized(t *testing.T) {
	mem := store.NewMemoryStore()
	failing := &failingRemoves{MemoryStore: mem}
	h := newHarnessWithStore(t, failing)
	ctx := context.Background()

	xA, xB := testutil.SeedPair(t, h.store, event.TypeBooking, "X", testDay, "alice", "bob", "alice")
	yA, yB := testutil.SeedPair(t, h.store, event.TypeBooking, "Y", testDay, "alice", "bob", "alice")
	failing.path = store.EventPath("alice", xA.ID)

	_, err := h.confirmations.Confirm(ctx, "alice", xA.ID)
	require.NoError(t, err)
	failing.armed.Store(true)
	_, err = h.confirmations.Confirm(ctx, "bob", xB.ID)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, 1, h.streakCount(t, "alice", "bob"))

	_, err = h.confirmations.Confirm(ctx, "alice", yA.ID)
	require.NoError(t, err)
	_, err = h.confirmations.Confirm(ctx, "bob", yB.ID)
	require.NoError(t, err)
	assert.False(t, testutil.Exists(t, h.store, store.EventPath("alice", yA.ID)))
	assert.False(t, testutil.Exists(t, h.store, store.EventPath("bob", yB.ID)))
	assert.Equal(t, 1, h.streakCount(t, "alice", "bob"))

	failing.armed.Store(false)
	h.clock.Advance(24 * time.Hour)
	_, err = h.confirmations.Confirm(ctx, "bob", xB.ID)
	require.NoError(t, err)

	assert.False(t, testutil.Exists(t, h.store, store.EventPath("alice", xA.ID)))
	assert.False(t, testutil.Exists(t, h.store, store.EventPath("bob", xB.ID)))
	assert.Equal(t, 1, h.streakCount(t, "alice", "bob"))
	assert.Equal(t, 1, h.streakCount(t, "bob", "alice"))
	assert.Equal(t, 2, h.counters(t, "alice").MealsCount)
	assert.Equal(t, 2, h.counters(t, "bob").MealsCount)
}

func TestDecline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	evA, evB := testutil.SeedPair(t, h.store, event.TypeBooking, "X", testDay, "alice", "bob", "alice")

	_, err := h.confirmations.Confirm(ctx, "alice", evA.ID)
	require.NoError(t, err)

	require.NoError(t, h.confirmations.Decline(ctx, "bob", evB.ID))

	assert.False(t, testutil.Exists(t, h.store, store.EventPath("alice", evA.ID)))
	assert.False(t, testutil.Exists(t, h.store, store.EventPath("bob", evB.ID)))
	assert.Equal(t, 1, h.notifier.count("alice", notification.TypeEventDeclined))
	assert.Equal(t, 0, h.counters(t, "alice").MealsCount)

	err = h.confirmations.Decline(ctx, "bob", evB.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecline_MutualPairIsRejected(t *testing.T) {
	h := newHarness(t)
	evA, evB := testutil.SeedPair(t, h.store, event.TypeBooking, "X", testDay, "alice", "bob", "alice")
	evA.ConfirmedByUser = true
	evB.ConfirmedByUser = true
	testutil.SeedEvent(t, h.store, evA)
	testutil.SeedEvent(t, h.store, evB)

	err := h.confirmations.Decline(context.Background(), "alice", evA.ID)
	assert.ErrorIs(t, err, ErrAlreadyConfirmed)
	assert.True(t, testutil.Exists(t, h.store, store.EventPath("bob", evB.ID)))
}

func TestReconcile_UnconfirmedOwnerOnlyReports(t *testing.T) {
	h := newHarness(t)
	evA, evB := testutil.SeedPair(t, h.store, event.TypeTakeaway, "T", testDay, "alice", "bob", "alice")

	result, err := h.confirmations.Reconcile(context.Background(), evA)
	require.NoError(t, err)
	assert.Equal(t, StateUnconfirmed, result.State)

	evB.ConfirmedByUser = true
	testutil.SeedEvent(t, h.store, evB)
	result, err = h.confirmations.Reconcile(context.Background(), evA)
	require.NoError(t, err)
	assert.Equal(t, StateOneSided, result.State)
	assert.False(t, result.AwaitingPartner)
}
