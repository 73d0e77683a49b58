package services

import (
	"context"
	"sync"
	"testing"

	"makanMatesAPI/internal/clock"
	"makanMatesAPI/internal/notification"
	"makanMatesAPI/internal/store"
	"makanMatesAPI/internal/testutil"
	"makanMatesAPI/internal/user"
)

const (
	testNow = "2025-03-10T04:00:00Z" // 12:00 in Singapore
	testDay = "2025-03-10"
)

type sentNotification struct {
	UID  string
	Type notification.NotificationType
	Data map[string]any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Notify(_ context.Context, uid string, typ notification.NotificationType, data map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{UID: uid, Type: typ, Data: data})
}

func (n *recordingNotifier) count(uid string, typ notification.NotificationType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.UID == uid && s.Type == typ {
			c++
		}
	}
	return c
}

type harness struct {
	store         store.Store
	clock         *clock.Fake
	cal           *clock.Calendar
	notifier      *recordingNotifier
	events        *EventService
	progression   *ProgressionService
	confirmations *ConfirmationService
	requests      *RequestService
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithStore(t, store.NewMemoryStore())
}

func newHarnessWithStore(t *testing.T, st store.Store) *harness {
	t.Helper()
	fake, cal := testutil.NewCalendar(t, testNow)

	h := &harness{
		store:    st,
		clock:    fake,
		cal:      cal,
		notifier: &recordingNotifier{},
	}
	h.events = NewEventService(st, cal)
	h.progression = NewProgressionService(st, cal, DefaultStreakDecayDays, DefaultFinalizedRetainDays)
	h.confirmations = NewConfirmationService(h.events, h.progression, h.notifier)
	h.requests = NewRequestService(st, cal, h.events, h.notifier)
	return h
}

func (h *harness) counters(t *testing.T, uid string) user.Counters {
	t.Helper()
	c, err := h.progression.GetCounters(context.Background(), uid)
	if err != nil {
		t.Fatalf("GetCounters(%s): %v", uid, err)
	}
	return *c
}

func (h *harness) streakCount(t *testing.T, owner, friend string) int {
	t.Helper()
	st, err := h.progression.GetStreak(context.Background(), owner, friend)
	if err != nil {
		t.Fatalf("GetStreak(%s, %s): %v", owner, friend, err)
	}
	return st.Count
}
