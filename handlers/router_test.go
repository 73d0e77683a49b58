package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"makanMatesAPI/internal/event"
	"makanMatesAPI/internal/store"
	"makanMatesAPI/internal/testutil"
	"makanMatesAPI/middleware"
	"makanMatesAPI/services"
)

const testDay = "2025-03-10"

type testServer struct {
	router http.Handler
	store  store.Store
}

func newTestServer(t *testing.T, st store.Store) *testServer {
	t.Helper()
	_, cal := testutil.NewCalendar(t, "2025-03-10T04:00:00Z")

	notifications := services.NewNotificationService(st, cal, services.LogPushProvider{}, 1)
	t.Cleanup(notifications.Stop)

	events := services.NewEventService(st, cal)
	progression := services.NewProgressionService(st, cal, services.DefaultStreakDecayDays, services.DefaultFinalizedRetainDays)
	confirmations := services.NewConfirmationService(events, progression, notifications)
	watcher := services.NewEventWatcher(st, confirmations)
	t.Cleanup(watcher.Stop)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	router := NewRouter(Dependencies{
		Store:         st,
		Calendar:      cal,
		Events:        events,
		Confirmations: confirmations,
		Progression:   progression,
		Achievements:  services.NewAchievementService(progression, nil),
		Requests:      services.NewRequestService(st, cal, events, notifications),
		Notifications: notifications,
		Watcher:       watcher,
		Auth:          middleware.DevAuthMiddleware,
		RateLimiter:   middleware.NewRateLimiter(1000, 1000),
		Gatherer:      reg,
		MetricsUser:   "admin",
		MetricsPass:   "secret",
	})
	return &testServer{router: router, store: st}
}

func (s *testServer) do(t *testing.T, method, path, uid string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if uid != "" {
		req.Header.Set(middleware.DevUserHeader, uid)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), rr.Body.String())
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, store.NewMemoryStore())

	rr := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "healthy")
}

func TestMetrics_RequiresBasicAuth(t *testing.T) {
	s := newTestServer(t, store.NewMemoryStore())

	rr := s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("admin", "secret")
	rr = httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestAPI_RequiresUser(t *testing.T) {
	s := newTestServer(t, store.NewMemoryStore())

	rr := s.do(t, http.MethodGet, "/api/v1/events/today", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestConfirmFlow(t *testing.T) {
	s := newTestServer(t, store.NewMemoryStore())
	evA, evB := testutil.SeedPair(t, s.store, event.TypeBooking, "X", testDay, "alice", "bob", "alice")

	rr := s.do(t, http.MethodGet, "/api/v1/events/today", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var today struct {
		Day    string         `json:"day"`
		Events []*event.Event `json:"events"`
	}
	decodeBody(t, rr, &today)
	assert.Equal(t, testDay, today.Day)
	require.Len(t, today.Events, 1)
	assert.Equal(t, evA.ID, today.Events[0].ID)

	rr = s.do(t, http.MethodPost, "/api/v1/events/"+evA.ID+"/confirm", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var result services.ConfirmResult
	decodeBody(t, rr, &result)
	assert.Equal(t, services.StateOneSided, result.State)
	assert.True(t, result.AwaitingPartner)

	rr = s.do(t, http.MethodPost, "/api/v1/events/"+evB.ID+"/confirm", "bob", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeBody(t, rr, &result)
	assert.Equal(t, services.StateRemoved, result.State)

	rr = s.do(t, http.MethodGet, "/api/v1/counters", "bob", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var counters map[string]int
	decodeBody(t, rr, &counters)
	assert.Equal(t, 1, counters["mealsCount"])

	rr = s.do(t, http.MethodGet, "/api/v1/streaks/alice", "bob", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"count":1`)

	rr = s.do(t, http.MethodGet, "/api/v1/achievements", "bob", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/v1/events/"+evA.ID+"/confirm", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDecline_MutualConflict(t *testing.T) {
	s := newTestServer(t, store.NewMemoryStore())
	evA, evB := testutil.SeedPair(t, s.store, event.TypeTakeaway, "T", testDay, "alice", "bob", "alice")
	evA.ConfirmedByUser, evB.ConfirmedByUser = true, true
	testutil.SeedEvent(t, s.store, evA)
	testutil.SeedEvent(t, s.store, evB)

	rr := s.do(t, http.MethodPost, "/api/v1/events/"+evA.ID+"/decline", "alice", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestConfirm_InconsistentMirror(t *testing.T) {
	s := newTestServer(t, store.NewMemoryStore())
	evA, evB := testutil.SeedPair(t, s.store, event.TypeBooking, "X", testDay, "alice", "bob", "alice")
	evB.Day = "2025-03-11"
	testutil.SeedEvent(t, s.store, evB)

	rr := s.do(t, http.MethodPost, "/api/v1/events/"+evA.ID+"/confirm", "alice", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestExportToday(t *testing.T) {
	s := newTestServer(t, store.NewMemoryStore())
	testutil.SeedPair(t, s.store, event.TypeBooking, "X", testDay, "alice", "bob", "alice")

	rr := s.do(t, http.MethodGet, "/api/v1/events/today.ics", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/calendar"))
	assert.Contains(t, rr.Body.String(), "BEGIN:VEVENT")
	assert.Contains(t, rr.Body.String(), "Booking with bob")
}

func TestRequestFlow(t *testing.T) {
	s := newTestServer(t, store.NewMemoryStore())

	rr := s.do(t, http.MethodPost, "/api/v1/requests", "alice", map[string]any{
		"kind":          "takeaway",
		"senderName":    "Alice",
		"recipientUid":  "bob",
		"recipientName": "Bob",
		"day":           testDay,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created map[string]any
	decodeBody(t, rr, &created)
	requestID, _ := created["id"].(string)
	require.NotEmpty(t, requestID)
	assert.Equal(t, "alice", created["senderUid"])

	rr = s.do(t, http.MethodGet, "/api/v1/requests/takeaway", "bob", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), requestID)

	rr = s.do(t, http.MethodPost, "/api/v1/requests/takeaway/"+requestID+"/accept", "bob", nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var pair services.EventPair
	decodeBody(t, rr, &pair)
	assert.Equal(t, requestID, pair.SharedEventID)

	rr = s.do(t, http.MethodPost, "/api/v1/requests/takeaway/"+requestID+"/decline", "bob", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRequestCreate_Invalid(t *testing.T) {
	s := newTestServer(t, store.NewMemoryStore())

	rr := s.do(t, http.MethodPost, "/api/v1/requests", "alice", map[string]any{
		"kind":         "booking",
		"recipientUid": "bob",
		"day":          testDay,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodGet, "/api/v1/requests/brunch", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStreak_NotFound(t *testing.T) {
	s := newTestServer(t, store.NewMemoryStore())

	rr := s.do(t, http.MethodGet, "/api/v1/streaks/nobody", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAddFriend(t *testing.T) {
	s := newTestServer(t, store.NewMemoryStore())

	rr := s.do(t, http.MethodPost, "/api/v1/friends/bob", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = s.do(t, http.MethodPost, "/api/v1/friends/alice", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodGet, "/api/v1/counters", "bob", nil)
	var counters map[string]int
	decodeBody(t, rr, &counters)
	assert.Equal(t, 1, counters["friendsCount"])
}

func TestRegisterDevice(t *testing.T) {
	s := newTestServer(t, store.NewMemoryStore())

	rr := s.do(t, http.MethodPost, "/api/v1/devices", "alice", map[string]string{"token": "tok", "platform": "web"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/v1/devices", "alice", map[string]string{"token": "tok"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// unavailableStore fails every read as a transient outage.
type unavailableStore struct {
	*store.MemoryStore
}

func (unavailableStore) Get(context.Context, string) (json.RawMessage, error) {
	return nil, store.ErrUnavailable
}

func (unavailableStore) Keys(context.Context, string) ([]string, error) {
	return nil, store.ErrUnavailable
}

func TestStoreOutageIsRetryable(t *testing.T) {
	s := newTestServer(t, unavailableStore{store.NewMemoryStore()})

	rr := s.do(t, http.MethodPost, "/api/v1/events/e1/confirm", "alice", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), `"retryable":true`)

	rr = s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

// noScanStore fails collection scans and counts them.
type noScanStore struct {
	*store.MemoryStore
	scans atomic.Int32
}

func (n *noScanStore) Keys(context.Context, string) ([]string, error) {
	n.scans.Add(1)
	return nil, store.ErrUnavailable
}

func (n *noScanStore) List(context.Context, string) (map[string]json.RawMessage, error) {
	n.scans.Add(1)
	return nil, store.ErrUnavailable
}

func TestHealth_ReadsSingleLeaf(t *testing.T) {
	st := &noScanStore{MemoryStore: store.NewMemoryStore()}
	s := newTestServer(t, st)

	rr := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"healthy"`)
	assert.Zero(t, st.scans.Load())
}
