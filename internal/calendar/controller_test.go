package calendar

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vitalboard/backend/internal/credentials"
)

type fakeEventsAPI struct {
	events    []Event
	listErr   error
	calls     int
	lastToken string
	lastQuery ListQuery
}

func (f *fakeEventsAPI) List(_ context.Context, accessToken string, query ListQuery) ([]Event, error) {
	f.calls++
	f.lastToken = accessToken
	f.lastQuery = query
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.events, nil
}

type fakeTokenClient struct {
	revoked   []string
	revokeErr error
}

func (f *fakeTokenClient) Revoke(_ context.Context, accessToken string) error {
	f.revoked = append(f.revoked, accessToken)
	return f.revokeErr
}

type calendarFixture struct {
	controller *Controller
	events     *fakeEventsAPI
	tokens     *fakeTokenClient
	store      *credentials.MemoryStore
	now        time.Time
}

func newCalendarFixture(t *testing.T) *calendarFixture {
	t.Helper()
	fixture := &calendarFixture{
		events: &fakeEventsAPI{},
		tokens: &fakeTokenClient{},
		store:  credentials.NewMemoryStore(),
		now:    time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC),
	}
	controller, err := NewController(ControllerConfig{
		Events:      fixture.events,
		Tokens:      fixture.tokens,
		Credentials: fixture.store,
		Clock:       func() time.Time { return fixture.now },
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	fixture.controller = controller
	return fixture
}

func TestConnectBeforeInitializeFails(t *testing.T) {
	fixture := newCalendarFixture(t)

	err := fixture.controller.Connect(context.Background(), "user-1", "token", 3600)
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if state, _ := fixture.controller.Status("user-1"); state != StateUninitialized {
		t.Fatalf("expected uninitialized state, got %s", state)
	}
	if fixture.events.calls != 0 {
		t.Fatalf("expected no provider calls, got %d", fixture.events.calls)
	}
}

func TestInitializeRequiresClients(t *testing.T) {
	controller, err := NewController(ControllerConfig{Credentials: credentials.NewMemoryStore()})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	if err := controller.Initialize(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	fixture := newCalendarFixture(t)

	if err := fixture.controller.Initialize(); err != nil {
		t.Fatalf("first Initialize: %v", err)
	}
	if err := fixture.controller.Initialize(); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
}

func TestConnectStoresCredentialAndFetchesEvents(t *testing.T) {
	fixture := newCalendarFixture(t)
	fixture.events.events = []Event{{ID: "evt-1", Summary: "Standup"}}
	if err := fixture.controller.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if err := fixture.controller.Connect(context.Background(), "user-1", "granted-token", 3600); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	record, err := fixture.store.Get(context.Background(), "user-1", credentials.ProviderGoogleCalendar)
	if err != nil {
		t.Fatalf("expected stored credential: %v", err)
	}
	if record.AccessToken != "granted-token" {
		t.Fatalf("unexpected access token %q", record.AccessToken)
	}
	wantExpiry := fixture.now.UnixMilli() + 3600*1000
	if record.ExpiresAtMs != wantExpiry {
		t.Fatalf("expected expiry %d, got %d", wantExpiry, record.ExpiresAtMs)
	}

	if state, _ := fixture.controller.Status("user-1"); state != StateAuthorized {
		t.Fatalf("expected authorized state, got %s", state)
	}
	if fixture.events.lastToken != "granted-token" {
		t.Fatalf("provider called with token %q", fixture.events.lastToken)
	}
	events := fixture.controller.Events("user-1")
	if len(events) != 1 || events[0].Summary != "Standup" {
		t.Fatalf("unexpected cached events: %+v", events)
	}
}

func TestFetchEventsServesStoredCredentialAcrossRestart(t *testing.T) {
	fixture := newCalendarFixture(t)
	seed := credentials.NewRecord("user-1", credentials.ProviderGoogleCalendar, "granted-token", "", 3600, fixture.now)
	if err := fixture.store.Put(context.Background(), seed); err != nil {
		t.Fatalf("seed put failed: %v", err)
	}
	fixture.events.events = []Event{{ID: "evt-1", Summary: "Standup"}}

	// A fresh controller over the same store stands in for a restarted
	// process; only the host-side Initialize call precedes the fetch.
	if err := fixture.controller.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	events, err := fixture.controller.FetchEvents(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("FetchEvents: %v", err)
	}
	if len(events) != 1 || events[0].ID != "evt-1" {
		t.Fatalf("unexpected events %+v", events)
	}
	if fixture.events.lastToken != "granted-token" {
		t.Fatalf("expected stored token to be used, got %q", fixture.events.lastToken)
	}
}

func TestFetchEventsQueryWindow(t *testing.T) {
	fixture := newCalendarFixture(t)
	if err := fixture.controller.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := fixture.controller.Connect(context.Background(), "user-1", "granted-token", 3600); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	query := fixture.events.lastQuery
	if !query.TimeMin.Equal(fixture.now) {
		t.Fatalf("expected timeMin %v, got %v", fixture.now, query.TimeMin)
	}
	if !query.TimeMax.Equal(fixture.now.Add(7 * 24 * time.Hour)) {
		t.Fatalf("expected seven-day window, got %v", query.TimeMax)
	}
	if query.MaxResults != 20 {
		t.Fatalf("expected maxResults 20, got %d", query.MaxResults)
	}
	if !query.SingleEvents {
		t.Fatalf("expected singleEvents true")
	}
	if query.ShowDeleted {
		t.Fatalf("expected showDeleted false")
	}
	if query.OrderBy != "startTime" {
		t.Fatalf("expected orderBy startTime, got %q", query.OrderBy)
	}
}

func TestFetchEventsCapsAtTwentyAndPreservesOrder(t *testing.T) {
	fixture := newCalendarFixture(t)
	for i := 0; i < 25; i++ {
		fixture.events.events = append(fixture.events.events, Event{ID: fmt.Sprintf("evt-%d", i), Summary: fmt.Sprintf("Event %d", i)})
	}
	if err := fixture.controller.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := fixture.controller.Connect(context.Background(), "user-1", "granted-token", 3600); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	events := fixture.controller.Events("user-1")
	if len(events) != 20 {
		t.Fatalf("expected 20 events, got %d", len(events))
	}
	for i, event := range events {
		if event.ID != fmt.Sprintf("evt-%d", i) {
			t.Fatalf("event %d out of order: %q", i, event.ID)
		}
	}
}

func TestFetchEventsFillsMissingSummary(t *testing.T) {
	fixture := newCalendarFixture(t)
	fixture.events.events = []Event{{ID: "evt-1"}, {ID: "evt-2", Summary: "Lunch"}}
	if err := fixture.controller.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := fixture.controller.Connect(context.Background(), "user-1", "granted-token", 3600); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	events := fixture.controller.Events("user-1")
	if events[0].Summary != "No title" {
		t.Fatalf("expected default summary, got %q", events[0].Summary)
	}
	if events[1].Summary != "Lunch" {
		t.Fatalf("expected original summary preserved, got %q", events[1].Summary)
	}
}

func TestFetchEventsWithoutCredentialFails(t *testing.T) {
	fixture := newCalendarFixture(t)
	if err := fixture.controller.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if _, err := fixture.controller.FetchEvents(context.Background(), "user-1"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if fixture.events.calls != 0 {
		t.Fatalf("expected no provider calls, got %d", fixture.events.calls)
	}
}

func TestFetchEventsWithExpiredCredentialFails(t *testing.T) {
	fixture := newCalendarFixture(t)
	if err := fixture.controller.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := fixture.controller.Connect(context.Background(), "user-1", "granted-token", 3600); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	fixture.now = fixture.now.Add(2 * time.Hour)

	if _, err := fixture.controller.FetchEvents(context.Background(), "user-1"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestFetchEventsFailureKeepsCachedEvents(t *testing.T) {
	fixture := newCalendarFixture(t)
	fixture.events.events = []Event{{ID: "evt-1", Summary: "Standup"}}
	if err := fixture.controller.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := fixture.controller.Connect(context.Background(), "user-1", "granted-token", 3600); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	fixture.events.listErr = errors.New("provider unavailable")
	if _, err := fixture.controller.FetchEvents(context.Background(), "user-1"); err == nil {
		t.Fatalf("expected fetch failure")
	}

	if state, lastErr := fixture.controller.Status("user-1"); state != StateAuthorized || lastErr == "" {
		t.Fatalf("expected authorized state with recorded error, got %s / %q", state, lastErr)
	}
	if events := fixture.controller.Events("user-1"); len(events) != 1 {
		t.Fatalf("expected cached events preserved, got %+v", events)
	}
}

func TestRefreshEventsIsNoOpWhenNotAuthorized(t *testing.T) {
	fixture := newCalendarFixture(t)
	if err := fixture.controller.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if err := fixture.controller.RefreshEvents(context.Background(), "user-1"); err != nil {
		t.Fatalf("RefreshEvents: %v", err)
	}
	if fixture.events.calls != 0 {
		t.Fatalf("expected no provider calls, got %d", fixture.events.calls)
	}
}

func TestRefreshEventsRefetchesWhenAuthorized(t *testing.T) {
	fixture := newCalendarFixture(t)
	fixture.events.events = []Event{{ID: "evt-1", Summary: "Standup"}}
	if err := fixture.controller.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := fixture.controller.Connect(context.Background(), "user-1", "granted-token", 3600); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	fixture.events.events = []Event{{ID: "evt-2", Summary: "Review"}}
	if err := fixture.controller.RefreshEvents(context.Background(), "user-1"); err != nil {
		t.Fatalf("RefreshEvents: %v", err)
	}

	events := fixture.controller.Events("user-1")
	if len(events) != 1 || events[0].ID != "evt-2" {
		t.Fatalf("expected refreshed events, got %+v", events)
	}
}

func TestSignOutRevokesTokenAndResets(t *testing.T) {
	fixture := newCalendarFixture(t)
	fixture.events.events = []Event{{ID: "evt-1", Summary: "Standup"}}
	if err := fixture.controller.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := fixture.controller.Connect(context.Background(), "user-1", "granted-token", 3600); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := fixture.controller.SignOut(context.Background(), "user-1"); err != nil {
		t.Fatalf("SignOut: %v", err)
	}

	if len(fixture.tokens.revoked) != 1 || fixture.tokens.revoked[0] != "granted-token" {
		t.Fatalf("expected token revocation, got %+v", fixture.tokens.revoked)
	}
	if _, err := fixture.store.Get(context.Background(), "user-1", credentials.ProviderGoogleCalendar); !errors.Is(err, credentials.ErrNotFound) {
		t.Fatalf("expected credential cleared, got %v", err)
	}
	if state, _ := fixture.controller.Status("user-1"); state != StateReady {
		t.Fatalf("expected ready state, got %s", state)
	}
	if events := fixture.controller.Events("user-1"); len(events) != 0 {
		t.Fatalf("expected empty event cache, got %+v", events)
	}
}

func TestSignOutSucceedsWhenRevocationFails(t *testing.T) {
	fixture := newCalendarFixture(t)
	if err := fixture.controller.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := fixture.controller.Connect(context.Background(), "user-1", "granted-token", 3600); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	fixture.tokens.revokeErr = errors.New("revocation endpoint down")

	if err := fixture.controller.SignOut(context.Background(), "user-1"); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if _, err := fixture.store.Get(context.Background(), "user-1", credentials.ProviderGoogleCalendar); !errors.Is(err, credentials.ErrNotFound) {
		t.Fatalf("expected credential cleared, got %v", err)
	}
}
