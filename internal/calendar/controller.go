// Package calendar orchestrates the calendar provider integration. The
// browser obtains the access token through the provider's identity SDK and
// hands it to this controller; event reads and revocation happen server-side
// through narrow capability interfaces.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vitalboard/backend/internal/credentials"
	"go.uber.org/zap"
)

// State is the per-user connection state of the calendar integration.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateReady         State = "ready"
	StateAuthorizing   State = "authorizing"
	StateAuthorized    State = "authorized"
)

const (
	eventWindow      = 7 * 24 * time.Hour
	maxEventResults  = 20
	defaultSummary   = "No title"
	orderByStartTime = "startTime"
)

var (
	// ErrNotInitialized indicates an operation before Initialize succeeded.
	ErrNotInitialized = errors.New("calendar: client not initialized")
	// ErrNotConnected indicates no valid calendar credential is stored.
	ErrNotConnected = errors.New("calendar: not connected")
)

// EventsAPI is the provider read surface the controller consumes.
type EventsAPI interface {
	List(ctx context.Context, accessToken string, query ListQuery) ([]Event, error)
}

// TokenClient is the identity-SDK surface the controller consumes.
type TokenClient interface {
	Revoke(ctx context.Context, accessToken string) error
}

// ControllerConfig describes the dependencies of the calendar integration.
type ControllerConfig struct {
	Events      EventsAPI
	Tokens      TokenClient
	Credentials credentials.Store
	Logger      *zap.Logger
	Clock       func() time.Time
}

// Controller fetches and normalizes upcoming events for connected users.
type Controller struct {
	events EventsAPI
	tokens TokenClient
	store  credentials.Store
	logger *zap.Logger
	clock  func() time.Time

	mu          sync.Mutex
	initialized bool
	sessions    map[string]*userSession
}

type userSession struct {
	state   State
	events  []Event
	lastErr string
}

// NewController constructs the controller in the uninitialized state.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("calendar: credential store required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		events:   cfg.Events,
		tokens:   cfg.Tokens,
		store:    cfg.Credentials,
		logger:   logger,
		clock:    clock,
		sessions: make(map[string]*userSession),
	}, nil
}

// Initialize binds the provider clients exactly once. Calling it again is a
// no-op, mirroring the duplicate-load guard of the browser SDK bootstrap.
func (c *Controller) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}
	if c.events == nil || c.tokens == nil {
		return ErrNotInitialized
	}
	c.initialized = true
	return nil
}

// Connect stores the SDK-granted access token and triggers an event fetch.
func (c *Controller) Connect(ctx context.Context, userID, accessToken string, expiresInSeconds int64) error {
	if !c.isInitialized() {
		c.recordError(userID, StateUninitialized, ErrNotInitialized)
		return ErrNotInitialized
	}
	if accessToken == "" {
		err := fmt.Errorf("calendar: access token required")
		c.recordError(userID, StateReady, err)
		return err
	}

	record := credentials.NewRecord(userID, credentials.ProviderGoogleCalendar, accessToken, "", expiresInSeconds, c.clock())
	if err := c.store.Put(ctx, record); err != nil {
		c.recordError(userID, StateReady, err)
		return err
	}

	c.setState(userID, StateAuthorized)
	if _, err := c.FetchEvents(ctx, userID); err != nil {
		c.logger.Warn("post-connect event fetch failed", zap.String("user_id", userID), zap.Error(err))
	}
	return nil
}

// FetchEvents queries the next seven days of single-instance events,
// preserves provider ordering and caps the result at twenty entries.
func (c *Controller) FetchEvents(ctx context.Context, userID string) ([]Event, error) {
	if !c.isInitialized() {
		c.recordError(userID, StateUninitialized, ErrNotInitialized)
		return nil, ErrNotInitialized
	}

	record, err := c.store.Get(ctx, userID, credentials.ProviderGoogleCalendar)
	if err != nil || !record.Valid(c.clock()) {
		c.recordError(userID, StateReady, ErrNotConnected)
		return nil, ErrNotConnected
	}

	now := c.clock()
	events, err := c.events.List(ctx, record.AccessToken, ListQuery{
		TimeMin:      now,
		TimeMax:      now.Add(eventWindow),
		MaxResults:   maxEventResults,
		SingleEvents: true,
		ShowDeleted:  false,
		OrderBy:      orderByStartTime,
	})
	if err != nil {
		c.recordErrorKeepState(userID, err)
		return nil, fmt.Errorf("calendar: event fetch failed: %w", err)
	}

	if len(events) > maxEventResults {
		events = events[:maxEventResults]
	}
	for i := range events {
		if events[i].Summary == "" {
			events[i].Summary = defaultSummary
		}
	}

	c.storeEvents(userID, events)
	return events, nil
}

// RefreshEvents re-fetches events, or does nothing when the user is not
// connected.
func (c *Controller) RefreshEvents(ctx context.Context, userID string) error {
	if state, _ := c.Status(userID); state != StateAuthorized {
		return nil
	}
	_, err := c.FetchEvents(ctx, userID)
	return err
}

// SignOut revokes the stored access token when one is present and resets the
// user to an empty, unauthenticated state.
func (c *Controller) SignOut(ctx context.Context, userID string) error {
	record, err := c.store.Get(ctx, userID, credentials.ProviderGoogleCalendar)
	if err == nil && record.AccessToken != "" && c.tokens != nil {
		if revokeErr := c.tokens.Revoke(ctx, record.AccessToken); revokeErr != nil {
			c.logger.Warn("token revocation failed", zap.String("user_id", userID), zap.Error(revokeErr))
		}
	}
	if err := c.store.Clear(ctx, userID, credentials.ProviderGoogleCalendar); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	state := StateUninitialized
	if c.initialized {
		state = StateReady
	}
	c.sessions[userID] = &userSession{state: state}
	return nil
}

// Status returns the current state and last recorded error for the user.
func (c *Controller) Status(userID string) (State, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session, ok := c.sessions[userID]
	if !ok {
		if c.initialized {
			return StateReady, ""
		}
		return StateUninitialized, ""
	}
	return session.state, session.lastErr
}

// Events returns the last fetched event list for the user.
func (c *Controller) Events(userID string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	session, ok := c.sessions[userID]
	if !ok {
		return nil
	}
	return session.events
}

func (c *Controller) isInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

func (c *Controller) session(userID string) *userSession {
	session, ok := c.sessions[userID]
	if !ok {
		session = &userSession{state: StateReady}
		c.sessions[userID] = session
	}
	return session
}

func (c *Controller) setState(userID string, state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session := c.session(userID)
	session.state = state
	session.lastErr = ""
}

func (c *Controller) recordError(userID string, state State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session := c.session(userID)
	session.state = state
	session.lastErr = err.Error()
}

func (c *Controller) recordErrorKeepState(userID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session(userID).lastErr = err.Error()
}

func (c *Controller) storeEvents(userID string, events []Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session := c.session(userID)
	session.state = StateAuthorized
	session.events = events
	session.lastErr = ""
}
