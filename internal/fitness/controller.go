package fitness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vitalboard/backend/internal/credentials"
	"github.com/vitalboard/backend/internal/gateway"
	"go.uber.org/zap"
)

// State is the per-user connection state of the fitness integration.
type State string

const (
	StateDisconnected State = "disconnected"
	StateAuthorizing  State = "authorizing"
	StateAuthorized   State = "authorized"
	StateRefreshing   State = "refreshing"
)

const authorizationScope = "activity heartrate sleep profile"

var (
	// ErrNotConfigured indicates the provider client id or redirect URI is absent.
	ErrNotConfigured = errors.New("fitness: credentials not configured")
	// ErrInvalidOAuthState indicates the callback state did not match the stored nonce.
	ErrInvalidOAuthState = errors.New("fitness: invalid OAuth state")
	// ErrNoAccessToken indicates a fetch was attempted with no stored credential.
	ErrNoAccessToken = errors.New("fitness: no access token available")
	// ErrNoRefreshToken indicates a refresh was attempted with no stored refresh token.
	ErrNoRefreshToken = errors.New("fitness: no refresh token available")
)

// ProviderAPI is the relay surface the controller consumes.
type ProviderAPI interface {
	Activities(ctx context.Context, accessToken, date string) (json.RawMessage, error)
	Sleep(ctx context.Context, accessToken, date string) (json.RawMessage, error)
	Heart(ctx context.Context, accessToken, date string) (json.RawMessage, error)
	ExchangeCode(ctx context.Context, code, redirectURI string) (gateway.TokenPayload, error)
	RefreshToken(ctx context.Context, refreshToken string) (gateway.TokenPayload, error)
}

// ControllerConfig describes the dependencies of the fitness integration.
type ControllerConfig struct {
	ClientID     string
	RedirectURI  string
	AuthorizeURL string
	API          ProviderAPI
	Credentials  credentials.Store
	Logger       *zap.Logger
	Clock        func() time.Time
	Nonce        func() string
}

// Controller orchestrates the authorization-code flow for the fitness
// provider, persists and refreshes credentials, and normalizes daily
// activity, sleep and heart-rate summaries.
type Controller struct {
	clientID     string
	redirectURI  string
	authorizeURL string
	api          ProviderAPI
	store        credentials.Store
	logger       *zap.Logger
	clock        func() time.Time
	nonce        func() string

	mu       sync.Mutex
	sessions map[string]*userSession
}

type userSession struct {
	state    State
	snapshot Snapshot
	lastErr  string
}

// NewController constructs the controller. Provider client id and redirect
// URI may be empty: Authenticate fails descriptively instead.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.API == nil {
		return nil, fmt.Errorf("fitness: provider api required")
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("fitness: credential store required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	nonce := cfg.Nonce
	if nonce == nil {
		nonce = func() string { return uuid.NewString() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		clientID:     strings.TrimSpace(cfg.ClientID),
		redirectURI:  strings.TrimSpace(cfg.RedirectURI),
		authorizeURL: strings.TrimSpace(cfg.AuthorizeURL),
		api:          cfg.API,
		store:        cfg.Credentials,
		logger:       logger,
		clock:        clock,
		nonce:        nonce,
		sessions:     make(map[string]*userSession),
	}, nil
}

// Initialize restores the connection state from stored credentials. A valid
// record starts the user authorized and triggers an immediate fetch; an
// expired record is discarded without a refresh attempt.
func (c *Controller) Initialize(ctx context.Context, userID string) State {
	record, err := c.store.Get(ctx, userID, credentials.ProviderFitbit)
	if err != nil {
		c.setState(userID, StateDisconnected)
		return StateDisconnected
	}
	if !record.Valid(c.clock()) {
		if err := c.store.Clear(ctx, userID, credentials.ProviderFitbit); err != nil {
			c.logger.Warn("failed to discard expired credential", zap.String("user_id", userID), zap.Error(err))
		}
		c.setState(userID, StateDisconnected)
		return StateDisconnected
	}

	c.setState(userID, StateAuthorized)
	if _, err := c.FetchData(ctx, userID, record.AccessToken); err != nil {
		c.logger.Warn("initial fitness fetch failed", zap.String("user_id", userID), zap.Error(err))
	}
	return StateAuthorized
}

// Resume restores connection state the first time a user is seen after
// process start. Once an in-memory session exists the current state is
// returned without touching the store or the provider.
func (c *Controller) Resume(ctx context.Context, userID string) State {
	c.mu.Lock()
	if session, ok := c.sessions[userID]; ok {
		state := session.state
		c.mu.Unlock()
		return state
	}
	c.mu.Unlock()
	return c.Initialize(ctx, userID)
}

// Authenticate begins the authorization-code flow and returns the provider
// authorization URL the browser should be redirected to.
func (c *Controller) Authenticate(ctx context.Context, userID string) (string, error) {
	if c.clientID == "" || c.redirectURI == "" {
		c.recordError(userID, StateDisconnected, ErrNotConfigured)
		return "", ErrNotConfigured
	}

	nonce := c.nonce()
	err := c.store.PutState(ctx, credentials.TransactionState{
		UserID:      userID,
		Provider:    credentials.ProviderFitbit,
		Nonce:       nonce,
		CreatedAtMs: c.clock().UnixMilli(),
	})
	if err != nil {
		c.recordError(userID, StateDisconnected, err)
		return "", err
	}

	query := url.Values{}
	query.Set("client_id", c.clientID)
	query.Set("response_type", "code")
	query.Set("scope", authorizationScope)
	query.Set("redirect_uri", c.redirectURI)
	query.Set("state", nonce)

	c.setState(userID, StateAuthorizing)
	return c.authorizeURL + "?" + query.Encode(), nil
}

// HandleCallback validates the round-tripped state and redeems the
// authorization code. The stored nonce is consumed either way; a mismatch
// invalidates the whole transaction and no exchange is attempted.
func (c *Controller) HandleCallback(ctx context.Context, userID, code, state string) error {
	storedNonce, err := c.store.ConsumeState(ctx, userID, credentials.ProviderFitbit)
	if err != nil || storedNonce != state {
		c.recordError(userID, StateDisconnected, ErrInvalidOAuthState)
		return ErrInvalidOAuthState
	}

	token, err := c.api.ExchangeCode(ctx, code, c.redirectURI)
	if err != nil {
		c.recordError(userID, StateDisconnected, err)
		return fmt.Errorf("fitness: token exchange failed: %w", err)
	}

	record := credentials.NewRecord(userID, credentials.ProviderFitbit, token.AccessToken, token.RefreshToken, token.ExpiresIn, c.clock())
	if err := c.store.Put(ctx, record); err != nil {
		c.recordError(userID, StateDisconnected, err)
		return err
	}

	c.setState(userID, StateAuthorized)
	if _, err := c.FetchData(ctx, userID, token.AccessToken); err != nil {
		c.logger.Warn("post-callback fitness fetch failed", zap.String("user_id", userID), zap.Error(err))
	}
	return nil
}

// FetchData issues the three daily reads concurrently for the current local
// date and assembles the snapshot. An activity failure is fatal to the call
// and leaves the stored snapshot untouched; sleep and heart-rate failures
// degrade to absent sections.
func (c *Controller) FetchData(ctx context.Context, userID, accessToken string) (Snapshot, error) {
	token := accessToken
	if token == "" {
		record, err := c.store.Get(ctx, userID, credentials.ProviderFitbit)
		if err != nil || record.AccessToken == "" {
			c.recordError(userID, StateDisconnected, ErrNoAccessToken)
			return Snapshot{}, ErrNoAccessToken
		}
		token = record.AccessToken
	}

	date := c.clock().Format("2006-01-02")

	var (
		wg                              sync.WaitGroup
		activityRaw, sleepRaw, heartRaw json.RawMessage
		activityErr, sleepErr, heartErr error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		activityRaw, activityErr = c.api.Activities(ctx, token, date)
	}()
	go func() {
		defer wg.Done()
		sleepRaw, sleepErr = c.api.Sleep(ctx, token, date)
	}()
	go func() {
		defer wg.Done()
		heartRaw, heartErr = c.api.Heart(ctx, token, date)
	}()
	wg.Wait()

	if activityErr != nil {
		err := fmt.Errorf("fitness: activity fetch failed: %w", activityErr)
		c.recordErrorKeepState(userID, err)
		return Snapshot{}, err
	}

	activity, err := parseActivity(activityRaw)
	if err != nil {
		err = fmt.Errorf("fitness: activity document malformed: %w", err)
		c.recordErrorKeepState(userID, err)
		return Snapshot{}, err
	}

	snapshot := Snapshot{
		Activity: activity,
		LastSync: c.clock(),
	}
	if sleepErr == nil {
		snapshot.Sleep = parseSleep(sleepRaw)
	} else {
		c.logger.Debug("sleep fetch degraded", zap.String("user_id", userID), zap.Error(sleepErr))
	}
	if heartErr == nil {
		snapshot.HeartRate = parseHeart(heartRaw)
	} else {
		c.logger.Debug("heart fetch degraded", zap.String("user_id", userID), zap.Error(heartErr))
	}

	c.storeSnapshot(userID, snapshot)
	return snapshot, nil
}

// Refresh exchanges the stored refresh token for a new credential and
// refetches data. On failure all stored credentials for this integration
// are cleared rather than retrying indefinitely.
func (c *Controller) Refresh(ctx context.Context, userID string) error {
	record, err := c.store.Get(ctx, userID, credentials.ProviderFitbit)
	if err != nil || record.RefreshToken == "" {
		c.recordError(userID, StateDisconnected, ErrNoRefreshToken)
		return ErrNoRefreshToken
	}

	c.setState(userID, StateRefreshing)
	token, err := c.api.RefreshToken(ctx, record.RefreshToken)
	if err != nil {
		c.logger.Warn("token refresh failed, disconnecting", zap.String("user_id", userID), zap.Error(err))
		if signOutErr := c.SignOut(ctx, userID); signOutErr != nil {
			c.logger.Warn("sign-out after failed refresh errored", zap.String("user_id", userID), zap.Error(signOutErr))
		}
		return fmt.Errorf("fitness: token refresh failed: %w", err)
	}

	refreshed := credentials.NewRecord(userID, credentials.ProviderFitbit, token.AccessToken, token.RefreshToken, token.ExpiresIn, c.clock())
	if err := c.store.Put(ctx, refreshed); err != nil {
		c.recordError(userID, StateDisconnected, err)
		return err
	}

	c.setState(userID, StateAuthorized)
	if _, err := c.FetchData(ctx, userID, token.AccessToken); err != nil {
		c.logger.Warn("post-refresh fitness fetch failed", zap.String("user_id", userID), zap.Error(err))
	}
	return nil
}

// SignOut clears stored credentials and resets the user to disconnected
// with empty data, regardless of current state.
func (c *Controller) SignOut(ctx context.Context, userID string) error {
	if err := c.store.Clear(ctx, userID, credentials.ProviderFitbit); err != nil {
		return err
	}
	if err := c.store.ClearState(ctx, userID, credentials.ProviderFitbit); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[userID] = &userSession{state: StateDisconnected}
	return nil
}

// Status returns the current state and last recorded error for the user.
func (c *Controller) Status(userID string) (State, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session, ok := c.sessions[userID]
	if !ok {
		return StateDisconnected, ""
	}
	return session.state, session.lastErr
}

// Snapshot returns the last stored snapshot for the user.
func (c *Controller) Snapshot(userID string) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session, ok := c.sessions[userID]
	if !ok || session.snapshot.LastSync.IsZero() {
		return Snapshot{}, false
	}
	return session.snapshot, true
}

func (c *Controller) session(userID string) *userSession {
	session, ok := c.sessions[userID]
	if !ok {
		session = &userSession{state: StateDisconnected}
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
	session := c.session(userID)
	session.lastErr = err.Error()
}

func (c *Controller) storeSnapshot(userID string, snapshot Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session := c.session(userID)
	session.snapshot = snapshot
	session.lastErr = ""
}
