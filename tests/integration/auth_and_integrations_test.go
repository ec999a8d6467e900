package integration_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/vitalboard/backend/internal/auth"
	"github.com/vitalboard/backend/internal/calendar"
	"github.com/vitalboard/backend/internal/credentials"
	"github.com/vitalboard/backend/internal/fitness"
	"github.com/vitalboard/backend/internal/gateway"
	"github.com/vitalboard/backend/internal/identity"
	"github.com/vitalboard/backend/internal/retry"
	"github.com/vitalboard/backend/internal/server"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sessionSigningSecret = "integration-secret"
	sessionCookieName    = "vitalboard_session"
	jsonContentType      = "application/json"

	fitbitClientID     = "fitbit-client"
	fitbitClientSecret = "fitbit-secret"

	activityPayload = `{"summary":{"steps":8421,"distances":[{"distance":6.2}],"caloriesOut":2310,"sedentaryMinutes":600,"lightlyActiveMinutes":180,"fairlyActiveMinutes":45,"veryActiveMinutes":30}}`
	sleepPayload    = `{"summary":{"totalSleepRecords":1,"totalMinutesAsleep":412,"totalTimeInBed":450,"efficiency":91}}`
	heartPayload    = `{"activities-heart":[{"value":{"restingHeartRate":58,"heartRateZones":[]}}]}`
)

// newFitbitUpstream fakes the provider API behind the relay: the token
// endpoint and the three daily read endpoints.
func newFitbitUpstream(testContext *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/oauth2/token":
			username, password, ok := r.BasicAuth()
			if !ok || username != fitbitClientID || password != fitbitClientSecret {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if err := r.ParseForm(); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", jsonContentType)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "provider-access",
				"refresh_token": "provider-refresh",
				"expires_in":    28800,
				"token_type":    "Bearer",
			})
		case strings.Contains(r.URL.Path, "/sleep/"):
			_, _ = w.Write([]byte(sleepPayload))
		case strings.Contains(r.URL.Path, "/heart/"):
			_, _ = w.Write([]byte(heartPayload))
		case strings.Contains(r.URL.Path, "/activities/"):
			_, _ = w.Write([]byte(activityPayload))
		default:
			testContext.Errorf("unexpected upstream path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

// newIdentityUpstream fakes a GoTrue-compatible backend. Signup writes the
// profile row directly, standing in for the backend's provisioning hook.
func newIdentityUpstream(testContext *testing.T, profiles *identity.GormProfileStore) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/signup":
			var request struct {
				Email    string `json:"email"`
				Password string `json:"password"`
				Data     struct {
					Username  string `json:"username"`
					FirstName string `json:"first_name"`
					LastName  string `json:"last_name"`
				} `json:"data"`
			}
			if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			createErr := profiles.Create(r.Context(), identity.Profile{
				ID:        "user-integration",
				Username:  request.Data.Username,
				FirstName: request.Data.FirstName,
				LastName:  request.Data.LastName,
				Email:     request.Email,
			})
			if createErr != nil {
				testContext.Errorf("profile provisioning failed: %v", createErr)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "user-integration", "email": request.Email})
		case "/token":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "backend-token",
				"user":         map[string]any{"id": "user-integration", "email": "ada@example.com"},
			})
		case "/logout":
			w.WriteHeader(http.StatusNoContent)
		default:
			testContext.Errorf("unexpected identity path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newCalendarUpstream() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"id": "evt-1", "start": map[string]any{"dateTime": "2026-03-01T10:00:00Z"}},
				{"id": "evt-2", "summary": "Lunch", "start": map[string]any{"dateTime": "2026-03-01T12:00:00Z"}},
			},
		})
	}))
}

func TestAuthAndIntegrationsFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:integration?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&credentials.Record{}, &credentials.TransactionState{}, &identity.Profile{}); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	credentialStore, err := credentials.NewGormStore(db)
	if err != nil {
		testContext.Fatalf("failed to build credential store: %v", err)
	}
	profileStore, err := identity.NewGormProfileStore(db)
	if err != nil {
		testContext.Fatalf("failed to build profile store: %v", err)
	}

	fitbitUpstream := newFitbitUpstream(testContext)
	defer fitbitUpstream.Close()
	identityUpstream := newIdentityUpstream(testContext, profileStore)
	defer identityUpstream.Close()
	calendarUpstream := newCalendarUpstream()
	defer calendarUpstream.Close()

	relay, err := gateway.New(gateway.Config{
		UpstreamBaseURL: fitbitUpstream.URL,
		ClientID:        fitbitClientID,
		ClientSecret:    fitbitClientSecret,
	})
	if err != nil {
		testContext.Fatalf("failed to build gateway: %v", err)
	}

	// The fitness controller reaches the provider through the relay, the
	// same way the browser does.
	relayRouter := gin.New()
	relay.Register(relayRouter)
	relayServer := httptest.NewServer(relayRouter)
	defer relayServer.Close()

	relayClient, err := gateway.NewClient(relayServer.URL, nil)
	if err != nil {
		testContext.Fatalf("failed to build relay client: %v", err)
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte(sessionSigningSecret)})
	if err != nil {
		testContext.Fatalf("failed to build token issuer: %v", err)
	}
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(sessionSigningSecret),
		CookieName:    sessionCookieName,
	})
	if err != nil {
		testContext.Fatalf("failed to build session validator: %v", err)
	}

	identityBackend, err := identity.NewHTTPBackend(identity.HTTPBackendConfig{BaseURL: identityUpstream.URL})
	if err != nil {
		testContext.Fatalf("failed to build identity backend: %v", err)
	}
	identityService, err := identity.NewService(identity.ServiceConfig{
		Backend:       identityBackend,
		Profiles:      profileStore,
		Issuer:        tokenIssuer,
		Sessions:      sessionValidator,
		LoginRetry:    retry.Policy{MaxAttempts: 3, Delay: 10 * time.Millisecond},
		CallbackRetry: retry.Policy{MaxAttempts: 5, Delay: 10 * time.Millisecond},
	})
	if err != nil {
		testContext.Fatalf("failed to build identity service: %v", err)
	}

	fitnessController, err := fitness.NewController(fitness.ControllerConfig{
		ClientID:     fitbitClientID,
		RedirectURI:  "https://dashboard.example.com/fitness/callback",
		AuthorizeURL: "https://provider.example.com/oauth2/authorize",
		API:          relayClient,
		Credentials:  credentialStore,
	})
	if err != nil {
		testContext.Fatalf("failed to build fitness controller: %v", err)
	}

	calendarController, err := calendar.NewController(calendar.ControllerConfig{
		Events:      calendar.NewGoogleEventsAPI(calendarUpstream.URL, nil),
		Tokens:      calendar.NewGoogleTokenClient(calendarUpstream.URL, nil),
		Credentials: credentialStore,
	})
	if err != nil {
		testContext.Fatalf("failed to build calendar controller: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Identity:   identityService,
		Sessions:   sessionValidator,
		Fitness:    fitnessController,
		Calendar:   calendarController,
		Gateway:    relay,
		Dispatcher: server.NewSyncDispatcher(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	// Register.
	registerResp := postJSON(testContext, testServer.URL+"/auth/register", "", `{"email":"ada@example.com","password":"correct horse","username":"ada","first_name":"Ada","last_name":"Lovelace"}`)
	defer registerResp.Body.Close()
	if registerResp.StatusCode != http.StatusCreated {
		testContext.Fatalf("unexpected register status: %d", registerResp.StatusCode)
	}

	// Login.
	loginResp := postJSON(testContext, testServer.URL+"/auth/login", "", `{"email":"ada@example.com","password":"correct horse"}`)
	defer loginResp.Body.Close()
	if loginResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected login status: %d", loginResp.StatusCode)
	}
	var loginPayload struct {
		AccessToken string `json:"access_token"`
		Profile     struct {
			Complete bool `json:"complete"`
		} `json:"profile"`
	}
	if err := json.NewDecoder(loginResp.Body).Decode(&loginPayload); err != nil {
		testContext.Fatalf("failed to decode login response: %v", err)
	}
	if loginPayload.AccessToken == "" || !loginPayload.Profile.Complete {
		testContext.Fatalf("expected complete authenticated profile, got %+v", loginPayload)
	}
	sessionToken := loginPayload.AccessToken

	// Begin the fitness authorization flow and capture the state nonce.
	connectBody := getJSON(testContext, testServer.URL+"/fitness/connect", sessionToken)
	var connectPayload struct {
		AuthorizeURL string `json:"authorize_url"`
	}
	if err := json.Unmarshal(connectBody, &connectPayload); err != nil {
		testContext.Fatalf("failed to decode connect response: %v", err)
	}
	authorizeURL, err := url.Parse(connectPayload.AuthorizeURL)
	if err != nil {
		testContext.Fatalf("failed to parse authorize URL: %v", err)
	}
	state := authorizeURL.Query().Get("state")
	if state == "" {
		testContext.Fatalf("expected state nonce in authorize URL %q", connectPayload.AuthorizeURL)
	}

	// Complete the callback; the code is redeemed through the relay.
	callbackBody := getJSON(testContext, testServer.URL+"/fitness/callback?code=auth-code&state="+url.QueryEscape(state), sessionToken)
	if !strings.Contains(string(callbackBody), "connected") {
		testContext.Fatalf("unexpected callback response %s", callbackBody)
	}

	// The summarized day is available.
	summaryBody := getJSON(testContext, testServer.URL+"/fitness/summary", sessionToken)
	var summaryPayload struct {
		Status   string `json:"status"`
		Snapshot struct {
			Activity *struct {
				Steps         int `json:"steps"`
				ActiveMinutes int `json:"activeMinutes"`
			} `json:"activity"`
		} `json:"snapshot"`
	}
	if err := json.Unmarshal(summaryBody, &summaryPayload); err != nil {
		testContext.Fatalf("failed to decode summary response: %v", err)
	}
	if summaryPayload.Status != "authorized" {
		testContext.Fatalf("expected authorized status, got %q", summaryPayload.Status)
	}
	if summaryPayload.Snapshot.Activity == nil || summaryPayload.Snapshot.Activity.Steps != 8421 || summaryPayload.Snapshot.Activity.ActiveMinutes != 75 {
		testContext.Fatalf("unexpected activity section %+v", summaryPayload.Snapshot.Activity)
	}

	// Connect the calendar and read the coming week's events.
	calendarResp := postJSON(testContext, testServer.URL+"/calendar/connect", sessionToken, `{"access_token":"granted-token","expires_in":3600}`)
	defer calendarResp.Body.Close()
	if calendarResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected calendar connect status: %d", calendarResp.StatusCode)
	}
	eventsBody := getJSON(testContext, testServer.URL+"/calendar/events", sessionToken)
	var eventsPayload struct {
		Events []struct {
			ID      string `json:"id"`
			Summary string `json:"summary"`
		} `json:"events"`
	}
	if err := json.Unmarshal(eventsBody, &eventsPayload); err != nil {
		testContext.Fatalf("failed to decode events response: %v", err)
	}
	if len(eventsPayload.Events) != 2 || eventsPayload.Events[0].Summary != "No title" {
		testContext.Fatalf("unexpected events %+v", eventsPayload.Events)
	}
}

func postJSON(testContext *testing.T, target, sessionToken, body string) *http.Response {
	testContext.Helper()
	request, err := http.NewRequest(http.MethodPost, target, strings.NewReader(body))
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", jsonContentType)
	if sessionToken != "" {
		request.Header.Set("Authorization", "Bearer "+sessionToken)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("request failed: %v", err)
	}
	return response
}

func getJSON(testContext *testing.T, target, sessionToken string) []byte {
	testContext.Helper()
	request, err := http.NewRequest(http.MethodGet, target, http.NoBody)
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Authorization", "Bearer "+sessionToken)
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		testContext.Fatalf("failed to read response body: %v", err)
	}
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected status %d for %s: %s", response.StatusCode, target, body)
	}
	return body
}
