package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrBackendRejected wraps an error message returned by the identity backend.
var ErrBackendRejected = errors.New("identity: backend rejected request")

// SignUpParams carries the registration payload. The metadata fields travel
// with the signup request so the backend's provisioning hook can populate the
// profile asynchronously.
type SignUpParams struct {
	Email     string
	Password  string
	Username  string
	FirstName string
	LastName  string
}

// BackendUser is the authenticated identity returned by the backend.
type BackendUser struct {
	ID    string
	Email string
}

// BackendSession is the result of a successful password grant.
type BackendSession struct {
	User        BackendUser
	AccessToken string
}

// Backend is the third-party authentication surface the service consumes.
type Backend interface {
	SignUp(ctx context.Context, params SignUpParams) (BackendUser, error)
	SignInWithPassword(ctx context.Context, email, password string) (BackendSession, error)
	SignOut(ctx context.Context, accessToken string) error
}

// HTTPBackend talks to a GoTrue-compatible authentication endpoint.
type HTTPBackend struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

// HTTPBackendConfig configures the authentication backend client.
type HTTPBackendConfig struct {
	BaseURL    string
	ServiceKey string
	HTTPClient *http.Client
}

// NewHTTPBackend constructs the backend client.
func NewHTTPBackend(cfg HTTPBackendConfig) (*HTTPBackend, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("identity: backend base URL required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPBackend{
		baseURL:    baseURL,
		serviceKey: strings.TrimSpace(cfg.ServiceKey),
		httpClient: httpClient,
	}, nil
}

type backendUserDocument struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type backendSessionDocument struct {
	AccessToken string              `json:"access_token"`
	User        backendUserDocument `json:"user"`

	// signup responses return the user fields at the top level
	ID    string `json:"id"`
	Email string `json:"email"`
}

type backendErrorDocument struct {
	Message          string `json:"msg"`
	ErrorDescription string `json:"error_description"`
}

// SignUp registers the user with the backend. Profile metadata is forwarded
// in the signup payload; this service does not write the profile row itself.
func (b *HTTPBackend) SignUp(ctx context.Context, params SignUpParams) (BackendUser, error) {
	payload := map[string]any{
		"email":    params.Email,
		"password": params.Password,
		"data": map[string]any{
			"username":   params.Username,
			"first_name": params.FirstName,
			"last_name":  params.LastName,
		},
	}

	var document backendSessionDocument
	if err := b.post(ctx, "/signup", "", payload, &document); err != nil {
		return BackendUser{}, err
	}

	user := BackendUser{ID: document.User.ID, Email: document.User.Email}
	if user.ID == "" {
		user = BackendUser{ID: document.ID, Email: document.Email}
	}
	if user.ID == "" {
		return BackendUser{}, fmt.Errorf("identity: signup response missing user id")
	}
	return user, nil
}

// SignInWithPassword exchanges credentials for a backend session.
func (b *HTTPBackend) SignInWithPassword(ctx context.Context, email, password string) (BackendSession, error) {
	payload := map[string]any{"email": email, "password": password}

	var document backendSessionDocument
	if err := b.post(ctx, "/token?"+url.Values{"grant_type": {"password"}}.Encode(), "", payload, &document); err != nil {
		return BackendSession{}, err
	}
	if document.User.ID == "" {
		return BackendSession{}, fmt.Errorf("identity: token response missing user id")
	}
	return BackendSession{
		User:        BackendUser{ID: document.User.ID, Email: document.User.Email},
		AccessToken: document.AccessToken,
	}, nil
}

// SignOut invalidates the backend session.
func (b *HTTPBackend) SignOut(ctx context.Context, accessToken string) error {
	return b.post(ctx, "/logout", accessToken, nil, nil)
}

func (b *HTTPBackend) post(ctx context.Context, path, bearer string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.serviceKey != "" {
		req.Header.Set("apikey", b.serviceKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	response, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}
	if response.StatusCode >= http.StatusBadRequest {
		var failure backendErrorDocument
		_ = json.Unmarshal(responseBody, &failure)
		message := failure.Message
		if message == "" {
			message = failure.ErrorDescription
		}
		if message == "" {
			message = strings.TrimSpace(string(responseBody))
		}
		return fmt.Errorf("%w: %s", ErrBackendRejected, message)
	}

	if out != nil && len(responseBody) > 0 {
		if err := json.Unmarshal(responseBody, out); err != nil {
			return err
		}
	}
	return nil
}
