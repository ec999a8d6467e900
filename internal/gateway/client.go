package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// StatusError carries a non-2xx upstream response through the typed client.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway: upstream status %d: %s", e.StatusCode, e.Body)
}

// TokenPayload is the provider token response body.
type TokenPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ProviderUser string `json:"user_id"`
}

// Client is the typed consumer side of the relay surface. The fitness
// controller reaches the provider exclusively through it.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a client pointed at a gateway base URL.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errMissingBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultUpstreamTimeout}
	}
	return &Client{baseURL: trimmed, httpClient: httpClient}, nil
}

// Activities returns the raw daily activity summary document.
func (c *Client) Activities(ctx context.Context, accessToken, date string) (json.RawMessage, error) {
	return c.relayGet(ctx, accessToken, "/integration/activities/"+date)
}

// Sleep returns the raw daily sleep summary document.
func (c *Client) Sleep(ctx context.Context, accessToken, date string) (json.RawMessage, error) {
	return c.relayGet(ctx, accessToken, "/integration/sleep/"+date)
}

// Heart returns the raw daily heart-rate document.
func (c *Client) Heart(ctx context.Context, accessToken, date string) (json.RawMessage, error) {
	return c.relayGet(ctx, accessToken, "/integration/heart/"+date)
}

// ExchangeCode redeems an authorization code through the relay token endpoint.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (TokenPayload, error) {
	return c.relayToken(ctx, tokenExchangePayload{Code: code, RedirectURI: redirectURI})
}

// RefreshToken performs a refresh_token grant through the relay token endpoint.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (TokenPayload, error) {
	return c.relayToken(ctx, tokenExchangePayload{GrantType: "refresh_token", RefreshToken: refreshToken})
}

func (c *Client) relayGet(ctx context.Context, accessToken, path string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	response, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, err
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, &StatusError{StatusCode: response.StatusCode, Body: string(body)}
	}
	return json.RawMessage(body), nil
}

func (c *Client) relayToken(ctx context.Context, payload tokenExchangePayload) (TokenPayload, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return TokenPayload{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/integration/token", bytes.NewReader(encoded))
	if err != nil {
		return TokenPayload{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(req)
	if err != nil {
		return TokenPayload{}, err
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return TokenPayload{}, err
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return TokenPayload{}, &StatusError{StatusCode: response.StatusCode, Body: string(body)}
	}

	var token TokenPayload
	if err := json.Unmarshal(body, &token); err != nil {
		return TokenPayload{}, err
	}
	return token, nil
}
