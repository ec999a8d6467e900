// Package gateway relays fitness-provider API calls for the browser client.
// It exists to keep the provider client secret server-side and to work around
// the provider's lack of permissive cross-origin access.
package gateway

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	activitiesPathFormat = "/1/user/-/activities/date/%s.json"
	sleepPathFormat      = "/1/user/-/sleep/date/%s.json"
	heartPathFormat      = "/1/user/-/activities/heart/date/%s/1d.json"
	tokenPath            = "/oauth2/token"

	defaultUpstreamTimeout = 30 * time.Second
)

var errMissingBaseURL = errors.New("gateway: upstream base url required")

// Config describes the upstream provider endpoint and server-held credentials.
type Config struct {
	UpstreamBaseURL string
	ClientID        string
	ClientSecret    string
	HTTPClient      *http.Client
	Logger          *zap.Logger
}

// Gateway is a stateless HTTP relay. No state is kept between requests; every
// call is independent, and an authorization code replay fails upstream rather
// than being deduplicated locally.
type Gateway struct {
	upstreamBaseURL string
	clientID        string
	clientSecret    string
	httpClient      *http.Client
	logger          *zap.Logger
}

// New constructs a gateway with validated configuration.
func New(cfg Config) (*Gateway, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.UpstreamBaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultUpstreamTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		upstreamBaseURL: baseURL,
		clientID:        strings.TrimSpace(cfg.ClientID),
		clientSecret:    strings.TrimSpace(cfg.ClientSecret),
		httpClient:      httpClient,
		logger:          logger,
	}, nil
}

// Register mounts the relay routes on the provided router group.
func (g *Gateway) Register(router gin.IRoutes) {
	router.GET("/integration/activities/:date", g.relayHandler(activitiesPathFormat))
	router.GET("/integration/sleep/:date", g.relayHandler(sleepPathFormat))
	router.GET("/integration/heart/:date", g.relayHandler(heartPathFormat))
	router.POST("/integration/token", g.handleTokenExchange)
}

func (g *Gateway) relayHandler(pathFormat string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		date := c.Param("date")
		upstreamURL := g.upstreamBaseURL + fmt.Sprintf(pathFormat, url.PathEscape(date))

		req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, upstreamURL, nil)
		if err != nil {
			g.logger.Error("failed to build upstream request", zap.String("url", upstreamURL), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		req.Header.Set("Authorization", authHeader)

		response, err := g.httpClient.Do(req)
		if err != nil {
			g.logger.Error("upstream request failed", zap.String("url", upstreamURL), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		defer response.Body.Close()

		body, err := io.ReadAll(response.Body)
		if err != nil {
			g.logger.Error("failed to read upstream response", zap.String("url", upstreamURL), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		if response.StatusCode < 200 || response.StatusCode > 299 {
			c.JSON(response.StatusCode, gin.H{"error": string(body)})
			return
		}

		c.Data(http.StatusOK, "application/json", body)
	}
}

type tokenExchangePayload struct {
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
}

func (g *Gateway) handleTokenExchange(c *gin.Context) {
	var request tokenExchangePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if g.clientID == "" || g.clientSecret == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server configuration error"})
		return
	}

	form := url.Values{}
	if request.GrantType == "refresh_token" || (request.RefreshToken != "" && request.Code == "") {
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", request.RefreshToken)
	} else {
		form.Set("client_id", g.clientID)
		form.Set("grant_type", "authorization_code")
		form.Set("redirect_uri", request.RedirectURI)
		form.Set("code", request.Code)
	}

	upstreamURL := g.upstreamBaseURL + tokenPath
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, upstreamURL, strings.NewReader(form.Encode()))
	if err != nil {
		g.logger.Error("failed to build token request", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Basic "+basicCredentials(g.clientID, g.clientSecret))

	response, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Error("token exchange request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		g.logger.Error("failed to read token response", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		c.JSON(response.StatusCode, gin.H{"error": string(body)})
		return
	}

	c.Data(http.StatusOK, "application/json", body)
}

func basicCredentials(clientID, clientSecret string) string {
	return base64.StdEncoding.EncodeToString([]byte(clientID + ":" + clientSecret))
}
