package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "VITALBOARD"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "vitalboard.db"
	defaultLogLevel        = "info"
	defaultCookieName      = "vitalboard_session"
	defaultSessionTTLHours = 24
	defaultFitbitAPIBase   = "https://api.fitbit.com"
	defaultFitbitAuthURL   = "https://www.fitbit.com/oauth2/authorize"
	defaultGoogleJWKSURL   = "https://www.googleapis.com/oauth2/v3/certs"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress          string
	DatabasePath         string
	LogLevel             string
	SessionSigningSecret string
	SessionCookieName    string
	SessionTTL           time.Duration
	FitbitClientID       string
	FitbitClientSecret   string
	FitbitRedirectURI    string
	FitbitAPIBaseURL     string
	FitbitAuthorizeURL   string
	GoogleClientID       string
	GoogleJWKSURL        string
	IdentityBaseURL      string
	IdentityServiceKey   string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.ttl_hours", defaultSessionTTLHours)
	configViper.SetDefault("fitbit.api_base_url", defaultFitbitAPIBase)
	configViper.SetDefault("fitbit.authorize_url", defaultFitbitAuthURL)
	configViper.SetDefault("google.jwks_url", defaultGoogleJWKSURL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		SessionSigningSecret: configViper.GetString("session.signing_secret"),
		SessionCookieName:    configViper.GetString("session.cookie_name"),
		SessionTTL:           time.Duration(configViper.GetInt("session.ttl_hours")) * time.Hour,
		FitbitClientID:       configViper.GetString("fitbit.client_id"),
		FitbitClientSecret:   configViper.GetString("fitbit.client_secret"),
		FitbitRedirectURI:    configViper.GetString("fitbit.redirect_uri"),
		FitbitAPIBaseURL:     configViper.GetString("fitbit.api_base_url"),
		FitbitAuthorizeURL:   configViper.GetString("fitbit.authorize_url"),
		GoogleClientID:       configViper.GetString("google.client_id"),
		GoogleJWKSURL:        configViper.GetString("google.jwks_url"),
		IdentityBaseURL:      configViper.GetString("identity.base_url"),
		IdentityServiceKey:   configViper.GetString("identity.service_key"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// Integration credentials are intentionally not validated here: their absence
// fails the corresponding authenticate call with a descriptive error instead
// of preventing startup.
func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session.ttl_hours must be positive")
	}
	return nil
}
