package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vitalboard/backend/internal/auth"
	"github.com/vitalboard/backend/internal/calendar"
	"github.com/vitalboard/backend/internal/config"
	"github.com/vitalboard/backend/internal/credentials"
	"github.com/vitalboard/backend/internal/database"
	"github.com/vitalboard/backend/internal/fitness"
	"github.com/vitalboard/backend/internal/gateway"
	"github.com/vitalboard/backend/internal/identity"
	"github.com/vitalboard/backend/internal/logging"
	"github.com/vitalboard/backend/internal/server"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vitalboard-api",
		Short: "VitalBoard wellness dashboard backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("session-signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("session-cookie-name", defaults.GetString("session.cookie_name"), "Session cookie name")
	cmd.PersistentFlags().Int("session-ttl-hours", defaults.GetInt("session.ttl_hours"), "Session token TTL in hours")
	cmd.PersistentFlags().String("fitbit-client-id", defaults.GetString("fitbit.client_id"), "Fitbit OAuth client ID")
	cmd.PersistentFlags().String("fitbit-client-secret", "", "Fitbit OAuth client secret (overrides env)")
	cmd.PersistentFlags().String("fitbit-redirect-uri", defaults.GetString("fitbit.redirect_uri"), "Fitbit OAuth redirect URI")
	cmd.PersistentFlags().String("fitbit-api-base-url", defaults.GetString("fitbit.api_base_url"), "Fitbit API base URL")
	cmd.PersistentFlags().String("fitbit-authorize-url", defaults.GetString("fitbit.authorize_url"), "Fitbit authorization URL")
	cmd.PersistentFlags().String("google-client-id", defaults.GetString("google.client_id"), "Google OAuth client ID")
	cmd.PersistentFlags().String("google-jwks-url", defaults.GetString("google.jwks_url"), "Google JWKS URL")
	cmd.PersistentFlags().String("identity-base-url", defaults.GetString("identity.base_url"), "Identity backend base URL")
	cmd.PersistentFlags().String("identity-service-key", "", "Identity backend service key (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.signing_secret", "session-signing-secret")
	bindFlag(cmd, "session.cookie_name", "session-cookie-name")
	bindFlag(cmd, "session.ttl_hours", "session-ttl-hours")
	bindFlag(cmd, "fitbit.client_id", "fitbit-client-id")
	bindFlag(cmd, "fitbit.client_secret", "fitbit-client-secret")
	bindFlag(cmd, "fitbit.redirect_uri", "fitbit-redirect-uri")
	bindFlag(cmd, "fitbit.api_base_url", "fitbit-api-base-url")
	bindFlag(cmd, "fitbit.authorize_url", "fitbit-authorize-url")
	bindFlag(cmd, "google.client_id", "google-client-id")
	bindFlag(cmd, "google.jwks_url", "google-jwks-url")
	bindFlag(cmd, "identity.base_url", "identity-base-url")
	bindFlag(cmd, "identity.service_key", "identity-service-key")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// loopbackURL turns a listen address into the base URL the fitness
// controller uses to reach the token relay on this same process.
func loopbackURL(address string) string {
	if strings.HasPrefix(address, ":") {
		return "http://127.0.0.1" + address
	}
	return "http://" + address
}

// newCalendarController builds the calendar integration against the live
// Google endpoints and performs its one-time initialization, so users with
// stored credentials are served straight after a process restart.
func newCalendarController(store credentials.Store, logger *zap.Logger) (*calendar.Controller, error) {
	controller, err := calendar.NewController(calendar.ControllerConfig{
		Events:      calendar.NewGoogleEventsAPI("", nil),
		Tokens:      calendar.NewGoogleTokenClient("", nil),
		Credentials: store,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	if err := controller.Initialize(); err != nil {
		return nil, err
	}
	return controller, nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		TokenTTL:      appConfig.SessionTTL,
	})
	if err != nil {
		return err
	}
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}
	googleVerifier, err := auth.NewGoogleVerifier(auth.GoogleVerifierConfig{
		Audience:       appConfig.GoogleClientID,
		JWKSURL:        appConfig.GoogleJWKSURL,
		AllowedIssuers: []string{"https://accounts.google.com", "accounts.google.com"},
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	credentialStore, err := credentials.NewGormStore(db)
	if err != nil {
		return err
	}
	profileStore, err := identity.NewGormProfileStore(db)
	if err != nil {
		return err
	}

	relay, err := gateway.New(gateway.Config{
		UpstreamBaseURL: appConfig.FitbitAPIBaseURL,
		ClientID:        appConfig.FitbitClientID,
		ClientSecret:    appConfig.FitbitClientSecret,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	relayClient, err := gateway.NewClient(loopbackURL(appConfig.HTTPAddress), nil)
	if err != nil {
		return err
	}

	fitnessController, err := fitness.NewController(fitness.ControllerConfig{
		ClientID:     appConfig.FitbitClientID,
		RedirectURI:  appConfig.FitbitRedirectURI,
		AuthorizeURL: appConfig.FitbitAuthorizeURL,
		API:          relayClient,
		Credentials:  credentialStore,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	calendarController, err := newCalendarController(credentialStore, logger)
	if err != nil {
		return err
	}

	identityBackend, err := identity.NewHTTPBackend(identity.HTTPBackendConfig{
		BaseURL:    appConfig.IdentityBaseURL,
		ServiceKey: appConfig.IdentityServiceKey,
	})
	if err != nil {
		return err
	}
	identityService, err := identity.NewService(identity.ServiceConfig{
		Backend:  identityBackend,
		Profiles: profileStore,
		Issuer:   tokenIssuer,
		Sessions: sessionValidator,
		Google:   googleVerifier,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Identity:   identityService,
		Sessions:   sessionValidator,
		Fitness:    fitnessController,
		Calendar:   calendarController,
		Gateway:    relay,
		Dispatcher: server.NewSyncDispatcher(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
