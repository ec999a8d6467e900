package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vitalboard/backend/internal/auth"
	"github.com/vitalboard/backend/internal/retry"
	"go.uber.org/zap"
)

// ErrProfileUnavailable indicates the profile row never became visible after
// an authenticated login. The backend provisions profiles asynchronously, so
// the lookup is retried before giving up.
var ErrProfileUnavailable = errors.New("Could not retrieve user profile after login.")

var (
	defaultLoginRetry    = retry.Policy{MaxAttempts: 3, Delay: 500 * time.Millisecond}
	defaultCallbackRetry = retry.Policy{MaxAttempts: 5, Delay: 1000 * time.Millisecond}
)

// SessionIssuer issues first-party session tokens.
type SessionIssuer interface {
	IssueSessionToken(ctx context.Context, identity auth.SessionIdentity) (string, int64, error)
}

// SessionReader validates first-party session tokens.
type SessionReader interface {
	ValidateToken(tokenString string) (auth.SessionClaims, error)
}

// GoogleTokenVerifier validates Google-issued ID tokens.
type GoogleTokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (auth.GoogleClaims, error)
}

// ServiceConfig describes the dependencies of the identity service.
type ServiceConfig struct {
	Backend       Backend
	Profiles      ProfileStore
	Issuer        SessionIssuer
	Sessions      SessionReader
	Google        GoogleTokenVerifier
	Logger        *zap.Logger
	LoginRetry    retry.Policy
	CallbackRetry retry.Policy
}

// Service coordinates registration, login and session issuance against the
// third-party authentication backend and the first-party profile store.
type Service struct {
	backend       Backend
	profiles      ProfileStore
	issuer        SessionIssuer
	sessions      SessionReader
	google        GoogleTokenVerifier
	logger        *zap.Logger
	loginRetry    retry.Policy
	callbackRetry retry.Policy
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("identity: authentication backend required")
	}
	if cfg.Profiles == nil {
		return nil, fmt.Errorf("identity: profile store required")
	}
	if cfg.Issuer == nil {
		return nil, fmt.Errorf("identity: session issuer required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	loginRetry := cfg.LoginRetry
	if loginRetry.MaxAttempts == 0 {
		loginRetry = defaultLoginRetry
	}
	callbackRetry := cfg.CallbackRetry
	if callbackRetry.MaxAttempts == 0 {
		callbackRetry = defaultCallbackRetry
	}
	return &Service{
		backend:       cfg.Backend,
		profiles:      cfg.Profiles,
		issuer:        cfg.Issuer,
		sessions:      cfg.Sessions,
		google:        cfg.Google,
		logger:        logger,
		loginRetry:    loginRetry,
		callbackRetry: callbackRetry,
	}, nil
}

// Session is the result of a successful authentication flow.
type Session struct {
	Token     string
	ExpiresIn int64
	Profile   Profile
}

// Register forwards the registration to the backend. The profile row is
// provisioned by the backend's signup hook, not written here.
func (s *Service) Register(ctx context.Context, params SignUpParams) (BackendUser, error) {
	user, err := s.backend.SignUp(ctx, params)
	if err != nil {
		return BackendUser{}, err
	}
	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return user, nil
}

// Login performs the password grant, waits for the asynchronously
// provisioned profile row, and issues a first-party session token.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	backendSession, err := s.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		return Session{}, err
	}

	profile, err := s.awaitProfile(ctx, s.loginRetry, backendSession.User.ID)
	if err != nil {
		return Session{}, ErrProfileUnavailable
	}

	return s.issueSession(ctx, profile)
}

// HandleOAuthCallback verifies the Google ID token, ensures a profile row
// exists for the subject, and issues a first-party session token.
func (s *Service) HandleOAuthCallback(ctx context.Context, idToken string) (Session, error) {
	if s.google == nil {
		return Session{}, fmt.Errorf("identity: google verifier not configured")
	}
	claims, err := s.google.Verify(ctx, idToken)
	if err != nil {
		return Session{}, fmt.Errorf("identity: google session invalid: %w", err)
	}

	// Only a confirmed-absent row triggers provisioning; transient lookup
	// failures must not race a Create against the provisioning hook.
	profile, err := s.awaitProfile(ctx, s.callbackRetry, claims.Subject)
	if errors.Is(err, ErrProfileNotFound) {
		firstName, lastName := splitClaimNames(claims)
		profile = Profile{
			ID:        claims.Subject,
			FirstName: firstName,
			LastName:  lastName,
			Email:     claims.Email,
		}
		if createErr := s.profiles.Create(ctx, profile); createErr != nil {
			return Session{}, createErr
		}
		s.logger.Info("profile provisioned from oauth claims", zap.String("user_id", claims.Subject))
	} else if err != nil {
		return Session{}, err
	}

	return s.issueSession(ctx, profile)
}

// GetCurrentUser resolves the profile behind a session token. A missing or
// invalid session is not an error; the caller sees an anonymous user.
func (s *Service) GetCurrentUser(ctx context.Context, sessionToken string) (*Profile, error) {
	if s.sessions == nil || strings.TrimSpace(sessionToken) == "" {
		return nil, nil
	}
	claims, err := s.sessions.ValidateToken(sessionToken)
	if err != nil {
		return nil, nil
	}
	profile, err := s.profiles.ByID(ctx, claims.UserID)
	if err != nil {
		return nil, nil
	}
	return &profile, nil
}

// ProfileUpdates carries the optional fields of a partial profile update.
type ProfileUpdates struct {
	Username  *string
	FirstName *string
	LastName  *string
}

// UpdateProfile applies a partial update and returns the stored row.
func (s *Service) UpdateProfile(ctx context.Context, id string, updates ProfileUpdates) (Profile, error) {
	columns := map[string]any{}
	if updates.Username != nil {
		columns["username"] = normalize(*updates.Username)
	}
	if updates.FirstName != nil {
		columns["first_name"] = normalize(*updates.FirstName)
	}
	if updates.LastName != nil {
		columns["last_name"] = normalize(*updates.LastName)
	}
	return s.profiles.Update(ctx, id, columns)
}

// Logout invalidates the backend session. Session tokens expire on their own.
func (s *Service) Logout(ctx context.Context, accessToken string) error {
	return s.backend.SignOut(ctx, accessToken)
}

func (s *Service) awaitProfile(ctx context.Context, policy retry.Policy, userID string) (Profile, error) {
	var profile Profile
	err := policy.Run(ctx, func(ctx context.Context) error {
		found, lookupErr := s.profiles.ByID(ctx, userID)
		if lookupErr != nil {
			return lookupErr
		}
		profile = found
		return nil
	})
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

func (s *Service) issueSession(ctx context.Context, profile Profile) (Session, error) {
	token, expiresIn, err := s.issuer.IssueSessionToken(ctx, auth.SessionIdentity{
		UserID: profile.ID,
		Email:  profile.Email,
	})
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresIn: expiresIn, Profile: profile}, nil
}

// splitClaimNames prefers the structured name claims and falls back to
// splitting the display name on whitespace.
func splitClaimNames(claims auth.GoogleClaims) (string, string) {
	firstName := normalize(claims.GivenName)
	lastName := normalize(claims.FamilyName)
	if firstName != "" || lastName != "" {
		return firstName, lastName
	}

	parts := strings.Fields(claims.Name)
	if len(parts) == 0 {
		return "", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
