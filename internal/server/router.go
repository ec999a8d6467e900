package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/vitalboard/backend/internal/auth"
	"github.com/vitalboard/backend/internal/calendar"
	"github.com/vitalboard/backend/internal/fitness"
	"github.com/vitalboard/backend/internal/gateway"
	"github.com/vitalboard/backend/internal/identity"
	"go.uber.org/zap"
)

const (
	userIDContextKey       = "vitalboard_user_id"
	sessionTokenContextKey = "vitalboard_session_token"

	heartbeatInterval = 25 * time.Second
)

var (
	errMissingIdentityService = errors.New("identity service dependency required")
	errMissingSessionReader   = errors.New("session validator dependency required")
	errMissingFitness         = errors.New("fitness controller dependency required")
	errMissingCalendar        = errors.New("calendar controller dependency required")
	errMissingGateway         = errors.New("gateway dependency required")
	errInvalidAuthorization   = errors.New("session token missing or invalid")
)

// Dependencies wires the HTTP surface to the application services.
type Dependencies struct {
	Identity   *identity.Service
	Sessions   *auth.SessionValidator
	Fitness    *fitness.Controller
	Calendar   *calendar.Controller
	Gateway    *gateway.Gateway
	Dispatcher *SyncDispatcher
	Logger     *zap.Logger
}

// NewHTTPHandler builds the gin router for the API server.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Identity == nil {
		return nil, errMissingIdentityService
	}
	if deps.Sessions == nil {
		return nil, errMissingSessionReader
	}
	if deps.Fitness == nil {
		return nil, errMissingFitness
	}
	if deps.Calendar == nil {
		return nil, errMissingCalendar
	}
	if deps.Gateway == nil {
		return nil, errMissingGateway
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = NewSyncDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		identity:   deps.Identity,
		sessions:   deps.Sessions,
		fitness:    deps.Fitness,
		calendar:   deps.Calendar,
		dispatcher: dispatcher,
		logger:     logger,
	}

	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)
	router.POST("/auth/google", handler.handleGoogleAuth)
	router.POST("/auth/logout", handler.handleLogout)
	router.GET("/auth/session", handler.handleSession)

	deps.Gateway.Register(router)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/me", handler.handleGetProfile)
	protected.PATCH("/me", handler.handleUpdateProfile)
	protected.GET("/fitness/connect", handler.handleFitnessConnect)
	protected.GET("/fitness/callback", handler.handleFitnessCallback)
	protected.GET("/fitness/summary", handler.handleFitnessSummary)
	protected.POST("/fitness/refresh", handler.handleFitnessRefresh)
	protected.DELETE("/fitness/connection", handler.handleFitnessDisconnect)
	protected.POST("/calendar/connect", handler.handleCalendarConnect)
	protected.GET("/calendar/events", handler.handleCalendarEvents)
	protected.POST("/calendar/refresh", handler.handleCalendarRefresh)
	protected.DELETE("/calendar/connection", handler.handleCalendarDisconnect)
	protected.GET("/events", handler.handleSyncStream)

	return router, nil
}

type httpHandler struct {
	identity   *identity.Service
	sessions   *auth.SessionValidator
	fitness    *fitness.Controller
	calendar   *calendar.Controller
	dispatcher *SyncDispatcher
	logger     *zap.Logger
}

type profilePayload struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Complete  bool   `json:"complete"`
}

func newProfilePayload(profile identity.Profile) profilePayload {
	return profilePayload{
		ID:        profile.ID,
		Username:  profile.Username,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		Email:     profile.Email,
		Complete:  profile.Complete(),
	}
}

type registerRequestPayload struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" || request.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.identity.Register(c.Request.Context(), identity.SignUpParams{
		Email:     request.Email,
		Password:  request.Password,
		Username:  request.Username,
		FirstName: request.FirstName,
		LastName:  request.LastName,
	})
	if err != nil {
		h.logger.Warn("registration failed", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user_id": user.ID, "email": user.Email})
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponsePayload struct {
	AccessToken string         `json:"access_token"`
	ExpiresIn   int64          `json:"expires_in"`
	TokenType   string         `json:"token_type"`
	Profile     profilePayload `json:"profile"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" || request.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	session, err := h.identity.Login(c.Request.Context(), request.Email, request.Password)
	if errors.Is(err, identity.ErrProfileUnavailable) {
		h.logger.Error("profile unavailable after login", zap.String("email", request.Email))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Warn("login failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	h.writeSession(c, session)
}

type googleAuthRequestPayload struct {
	IDToken string `json:"id_token"`
}

func (h *httpHandler) handleGoogleAuth(c *gin.Context) {
	var request googleAuthRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	session, err := h.identity.HandleOAuthCallback(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("google sign-in failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	h.writeSession(c, session)
}

func (h *httpHandler) writeSession(c *gin.Context, session identity.Session) {
	c.SetCookie(h.sessions.CookieName(), session.Token, int(session.ExpiresIn), "/", "", false, true)
	c.JSON(http.StatusOK, sessionResponsePayload{
		AccessToken: session.Token,
		ExpiresIn:   session.ExpiresIn,
		TokenType:   "Bearer",
		Profile:     newProfilePayload(session.Profile),
	})
}

type logoutRequestPayload struct {
	BackendToken string `json:"backend_token"`
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	var request logoutRequestPayload
	_ = c.ShouldBindJSON(&request)
	if request.BackendToken != "" {
		if err := h.identity.Logout(c.Request.Context(), request.BackendToken); err != nil {
			h.logger.Warn("backend sign-out failed", zap.Error(err))
		}
	}
	c.SetCookie(h.sessions.CookieName(), "", -1, "/", "", false, true)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSession(c *gin.Context) {
	token := h.sessionToken(c)
	profile, err := h.identity.GetCurrentUser(c.Request.Context(), token)
	if err != nil || profile == nil {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"authenticated": true, "profile": newProfilePayload(*profile)})
}

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	profile, err := h.identity.GetCurrentUser(c.Request.Context(), c.GetString(sessionTokenContextKey))
	if err != nil || profile == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	c.JSON(http.StatusOK, newProfilePayload(*profile))
}

type profileUpdatePayload struct {
	Username  *string `json:"username"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	var request profileUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	profile, err := h.identity.UpdateProfile(c.Request.Context(), c.GetString(userIDContextKey), identity.ProfileUpdates{
		Username:  request.Username,
		FirstName: request.FirstName,
		LastName:  request.LastName,
	})
	if errors.Is(err, identity.ErrProfileNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	if err != nil {
		h.logger.Error("profile update failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	c.JSON(http.StatusOK, newProfilePayload(profile))
}

func (h *httpHandler) handleFitnessConnect(c *gin.Context) {
	authorizeURL, err := h.fitness.Authenticate(c.Request.Context(), c.GetString(userIDContextKey))
	if errors.Is(err, fitness.ErrNotConfigured) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("fitness authenticate failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "authenticate_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"authorize_url": authorizeURL})
}

func (h *httpHandler) handleFitnessCallback(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.fitness.HandleCallback(c.Request.Context(), userID, code, state)
	if errors.Is(err, fitness.ErrInvalidOAuthState) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("fitness callback failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "authorization_failed"})
		return
	}

	h.dispatcher.Publish(SyncMessage{UserID: userID, EventType: SyncEventFitness, Timestamp: time.Now()})
	c.JSON(http.StatusOK, gin.H{"status": "connected"})
}

type fitnessSummaryPayload struct {
	Status   string           `json:"status"`
	Error    string           `json:"error,omitempty"`
	Snapshot fitness.Snapshot `json:"snapshot"`
}

func (h *httpHandler) handleFitnessSummary(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	h.fitness.Resume(c.Request.Context(), userID)

	state, lastErr := h.fitness.Status(userID)
	snapshot, _ := h.fitness.Snapshot(userID)
	c.JSON(http.StatusOK, fitnessSummaryPayload{
		Status:   string(state),
		Error:    lastErr,
		Snapshot: snapshot,
	})
}

func (h *httpHandler) handleFitnessRefresh(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if err := h.fitness.Refresh(c.Request.Context(), userID); err != nil {
		if errors.Is(err, fitness.ErrNoRefreshToken) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.logger.Warn("fitness refresh failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "refresh_failed"})
		return
	}

	h.dispatcher.Publish(SyncMessage{UserID: userID, EventType: SyncEventFitness, Timestamp: time.Now()})
	snapshot, _ := h.fitness.Snapshot(userID)
	state, lastErr := h.fitness.Status(userID)
	c.JSON(http.StatusOK, fitnessSummaryPayload{Status: string(state), Error: lastErr, Snapshot: snapshot})
}

func (h *httpHandler) handleFitnessDisconnect(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if err := h.fitness.SignOut(c.Request.Context(), userID); err != nil {
		h.logger.Error("fitness disconnect failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "disconnect_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type calendarConnectPayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (h *httpHandler) handleCalendarConnect(c *gin.Context) {
	var request calendarConnectPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.AccessToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	userID := c.GetString(userIDContextKey)
	if err := h.calendar.Initialize(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.calendar.Connect(c.Request.Context(), userID, request.AccessToken, request.ExpiresIn); err != nil {
		h.logger.Error("calendar connect failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "connect_failed"})
		return
	}

	h.dispatcher.Publish(SyncMessage{UserID: userID, EventType: SyncEventCalendar, Timestamp: time.Now()})
	c.JSON(http.StatusOK, gin.H{"status": "connected"})
}

func (h *httpHandler) handleCalendarEvents(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	events, err := h.calendar.FetchEvents(c.Request.Context(), userID)
	if errors.Is(err, calendar.ErrNotConnected) || errors.Is(err, calendar.ErrNotInitialized) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Warn("calendar fetch failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "fetch_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *httpHandler) handleCalendarRefresh(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if err := h.calendar.RefreshEvents(c.Request.Context(), userID); err != nil {
		h.logger.Warn("calendar refresh failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "refresh_failed"})
		return
	}
	h.dispatcher.Publish(SyncMessage{UserID: userID, EventType: SyncEventCalendar, Timestamp: time.Now()})
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCalendarDisconnect(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if err := h.calendar.SignOut(c.Request.Context(), userID); err != nil {
		h.logger.Error("calendar disconnect failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "disconnect_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSyncStream(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	stream, cleanup := h.dispatcher.Subscribe(c.Request.Context(), userID)
	defer cleanup()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, gin.H{"timestamp": message.Timestamp.UTC().Format(time.RFC3339)})
			return true
		case <-heartbeat.C:
			c.SSEvent(syncEventHeartbeat, gin.H{"timestamp": time.Now().UTC().Format(time.RFC3339)})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingSessionToken):
		case errors.Is(err, auth.ErrExpiredSessionToken):
			h.logger.Info("session validation failed", zap.Error(err))
		default:
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Set(sessionTokenContextKey, h.sessionToken(c))
	c.Next()
}

func (h *httpHandler) sessionToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")); token != "" {
			return token
		}
	}
	if cookie, err := c.Cookie(h.sessions.CookieName()); err == nil {
		return cookie
	}
	return ""
}
