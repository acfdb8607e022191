package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/learntrackhq/learntrack/internal/auth"
	"github.com/learntrackhq/learntrack/internal/models"
	"github.com/learntrackhq/learntrack/internal/security"
	"github.com/learntrackhq/learntrack/internal/services"
	appErrors "github.com/learntrackhq/learntrack/pkg/errors"
	"github.com/learntrackhq/learntrack/pkg/response"
)

// AuthHandler serves login, logout, and account self-service endpoints.
type AuthHandler struct {
	db            *gorm.DB
	authenticator *auth.PasswordAuthenticator
	sessions      *auth.SessionService
	users         *services.UserService
	guard         *security.Guard
}

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=255"`
	Password   string `json:"password" validate:"required,max=128"`
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64,alphanum"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=128"`
}

type sessionPayload struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// sessionView annotates a session row with whether it backs the current request.
type sessionView struct {
	models.Session
	Current bool `json:"current"`
}

// NewAuthHandler wires the authentication endpoints over the shared services.
func NewAuthHandler(db *gorm.DB, authenticator *auth.PasswordAuthenticator, sessions *auth.SessionService, users *services.UserService, guard *security.Guard) (*AuthHandler, error) {
	if db == nil || authenticator == nil || sessions == nil || users == nil {
		return nil, errors.New("auth handler: missing dependencies")
	}
	return &AuthHandler{
		db:            db,
		authenticator: authenticator,
		sessions:      sessions,
		users:         users,
		guard:         guard,
	}, nil
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var body registerRequest
	if !bindAndValidate(c, &body) {
		return
	}

	user, err := h.users.Create(requestContext(c), services.CreateUserInput{
		Username: body.Username,
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, user)
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if !bindAndValidate(c, &body) {
		return
	}

	ctx := requestContext(c)

	user, err := h.authenticator.Authenticate(ctx, auth.AuthenticateInput{
		Identifier: body.Identifier,
		Password:   body.Password,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		response.Error(c, mapAuthError(err))
		return
	}

	token, session, err := h.sessions.Issue(ctx, user.ID, auth.SessionMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	response.Success(c, http.StatusOK, sessionPayload{
		Token:     token,
		ExpiresAt: session.ExpiresAt,
		User:      user,
	})
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.sessions.Invalidate(requestContext(c), token); err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	if h.guard != nil {
		_ = h.guard.RecordEvent(requestContext(c), security.Event{
			Kind:      models.EventLogout,
			IPAddress: c.ClientIP(),
		})
	}

	response.Success(c, http.StatusOK, gin.H{"message": "logged out"})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.users.GetByID(requestContext(c), currentUserID(c))
	if err != nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// POST /api/auth/password
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var body changePasswordRequest
	if !bindAndValidate(c, &body) {
		return
	}

	err := h.authenticator.ChangePassword(requestContext(c), currentUserID(c), body.CurrentPassword, body.NewPassword)
	if err != nil {
		response.Error(c, mapAuthError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "password changed"})
}

// GET /api/auth/sessions
func (h *AuthHandler) Sessions(c *gin.Context) {
	sessions, err := h.sessions.ListActive(requestContext(c), currentUserID(c))
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	current := currentSessionID(c)
	views := make([]sessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, sessionView{Session: session, Current: session.ID == current})
	}
	response.Success(c, http.StatusOK, views)
}

// DELETE /api/auth/sessions/:id
func (h *AuthHandler) RevokeSession(c *gin.Context) {
	ctx := requestContext(c)
	sessionID := c.Param("id")

	// Users may only revoke their own sessions.
	owned, err := h.sessions.ListActive(ctx, currentUserID(c))
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}
	mine := false
	for _, session := range owned {
		if session.ID == sessionID {
			mine = true
			break
		}
	}
	if !mine {
		response.Error(c, appErrors.ErrNotFound)
		return
	}

	if err := h.sessions.InvalidateByID(ctx, sessionID); err != nil {
		response.Error(c, appErrors.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "session revoked"})
}

func bearerToken(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[7:])
}

func mapAuthError(err error) error {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return appErrors.ErrInvalidCredentials
	case errors.Is(err, auth.ErrAccountDisabled):
		return appErrors.ErrForbidden
	case errors.Is(err, auth.ErrIPBlocked):
		return appErrors.ErrIPBlocked
	default:
		return appErrors.ErrInternalServer
	}
}
