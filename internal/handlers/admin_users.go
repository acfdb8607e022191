package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/learntrackhq/learntrack/internal/auth"
	"github.com/learntrackhq/learntrack/internal/services"
	appErrors "github.com/learntrackhq/learntrack/pkg/errors"
	"github.com/learntrackhq/learntrack/pkg/response"
)

// AdminUserHandler serves the administrative user management endpoints.
type AdminUserHandler struct {
	users    *services.UserService
	progress *services.ProgressService
	sessions *auth.SessionService
}

type createUserRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64,alphanum"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	IsAdmin  bool   `json:"is_admin"`
}

type setFlagRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type adjustPointsRequest struct {
	Delta  int    `json:"delta" validate:"required"`
	Reason string `json:"reason" validate:"required,max=512"`
}

// NewAdminUserHandler wires the admin user endpoints.
func NewAdminUserHandler(users *services.UserService, progress *services.ProgressService, sessions *auth.SessionService) (*AdminUserHandler, error) {
	if users == nil || progress == nil || sessions == nil {
		return nil, errors.New("admin user handler: missing dependencies")
	}
	return &AdminUserHandler{users: users, progress: progress, sessions: sessions}, nil
}

// GET /api/admin/users
func (h *AdminUserHandler) List(c *gin.Context) {
	filter := services.UserFilter{
		Search:  c.Query("search"),
		Level:   c.Query("level"),
		Page:    parseIntQuery(c, "page", 1),
		PerPage: parseIntQuery(c, "per_page", 50),
	}
	if active := strings.TrimSpace(c.Query("active")); active != "" {
		value := active == "true"
		filter.Active = &value
	}

	users, total, err := h.users.List(requestContext(c), filter)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, users, response.NewMeta(filter.Page, filter.PerPage, total))
}

// GET /api/admin/users/:id
func (h *AdminUserHandler) Get(c *gin.Context) {
	user, err := h.users.GetByID(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// POST /api/admin/users
func (h *AdminUserHandler) Create(c *gin.Context) {
	var body createUserRequest
	if !bindAndValidate(c, &body) {
		return
	}

	user, err := h.users.Create(requestContext(c), services.CreateUserInput(body))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, user)
}

// PUT /api/admin/users/:id/active
func (h *AdminUserHandler) SetActive(c *gin.Context) {
	var body setFlagRequest
	if !bindAndValidate(c, &body) {
		return
	}

	if err := h.users.SetActive(requestContext(c), c.Param("id"), *body.Enabled); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "user updated"})
}

// PUT /api/admin/users/:id/admin
func (h *AdminUserHandler) SetAdmin(c *gin.Context) {
	var body setFlagRequest
	if !bindAndValidate(c, &body) {
		return
	}

	if err := h.users.SetAdmin(requestContext(c), c.Param("id"), *body.Enabled); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "user updated"})
}

// DELETE /api/admin/users/:id
func (h *AdminUserHandler) Delete(c *gin.Context) {
	if err := h.users.Delete(requestContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "user deleted"})
}

// POST /api/admin/users/:id/points
func (h *AdminUserHandler) AdjustPoints(c *gin.Context) {
	var body adjustPointsRequest
	if !bindAndValidate(c, &body) {
		return
	}

	snapshot, err := h.progress.AdjustPoints(requestContext(c), c.Param("id"), body.Delta, body.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, snapshot)
}

// GET /api/admin/users/:id/ledger
func (h *AdminUserHandler) Ledger(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	perPage := parseIntQuery(c, "per_page", 50)

	entries, total, err := h.progress.Ledger(requestContext(c), c.Param("id"), page, perPage)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, entries, response.NewMeta(page, perPage, total))
}

// DELETE /api/admin/users/:id/ledger
func (h *AdminUserHandler) PurgeLedger(c *gin.Context) {
	removed, err := h.progress.PurgeLedger(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": removed})
}

// GET /api/admin/users/:id/sessions
func (h *AdminUserHandler) Sessions(c *gin.Context) {
	sessions, err := h.sessions.ListActive(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}
	response.Success(c, http.StatusOK, sessions)
}

// DELETE /api/admin/sessions/:id
func (h *AdminUserHandler) RevokeSession(c *gin.Context) {
	if err := h.sessions.InvalidateByID(requestContext(c), c.Param("id")); err != nil {
		response.Error(c, appErrors.ErrNotFound)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "session revoked"})
}
