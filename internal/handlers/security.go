package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/learntrackhq/learntrack/internal/security"
	appErrors "github.com/learntrackhq/learntrack/pkg/errors"
	"github.com/learntrackhq/learntrack/pkg/response"
)

// SecurityHandler serves the administrative security event and IP block endpoints.
type SecurityHandler struct {
	guard *security.Guard
}

type blockIPRequest struct {
	IPAddress       string `json:"ip_address" validate:"required,ip"`
	DurationMinutes int    `json:"duration_minutes" validate:"min=0"`
	Reason          string `json:"reason" validate:"required,max=512"`
}

// NewSecurityHandler wires the security endpoints.
func NewSecurityHandler(guard *security.Guard) (*SecurityHandler, error) {
	if guard == nil {
		return nil, errors.New("security handler: guard is required")
	}
	return &SecurityHandler{guard: guard}, nil
}

// GET /api/admin/security/events
func (h *SecurityHandler) Events(c *gin.Context) {
	opts := security.EventListOptions{
		Page:     parseIntQuery(c, "page", 1),
		PageSize: parseIntQuery(c, "per_page", 50),
		Filters: security.EventFilters{
			Kind:      c.Query("kind"),
			Username:  c.Query("username"),
			IPAddress: c.Query("ip"),
		},
	}
	if since := parseTimeQuery(c, "since"); since != nil {
		opts.Filters.Since = since
	}
	if until := parseTimeQuery(c, "until"); until != nil {
		opts.Filters.Until = until
	}

	events, total, err := h.guard.ListEvents(requestContext(c), opts)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, events, response.NewMeta(opts.Page, opts.PageSize, total))
}

// GET /api/admin/security/blocks
func (h *SecurityHandler) Blocks(c *gin.Context) {
	blocks, err := h.guard.ListBlocks(requestContext(c))
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}
	response.Success(c, http.StatusOK, blocks)
}

// POST /api/admin/security/blocks
func (h *SecurityHandler) Block(c *gin.Context) {
	var body blockIPRequest
	if !bindAndValidate(c, &body) {
		return
	}

	duration := time.Duration(body.DurationMinutes) * time.Minute
	err := h.guard.BlockIP(requestContext(c), body.IPAddress, duration, body.Reason, currentUserID(c))
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"message": "address blocked"})
}

// DELETE /api/admin/security/blocks/:ip
func (h *SecurityHandler) Unblock(c *gin.Context) {
	if err := h.guard.UnblockIP(requestContext(c), c.Param("ip")); err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "address unblocked"})
}

func parseTimeQuery(c *gin.Context, key string) *time.Time {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	return &parsed
}
