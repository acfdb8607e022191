package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/learntrackhq/learntrack/internal/services"
	appErrors "github.com/learntrackhq/learntrack/pkg/errors"
	"github.com/learntrackhq/learntrack/pkg/response"
)

// ProgressHandler serves completion toggles and the points ledger.
type ProgressHandler struct {
	progress *services.ProgressService
}

type selectLevelRequest struct {
	Level string `json:"level" validate:"required,max=64"`
}

// NewProgressHandler wires the progress endpoints.
func NewProgressHandler(progress *services.ProgressService) (*ProgressHandler, error) {
	if progress == nil {
		return nil, errors.New("progress handler: progress service is required")
	}
	return &ProgressHandler{progress: progress}, nil
}

// POST /api/courses/:id/complete
func (h *ProgressHandler) Complete(c *gin.Context) {
	snapshot, err := h.progress.RecordCompletion(requestContext(c), currentUserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, snapshot)
}

// DELETE /api/courses/:id/complete
func (h *ProgressHandler) Uncomplete(c *gin.Context) {
	snapshot, err := h.progress.RecordUncompletion(requestContext(c), currentUserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, snapshot)
}

// GET /api/progress
func (h *ProgressHandler) Snapshot(c *gin.Context) {
	snapshot, err := h.progress.GetSnapshot(requestContext(c), currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, snapshot)
}

// GET /api/progress/ledger
func (h *ProgressHandler) Ledger(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	perPage := parseIntQuery(c, "per_page", 50)

	entries, total, err := h.progress.Ledger(requestContext(c), currentUserID(c), page, perPage)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, entries, response.NewMeta(page, perPage, total))
}

// PUT /api/progress/level
func (h *ProgressHandler) SelectLevel(c *gin.Context) {
	var body selectLevelRequest
	if !bindAndValidate(c, &body) {
		return
	}

	if err := h.progress.SelectLevel(requestContext(c), currentUserID(c), body.Level); err != nil {
		response.Error(c, err)
		return
	}

	snapshot, err := h.progress.GetSnapshot(requestContext(c), currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, snapshot)
}
