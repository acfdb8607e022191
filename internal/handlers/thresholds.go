package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/learntrackhq/learntrack/internal/levels"
	"github.com/learntrackhq/learntrack/internal/services"
	appErrors "github.com/learntrackhq/learntrack/pkg/errors"
	"github.com/learntrackhq/learntrack/pkg/response"
)

// ThresholdHandler serves the level table.
type ThresholdHandler struct {
	thresholds *services.ThresholdService
}

type replaceThresholdsRequest struct {
	Levels []services.ThresholdInput `json:"levels" validate:"required,min=1,dive"`
}

// NewThresholdHandler wires the level table endpoints.
func NewThresholdHandler(thresholds *services.ThresholdService) (*ThresholdHandler, error) {
	if thresholds == nil {
		return nil, errors.New("threshold handler: threshold service is required")
	}
	return &ThresholdHandler{thresholds: thresholds}, nil
}

// GET /api/levels
func (h *ThresholdHandler) List(c *gin.Context) {
	thresholds, err := h.thresholds.List(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, thresholds)
}

// PUT /api/admin/levels
func (h *ThresholdHandler) Replace(c *gin.Context) {
	var body replaceThresholdsRequest
	if !bindAndValidate(c, &body) {
		return
	}

	replaced, err := h.thresholds.Replace(requestContext(c), body.Levels)
	if err != nil {
		if errors.Is(err, levels.ErrThresholdsMisconfigured) {
			response.Error(c, appErrors.NewBadRequest(err.Error()))
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, replaced)
}
