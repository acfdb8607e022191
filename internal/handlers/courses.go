package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/learntrackhq/learntrack/internal/services"
	appErrors "github.com/learntrackhq/learntrack/pkg/errors"
	"github.com/learntrackhq/learntrack/pkg/response"
)

// CourseHandler serves the course catalogue.
type CourseHandler struct {
	courses *services.CourseService
}

type courseRequest struct {
	Title    string `json:"title" validate:"required,max=255"`
	Source   string `json:"source" validate:"max=128"`
	URL      string `json:"url" validate:"omitempty,url,max=2048"`
	LevelTag string `json:"level_tag" validate:"max=64"`
	Points   int    `json:"points" validate:"min=0"`
}

// NewCourseHandler wires the catalogue endpoints.
func NewCourseHandler(courses *services.CourseService) (*CourseHandler, error) {
	if courses == nil {
		return nil, errors.New("course handler: course service is required")
	}
	return &CourseHandler{courses: courses}, nil
}

// GET /api/courses
func (h *CourseHandler) List(c *gin.Context) {
	filter := services.CourseFilter{
		Search:   c.Query("search"),
		LevelTag: c.Query("level_tag"),
		Source:   c.Query("source"),
		Page:     parseIntQuery(c, "page", 1),
		PerPage:  parseIntQuery(c, "per_page", 50),
	}

	courses, total, err := h.courses.ListWithStatus(requestContext(c), currentUserID(c), filter)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, courses, response.NewMeta(filter.Page, filter.PerPage, total))
}

// GET /api/courses/:id
func (h *CourseHandler) Get(c *gin.Context) {
	course, err := h.courses.Get(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, course)
}

// POST /api/courses (admin)
func (h *CourseHandler) Create(c *gin.Context) {
	var body courseRequest
	if !bindAndValidate(c, &body) {
		return
	}

	course, err := h.courses.Create(requestContext(c), services.CourseInput(body))
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}
	response.Success(c, http.StatusCreated, course)
}

// PUT /api/courses/:id (admin)
func (h *CourseHandler) Update(c *gin.Context) {
	var body courseRequest
	if !bindAndValidate(c, &body) {
		return
	}

	course, err := h.courses.Update(requestContext(c), c.Param("id"), services.CourseInput(body))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, course)
}

// DELETE /api/courses/:id (admin)
func (h *CourseHandler) Delete(c *gin.Context) {
	if err := h.courses.Delete(requestContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "course deleted"})
}
