package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/learntrackhq/learntrack/internal/models"
)

// CourseInput carries the creatable/updatable fields of a course.
type CourseInput struct {
	Title    string `json:"title" validate:"required,max=255"`
	Source   string `json:"source" validate:"max=128"`
	URL      string `json:"url" validate:"omitempty,url,max=2048"`
	LevelTag string `json:"level_tag" validate:"max=64"`
	Points   int    `json:"points" validate:"min=0"`
}

// CourseFilter narrows course listings.
type CourseFilter struct {
	Search   string
	LevelTag string
	Source   string
	Page     int
	PerPage  int
}

// CourseWithStatus pairs a course with one user's completion state.
type CourseWithStatus struct {
	models.Course
	Completed bool `json:"completed"`
}

// CourseService manages the course catalogue.
type CourseService struct {
	db *gorm.DB
}

// NewCourseService constructs a CourseService.
func NewCourseService(db *gorm.DB) (*CourseService, error) {
	if db == nil {
		return nil, errors.New("course service: db is required")
	}
	return &CourseService{db: db}, nil
}

// Create adds a course to the catalogue.
func (s *CourseService) Create(ctx context.Context, input CourseInput) (*models.Course, error) {
	ctx = ensureContext(ctx)

	course := models.Course{
		Title:    strings.TrimSpace(input.Title),
		Source:   strings.TrimSpace(input.Source),
		URL:      strings.TrimSpace(input.URL),
		LevelTag: strings.TrimSpace(input.LevelTag),
		Points:   input.Points,
	}
	if err := s.db.WithContext(ctx).Create(&course).Error; err != nil {
		return nil, fmt.Errorf("course service: create: %w", err)
	}

	return &course, nil
}

// Get returns a course by id.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	ctx = ensureContext(ctx)

	var course models.Course
	err := s.db.WithContext(ctx).Take(&course, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("course service: get: %w", err)
	}

	return &course, nil
}

// Update rewrites a course's fields. Changing the points value never rewrites
// history: existing ledger entries keep the value that was awarded at the time.
func (s *CourseService) Update(ctx context.Context, id string, input CourseInput) (*models.Course, error) {
	ctx = ensureContext(ctx)

	course, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{
		"title":     strings.TrimSpace(input.Title),
		"source":    strings.TrimSpace(input.Source),
		"url":       strings.TrimSpace(input.URL),
		"level_tag": strings.TrimSpace(input.LevelTag),
		"points":    input.Points,
	}
	if err := s.db.WithContext(ctx).Model(course).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("course service: update: %w", err)
	}

	return course, nil
}

// Delete removes a course. Completions referencing it are removed too, but the
// points already awarded remain on the ledger and on users.
func (s *CourseService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&models.Course{}, "id = ?", id)
		if result.Error != nil {
			return fmt.Errorf("course service: delete: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrCourseNotFound
		}

		if err := tx.Where("course_id = ?", id).
			Delete(&models.CourseCompletion{}).Error; err != nil {
			return fmt.Errorf("course service: delete completions: %w", err)
		}

		return nil
	})
}

// List returns courses matching the filter.
func (s *CourseService) List(ctx context.Context, filter CourseFilter) ([]models.Course, int64, error) {
	ctx = ensureContext(ctx)

	query := s.listQuery(ctx, filter)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("course service: count: %w", err)
	}

	page, perPage := normalisePage(filter.Page, filter.PerPage)

	var courses []models.Course
	if err := query.
		Order("title ASC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&courses).Error; err != nil {
		return nil, 0, fmt.Errorf("course service: list: %w", err)
	}

	return courses, total, nil
}

// ListWithStatus returns courses matching the filter, each annotated with
// whether the given user has completed it.
func (s *CourseService) ListWithStatus(ctx context.Context, userID string, filter CourseFilter) ([]CourseWithStatus, int64, error) {
	courses, total, err := s.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	var completions []models.CourseCompletion
	if err := s.db.WithContext(ensureContext(ctx)).
		Where("user_id = ?", userID).
		Find(&completions).Error; err != nil {
		return nil, 0, fmt.Errorf("course service: load completions: %w", err)
	}

	completed := make(map[string]struct{}, len(completions))
	for _, completion := range completions {
		completed[completion.CourseID] = struct{}{}
	}

	annotated := make([]CourseWithStatus, 0, len(courses))
	for _, course := range courses {
		_, done := completed[course.ID]
		annotated = append(annotated, CourseWithStatus{Course: course, Completed: done})
	}

	return annotated, total, nil
}

func (s *CourseService) listQuery(ctx context.Context, filter CourseFilter) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Course{})

	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(title) LIKE ?", pattern)
	}
	if tag := strings.TrimSpace(filter.LevelTag); tag != "" {
		query = query.Where("level_tag = ?", tag)
	}
	if source := strings.TrimSpace(filter.Source); source != "" {
		query = query.Where("source = ?", source)
	}

	return query
}
