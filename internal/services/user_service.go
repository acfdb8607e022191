package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/learntrackhq/learntrack/internal/levels"
	"github.com/learntrackhq/learntrack/internal/models"
	"github.com/learntrackhq/learntrack/pkg/crypto"
	apperrors "github.com/learntrackhq/learntrack/pkg/errors"
	"github.com/learntrackhq/learntrack/pkg/logger"
)

// ErrUserExists rejects a registration reusing a taken username or email.
var ErrUserExists = apperrors.New("USER_EXISTS", "Username or email is already in use", http.StatusConflict)

// CreateUserInput carries the fields of a new account.
type CreateUserInput struct {
	Username string `json:"username" validate:"required,min=3,max=64,alphanum"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	IsAdmin  bool   `json:"is_admin"`
}

// UserFilter narrows user listings.
type UserFilter struct {
	Search  string
	Level   string
	Active  *bool
	Page    int
	PerPage int
}

// UserService manages account lifecycle. Points and level state on users is
// owned by the progress service; this service only initialises it.
type UserService struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewUserService constructs a UserService.
func NewUserService(db *gorm.DB) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{db: db, log: logger.WithModule("users")}, nil
}

// Create registers a new account with a hashed password and the lowest level.
func (s *UserService) Create(ctx context.Context, input CreateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	hash, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("user service: hash password: %w", err)
	}

	user := models.User{
		Username: strings.ToLower(strings.TrimSpace(input.Username)),
		Email:    strings.ToLower(strings.TrimSpace(input.Email)),
		Password: hash,
		IsAdmin:  input.IsAdmin,
		IsActive: true,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var thresholds []models.LevelThreshold
		if err := tx.Order("display_order ASC").Find(&thresholds).Error; err != nil {
			return fmt.Errorf("user service: load thresholds: %w", err)
		}
		if snapshot, err := levels.Calculate(0, thresholds); err == nil {
			user.Level = snapshot.CurrentLevel
		}

		if err := tx.Create(&user).Error; err != nil {
			if isUniqueConstraintError(err) {
				return ErrUserExists
			}
			return fmt.Errorf("user service: create: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("user created",
		zap.String("user_id", user.ID),
		zap.String("username", user.Username),
		zap.Bool("is_admin", user.IsAdmin),
	)

	return &user, nil
}

// GetByID returns a user by id.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get: %w", err)
	}

	return &user, nil
}

// GetByUsername returns a user by username, case-insensitively.
func (s *UserService) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).
		Where("LOWER(username) = ?", strings.ToLower(strings.TrimSpace(username))).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get by username: %w", err)
	}

	return &user, nil
}

// List returns users matching the filter, ordered by username.
func (s *UserService) List(ctx context.Context, filter UserFilter) ([]models.User, int64, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).Model(&models.User{})

	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(username) LIKE ? OR LOWER(email) LIKE ?", pattern, pattern)
	}
	if level := strings.TrimSpace(filter.Level); level != "" {
		query = query.Where("level = ?", level)
	}
	if filter.Active != nil {
		query = query.Where("is_active = ?", *filter.Active)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: count: %w", err)
	}

	page, perPage := normalisePage(filter.Page, filter.PerPage)

	var users []models.User
	if err := query.
		Order("username ASC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: list: %w", err)
	}

	return users, total, nil
}

// SetActive enables or disables an account. Disabling is refused for admins.
func (s *UserService) SetActive(ctx context.Context, id string, active bool) error {
	ctx = ensureContext(ctx)

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if user.IsAdmin && !active {
		return ErrAdminImmutable
	}

	if err := s.db.WithContext(ctx).Model(user).Update("is_active", active).Error; err != nil {
		return fmt.Errorf("user service: set active: %w", err)
	}

	return nil
}

// SetAdmin grants or revokes the admin flag.
func (s *UserService) SetAdmin(ctx context.Context, id string, admin bool) error {
	ctx = ensureContext(ctx)

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Model(user).Update("is_admin", admin).Error; err != nil {
		return fmt.Errorf("user service: set admin: %w", err)
	}

	return nil
}

// Delete removes an account and its dependent rows. Admin accounts are refused;
// revoke the flag first.
func (s *UserService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if user.IsAdmin {
		return ErrAdminImmutable
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{
			&models.Session{},
			&models.CourseCompletion{},
			&models.PointsLogEntry{},
		} {
			if err := tx.Where("user_id = ?", id).Delete(model).Error; err != nil {
				return fmt.Errorf("user service: delete dependents: %w", err)
			}
		}
		if err := tx.Delete(&models.User{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("user service: delete: %w", err)
		}
		return nil
	})
}

// EnsureAdmin guarantees a usable admin account at startup. An existing
// account with the username is promoted if needed; otherwise one is created
// with the supplied password.
func (s *UserService) EnsureAdmin(ctx context.Context, username, email, password string) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.GetByUsername(ctx, username)
	if err == nil {
		if !user.IsAdmin || !user.IsActive {
			if err := s.db.WithContext(ctx).Model(user).Updates(map[string]any{
				"is_admin":  true,
				"is_active": true,
			}).Error; err != nil {
				return nil, fmt.Errorf("user service: promote admin: %w", err)
			}
			user.IsAdmin = true
			user.IsActive = true
		}
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	created, err := s.Create(ctx, CreateUserInput{
		Username: username,
		Email:    email,
		Password: password,
		IsAdmin:  true,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("admin account bootstrapped", zap.String("username", created.Username))
	return created, nil
}

// Touch updates the user's last-login markers.
func (s *UserService) Touch(ctx context.Context, id, ip string, at time.Time) error {
	ctx = ensureContext(ctx)

	return s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_login_at": at,
			"last_login_ip": ip,
		}).Error
}
