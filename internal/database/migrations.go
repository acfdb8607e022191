package database

import (
	"gorm.io/gorm"

	"github.com/learntrackhq/learntrack/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Course{},
		&models.CourseCompletion{},
		&models.PointsLogEntry{},
		&models.LevelThreshold{},
		&models.Session{},
		&models.SecurityEvent{},
		&models.IPBlock{},
		&models.CacheEntry{},
	)
}

// SeedData populates the default level table when none has been configured.
func SeedData(db *gorm.DB) error {
	defaults := []models.LevelThreshold{
		{Name: "Beginner", PointsRequired: 0, DisplayOrder: 0},
		{Name: "Learner", PointsRequired: 100, DisplayOrder: 1},
		{Name: "Intermediate", PointsRequired: 300, DisplayOrder: 2},
		{Name: "Expert", PointsRequired: 600, DisplayOrder: 3},
	}

	for _, threshold := range defaults {
		if err := db.
			Where(models.LevelThreshold{Name: threshold.Name}).
			Attrs(threshold).
			FirstOrCreate(&models.LevelThreshold{}).Error; err != nil {
			return err
		}
	}

	return nil
}
