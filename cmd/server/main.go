package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/learntrackhq/learntrack/internal/api"
	"github.com/learntrackhq/learntrack/internal/app"
	"github.com/learntrackhq/learntrack/internal/app/maintenance"
	"github.com/learntrackhq/learntrack/internal/auth"
	"github.com/learntrackhq/learntrack/internal/cache"
	"github.com/learntrackhq/learntrack/internal/database"
	"github.com/learntrackhq/learntrack/internal/security"
	"github.com/learntrackhq/learntrack/internal/services"
	"github.com/learntrackhq/learntrack/pkg/crypto"
	"github.com/learntrackhq/learntrack/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("learntrack-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	store := cache.NewDatabaseStore(db)

	guard, err := security.NewGuard(db, security.GuardConfig{
		FailureThreshold: cfg.Security.FailureThreshold,
		FailureWindow:    cfg.Security.FailureWindow,
		BlockDuration:    cfg.Security.BlockDuration,
	})
	if err != nil {
		return fmt.Errorf("initialise security guard: %w", err)
	}

	sessions, err := auth.NewSessionService(db, guard, auth.SessionConfig{
		TTL:         cfg.Auth.Session.TTL,
		TokenLength: cfg.Auth.Session.TokenLength,
		Sliding:     cfg.Auth.Session.Sliding,
		WarnWindow:  cfg.Auth.Session.WarnWindow,
	})
	if err != nil {
		return fmt.Errorf("initialise session service: %w", err)
	}

	authenticator, err := auth.NewPasswordAuthenticator(db, guard, sessions, nil)
	if err != nil {
		return fmt.Errorf("initialise authenticator: %w", err)
	}

	users, err := services.NewUserService(db)
	if err != nil {
		return fmt.Errorf("initialise user service: %w", err)
	}
	courses, err := services.NewCourseService(db)
	if err != nil {
		return fmt.Errorf("initialise course service: %w", err)
	}
	progress, err := services.NewProgressService(db, services.ProgressConfig{
		AllowLevelRegression: cfg.Progress.AllowLevelRegression,
	})
	if err != nil {
		return fmt.Errorf("initialise progress service: %w", err)
	}
	thresholds, err := services.NewThresholdService(db, nil)
	if err != nil {
		return fmt.Errorf("initialise threshold service: %w", err)
	}

	if err := bootstrapAdmin(ctx, cfg, users, log); err != nil {
		return err
	}

	if cfg.Maintenance.Enabled {
		cleaner := maintenance.NewCleaner(sessions, guard, store,
			maintenance.WithEventRetentionDays(cfg.Security.EventRetention),
			maintenance.WithSessionSchedule(cfg.Maintenance.SessionSchedule),
			maintenance.WithEventSchedule(cfg.Maintenance.EventSchedule),
		)
		if err := cleaner.Start(); err != nil {
			return fmt.Errorf("start maintenance jobs: %w", err)
		}
		defer func() {
			stopCtx := cleaner.Stop()
			if err := cleaner.RunOnce(stopCtx); err != nil {
				log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
			}
		}()
	}

	router, err := api.NewRouter(db, cfg, api.Services{
		Users:         users,
		Courses:       courses,
		Progress:      progress,
		Thresholds:    thresholds,
		Sessions:      sessions,
		Authenticator: authenticator,
		Guard:         guard,
		Cache:         store,
	})
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.DatabaseOptions()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected",
		zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

// bootstrapAdmin guarantees a usable admin account on first start. When no
// password is configured and the account does not exist yet, a random one is
// generated and printed once to the log.
func bootstrapAdmin(ctx context.Context, cfg *app.Config, users *services.UserService, log *zap.Logger) error {
	username := strings.TrimSpace(cfg.Admin.Username)
	if username == "" {
		return nil
	}

	password := cfg.Admin.Password
	generated := false
	if password == "" {
		random, err := crypto.GenerateToken(18)
		if err != nil {
			return fmt.Errorf("generate admin password: %w", err)
		}
		password = random
		generated = true
	}

	admin, err := users.EnsureAdmin(ctx, username, cfg.Admin.Email, password)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	if generated && admin.CreatedAt.Equal(admin.UpdatedAt) {
		log.Warn("generated admin password; change it after first login",
			zap.String("username", admin.Username),
			zap.String("password", password),
		)
	}

	return nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("unable to access database handle during shutdown", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("database close failed", zap.Error(err))
	}
}
