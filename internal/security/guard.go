package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/learntrackhq/learntrack/internal/models"
	"github.com/learntrackhq/learntrack/pkg/logger"
	"github.com/learntrackhq/learntrack/pkg/metrics"
)

// Defaults for the sliding-window failed-login heuristic.
const (
	DefaultFailureThreshold = 5
	DefaultFailureWindow    = 15 * time.Minute
	DefaultBlockDuration    = 30 * time.Minute
)

// GuardConfig tunes the threat heuristic.
type GuardConfig struct {
	FailureThreshold int
	FailureWindow    time.Duration
	BlockDuration    time.Duration
	Clock            func() time.Time
}

// Event captures a single security event to persist.
type Event struct {
	Kind      string
	Username  string
	IPAddress string
	Detail    string
	Metadata  map[string]any
}

// EventFilters narrows security event queries.
type EventFilters struct {
	Kind      string
	Username  string
	IPAddress string
	Since     *time.Time
	Until     *time.Time
}

// EventListOptions controls pagination and filtering for event queries.
type EventListOptions struct {
	Page     int
	PageSize int
	Filters  EventFilters
}

// Guard owns the append-only security event log and the rate-based threat
// heuristic built on top of it. Counts are recomputed from durable rows on
// every evaluation, so a restart loses nothing.
type Guard struct {
	db        *gorm.DB
	threshold int
	window    time.Duration
	blockFor  time.Duration
	now       func() time.Time
	log       *zap.Logger
}

// NewGuard constructs a Guard backed by the provided database.
func NewGuard(db *gorm.DB, cfg GuardConfig) (*Guard, error) {
	if db == nil {
		return nil, errors.New("security guard: db is required")
	}

	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}

	window := cfg.FailureWindow
	if window <= 0 {
		window = DefaultFailureWindow
	}

	blockFor := cfg.BlockDuration
	if blockFor <= 0 {
		blockFor = DefaultBlockDuration
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &Guard{
		db:        db,
		threshold: threshold,
		window:    window,
		blockFor:  blockFor,
		now:       clock,
		log:       logger.WithModule("security"),
	}, nil
}

// RecordEvent appends a row to the security event log.
func (g *Guard) RecordEvent(ctx context.Context, event Event) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(event.Kind) == "" {
		return errors.New("security guard: event kind is required")
	}

	row := models.SecurityEvent{
		Kind:      strings.TrimSpace(event.Kind),
		Username:  strings.TrimSpace(event.Username),
		IPAddress: strings.TrimSpace(event.IPAddress),
		Detail:    strings.TrimSpace(event.Detail),
		CreatedAt: g.now(),
	}

	if event.Metadata != nil {
		encoded, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("security guard: marshal metadata: %w", err)
		}
		row.Metadata = encoded
	}

	return g.db.WithContext(ctx).Create(&row).Error
}

// RecordLoginAttempt logs the attempt and, on failure, runs the threat
// heuristic for the source address.
func (g *Guard) RecordLoginAttempt(ctx context.Context, username, ip string, success bool) error {
	ctx = ensureContext(ctx)

	kind := models.EventFailedLogin
	if success {
		kind = models.EventSuccessfulLogin
	}

	if err := g.RecordEvent(ctx, Event{
		Kind:      kind,
		Username:  username,
		IPAddress: ip,
	}); err != nil {
		return err
	}

	if success {
		return nil
	}

	_, err := g.Evaluate(ctx, ip)
	return err
}

// Evaluate recounts the current streak of failed logins for the address and
// blocks it when the threshold is breached. Only failures after the address's
// most recent successful login count, so a genuine login resets the streak.
// Returns true when the subject is (now) blocked.
func (g *Guard) Evaluate(ctx context.Context, ip string) (bool, error) {
	ctx = ensureContext(ctx)

	ip = strings.TrimSpace(ip)
	if ip == "" {
		return false, nil
	}

	now := g.now()

	blocked, err := g.IsBlocked(ctx, ip)
	if err != nil {
		return false, err
	}
	if blocked {
		return true, nil
	}

	query := g.db.WithContext(ctx).
		Model(&models.SecurityEvent{}).
		Where("ip_address = ? AND kind = ? AND created_at >= ?", ip, models.EventFailedLogin, now.Add(-g.window))

	var lastSuccess models.SecurityEvent
	if err := g.db.WithContext(ctx).
		Where("ip_address = ? AND kind = ?", ip, models.EventSuccessfulLogin).
		Order("created_at DESC").
		Limit(1).
		Find(&lastSuccess).Error; err != nil {
		return false, fmt.Errorf("security guard: find last success: %w", err)
	}
	if lastSuccess.ID != "" {
		query = query.Where("created_at > ?", lastSuccess.CreatedAt)
	}

	var failures int64
	if err := query.Count(&failures).Error; err != nil {
		return false, fmt.Errorf("security guard: count failures: %w", err)
	}

	if failures < int64(g.threshold) {
		return false, nil
	}

	detail := fmt.Sprintf("%d failed logins within %s", failures, g.window)

	if err := g.RecordEvent(ctx, Event{
		Kind:      models.EventSuspiciousActivity,
		IPAddress: ip,
		Detail:    detail,
		Metadata:  map[string]any{"failures": failures, "window": g.window.String()},
	}); err != nil {
		return false, err
	}

	if err := g.upsertBlock(ctx, ip, now.Add(g.blockFor), detail, "threat-heuristic"); err != nil {
		return false, err
	}

	if err := g.RecordEvent(ctx, Event{
		Kind:      models.EventIPBlocked,
		IPAddress: ip,
		Detail:    fmt.Sprintf("blocked until %s", now.Add(g.blockFor).UTC().Format(time.RFC3339)),
	}); err != nil {
		return false, err
	}

	metrics.IPBlocks.WithLabelValues("heuristic").Inc()
	g.log.Warn("ip blocked",
		zap.String("ip", ip),
		zap.Int64("failures", failures),
		zap.Duration("window", g.window),
	)

	return true, nil
}

// IsBlocked reports whether an unexpired block exists for the address.
func (g *Guard) IsBlocked(ctx context.Context, ip string) (bool, error) {
	ctx = ensureContext(ctx)

	ip = strings.TrimSpace(ip)
	if ip == "" {
		return false, nil
	}

	var count int64
	err := g.db.WithContext(ctx).
		Model(&models.IPBlock{}).
		Where("ip_address = ? AND blocked_until > ?", ip, g.now()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("security guard: check block: %w", err)
	}

	return count > 0, nil
}

// BlockIP creates or extends a block, recording the originating actor.
func (g *Guard) BlockIP(ctx context.Context, ip string, duration time.Duration, reason, createdBy string) error {
	ctx = ensureContext(ctx)

	ip = strings.TrimSpace(ip)
	if ip == "" {
		return errors.New("security guard: ip is required")
	}
	if duration <= 0 {
		duration = g.blockFor
	}

	until := g.now().Add(duration)
	if err := g.upsertBlock(ctx, ip, until, reason, createdBy); err != nil {
		return err
	}

	metrics.IPBlocks.WithLabelValues("admin").Inc()

	return g.RecordEvent(ctx, Event{
		Kind:      models.EventIPBlocked,
		IPAddress: ip,
		Detail:    strings.TrimSpace(reason),
		Metadata:  map[string]any{"created_by": createdBy, "blocked_until": until.UTC().Format(time.RFC3339)},
	})
}

// UnblockIP lifts an active block by expiring it immediately.
func (g *Guard) UnblockIP(ctx context.Context, ip string) error {
	ctx = ensureContext(ctx)

	ip = strings.TrimSpace(ip)
	if ip == "" {
		return errors.New("security guard: ip is required")
	}

	return g.db.WithContext(ctx).
		Model(&models.IPBlock{}).
		Where("ip_address = ? AND blocked_until > ?", ip, g.now()).
		Update("blocked_until", g.now()).Error
}

// ListBlocks returns blocks that are still in effect.
func (g *Guard) ListBlocks(ctx context.Context) ([]models.IPBlock, error) {
	ctx = ensureContext(ctx)

	var blocks []models.IPBlock
	err := g.db.WithContext(ctx).
		Where("blocked_until > ?", g.now()).
		Order("blocked_until DESC").
		Find(&blocks).Error
	if err != nil {
		return nil, fmt.Errorf("security guard: list blocks: %w", err)
	}
	return blocks, nil
}

// ListEvents returns paginated security events ordered by creation time descending.
func (g *Guard) ListEvents(ctx context.Context, opts EventListOptions) ([]models.SecurityEvent, int64, error) {
	ctx = ensureContext(ctx)

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	query := g.db.WithContext(ctx).Model(&models.SecurityEvent{})
	query = applyEventFilters(query, opts.Filters)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("security guard: count events: %w", err)
	}

	var events []models.SecurityEvent
	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&events).Error; err != nil {
		return nil, 0, fmt.Errorf("security guard: list events: %w", err)
	}

	return events, total, nil
}

// CleanupEvents removes events older than the supplied retention window (in days).
func (g *Guard) CleanupEvents(ctx context.Context, retentionDays int) (int64, error) {
	ctx = ensureContext(ctx)

	if retentionDays <= 0 {
		return 0, errors.New("security guard: retentionDays must be positive")
	}

	cutoff := g.now().AddDate(0, 0, -retentionDays)

	result := g.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.SecurityEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("security guard: cleanup events: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// CleanupExpiredBlocks sweeps blocks whose window has elapsed.
func (g *Guard) CleanupExpiredBlocks(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	result := g.db.WithContext(ctx).
		Where("blocked_until <= ?", g.now()).
		Delete(&models.IPBlock{})
	if result.Error != nil {
		return 0, fmt.Errorf("security guard: cleanup blocks: %w", result.Error)
	}

	return result.RowsAffected, nil
}

func (g *Guard) upsertBlock(ctx context.Context, ip string, until time.Time, reason, createdBy string) error {
	block := models.IPBlock{
		IPAddress:    ip,
		BlockedUntil: until,
		Reason:       strings.TrimSpace(reason),
		CreatedBy:    strings.TrimSpace(createdBy),
	}

	err := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ip_address"}},
			DoUpdates: clause.AssignmentColumns([]string{"blocked_until", "reason", "created_by", "updated_at"}),
		}).
		Create(&block).Error
	if err != nil {
		return fmt.Errorf("security guard: upsert block: %w", err)
	}
	return nil
}

func applyEventFilters(query *gorm.DB, filters EventFilters) *gorm.DB {
	if filters.Kind != "" {
		query = query.Where("kind = ?", filters.Kind)
	}
	if filters.Username != "" {
		query = query.Where("username = ?", filters.Username)
	}
	if filters.IPAddress != "" {
		query = query.Where("ip_address = ?", filters.IPAddress)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", *filters.Since)
	}
	if filters.Until != nil {
		query = query.Where("created_at <= ?", *filters.Until)
	}
	return query
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
