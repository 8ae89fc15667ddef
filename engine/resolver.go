package engine

import (
	"context"
	"fmt"
	"time"

	"leadflow/models"

	"gorm.io/gorm"
)

// resolveStage decides the next stage to attempt for a lead based on its
// history. The count of "sent" entries selects the stage; seven sends means
// the sequence is complete, and a lead past the failure ceiling is
// terminated instead of dispatched.
func resolveStage(lead *models.Lead, attempts []models.SequenceAttempt, cfg Config) (Stage, error) {
	if lead.FailureCount >= cfg.MaxRetryAttempts {
		return "", ErrRetryBudgetExhausted
	}

	sent := 0
	for _, a := range attempts {
		if a.Status == models.AttemptSent {
			sent++
		}
	}

	stage, ok := StageForSentCount(sent)
	if !ok {
		return "", ErrSequenceComplete
	}
	return stage, nil
}

// checkDuplicateWindow suppresses dispatch when any send falls inside the
// window ending at now, so rapid double invocation can neither repeat a
// stage nor advance one early.
func checkDuplicateWindow(attempts []models.SequenceAttempt, window time.Duration, now time.Time) error {
	windowStart := now.Add(-window)
	for _, a := range attempts {
		if a.Status == models.AttemptSent && a.SentAt.After(windowStart) {
			return ErrRecentDuplicate
		}
	}
	return nil
}

// templateResolver resolves templates and timing settings with
// owner-over-global precedence. Results are cached for the lifetime of one
// batch run only; owners can edit templates between runs.
type templateResolver struct {
	db        *gorm.DB
	templates map[string]*models.SequenceTemplate
	timings   map[string]*models.TimingEntry
}

func newTemplateResolver(db *gorm.DB) *templateResolver {
	return &templateResolver{
		db:        db,
		templates: make(map[string]*models.SequenceTemplate),
		timings:   make(map[string]*models.TimingEntry),
	}
}

func cacheKey(userID uint, stage Stage) string {
	return fmt.Sprintf("%d:%s", userID, stage)
}

// template returns the active template for (owner, stage): owner-specific
// first, then global. A missing template is a configuration error for this
// stage, never a silent fallback to another stage's template.
func (r *templateResolver) template(ctx context.Context, userID uint, stage Stage) (*models.SequenceTemplate, error) {
	key := cacheKey(userID, stage)
	if tmpl, ok := r.templates[key]; ok {
		if tmpl == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoTemplate, stage)
		}
		return tmpl, nil
	}

	var tmpl models.SequenceTemplate
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND stage = ? AND is_active = ?", userID, string(stage), true).
		First(&tmpl).Error
	if err == gorm.ErrRecordNotFound {
		err = r.db.WithContext(ctx).
			Where("user_id IS NULL AND stage = ? AND is_active = ?", string(stage), true).
			First(&tmpl).Error
	}
	if err == gorm.ErrRecordNotFound {
		r.templates[key] = nil
		return nil, fmt.Errorf("%w: %s", ErrNoTemplate, stage)
	}
	if err != nil {
		return nil, fmt.Errorf("template lookup failed: %w", err)
	}

	r.templates[key] = &tmpl
	return &tmpl, nil
}

// timing returns the timing entry for (owner, stage), owner-specific over
// global, or nil when no entry exists (the caller falls back to the default
// stage delay).
func (r *templateResolver) timing(ctx context.Context, userID uint, stage Stage) (*models.TimingEntry, error) {
	key := cacheKey(userID, stage)
	if entry, ok := r.timings[key]; ok {
		return entry, nil
	}

	var entry models.TimingEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND stage = ?", userID, string(stage)).
		First(&entry).Error
	if err == gorm.ErrRecordNotFound {
		err = r.db.WithContext(ctx).
			Where("user_id IS NULL AND stage = ?", string(stage)).
			First(&entry).Error
	}
	if err == gorm.ErrRecordNotFound {
		r.timings[key] = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("timing lookup failed: %w", err)
	}

	r.timings[key] = &entry
	return &entry, nil
}

// duplicateWindow is the suppression window for sending the given stage:
// the configured window, capped at the stage's own timing so a schedule
// shorter than the window is still honored.
func (r *templateResolver) duplicateWindow(ctx context.Context, userID uint, stage Stage, cfg Config) time.Duration {
	window := cfg.DuplicateWindow
	entry, err := r.timing(ctx, userID, stage)
	if err != nil || entry == nil {
		return window
	}
	if d := entry.Duration(); d > 0 && d < window {
		window = d
	}
	return window
}
