package engine

import (
	"context"
	"time"

	"leadflow/models"

	"gorm.io/gorm"
)

// selector picks the bounded batch of leads eligible for processing now.
// Three eligibility classes are combined with OR semantics: never
// attempted, due for the next step, and retriable failure. All require the
// sequence to be active and automation enabled.
type selector struct {
	db  *gorm.DB
	cfg Config
	now func() time.Time
}

// reclaimStale reclassifies leads stuck in "sending" (a crash between the
// sending mark and the outcome write) as failed so the retry path picks
// them up, instead of leaving them silently stuck forever.
func (s *selector) reclaimStale(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.SendingStaleAfter)
	res := s.db.WithContext(ctx).Model(&models.Lead{}).
		Where("delivery_status = ?", models.DeliverySending).
		Where("last_attempt_at IS NOT NULL AND last_attempt_at < ?", cutoff).
		Updates(map[string]interface{}{
			"delivery_status": models.DeliveryFailed,
			"last_error":      "send interrupted, reclaimed as retriable",
		})
	return res.RowsAffected, res.Error
}

// dueLeads returns up to BatchSize eligible leads, oldest-due-first so no
// lead starves behind newer ones.
func (s *selector) dueLeads(ctx context.Context) ([]models.Lead, error) {
	now := s.now()
	retryCutoff := now.Add(-s.cfg.RetryDelay)

	db := s.db.WithContext(ctx)

	neverAttempted := db.Where("delivery_status IN ?", []string{models.DeliveryReady, ""})
	dueForNext := db.Where(
		"delivery_status = ? AND next_scheduled_at IS NOT NULL AND next_scheduled_at <= ?",
		models.DeliverySent, now,
	)
	retriable := db.Where(
		"delivery_status = ? AND retry_count < ? AND (last_attempt_at IS NULL OR last_attempt_at <= ?)",
		models.DeliveryFailed, s.cfg.MaxRetryAttempts, retryCutoff,
	)

	var leads []models.Lead
	err := db.
		Where("sequence_active = ? AND automation_enabled = ?", true, true).
		Where(neverAttempted.Or(dueForNext).Or(retriable)).
		Order("CASE WHEN next_scheduled_at IS NULL THEN 0 ELSE 1 END, next_scheduled_at ASC, id ASC").
		Limit(s.cfg.BatchSize).
		Find(&leads).Error
	if err != nil {
		return nil, err
	}
	return leads, nil
}
