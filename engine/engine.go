package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"leadflow/models"

	"github.com/badoux/checkmail"
	sentry "github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Engine drives the email sequence for every eligible lead: one invocation
// selects a bounded batch, resolves each lead's next stage, renders and
// sends the email, and writes the outcome back. It holds no in-memory job
// state; every run is a persisted AutomationRun row.
type Engine struct {
	db        *gorm.DB
	cfg       Config
	mailer    Mailer
	generator ContentGenerator
	logger    *logrus.Logger
	leases    *leaseManager
	renderer  *renderer

	// Now is the clock, replaceable in tests.
	Now func() time.Time

	progress func(Summary)
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	outcomeSkipped
	outcomeHalted
)

// New builds an Engine. rdb may be nil; leases then fall back to the
// database claim column.
func New(db *gorm.DB, mailer Mailer, generator ContentGenerator, rdb *redis.Client, cfg Config, logger *logrus.Logger) *Engine {
	now := time.Now
	e := &Engine{
		db:        db,
		cfg:       cfg,
		mailer:    mailer,
		generator: generator,
		logger:    logger,
		renderer:  &renderer{generator: generator},
		Now:       now,
	}
	e.leases = &leaseManager{rdb: rdb, db: db, ttl: cfg.LeaseTTL, now: func() time.Time { return e.Now() }}
	return e
}

// SetProgress registers a hook invoked with the running summary after each
// processed lead (used by the progress websocket).
func (e *Engine) SetProgress(fn func(Summary)) {
	e.progress = fn
}

// ProcessBatch runs one batch. It is safe to invoke concurrently or in
// rapid succession: the due-check is idempotent and every lead is claimed
// under a lease before the sending transition. One lead's failure never
// aborts the batch.
func (e *Engine) ProcessBatch(ctx context.Context, triggeredBy string) (*Summary, error) {
	now := e.Now()
	run := models.AutomationRun{
		Status:      models.RunRunning,
		TriggeredBy: triggeredBy,
		StartedAt:   &now,
	}
	if err := e.db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, fmt.Errorf("failed to create run record: %w", err)
	}

	sel := &selector{db: e.db, cfg: e.cfg, now: func() time.Time { return e.Now() }}

	if reclaimed, err := sel.reclaimStale(ctx); err != nil {
		e.logger.WithError(err).Error("failed to reclaim stale sending leads")
	} else if reclaimed > 0 {
		e.logger.WithField("count", reclaimed).Warn("reclaimed leads stuck in sending state")
	}

	leads, err := sel.dueLeads(ctx)
	if err != nil {
		e.finishRun(&run, models.RunFailed, err.Error())
		return nil, fmt.Errorf("failed to select due leads: %w", err)
	}

	summary := Summary{RunID: run.ID, Eligible: len(leads)}
	resolver := newTemplateResolver(e.db)

	for i := range leads {
		if i > 0 {
			// Fixed pacing between sends protects the owners' SMTP
			// reputations; it is not an optimization knob.
			select {
			case <-ctx.Done():
				e.finishRun(&run, models.RunFailed, ctx.Err().Error())
				return &summary, ctx.Err()
			case <-time.After(e.cfg.SendDelay):
			}
		}

		lead := &leads[i]
		wasRetry := lead.DeliveryStatus == models.DeliveryFailed

		out, reason := e.processLead(ctx, lead, resolver)

		summary.Processed++
		switch out {
		case outcomeSent:
			summary.Succeeded++
			if wasRetry {
				summary.Retried++
			}
		case outcomeFailed:
			summary.Failed++
			summary.Failures = append(summary.Failures, LeadFailure{LeadID: lead.ID, Email: lead.Email, Reason: reason})
		case outcomeSkipped:
			summary.Skipped++
		case outcomeHalted:
			summary.Skipped++
			if reason != "" {
				summary.Failures = append(summary.Failures, LeadFailure{LeadID: lead.ID, Email: lead.Email, Reason: reason})
			}
		}

		e.persistRunProgress(&run, &summary, i+1)
		if e.progress != nil {
			e.progress(summary)
		}
	}

	e.StoreFailureDetail(run.ID, summary.Failures)
	e.finishRun(&run, models.RunCompleted, "")
	e.logger.WithFields(logrus.Fields{
		"run_id":    run.ID,
		"eligible":  summary.Eligible,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"retried":   summary.Retried,
		"skipped":   summary.Skipped,
	}).Info("automation batch completed")

	return &summary, nil
}

// processLead takes one lead through guard checks, stage resolution,
// rendering and dispatch. It returns how the lead ended up and, for
// failures and halts, a human-readable reason.
func (e *Engine) processLead(ctx context.Context, lead *models.Lead, resolver *templateResolver) (outcome, string) {
	now := e.Now()
	log := e.logger.WithFields(logrus.Fields{"lead_id": lead.ID, "email": lead.Email})

	// Data errors are skips, not send failures: retrying a malformed lead
	// can never succeed without external correction, so the retry budget
	// is not consumed.
	if lead.Email == "" || checkmail.ValidateFormat(lead.Email) != nil {
		log.Warn("lead has a missing or malformed email address, skipping")
		e.db.WithContext(ctx).Model(lead).Update("last_error", "missing or malformed email address")
		return outcomeSkipped, ""
	}

	// Manual-override guard, part 1: a human moved the lead to a terminal
	// pipeline stage.
	switch lead.PipelineStage {
	case models.PipelineMeeting, models.PipelineDeal, models.PipelineLost:
		reason := fmt.Sprintf("Moved to %s stage", lead.PipelineStage)
		e.haltSequence(ctx, lead, reason)
		log.WithField("reason", reason).Info("sequence halted by manual override")
		return outcomeHalted, reason
	}

	var attempts []models.SequenceAttempt
	if err := e.db.WithContext(ctx).
		Where("lead_id = ?", lead.ID).
		Order("sent_at ASC").
		Find(&attempts).Error; err != nil {
		log.WithError(err).Error("failed to load attempt history")
		return outcomeSkipped, ""
	}

	sentCount := countSent(attempts)

	stage, err := resolveStage(lead, attempts, e.cfg)
	switch {
	case errors.Is(err, ErrSequenceComplete):
		e.completeSequence(ctx, lead)
		log.Info("sequence complete, 7 emails sent")
		return outcomeHalted, ""
	case errors.Is(err, ErrRetryBudgetExhausted):
		e.terminateExhausted(ctx, lead)
		log.Warn("sequence terminated, max retry attempts exceeded")
		return outcomeHalted, "max retry attempts exceeded"
	case err != nil:
		log.WithError(err).Error("stage resolution failed")
		return outcomeSkipped, ""
	}

	window := resolver.duplicateWindow(ctx, lead.UserID, stage, e.cfg)
	if checkDuplicateWindow(attempts, window, now) != nil {
		log.Debug("recent send inside the duplicate window, skipping this cycle")
		return outcomeSkipped, ""
	}

	// Manual-override guard, part 2: the stored stage no longer matches
	// what the sequence would naturally produce. Halt rather than
	// overwrite the human's change.
	if expected := expectedStoredStage(sentCount); lead.CurrentStage != expected && (lead.CurrentStage != "" || sentCount > 0) {
		reason := fmt.Sprintf("Stage changed manually to %q", lead.CurrentStage)
		e.haltSequence(ctx, lead, reason)
		log.WithField("reason", reason).Info("sequence halted by manual override")
		return outcomeHalted, reason
	}

	claimed, err := e.leases.acquire(ctx, lead.ID)
	if err != nil {
		log.WithError(err).Error("lease acquisition failed")
		return outcomeSkipped, ""
	}
	if !claimed {
		log.Debug("lead claimed by another run, skipping")
		return outcomeSkipped, ""
	}
	defer e.leases.release(ctx, lead.ID)

	tmpl, err := resolver.template(ctx, lead.UserID, stage)
	if err != nil {
		// Missing configuration still consumes retry budget so a
		// misconfigured lead surfaces instead of looping silently.
		return e.recordFailure(ctx, lead, stage, err)
	}

	var profile models.CompanyProfile
	e.db.WithContext(ctx).Where("user_id = ?", lead.UserID).First(&profile)

	var sender *models.Sender
	var s models.Sender
	serr := e.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", lead.UserID, true).
		Order("id ASC").
		First(&s).Error
	if serr == nil {
		sender = &s
	} else if errors.Is(serr, gorm.ErrRecordNotFound) {
		if !e.cfg.AllowFallbackTransport {
			return e.recordFailure(ctx, lead, stage, ErrNoSender)
		}
	} else {
		log.WithError(serr).Error("sender lookup failed")
		return outcomeSkipped, ""
	}

	// Mark the attempt before any network call so a crash mid-send is
	// visible as a stale "sending" row, not a silent loss.
	if err := e.db.WithContext(ctx).Model(lead).Updates(map[string]interface{}{
		"delivery_status": models.DeliverySending,
		"last_attempt_at": now,
	}).Error; err != nil {
		log.WithError(err).Error("failed to mark lead as sending")
		return outcomeSkipped, ""
	}
	lead.LastAttemptAt = &now

	rendered, err := e.renderer.render(ctx, tmpl, RenderContext{Lead: *lead, Profile: profile, Sender: sender})
	if err != nil {
		return e.recordFailure(ctx, lead, stage, err)
	}

	to := lead.Email
	if lead.UseCompanyEmail && lead.ContactEmail != "" {
		to = lead.ContactEmail
	}

	fromName := profile.SenderName
	fromEmail := profile.SenderEmail
	if sender != nil {
		fromName = sender.FromName
		fromEmail = sender.FromEmail
	}
	if lead.UseAuthorIdentity {
		fromName = AuthorName(*lead)
	}

	messageID, err := e.mailer.Send(ctx, sender, OutboundMessage{
		To:        to,
		FromName:  fromName,
		FromEmail: fromEmail,
		Subject:   rendered.Subject,
		HTMLBody:  rendered.HTMLBody,
		TextBody:  rendered.TextBody,
		Headers: map[string]string{
			"X-Leadflow-Lead-ID": fmt.Sprintf("%d", lead.ID),
			"X-Leadflow-Stage":   string(stage),
			"X-Leadflow-Retry":   fmt.Sprintf("%d", lead.RetryCount),
		},
	})
	if err != nil {
		return e.recordFailure(ctx, lead, stage, err)
	}

	if err := e.recordSuccess(ctx, lead, stage, sentCount, rendered, messageID, resolver, sender); err != nil {
		log.WithError(err).Error("failed to record send outcome")
		sentry.CaptureException(err)
		return outcomeFailed, fmt.Sprintf("send succeeded but outcome write failed: %v", err)
	}

	log.WithFields(logrus.Fields{"stage": stage, "message_id": messageID}).Info("sequence email sent")
	return outcomeSent, ""
}

// recordSuccess applies the full success outcome as one transaction:
// history entry with content snapshot, schedule for the following stage,
// and reset retry bookkeeping.
func (e *Engine) recordSuccess(ctx context.Context, lead *models.Lead, stage Stage, priorSent int, rendered *RenderedEmail, messageID string, resolver *templateResolver, sender *models.Sender) error {
	now := e.Now()
	newSent := priorSent + 1

	var nextAt *time.Time
	if newSent < SequenceLength {
		nextStage := Stages[newSent]
		delay := e.cfg.DefaultStageDelay
		if entry, err := resolver.timing(ctx, lead.UserID, nextStage); err == nil && entry != nil {
			delay = entry.Duration()
		}
		t := now.Add(delay)
		nextAt = &t
	}

	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attempt := models.SequenceAttempt{
			LeadID:     lead.ID,
			UserID:     lead.UserID,
			Stage:      string(stage),
			Status:     models.AttemptSent,
			MessageID:  messageID,
			RetryCount: lead.RetryCount,
			SentAt:     now,
			Subject:    rendered.Subject,
			HTMLBody:   rendered.HTMLBody,
			TextBody:   rendered.TextBody,
		}
		if err := tx.Create(&attempt).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{
			"current_stage":     string(stage),
			"current_step":      stage.Index(),
			"retry_count":       0,
			"failure_count":     0,
			"last_error":        nil,
			"stopped_reason":    nil,
			"last_attempt_at":   now,
			"next_scheduled_at": nextAt,
			"delivery_status":   models.DeliverySent,
		}
		if newSent >= SequenceLength {
			updates["delivery_status"] = models.DeliveryCompleted
			updates["sequence_active"] = false
			updates["stopped_reason"] = "7 emails sent"
			updates["next_scheduled_at"] = nil
		}
		if err := tx.Model(lead).Updates(updates).Error; err != nil {
			return err
		}

		if sender != nil {
			if err := tx.Model(&models.Sender{}).
				Where("id = ?", sender.ID).
				Update("total_sent", gorm.Expr("total_sent + ?", 1)).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// recordFailure applies the failure outcome as one transaction: error-log
// entry, bumped counters, and the terminal max-retries transition when
// the ceiling is reached. The history log records sends only; failures
// live in the error log, and the stage and schedule are left untouched so
// the same stage is retried.
func (e *Engine) recordFailure(ctx context.Context, lead *models.Lead, stage Stage, cause error) (outcome, string) {
	now := e.Now()
	newRetry := lead.RetryCount + 1
	newFailure := lead.FailureCount + 1

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sendErr := models.SendError{
			LeadID:  lead.ID,
			Stage:   string(stage),
			Attempt: newRetry,
			Message: cause.Error(),
		}
		if err := tx.Create(&sendErr).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{
			"retry_count":     newRetry,
			"failure_count":   newFailure,
			"last_error":      cause.Error(),
			"last_attempt_at": now,
			"delivery_status": models.DeliveryFailed,
		}
		if newRetry >= e.cfg.MaxRetryAttempts || newFailure >= e.cfg.MaxRetryAttempts {
			updates["delivery_status"] = models.DeliveryMaxRetries
			updates["sequence_active"] = false
			updates["stopped_reason"] = "max retry attempts exceeded"
			updates["next_scheduled_at"] = nil
		}
		return tx.Model(lead).Updates(updates).Error
	})
	if err != nil {
		e.logger.WithError(err).Error("failed to record send failure")
	}

	sentry.CaptureException(cause)
	e.logger.WithFields(logrus.Fields{
		"lead_id": lead.ID,
		"stage":   stage,
		"attempt": newRetry,
	}).WithError(cause).Warn("sequence email failed")

	return outcomeFailed, cause.Error()
}

// completeSequence applies the terminal completion transition for a lead
// whose history already shows seven sends.
func (e *Engine) completeSequence(ctx context.Context, lead *models.Lead) {
	if err := e.db.WithContext(ctx).Model(lead).Updates(map[string]interface{}{
		"sequence_active":   false,
		"delivery_status":   models.DeliveryCompleted,
		"stopped_reason":    "7 emails sent",
		"next_scheduled_at": nil,
		"current_step":      SequenceLength,
	}).Error; err != nil {
		e.logger.WithError(err).Error("failed to mark sequence completed")
	}
}

// terminateExhausted applies the terminal max-retries transition.
func (e *Engine) terminateExhausted(ctx context.Context, lead *models.Lead) {
	if err := e.db.WithContext(ctx).Model(lead).Updates(map[string]interface{}{
		"sequence_active":   false,
		"delivery_status":   models.DeliveryMaxRetries,
		"stopped_reason":    "max retry attempts exceeded",
		"next_scheduled_at": nil,
	}).Error; err != nil {
		e.logger.WithError(err).Error("failed to mark sequence exhausted")
	}
}

// haltSequence stops the run without touching delivery state, preserving
// whatever a human changed.
func (e *Engine) haltSequence(ctx context.Context, lead *models.Lead, reason string) {
	if err := e.db.WithContext(ctx).Model(lead).Updates(map[string]interface{}{
		"sequence_active":   false,
		"stopped_reason":    reason,
		"next_scheduled_at": nil,
	}).Error; err != nil {
		e.logger.WithError(err).Error("failed to halt sequence")
	}
}

func (e *Engine) persistRunProgress(run *models.AutomationRun, summary *Summary, step int) {
	updates := map[string]interface{}{
		"step":      step,
		"eligible":  summary.Eligible,
		"processed": summary.Processed,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"retried":   summary.Retried,
		"skipped":   summary.Skipped,
	}
	if err := e.db.Model(run).Updates(updates).Error; err != nil {
		e.logger.WithError(err).Error("failed to persist run progress")
	}
}

func (e *Engine) finishRun(run *models.AutomationRun, status string, errMsg string) {
	now := e.Now()
	updates := map[string]interface{}{
		"status":      status,
		"finished_at": now,
	}
	if errMsg != "" {
		updates["last_error"] = errMsg
	}
	if err := e.db.Model(run).Updates(updates).Error; err != nil {
		e.logger.WithError(err).Error("failed to finish run record")
	}
}

// StoreFailureDetail serializes per-lead failure reasons onto the run row
// for later inspection.
func (e *Engine) StoreFailureDetail(runID uint, failures []LeadFailure) {
	if len(failures) == 0 {
		return
	}
	detail, err := json.Marshal(failures)
	if err != nil {
		return
	}
	if err := e.db.Model(&models.AutomationRun{}).
		Where("id = ?", runID).
		Update("failure_detail", string(detail)).Error; err != nil {
		e.logger.WithError(err).Error("failed to store failure detail")
	}
}

func countSent(attempts []models.SequenceAttempt) int {
	sent := 0
	for _, a := range attempts {
		if a.Status == models.AttemptSent {
			sent++
		}
	}
	return sent
}

// expectedStoredStage is the CurrentStage value the engine itself would
// have written after n successful sends.
func expectedStoredStage(sent int) string {
	if sent == 0 {
		return ""
	}
	if sent > SequenceLength {
		sent = SequenceLength
	}
	return string(Stages[sent-1])
}
