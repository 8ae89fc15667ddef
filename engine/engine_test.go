package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"leadflow/config"
	"leadflow/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A single connection keeps every query on the same in-memory store.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, config.MigrateDB(db))
	return db
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeMailer struct {
	mu     sync.Mutex
	sent   []OutboundMessage
	err    error
	nextID int
}

func (m *fakeMailer) Send(_ context.Context, _ *models.Sender, msg OutboundMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, msg)
	m.nextID++
	return fmt.Sprintf("<msg-%d@test>", m.nextID), nil
}

type fakeGenerator struct {
	output string
	err    error
	calls  int
}

func (g *fakeGenerator) Generate(_ context.Context, _ GenerationRequest) (string, error) {
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	return g.output, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SendDelay = time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, db *gorm.DB, cfg Config) (*Engine, *fakeMailer, *fakeGenerator) {
	t.Helper()
	mailer := &fakeMailer{}
	generator := &fakeGenerator{output: "Hello from the team, we took a close look at your business and would love to help you grow this quarter."}
	eng := New(db, mailer, generator, nil, cfg, testLogger())
	return eng, mailer, generator
}

func createUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()
	name := "Owner"
	user := models.User{Email: "owner@example.com", PasswordHash: "x", Name: &name, IsActive: true}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func createSender(t *testing.T, db *gorm.DB, userID uint) *models.Sender {
	t.Helper()
	sender := models.Sender{
		UserID:       userID,
		Name:         "Primary",
		FromEmail:    "outreach@acme.test",
		FromName:     "Acme Outreach",
		SMTPHost:     "smtp.acme.test",
		SMTPPort:     587,
		SMTPUsername: "outreach@acme.test",
		SMTPPassword: "sealed",
		IsActive:     true,
	}
	require.NoError(t, db.Create(&sender).Error)
	return &sender
}

func createGlobalTemplate(t *testing.T, db *gorm.DB, stage Stage) *models.SequenceTemplate {
	t.Helper()
	tmpl := models.SequenceTemplate{
		Stage:       string(stage),
		Subject:     "Quick question for {{COMPANY_NAME}}",
		HTMLContent: "<p>Hi {{LEAD_NAME}}, this is {{SENDER_NAME}} reaching out about {{COMPANY_NAME}}.</p>",
		IsActive:    true,
	}
	require.NoError(t, db.Create(&tmpl).Error)
	return &tmpl
}

func createLead(t *testing.T, db *gorm.DB, userID uint, email string) *models.Lead {
	t.Helper()
	lead := models.Lead{
		UserID:            userID,
		Email:             email,
		Name:              "Jordan",
		Company:           "Jordan Plumbing",
		PipelineStage:     models.PipelineCalling,
		AutomationEnabled: true,
		SequenceActive:    true,
		DeliveryStatus:    models.DeliveryReady,
	}
	require.NoError(t, db.Create(&lead).Error)
	return &lead
}

func reload(t *testing.T, db *gorm.DB, lead *models.Lead) *models.Lead {
	t.Helper()
	var fresh models.Lead
	require.NoError(t, db.First(&fresh, lead.ID).Error)
	return &fresh
}

func TestProcessBatchHappyPath(t *testing.T) {
	db := newTestDB(t)
	cfg := testConfig()
	eng, mailer, _ := newTestEngine(t, db, cfg)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return now }

	user := createUser(t, db)
	createSender(t, db, user.ID)
	createGlobalTemplate(t, db, Stage1)
	lead := createLead(t, db, user.ID, "a@b.com")

	// Owner waits two days before stage 2.
	require.NoError(t, db.Create(&models.TimingEntry{
		UserID: &user.ID, Stage: string(Stage2), Delay: 2, Unit: models.UnitDays,
	}).Error)

	summary, err := eng.ProcessBatch(context.Background(), "test")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Eligible)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "a@b.com", mailer.sent[0].To)
	assert.Equal(t, "Quick question for Jordan Plumbing", mailer.sent[0].Subject)
	assert.Equal(t, string(Stage1), mailer.sent[0].Headers["X-Leadflow-Stage"])

	fresh := reload(t, db, lead)
	assert.Equal(t, models.DeliverySent, fresh.DeliveryStatus)
	assert.Equal(t, string(Stage1), fresh.CurrentStage)
	assert.Equal(t, 1, fresh.CurrentStep)
	assert.Equal(t, 0, fresh.RetryCount)
	require.NotNil(t, fresh.NextScheduledAt)
	assert.WithinDuration(t, now.Add(48*time.Hour), *fresh.NextScheduledAt, time.Second)

	var attempts []models.SequenceAttempt
	require.NoError(t, db.Where("lead_id = ?", lead.ID).Find(&attempts).Error)
	require.Len(t, attempts, 1)
	assert.Equal(t, string(Stage1), attempts[0].Stage)
	assert.Equal(t, models.AttemptSent, attempts[0].Status)
	assert.NotEmpty(t, attempts[0].MessageID)
	assert.Contains(t, attempts[0].HTMLBody, "Hi Jordan")

	var sender models.Sender
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&sender).Error)
	assert.Equal(t, 1, sender.TotalSent)

	var run models.AutomationRun
	require.NoError(t, db.Order("id DESC").First(&run).Error)
	assert.Equal(t, models.RunCompleted, run.Status)
	assert.Equal(t, 1, run.Succeeded)
	require.NotNil(t, run.FinishedAt)
}

func TestProcessBatchMonotonicStageAdvance(t *testing.T) {
	db := newTestDB(t)
	cfg := testConfig()
	eng, mailer, _ := newTestEngine(t, db, cfg)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return now }

	user := createUser(t, db)
	createSender(t, db, user.ID)
	for _, s := range Stages {
		createGlobalTemplate(t, db, s)
	}
	lead := createLead(t, db, user.ID, "a@b.com")

	// Advance the clock past both the stage delay and the duplicate
	// window between runs; each run should send exactly one stage.
	for i := 0; i < SequenceLength; i++ {
		summary, err := eng.ProcessBatch(context.Background(), "test")
		require.NoError(t, err)
		require.Equal(t, 1, summary.Succeeded, "run %d", i)
		now = now.Add(8 * 24 * time.Hour)
	}

	var attempts []models.SequenceAttempt
	require.NoError(t, db.Where("lead_id = ? AND status = ?", lead.ID, models.AttemptSent).
		Order("sent_at ASC").Find(&attempts).Error)
	require.Len(t, attempts, SequenceLength)
	for i, a := range attempts {
		assert.Equal(t, string(Stages[i]), a.Stage)
	}

	fresh := reload(t, db, lead)
	assert.Equal(t, models.DeliveryCompleted, fresh.DeliveryStatus)
	assert.False(t, fresh.SequenceActive)
	assert.Nil(t, fresh.NextScheduledAt)
	require.NotNil(t, fresh.StoppedReason)
	assert.Equal(t, "7 emails sent", *fresh.StoppedReason)
	require.Len(t, mailer.sent, SequenceLength)

	// Extra runs after completion change nothing.
	summary, err := eng.ProcessBatch(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Eligible)
}

func TestProcessBatchDuplicateWindowSkips(t *testing.T) {
	db := newTestDB(t)
	cfg := testConfig()
	eng, mailer, _ := newTestEngine(t, db, cfg)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return now }

	user := createUser(t, db)
	createSender(t, db, user.ID)
	createGlobalTemplate(t, db, Stage1)
	createGlobalTemplate(t, db, Stage2)
	lead := createLead(t, db, user.ID, "a@b.com")

	// History already shows a send 30 minutes ago, but the lead row was
	// forced back to eligible (a retried webhook, a manual reset).
	require.NoError(t, db.Create(&models.SequenceAttempt{
		LeadID: lead.ID, UserID: user.ID, Stage: string(Stage1),
		Status: models.AttemptSent, SentAt: now.Add(-30 * time.Minute),
	}).Error)
	require.NoError(t, db.Model(lead).Updates(map[string]interface{}{
		"current_stage": string(Stage1), "current_step": 1,
	}).Error)

	summary, err := eng.ProcessBatch(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Succeeded)
	assert.Empty(t, mailer.sent)

	var count int64
	require.NoError(t, db.Model(&models.SequenceAttempt{}).
		Where("lead_id = ? AND status = ?", lead.ID, models.AttemptSent).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestProcessBatchHonorsShortStageTiming(t *testing.T) {
	db := newTestDB(t)
	cfg := testConfig()
	eng, mailer, _ := newTestEngine(t, db, cfg)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return now }

	user := createUser(t, db)
	createSender(t, db, user.ID)
	createGlobalTemplate(t, db, Stage1)
	createGlobalTemplate(t, db, Stage2)
	lead := createLead(t, db, user.ID, "a@b.com")

	// The owner schedules stage 2 just 30 minutes after stage 1. The send
	// 45 minutes ago is due again and must not be suppressed by the wider
	// default window.
	require.NoError(t, db.Create(&models.TimingEntry{
		UserID: &user.ID, Stage: string(Stage2), Delay: 30, Unit: models.UnitMinutes,
	}).Error)
	require.NoError(t, db.Create(&models.SequenceAttempt{
		LeadID: lead.ID, UserID: user.ID, Stage: string(Stage1),
		Status: models.AttemptSent, SentAt: now.Add(-45 * time.Minute),
	}).Error)
	due := now.Add(-15 * time.Minute)
	require.NoError(t, db.Model(lead).Updates(map[string]interface{}{
		"current_stage": string(Stage1), "current_step": 1,
		"delivery_status": models.DeliverySent, "next_scheduled_at": due,
	}).Error)

	summary, err := eng.ProcessBatch(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, string(Stage2), mailer.sent[0].Headers["X-Leadflow-Stage"])
}

func TestProcessBatchRetryCeiling(t *testing.T) {
	db := newTestDB(t)
	cfg := testConfig()
	cfg.MaxRetryAttempts = 3
	eng, mailer, _ := newTestEngine(t, db, cfg)
	mailer.err = errors.New("smtp: connection refused")

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return now }

	user := createUser(t, db)
	createSender(t, db, user.ID)
	createGlobalTemplate(t, db, Stage1)
	lead := createLead(t, db, user.ID, "a@b.com")

	for i := 0; i < cfg.MaxRetryAttempts; i++ {
		summary, err := eng.ProcessBatch(context.Background(), "test")
		require.NoError(t, err)
		require.Equal(t, 1, summary.Failed, "run %d", i)
		now = now.Add(10 * time.Minute)
	}

	fresh := reload(t, db, lead)
	assert.Equal(t, models.DeliveryMaxRetries, fresh.DeliveryStatus)
	assert.False(t, fresh.SequenceActive)
	require.NotNil(t, fresh.StoppedReason)
	assert.Equal(t, "max retry attempts exceeded", *fresh.StoppedReason)
	assert.Equal(t, cfg.MaxRetryAttempts, fresh.RetryCount)

	var errCount int64
	require.NoError(t, db.Model(&models.SendError{}).Where("lead_id = ?", lead.ID).Count(&errCount).Error)
	assert.Equal(t, int64(cfg.MaxRetryAttempts), errCount)

	// Exactly the ceiling, never more: the terminated lead is ineligible.
	summary, err := eng.ProcessBatch(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Eligible)

	var attemptCount int64
	require.NoError(t, db.Model(&models.SequenceAttempt{}).Where("lead_id = ?", lead.ID).Count(&attemptCount).Error)
	assert.Equal(t, int64(0), attemptCount)
}

func TestProcessBatchExhaustedLeadTerminatesWithoutSending(t *testing.T) {
	db := newTestDB(t)
	cfg := testConfig()
	eng, mailer, _ := newTestEngine(t, db, cfg)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return now }

	user := createUser(t, db)
	createGlobalTemplate(t, db, Stage1)
	lead := createLead(t, db, user.ID, "a@b.com")
	past := now.Add(-time.Hour)
	require.NoError(t, db.Model(lead).Updates(map[string]interface{}{
		"delivery_status": models.DeliveryFailed,
		"failure_count":   cfg.MaxRetryAttempts,
		"retry_count":     0,
		"last_attempt_at": past,
	}).Error)

	summary, err := eng.ProcessBatch(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Eligible)
	assert.Empty(t, mailer.sent)

	fresh := reload(t, db, lead)
	assert.Equal(t, models.DeliveryMaxRetries, fresh.DeliveryStatus)
	assert.False(t, fresh.SequenceActive)
}

func TestProcessBatchCompletionIsTerminal(t *testing.T) {
	db := newTestDB(t)
	cfg := testConfig()
	eng, mailer, _ := newTestEngine(t, db, cfg)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return now }

	user := createUser(t, db)
	lead := createLead(t, db, user.ID, "a@b.com")
	for i, s := range Stages {
		require.NoError(t, db.Create(&models.SequenceAttempt{
			LeadID: lead.ID, UserID: user.ID, Stage: string(s),
			Status: models.AttemptSent,
			SentAt: now.Add(-time.Duration(SequenceLength-i) * 30 * 24 * time.Hour),
		}).Error)
	}
	past := now.Add(-time.Hour)
	require.NoError(t, db.Model(lead).Updates(map[string]interface{}{
		"delivery_status":   models.DeliverySent,
		"current_stage":     string(Stage7),
		"current_step":      7,
		"next_scheduled_at": past,
	}).Error)

	for i := 0; i < 3; i++ {
		_, err := eng.ProcessBatch(context.Background(), "test")
		require.NoError(t, err)

		fresh := reload(t, db, lead)
		assert.Equal(t, models.DeliveryCompleted, fresh.DeliveryStatus)
		assert.False(t, fresh.SequenceActive)
		assert.Nil(t, fresh.NextScheduledAt)
	}
	assert.Empty(t, mailer.sent)
}

func TestProcessBatchManualOverrideHalts(t *testing.T) {
	db := newTestDB(t)
	cfg := testConfig()
	eng, mailer, _ := newTestEngine(t, db, cfg)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return now }

	user := createUser(t, db)
	createGlobalTemplate(t, db, Stage1)

	// A human moved this lead to a terminal pipeline stage.
	won := createLead(t, db, user.ID, "won@b.com")
	require.NoError(t, db.Model(won).Update("pipeline_stage", models.PipelineDeal).Error)

	// A human rewrote this lead's sequence stage by hand.
	edited := createLead(t, db, user.ID, "edited@b.com")
	require.NoError(t, db.Create(&models.SequenceAttempt{
		LeadID: edited.ID, UserID: user.ID, Stage: string(Stage1),
		Status: models.AttemptSent, SentAt: now.Add(-72 * time.Hour),
	}).Error)
	past := now.Add(-time.Hour)
	require.NoError(t, db.Model(edited).Updates(map[string]interface{}{
		"delivery_status":   models.DeliverySent,
		"current_stage":     string(Stage5),
		"current_step":      5,
		"next_scheduled_at": past,
	}).Error)

	summary, err := eng.ProcessBatch(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Empty(t, mailer.sent)

	freshWon := reload(t, db, won)
	assert.False(t, freshWon.SequenceActive)
	require.NotNil(t, freshWon.StoppedReason)
	assert.Equal(t, "Moved to deal stage", *freshWon.StoppedReason)
	// Pipeline stage belongs to the human; the engine must not touch it.
	assert.Equal(t, models.PipelineDeal, freshWon.PipelineStage)

	freshEdited := reload(t, db, edited)
	assert.False(t, freshEdited.SequenceActive)
	require.NotNil(t, freshEdited.StoppedReason)
	assert.Contains(t, *freshEdited.StoppedReason, "manually")
	assert.Equal(t, string(Stage5), freshEdited.CurrentStage)
}

func TestProcessBatchMissingTemplateConsumesBudgetWithoutHistory(t *testing.T) {
	db := newTestDB(t)
	cfg := testConfig()
	eng, mailer, _ := newTestEngine(t, db, cfg)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return now }

	user := createUser(t, db)
	createSender(t, db, user.ID)
	lead := createLead(t, db, user.ID, "a@b.com")

	summary, err := eng.ProcessBatch(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Contains(t, summary.Failures[0].Reason, "no template")
	assert.Empty(t, mailer.sent)

	fresh := reload(t, db, lead)
	assert.Equal(t, models.DeliveryFailed, fresh.DeliveryStatus)
	assert.Equal(t, 1, fresh.RetryCount)

	var attemptCount int64
	require.NoError(t, db.Model(&models.SequenceAttempt{}).Where("lead_id = ?", lead.ID).Count(&attemptCount).Error)
	assert.Equal(t, int64(0), attemptCount)

	var sendErr models.SendError
	require.NoError(t, db.Where("lead_id = ?", lead.ID).First(&sendErr).Error)
	assert.Contains(t, sendErr.Message, "no template")
}

func TestProcessBatchMalformedEmailSkipsWithoutBudget(t *testing.T) {
	db := newTestDB(t)
	cfg := testConfig()
	eng, mailer, _ := newTestEngine(t, db, cfg)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return now }

	user := createUser(t, db)
	createGlobalTemplate(t, db, Stage1)
	lead := createLead(t, db, user.ID, "not-an-email")

	summary, err := eng.ProcessBatch(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
	assert.Empty(t, mailer.sent)

	fresh := reload(t, db, lead)
	assert.Equal(t, 0, fresh.RetryCount)
	assert.Equal(t, 0, fresh.FailureCount)
	require.NotNil(t, fresh.LastError)
	assert.Contains(t, *fresh.LastError, "malformed")
}

func TestProcessBatchHonorsBatchSize(t *testing.T) {
	db := newTestDB(t)
	cfg := testConfig()
	cfg.BatchSize = 2
	eng, mailer, _ := newTestEngine(t, db, cfg)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return now }

	user := createUser(t, db)
	createSender(t, db, user.ID)
	createGlobalTemplate(t, db, Stage1)
	for i := 0; i < 5; i++ {
		createLead(t, db, user.ID, fmt.Sprintf("lead%d@b.com", i))
	}

	summary, err := eng.ProcessBatch(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Eligible)
	assert.Len(t, mailer.sent, 2)
}

func TestProcessBatchReclaimsStaleSending(t *testing.T) {
	db := newTestDB(t)
	cfg := testConfig()
	eng, mailer, _ := newTestEngine(t, db, cfg)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return now }

	user := createUser(t, db)
	createSender(t, db, user.ID)
	createGlobalTemplate(t, db, Stage1)
	lead := createLead(t, db, user.ID, "a@b.com")

	// A crash left this lead mid-send half an hour ago.
	stale := now.Add(-30 * time.Minute)
	require.NoError(t, db.Model(lead).Updates(map[string]interface{}{
		"delivery_status": models.DeliverySending,
		"last_attempt_at": stale,
	}).Error)

	summary, err := eng.ProcessBatch(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Len(t, mailer.sent, 1)

	fresh := reload(t, db, lead)
	assert.Equal(t, models.DeliverySent, fresh.DeliveryStatus)
}

func TestProcessBatchFailureDoesNotAbortBatch(t *testing.T) {
	db := newTestDB(t)
	cfg := testConfig()
	eng, mailer, _ := newTestEngine(t, db, cfg)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return now }

	user := createUser(t, db)
	createSender(t, db, user.ID)
	createGlobalTemplate(t, db, Stage1)

	// A stored stage that disagrees with empty history halts this lead.
	broken := createLead(t, db, user.ID, "broken@b.com")
	require.NoError(t, db.Model(broken).Updates(map[string]interface{}{
		"current_stage": string(Stage4), "current_step": 4,
	}).Error)

	createLead(t, db, user.ID, "healthy@b.com")

	summary, err := eng.ProcessBatch(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Succeeded)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "healthy@b.com", mailer.sent[0].To)
}

func TestProcessBatchNoSenderWithoutFallbackFails(t *testing.T) {
	db := newTestDB(t)
	cfg := testConfig()
	cfg.AllowFallbackTransport = false
	eng, mailer, _ := newTestEngine(t, db, cfg)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return now }

	user := createUser(t, db)
	createGlobalTemplate(t, db, Stage1)
	lead := createLead(t, db, user.ID, "a@b.com")

	summary, err := eng.ProcessBatch(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Empty(t, mailer.sent)

	fresh := reload(t, db, lead)
	assert.Equal(t, models.DeliveryFailed, fresh.DeliveryStatus)
	require.NotNil(t, fresh.LastError)
	assert.Contains(t, *fresh.LastError, "no sender")
}

func TestProcessBatchRecipientAndIdentityRouting(t *testing.T) {
	db := newTestDB(t)
	cfg := testConfig()
	eng, mailer, _ := newTestEngine(t, db, cfg)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return now }

	user := createUser(t, db)
	createSender(t, db, user.ID)
	createGlobalTemplate(t, db, Stage1)

	lead := createLead(t, db, user.ID, "personal@b.com")
	require.NoError(t, db.Model(lead).Updates(map[string]interface{}{
		"contact_email":       "office@b.com",
		"use_company_email":   true,
		"use_author_identity": true,
		"owner_name":          "Dana Smith",
	}).Error)

	summary, err := eng.ProcessBatch(context.Background(), "test")
	require.NoError(t, err)
	require.Equal(t, 1, summary.Succeeded)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "office@b.com", mailer.sent[0].To)
	assert.Equal(t, "Dana Smith", mailer.sent[0].FromName)
}
