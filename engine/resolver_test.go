package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/models"
)

func sentAttempt(stage Stage, at time.Time) models.SequenceAttempt {
	return models.SequenceAttempt{Stage: string(stage), Status: models.AttemptSent, SentAt: at}
}

func TestResolveStageFromHistory(t *testing.T) {
	cfg := DefaultConfig()
	old := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	lead := &models.Lead{}

	stage, err := resolveStage(lead, nil, cfg)
	require.NoError(t, err)
	assert.Equal(t, Stage1, stage)

	attempts := []models.SequenceAttempt{
		sentAttempt(Stage1, old),
		sentAttempt(Stage2, old),
		sentAttempt(Stage3, old),
	}
	stage, err = resolveStage(lead, attempts, cfg)
	require.NoError(t, err)
	assert.Equal(t, Stage4, stage)
}

func TestResolveStageIgnoresNonSentEntries(t *testing.T) {
	cfg := DefaultConfig()
	old := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)

	attempts := []models.SequenceAttempt{
		sentAttempt(Stage1, old),
		{Stage: string(Stage2), Status: models.AttemptBounced, SentAt: old},
	}
	stage, err := resolveStage(&models.Lead{}, attempts, cfg)
	require.NoError(t, err)
	assert.Equal(t, Stage2, stage)
}

func TestResolveStageComplete(t *testing.T) {
	cfg := DefaultConfig()
	old := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)

	var attempts []models.SequenceAttempt
	for _, s := range Stages {
		attempts = append(attempts, sentAttempt(s, old))
	}

	_, err := resolveStage(&models.Lead{}, attempts, cfg)
	assert.ErrorIs(t, err, ErrSequenceComplete)
}

func TestResolveStageExhausted(t *testing.T) {
	cfg := DefaultConfig()

	lead := &models.Lead{FailureCount: cfg.MaxRetryAttempts}
	_, err := resolveStage(lead, nil, cfg)
	assert.ErrorIs(t, err, ErrRetryBudgetExhausted)
}

func TestCheckDuplicateWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	attempts := []models.SequenceAttempt{
		sentAttempt(Stage1, now.Add(-30*time.Minute)),
	}
	err := checkDuplicateWindow(attempts, 2*time.Hour, now)
	assert.ErrorIs(t, err, ErrRecentDuplicate)

	// The same history outside the window passes.
	attempts[0].SentAt = now.Add(-3 * time.Hour)
	assert.NoError(t, checkDuplicateWindow(attempts, 2*time.Hour, now))

	// Non-sent entries never count as duplicates.
	attempts = []models.SequenceAttempt{
		{Stage: string(Stage1), Status: models.AttemptBounced, SentAt: now.Add(-time.Minute)},
	}
	assert.NoError(t, checkDuplicateWindow(attempts, 2*time.Hour, now))
}

func TestDuplicateWindowCappedByStageTiming(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	cfg := DefaultConfig()
	user := createUser(t, db)

	// A 30-minute owner schedule for stage 2 must not be stretched to the
	// configured 2-hour window.
	require.NoError(t, db.Create(&models.TimingEntry{
		UserID: &user.ID, Stage: string(Stage2), Delay: 30, Unit: models.UnitMinutes,
	}).Error)

	r := newTemplateResolver(db)
	assert.Equal(t, 30*time.Minute, r.duplicateWindow(ctx, user.ID, Stage2, cfg))

	// A schedule longer than the window leaves it unchanged, as does a
	// stage with no timing entry at all.
	require.NoError(t, db.Create(&models.TimingEntry{
		UserID: &user.ID, Stage: string(Stage3), Delay: 3, Unit: models.UnitDays,
	}).Error)
	assert.Equal(t, cfg.DuplicateWindow, r.duplicateWindow(ctx, user.ID, Stage3, cfg))
	assert.Equal(t, cfg.DuplicateWindow, r.duplicateWindow(ctx, user.ID, Stage4, cfg))
}

func TestTemplateResolverPrecedence(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createUser(t, db)

	global := models.SequenceTemplate{
		Stage: string(Stage1), Subject: "global", HTMLContent: "<p>g</p>", IsActive: true,
	}
	require.NoError(t, db.Create(&global).Error)

	owned := models.SequenceTemplate{
		UserID: &user.ID, Stage: string(Stage1), Subject: "owned", HTMLContent: "<p>o</p>", IsActive: true,
	}
	require.NoError(t, db.Create(&owned).Error)

	r := newTemplateResolver(db)

	tmpl, err := r.template(ctx, user.ID, Stage1)
	require.NoError(t, err)
	assert.Equal(t, "owned", tmpl.Subject)

	// A different owner falls through to the global template.
	tmpl, err = r.template(ctx, user.ID+100, Stage1)
	require.NoError(t, err)
	assert.Equal(t, "global", tmpl.Subject)

	// No template anywhere for the stage is a hard error, not a fallback
	// to another stage.
	_, err = r.template(ctx, user.ID, Stage2)
	assert.ErrorIs(t, err, ErrNoTemplate)
}

func TestTemplateResolverIgnoresInactive(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createUser(t, db)

	inactive := models.SequenceTemplate{
		UserID: &user.ID, Stage: string(Stage1), Subject: "inactive", HTMLContent: "<p>x</p>", IsActive: false,
	}
	require.NoError(t, db.Create(&inactive).Error)
	global := models.SequenceTemplate{
		Stage: string(Stage1), Subject: "global", HTMLContent: "<p>g</p>", IsActive: true,
	}
	require.NoError(t, db.Create(&global).Error)

	r := newTemplateResolver(db)
	tmpl, err := r.template(ctx, user.ID, Stage1)
	require.NoError(t, err)
	assert.Equal(t, "global", tmpl.Subject)
}

func TestTimingResolution(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createUser(t, db)

	require.NoError(t, db.Create(&models.TimingEntry{
		Stage: string(Stage2), Delay: 3, Unit: models.UnitDays,
	}).Error)
	require.NoError(t, db.Create(&models.TimingEntry{
		UserID: &user.ID, Stage: string(Stage2), Delay: 6, Unit: models.UnitHours,
	}).Error)

	r := newTemplateResolver(db)

	entry, err := r.timing(ctx, user.ID, Stage2)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 6*time.Hour, entry.Duration())

	entry, err = r.timing(ctx, user.ID+100, Stage2)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 72*time.Hour, entry.Duration())

	// Missing entry is not an error; the caller applies the default delay.
	entry, err = r.timing(ctx, user.ID, Stage3)
	require.NoError(t, err)
	assert.Nil(t, entry)
}
