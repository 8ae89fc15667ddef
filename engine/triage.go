package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"leadflow/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// FinalReplyStage is the template slot for the deterministic reply sent
// once a conversation crosses the triage threshold. It sits outside the
// seven sequence stages and resolves with the same owner-over-global
// precedence.
const FinalReplyStage = "final_reply"

const defaultFinalReplyBody = `<p>Hi {{LEAD_NAME}},</p>
<p>Thanks again for taking the time to respond. To keep things simple, the best next step is a quick call with our team. You can reply to this email with a time that works for you.</p>
<p>Best regards,<br>{{SENDER_NAME}}<br>{{OUR_COMPANY}}</p>`

const defaultReplyPersona = "You are a helpful, concise sales representative. Write a short, professional reply that addresses the prospect's message, answers their questions where possible, and suggests a concrete next step. Do not invent pricing or commitments."

// Triage classifies inbound replies: conversations at or past the
// threshold get the deterministic final template marked auto-sendable,
// younger conversations get an AI draft held for human review.
type Triage struct {
	db        *gorm.DB
	generator ContentGenerator
	logger    *logrus.Logger

	// FinalThreshold is the inbound message count at which triage stops
	// drafting with AI and sends the canned final reply.
	FinalThreshold int

	Now func() time.Time
}

func NewTriage(db *gorm.DB, generator ContentGenerator, logger *logrus.Logger) *Triage {
	return &Triage{
		db:             db,
		generator:      generator,
		logger:         logger,
		FinalThreshold: 3,
		Now:            time.Now,
	}
}

// ProcessInbound takes one stored inbound email through triage and
// returns the draft it produced. The inbound row is marked processed only
// after the draft is written, so a crash re-runs triage rather than
// dropping the reply.
func (t *Triage) ProcessInbound(ctx context.Context, inbound *models.InboundEmail) (*models.DraftResponse, error) {
	address := strings.ToLower(strings.TrimSpace(inbound.FromAddress))
	if address == "" {
		return nil, errors.New("inbound email has no from address")
	}

	lead, err := t.findOrCreateLead(ctx, inbound.UserID, address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve lead for %s: %w", address, err)
	}

	count, err := t.bumpConversation(ctx, inbound.UserID, address)
	if err != nil {
		return nil, fmt.Errorf("failed to count conversation for %s: %w", address, err)
	}

	var profile models.CompanyProfile
	t.db.WithContext(ctx).Where("user_id = ?", inbound.UserID).First(&profile)

	subject := inbound.Subject
	if subject != "" && !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	if subject == "" {
		subject = "Re: your message"
	}

	draft := models.DraftResponse{
		UserID:         inbound.UserID,
		LeadID:         lead.ID,
		InboundEmailID: inbound.ID,
		Subject:        subject,
	}

	log := t.logger.WithFields(logrus.Fields{
		"user_id": inbound.UserID,
		"lead_id": lead.ID,
		"address": address,
		"count":   count,
	})

	if count >= t.FinalThreshold {
		body, err := t.renderFinalReply(ctx, inbound.UserID, *lead, profile)
		if err != nil {
			return nil, err
		}
		draft.Body = body
		draft.Source = models.DraftSourceFinal
		draft.AutoSend = true
		draft.Status = models.DraftApproved
		log.Info("conversation reached final threshold, canned reply queued")
	} else {
		body, err := t.draftWithAI(ctx, inbound, *lead, profile)
		if err != nil {
			return nil, fmt.Errorf("failed to draft reply: %w", err)
		}
		draft.Body = body
		draft.Source = models.DraftSourceAI
		draft.AutoSend = false
		draft.Status = models.DraftPendingReview
		log.Info("AI reply drafted for review")
	}

	err = t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&draft).Error; err != nil {
			return err
		}
		return tx.Model(inbound).Updates(map[string]interface{}{
			"lead_id":   lead.ID,
			"processed": true,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store draft: %w", err)
	}
	return &draft, nil
}

func (t *Triage) findOrCreateLead(ctx context.Context, userID uint, address string) (*models.Lead, error) {
	var lead models.Lead
	err := t.db.WithContext(ctx).
		Where("user_id = ? AND (LOWER(email) = ? OR LOWER(contact_email) = ?)", userID, address, address).
		First(&lead).Error
	if err == nil {
		return &lead, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	lead = models.Lead{
		UserID:         userID,
		Email:          address,
		PipelineStage:  models.PipelineNew,
		DeliveryStatus: models.DeliveryReady,
	}
	if err := t.db.WithContext(ctx).Create(&lead).Error; err != nil {
		return nil, err
	}
	return &lead, nil
}

// bumpConversation increments the per-address counter at the database
// level so concurrent inbound messages each observe a distinct count and
// the threshold cannot be skipped over.
func (t *Triage) bumpConversation(ctx context.Context, userID uint, address string) (int, error) {
	now := t.Now()

	res := t.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("user_id = ? AND address = ?", userID, address).
		Updates(map[string]interface{}{
			"message_count":   gorm.Expr("message_count + 1"),
			"last_message_at": now,
		})
	if res.Error != nil {
		return 0, res.Error
	}

	if res.RowsAffected == 0 {
		conv := models.Conversation{
			UserID:        userID,
			Address:       address,
			MessageCount:  1,
			LastMessageAt: &now,
		}
		if err := t.db.WithContext(ctx).Create(&conv).Error; err == nil {
			return 1, nil
		}
		// Lost the create race to another message; fall through to the
		// increment-and-read path.
		res = t.db.WithContext(ctx).Model(&models.Conversation{}).
			Where("user_id = ? AND address = ?", userID, address).
			Updates(map[string]interface{}{
				"message_count":   gorm.Expr("message_count + 1"),
				"last_message_at": now,
			})
		if res.Error != nil {
			return 0, res.Error
		}
	}

	var conv models.Conversation
	if err := t.db.WithContext(ctx).
		Where("user_id = ? AND address = ?", userID, address).
		First(&conv).Error; err != nil {
		return 0, err
	}
	return conv.MessageCount, nil
}

func (t *Triage) renderFinalReply(ctx context.Context, userID uint, lead models.Lead, profile models.CompanyProfile) (string, error) {
	body := defaultFinalReplyBody

	var tmpl models.SequenceTemplate
	err := t.db.WithContext(ctx).
		Where("user_id = ? AND stage = ? AND is_active = ?", userID, FinalReplyStage, true).
		Order("id DESC").
		First(&tmpl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = t.db.WithContext(ctx).
			Where("user_id IS NULL AND stage = ? AND is_active = ?", FinalReplyStage, true).
			Order("id DESC").
			First(&tmpl).Error
	}
	if err == nil && tmpl.HTMLContent != "" {
		body = tmpl.HTMLContent
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	vars := buildVars(RenderContext{Lead: lead, Profile: profile})
	rendered := substitute(body, vars)
	if err := checkResolved(rendered); err != nil {
		return "", err
	}
	return rendered, nil
}

func (t *Triage) draftWithAI(ctx context.Context, inbound *models.InboundEmail, lead models.Lead, profile models.CompanyProfile) (string, error) {
	persona := profile.ReplyPersona
	if persona == "" {
		persona = defaultReplyPersona
	}

	body := inbound.Body
	if body == "" {
		body = htmlToText(inbound.BodyHTML)
	}

	reply, err := t.generator.Generate(ctx, GenerationRequest{
		Instruction: persona,
		Context: map[string]string{
			"lead_name":     AuthorName(lead),
			"lead_company":  lead.Company,
			"our_company":   profile.CompanyName,
			"our_service":   profile.Service,
			"their_subject": inbound.Subject,
			"their_message": body,
		},
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		return "", ErrEmptyGeneration
	}
	return reply, nil
}
