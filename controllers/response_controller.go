package controller

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadflow/config"
	"leadflow/engine"
	"leadflow/models"
	"leadflow/utils"
)

var (
	replyTriage *engine.Triage
	replyMailer engine.Mailer
)

// SetTriage wires the shared triage and reply transport into the response
// endpoints. Called once at startup.
func SetTriage(t *engine.Triage, mailer engine.Mailer) {
	replyTriage = t
	replyMailer = mailer
}

type IngestInboundRequest struct {
	SenderID    *uint  `json:"sender_id"`
	MessageID   string `json:"message_id"`
	FromAddress string `json:"from_address" validate:"required,email"`
	ToAddress   string `json:"to_address"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
	BodyHTML    string `json:"body_html"`
}

// IngestInbound stores an inbound email and runs it through triage. The
// reply fetcher uses the same path internally; this endpoint exists for
// webhook-style delivery from an external mail provider.
func IngestInbound(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	if replyTriage == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Reply triage is not running",
		})
	}

	var req IngestInboundRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	inbound := models.InboundEmail{
		UserID:      user.ID,
		SenderID:    req.SenderID,
		MessageID:   req.MessageID,
		FromAddress: req.FromAddress,
		ToAddress:   req.ToAddress,
		Subject:     req.Subject,
		Body:        req.Body,
		BodyHTML:    req.BodyHTML,
		ReceivedAt:  time.Now(),
	}
	if err := config.DB.Create(&inbound).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store inbound email",
		})
	}

	draft, err := replyTriage.ProcessInbound(c.UserContext(), &inbound)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(draft)
}

func ListDrafts(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	query := config.DB.Where("user_id = ?", user.ID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var drafts []models.DraftResponse
	if err := query.Order("id DESC").Find(&drafts).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch drafts",
		})
	}

	return c.JSON(drafts)
}

type ApproveDraftRequest struct {
	Subject *string `json:"subject"`
	Body    *string `json:"body"`
}

// ApproveDraft sends a draft reply through the owner's sender. Replies
// never use the process-wide fallback transport: a missing per-owner
// sender is a hard failure.
func ApproveDraft(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	if replyMailer == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Reply transport is not running",
		})
	}

	id, err := utils.ParseUint(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid draft ID",
		})
	}

	var draft models.DraftResponse
	if err := config.DB.Where("id = ? AND user_id = ?", id, user.ID).First(&draft).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Draft not found",
		})
	}

	if draft.Status == models.DraftSent {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Draft already sent",
		})
	}
	if draft.Status == models.DraftDiscarded {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Draft was discarded",
		})
	}

	var req ApproveDraftRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}
	if req.Subject != nil {
		draft.Subject = *req.Subject
	}
	if req.Body != nil {
		draft.Body = *req.Body
	}

	var lead models.Lead
	if err := config.DB.Where("id = ? AND user_id = ?", draft.LeadID, user.ID).First(&lead).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Lead for this draft no longer exists",
		})
	}

	var sender models.Sender
	err = config.DB.Where("user_id = ? AND is_active = ?", user.ID, true).Order("id ASC").First(&sender).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusPreconditionFailed).JSON(fiber.Map{
			"error": "No active sender configured; replies require per-account credentials",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to resolve sender",
		})
	}

	messageID, err := replyMailer.Send(c.UserContext(), &sender, engine.OutboundMessage{
		To:       lead.Email,
		Subject:  draft.Subject,
		HTMLBody: draft.Body,
	})
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	now := time.Now()
	if err := config.DB.Model(&draft).Updates(map[string]interface{}{
		"subject":    draft.Subject,
		"body":       draft.Body,
		"status":     models.DraftSent,
		"sent_at":    now,
		"message_id": messageID,
	}).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Reply sent but status update failed",
		})
	}

	return c.JSON(draft)
}

func DiscardDraft(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	id, err := utils.ParseUint(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid draft ID",
		})
	}

	var draft models.DraftResponse
	if err := config.DB.Where("id = ? AND user_id = ?", id, user.ID).First(&draft).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Draft not found",
		})
	}

	if draft.Status == models.DraftSent {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Draft already sent",
		})
	}

	if err := config.DB.Model(&draft).Update("status", models.DraftDiscarded).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to discard draft",
		})
	}

	return c.JSON(draft)
}
