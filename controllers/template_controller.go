package controller

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadflow/config"
	"leadflow/engine"
	"leadflow/models"
	"leadflow/utils"
)

type TemplateRequest struct {
	Stage         string `json:"stage" validate:"required"`
	Subject       string `json:"subject" validate:"required"`
	HTMLContent   string `json:"html_content"`
	TextContent   string `json:"text_content"`
	ContentPrompt string `json:"content_prompt"`
	Signature     string `json:"signature"`
	MediaLinks    string `json:"media_links"`
	HTMLDesign    string `json:"html_design"`
	IsActive      *bool  `json:"is_active"`
}

type TimingRequest struct {
	Entries []TimingEntryRequest `json:"entries" validate:"required,dive"`
}

type TimingEntryRequest struct {
	Stage string `json:"stage" validate:"required"`
	Delay int    `json:"delay" validate:"required,min=1"`
	Unit  string `json:"unit" validate:"required,oneof=minutes hours days"`
}

type ProfileRequest struct {
	CompanyName   string `json:"company_name"`
	OwnerName     string `json:"owner_name"`
	ExecutiveName string `json:"executive_name"`
	Service       string `json:"service"`
	Industry      string `json:"industry"`
	Website       string `json:"website"`
	Location      string `json:"location"`
	SenderName    string `json:"sender_name"`
	SenderEmail   string `json:"sender_email" validate:"omitempty,email"`
	ReplyPersona  string `json:"reply_persona"`
}

func validTemplateStage(stage string) bool {
	if stage == engine.FinalReplyStage {
		return true
	}
	_, ok := engine.ParseStage(stage)
	return ok
}

func CreateTemplate(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req TemplateRequest
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

	if !validTemplateStage(req.Stage) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown stage: " + req.Stage,
		})
	}

	if req.HTMLContent == "" && req.ContentPrompt == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Template needs either html_content or content_prompt",
		})
	}

	tmpl := models.SequenceTemplate{
		UserID:        &user.ID,
		Stage:         req.Stage,
		Subject:       req.Subject,
		HTMLContent:   req.HTMLContent,
		TextContent:   req.TextContent,
		ContentPrompt: req.ContentPrompt,
		Signature:     req.Signature,
		MediaLinks:    req.MediaLinks,
		HTMLDesign:    req.HTMLDesign,
		IsActive:      true,
	}
	if req.IsActive != nil {
		tmpl.IsActive = *req.IsActive
	}

	if err := config.DB.Create(&tmpl).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create template",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(tmpl)
}

// GetTemplates lists the owner's templates plus the global defaults, so
// the UI can show exactly what the engine would resolve.
func GetTemplates(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var templates []models.SequenceTemplate
	if err := config.DB.
		Where("user_id = ? OR user_id IS NULL", user.ID).
		Order("stage ASC, user_id DESC, id DESC").
		Find(&templates).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch templates",
		})
	}

	return c.JSON(templates)
}

func UpdateTemplate(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	id, err := utils.ParseUint(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid template ID",
		})
	}

	var tmpl models.SequenceTemplate
	if err := config.DB.Where("id = ? AND user_id = ?", id, user.ID).First(&tmpl).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Template not found",
		})
	}

	var req TemplateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Stage != "" && !validTemplateStage(req.Stage) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown stage: " + req.Stage,
		})
	}

	updates := map[string]interface{}{
		"html_content":   req.HTMLContent,
		"text_content":   req.TextContent,
		"content_prompt": req.ContentPrompt,
		"signature":      req.Signature,
		"media_links":    req.MediaLinks,
		"html_design":    req.HTMLDesign,
	}
	if req.Stage != "" {
		updates["stage"] = req.Stage
	}
	if req.Subject != "" {
		updates["subject"] = req.Subject
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	if err := config.DB.Model(&tmpl).Updates(updates).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update template",
		})
	}

	return c.JSON(tmpl)
}

func DeleteTemplate(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	id, err := utils.ParseUint(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid template ID",
		})
	}

	result := config.DB.Where("id = ? AND user_id = ?", id, user.ID).Delete(&models.SequenceTemplate{})
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete template",
		})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Template not found",
		})
	}

	return c.JSON(fiber.Map{"message": "Template deleted"})
}

func GetTiming(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var entries []models.TimingEntry
	if err := config.DB.
		Where("user_id = ?", user.ID).
		Order("stage ASC").
		Find(&entries).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch timing settings",
		})
	}

	if len(entries) == 0 {
		config.DB.Where("user_id IS NULL").Order("stage ASC").Find(&entries)
	}

	return c.JSON(entries)
}

// PutTiming replaces the owner's stage schedule wholesale. Partial edits
// are not supported; the UI always submits the full list.
func PutTiming(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req TimingRequest
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

	for _, e := range req.Entries {
		if _, ok := engine.ParseStage(e.Stage); !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unknown stage: " + e.Stage,
			})
		}
	}

	entries := make([]models.TimingEntry, 0, len(req.Entries))
	for _, e := range req.Entries {
		entries = append(entries, models.TimingEntry{
			UserID: &user.ID,
			Stage:  e.Stage,
			Delay:  e.Delay,
			Unit:   e.Unit,
		})
	}

	err := config.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("user_id = ?", user.ID).Delete(&models.TimingEntry{}).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		return tx.Create(&entries).Error
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save timing settings",
		})
	}

	return c.JSON(entries)
}

func GetCompanyProfile(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var profile models.CompanyProfile
	if err := config.DB.Where("user_id = ?", user.ID).First(&profile).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Company profile not set",
		})
	}

	return c.JSON(profile)
}

func PutCompanyProfile(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req ProfileRequest
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

	var profile models.CompanyProfile
	err := config.DB.Where("user_id = ?", user.ID).First(&profile).Error
	if err != nil {
		profile = models.CompanyProfile{UserID: user.ID}
	}

	profile.CompanyName = req.CompanyName
	profile.OwnerName = req.OwnerName
	profile.ExecutiveName = req.ExecutiveName
	profile.Service = req.Service
	profile.Industry = req.Industry
	profile.Website = req.Website
	profile.Location = req.Location
	profile.SenderName = req.SenderName
	profile.SenderEmail = req.SenderEmail
	profile.ReplyPersona = req.ReplyPersona

	if err := config.DB.Save(&profile).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save company profile",
		})
	}

	return c.JSON(profile)
}
