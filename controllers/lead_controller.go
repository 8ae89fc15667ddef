package controller

import (
	"github.com/gofiber/fiber/v2"

	"leadflow/config"
	"leadflow/models"
	"leadflow/utils"
)

type CreateLeadRequest struct {
	Email            string `json:"email" validate:"required,email"`
	Name             string `json:"name"`
	Company          string `json:"company"`
	ContactEmail     string `json:"contact_email" validate:"omitempty,email"`
	Phone            string `json:"phone"`
	Website          string `json:"website"`
	City             string `json:"city"`
	Rating           float64 `json:"rating"`
	ReviewCount      int    `json:"review_count"`
	OwnerName        string `json:"owner_name"`
	CompanyOwner     string `json:"company_owner"`
	ExecutiveName    string `json:"executive_name"`
	UseCompanyEmail  bool   `json:"use_company_email"`
	UseAuthorIdentity bool  `json:"use_author_identity"`
}

type UpdateLeadRequest struct {
	Name              *string  `json:"name"`
	Company           *string  `json:"company"`
	ContactEmail      *string  `json:"contact_email" validate:"omitempty,email"`
	Phone             *string  `json:"phone"`
	Website           *string  `json:"website"`
	City              *string  `json:"city"`
	Rating            *float64 `json:"rating"`
	ReviewCount       *int     `json:"review_count"`
	OwnerName         *string  `json:"owner_name"`
	CompanyOwner      *string  `json:"company_owner"`
	ExecutiveName     *string  `json:"executive_name"`
	PipelineStage     *string  `json:"pipeline_stage" validate:"omitempty,oneof=new calling meeting deal lost"`
	UseCompanyEmail   *bool    `json:"use_company_email"`
	UseAuthorIdentity *bool    `json:"use_author_identity"`
	AutomationEnabled *bool    `json:"automation_enabled"`
}

func CreateLead(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req CreateLeadRequest
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

	lead := models.Lead{
		UserID:            user.ID,
		Email:             req.Email,
		Name:              req.Name,
		Company:           req.Company,
		ContactEmail:      req.ContactEmail,
		Phone:             req.Phone,
		Website:           req.Website,
		City:              req.City,
		Rating:            req.Rating,
		ReviewCount:       req.ReviewCount,
		OwnerName:         req.OwnerName,
		CompanyOwner:      req.CompanyOwner,
		ExecutiveName:     req.ExecutiveName,
		PipelineStage:     models.PipelineNew,
		UseCompanyEmail:   req.UseCompanyEmail,
		UseAuthorIdentity: req.UseAuthorIdentity,
		DeliveryStatus:    models.DeliveryReady,
	}

	if err := config.DB.Create(&lead).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create lead",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(lead)
}

func GetLeads(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	query := config.DB.Where("user_id = ?", user.ID)
	if status := c.Query("delivery_status"); status != "" {
		query = query.Where("delivery_status = ?", status)
	}
	if stage := c.Query("pipeline_stage"); stage != "" {
		query = query.Where("pipeline_stage = ?", stage)
	}
	if active := c.Query("sequence_active"); active != "" {
		query = query.Where("sequence_active = ?", active == "true")
	}

	var leads []models.Lead
	if err := query.Order("id DESC").Find(&leads).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch leads",
		})
	}

	return c.JSON(leads)
}

func GetLead(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	id, err := utils.ParseUint(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid lead ID",
		})
	}

	var lead models.Lead
	if err := config.DB.
		Preload("Attempts").
		Preload("SendErrors").
		Where("id = ? AND user_id = ?", id, user.ID).
		First(&lead).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Lead not found",
		})
	}

	return c.JSON(lead)
}

func UpdateLead(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	id, err := utils.ParseUint(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid lead ID",
		})
	}

	var lead models.Lead
	if err := config.DB.Where("id = ? AND user_id = ?", id, user.ID).First(&lead).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Lead not found",
		})
	}

	var req UpdateLeadRequest
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

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Company != nil {
		updates["company"] = *req.Company
	}
	if req.ContactEmail != nil {
		updates["contact_email"] = *req.ContactEmail
	}
	if req.Phone != nil {
		updates["phone"] = *req.Phone
	}
	if req.Website != nil {
		updates["website"] = *req.Website
	}
	if req.City != nil {
		updates["city"] = *req.City
	}
	if req.Rating != nil {
		updates["rating"] = *req.Rating
	}
	if req.ReviewCount != nil {
		updates["review_count"] = *req.ReviewCount
	}
	if req.OwnerName != nil {
		updates["owner_name"] = *req.OwnerName
	}
	if req.CompanyOwner != nil {
		updates["company_owner"] = *req.CompanyOwner
	}
	if req.ExecutiveName != nil {
		updates["executive_name"] = *req.ExecutiveName
	}
	if req.PipelineStage != nil {
		updates["pipeline_stage"] = *req.PipelineStage
	}
	if req.UseCompanyEmail != nil {
		updates["use_company_email"] = *req.UseCompanyEmail
	}
	if req.UseAuthorIdentity != nil {
		updates["use_author_identity"] = *req.UseAuthorIdentity
	}
	if req.AutomationEnabled != nil {
		updates["automation_enabled"] = *req.AutomationEnabled
	}

	if len(updates) > 0 {
		if err := config.DB.Model(&lead).Updates(updates).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to update lead",
			})
		}
	}

	return c.JSON(lead)
}

func DeleteLead(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	id, err := utils.ParseUint(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid lead ID",
		})
	}

	result := config.DB.Where("id = ? AND user_id = ?", id, user.ID).Delete(&models.Lead{})
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete lead",
		})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Lead not found",
		})
	}

	return c.JSON(fiber.Map{"message": "Lead deleted"})
}

// StartSequence (re)enables the drip sequence for a lead. Retry and
// failure bookkeeping is reset so a previously exhausted lead gets a
// fresh budget.
func StartSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	id, err := utils.ParseUint(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid lead ID",
		})
	}

	var lead models.Lead
	if err := config.DB.Where("id = ? AND user_id = ?", id, user.ID).First(&lead).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Lead not found",
		})
	}

	if lead.DeliveryStatus == models.DeliveryCompleted {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Sequence already completed for this lead",
		})
	}

	if err := config.DB.Model(&lead).Updates(map[string]interface{}{
		"sequence_active":    true,
		"automation_enabled": true,
		"delivery_status":    models.DeliveryReady,
		"retry_count":        0,
		"failure_count":      0,
		"stopped_reason":     nil,
		"last_error":         nil,
		"next_scheduled_at":  nil,
	}).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to start sequence",
		})
	}

	return c.JSON(lead)
}

func StopSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	id, err := utils.ParseUint(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid lead ID",
		})
	}

	var lead models.Lead
	if err := config.DB.Where("id = ? AND user_id = ?", id, user.ID).First(&lead).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Lead not found",
		})
	}

	if err := config.DB.Model(&lead).Updates(map[string]interface{}{
		"sequence_active":   false,
		"stopped_reason":    "Stopped manually",
		"next_scheduled_at": nil,
	}).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to stop sequence",
		})
	}

	return c.JSON(lead)
}
