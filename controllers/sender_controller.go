package controller

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"time"

	"github.com/gofiber/fiber/v2"

	"leadflow/config"
	"leadflow/models"
	"leadflow/utils"
)

type CreateSenderRequest struct {
	Name      string `json:"name" validate:"required"`
	FromEmail string `json:"from_email" validate:"required,email"`
	FromName  string `json:"from_name" validate:"required"`

	SMTPHost     string `json:"smtp_host" validate:"required"`
	SMTPPort     int    `json:"smtp_port" validate:"required"`
	SMTPUsername string `json:"smtp_username" validate:"required"`
	SMTPPassword string `json:"smtp_password" validate:"required"`

	IMAPHost       string `json:"imap_host"`
	IMAPPort       int    `json:"imap_port"`
	IMAPUsername   string `json:"imap_username"`
	IMAPPassword   string `json:"imap_password"`
	IMAPEncryption string `json:"imap_encryption" validate:"omitempty,oneof=SSL TLS STARTTLS"`
	IMAPMailbox    string `json:"imap_mailbox"`

	IsActive *bool `json:"is_active"`
}

type UpdateSenderRequest struct {
	Name         *string `json:"name"`
	FromEmail    *string `json:"from_email" validate:"omitempty,email"`
	FromName     *string `json:"from_name"`
	SMTPHost     *string `json:"smtp_host"`
	SMTPPort     *int    `json:"smtp_port"`
	SMTPUsername *string `json:"smtp_username"`
	SMTPPassword *string `json:"smtp_password"`
	IMAPHost     *string `json:"imap_host"`
	IMAPPort     *int    `json:"imap_port"`
	IMAPUsername *string `json:"imap_username"`
	IMAPPassword *string `json:"imap_password"`
	IMAPMailbox  *string `json:"imap_mailbox"`
	IsActive     *bool   `json:"is_active"`
}

func CreateSender(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req CreateSenderRequest
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

	encryptedSMTPPassword, err := utils.Encrypt(req.SMTPPassword)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to encrypt SMTP password",
		})
	}
	encryptedIMAPPassword, err := utils.Encrypt(req.IMAPPassword)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to encrypt IMAP password",
		})
	}

	sender := models.Sender{
		UserID:       user.ID,
		Name:         req.Name,
		FromEmail:    req.FromEmail,
		FromName:     req.FromName,
		SMTPHost:     req.SMTPHost,
		SMTPPort:     req.SMTPPort,
		SMTPUsername: req.SMTPUsername,
		SMTPPassword: encryptedSMTPPassword,
		IMAPHost:     req.IMAPHost,
		IMAPUsername: req.IMAPUsername,
		IMAPPassword: encryptedIMAPPassword,
		IsActive:     true,
	}
	if req.IsActive != nil {
		sender.IsActive = *req.IsActive
	}
	if req.IMAPPort > 0 {
		sender.IMAPPort = req.IMAPPort
	}
	if req.IMAPEncryption != "" {
		sender.IMAPEncryption = req.IMAPEncryption
	}
	if req.IMAPMailbox != "" {
		sender.IMAPMailbox = req.IMAPMailbox
	}

	if err := config.DB.Create(&sender).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create sender",
		})
	}

	sender.Sanitize()
	return c.Status(fiber.StatusCreated).JSON(sender)
}

func GetSenders(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var senders []models.Sender
	if err := config.DB.Where("user_id = ?", user.ID).Order("id ASC").Find(&senders).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch senders",
		})
	}

	for i := range senders {
		senders[i].Sanitize()
	}
	return c.JSON(senders)
}

func UpdateSender(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	id, err := utils.ParseUint(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid sender ID",
		})
	}

	var sender models.Sender
	if err := config.DB.Where("id = ? AND user_id = ?", id, user.ID).First(&sender).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sender not found",
		})
	}

	var req UpdateSenderRequest
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
	if req.FromEmail != nil {
		updates["from_email"] = *req.FromEmail
	}
	if req.FromName != nil {
		updates["from_name"] = *req.FromName
	}
	if req.SMTPHost != nil {
		updates["smtp_host"] = *req.SMTPHost
	}
	if req.SMTPPort != nil {
		updates["smtp_port"] = *req.SMTPPort
	}
	if req.SMTPUsername != nil {
		updates["smtp_username"] = *req.SMTPUsername
	}
	if req.SMTPPassword != nil {
		encrypted, err := utils.Encrypt(*req.SMTPPassword)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to encrypt SMTP password",
			})
		}
		updates["smtp_password"] = encrypted
		updates["smtp_verified"] = false
	}
	if req.IMAPHost != nil {
		updates["imap_host"] = *req.IMAPHost
	}
	if req.IMAPPort != nil {
		updates["imap_port"] = *req.IMAPPort
	}
	if req.IMAPUsername != nil {
		updates["imap_username"] = *req.IMAPUsername
	}
	if req.IMAPPassword != nil {
		encrypted, err := utils.Encrypt(*req.IMAPPassword)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to encrypt IMAP password",
			})
		}
		updates["imap_password"] = encrypted
	}
	if req.IMAPMailbox != nil {
		updates["imap_mailbox"] = *req.IMAPMailbox
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	if len(updates) > 0 {
		if err := config.DB.Model(&sender).Updates(updates).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to update sender",
			})
		}
	}

	sender.Sanitize()
	return c.JSON(sender)
}

func DeleteSender(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	id, err := utils.ParseUint(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid sender ID",
		})
	}

	result := config.DB.Where("id = ? AND user_id = ?", id, user.ID).Delete(&models.Sender{})
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete sender",
		})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sender not found",
		})
	}

	return c.JSON(fiber.Map{"message": "Sender deleted"})
}

// TestSender verifies the SMTP credentials with an authenticated handshake
// and records the result on the sender.
func TestSender(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	id, err := utils.ParseUint(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid sender ID",
		})
	}

	var sender models.Sender
	if err := config.DB.Where("id = ? AND user_id = ?", id, user.ID).First(&sender).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sender not found",
		})
	}

	password, err := utils.Decrypt(sender.SMTPPassword)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to decrypt sender credentials",
		})
	}

	testErr := testSMTPConnection(sender.SMTPHost, sender.SMTPPort, sender.SMTPUsername, password)

	now := time.Now()
	updates := map[string]interface{}{
		"last_tested_at": now,
		"smtp_verified":  testErr == nil,
	}
	if testErr != nil {
		updates["last_error"] = testErr.Error()
	} else {
		updates["last_error"] = nil
	}
	config.DB.Model(&sender).Updates(updates)

	if testErr != nil {
		return c.JSON(fiber.Map{
			"success": false,
			"error":   testErr.Error(),
		})
	}
	return c.JSON(fiber.Map{"success": true})
}

func testSMTPConnection(host string, port int, username, password string) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	auth := smtp.PlainAuth("", username, password, host)

	if port == 465 {
		conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
		if err != nil {
			return fmt.Errorf("TLS connection failed: %w", err)
		}
		defer conn.Close()

		client, err := smtp.NewClient(conn, host)
		if err != nil {
			return fmt.Errorf("SMTP handshake failed: %w", err)
		}
		defer client.Close()

		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
		return client.Quit()
	}

	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return fmt.Errorf("STARTTLS failed: %w", err)
		}
	}

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	return client.Quit()
}
