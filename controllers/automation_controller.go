package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"leadflow/config"
	"leadflow/engine"
	"leadflow/models"
	"leadflow/utils"
)

var automationEngine *engine.Engine

// SetEngine wires the shared engine instance into the automation
// endpoints. Called once at startup.
func SetEngine(e *engine.Engine) {
	automationEngine = e
}

// RunAutomation processes one batch on demand. The external scheduler
// hits this endpoint; overlap with the background worker is safe because
// leads are claimed under a lease.
func RunAutomation(c *fiber.Ctx) error {
	if automationEngine == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Automation engine is not running",
		})
	}

	summary, err := automationEngine.ProcessBatch(c.UserContext(), "cron")
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(summary)
}

func GetRuns(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var runs []models.AutomationRun
	if err := config.DB.Order("id DESC").Limit(limit).Find(&runs).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch runs",
		})
	}

	return c.JSON(runs)
}

func GetRun(c *fiber.Ctx) error {
	id, err := utils.ParseUint(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid run ID",
		})
	}

	var run models.AutomationRun
	if err := config.DB.First(&run, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Run not found",
		})
	}

	return c.JSON(run)
}

// RunProgress streams the latest run's counters over a websocket so the
// UI can show batch progress live. The run row is the source of truth, so
// progress survives engine restarts.
func RunProgress() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		defer c.Close()

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		var lastStep int = -1
		for range ticker.C {
			var run models.AutomationRun
			if err := config.DB.Order("id DESC").First(&run).Error; err != nil {
				continue
			}

			if run.Step == lastStep && run.Status != models.RunCompleted && run.Status != models.RunFailed {
				continue
			}
			lastStep = run.Step

			if err := c.WriteJSON(run); err != nil {
				return
			}

			if run.Status == models.RunCompleted || run.Status == models.RunFailed {
				return
			}
		}
	})
}
