package routes

import (
	controller "leadflow/controllers"
	"leadflow/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"
)

func SetupRoutes(app *fiber.App, db *gorm.DB) {
	SetupAuthRoutes(app)
	SetupAPIRoutes(app)
	SetupCronRoutes(app)
}

func SetupAuthRoutes(app *fiber.App) {
	auth := app.Group("/auth", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	auth.Post("/register", controller.Register)
	auth.Post("/login", controller.Login)
	auth.Post("/refresh", controller.RefreshToken)

	protectedAuth := auth.Group("", middleware.Protected())
	protectedAuth.Get("/me", controller.GetCurrentUser)
}

func SetupAPIRoutes(app *fiber.App) {
	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Lead routes
	leads := api.Group("/leads")
	leads.Post("/", controller.CreateLead)
	leads.Get("/", controller.GetLeads)
	leads.Get("/:id", controller.GetLead)
	leads.Put("/:id", controller.UpdateLead)
	leads.Delete("/:id", controller.DeleteLead)
	leads.Post("/:id/sequence/start", controller.StartSequence)
	leads.Post("/:id/sequence/stop", controller.StopSequence)

	// Template routes
	templates := api.Group("/templates")
	templates.Post("/", controller.CreateTemplate)
	templates.Get("/", controller.GetTemplates)
	templates.Put("/:id", controller.UpdateTemplate)
	templates.Delete("/:id", controller.DeleteTemplate)

	// Timing settings
	api.Get("/timing", controller.GetTiming)
	api.Put("/timing", controller.PutTiming)

	// Company profile
	api.Get("/profile", controller.GetCompanyProfile)
	api.Put("/profile", controller.PutCompanyProfile)

	// Sender routes
	senders := api.Group("/senders")
	senders.Post("/", controller.CreateSender)
	senders.Get("/", controller.GetSenders)
	senders.Put("/:id", controller.UpdateSender)
	senders.Delete("/:id", controller.DeleteSender)
	senders.Post("/:id/test", controller.TestSender)

	// Automation run history
	runs := api.Group("/automation")
	runs.Get("/runs", controller.GetRuns)
	runs.Get("/runs/:id", controller.GetRun)

	// Reply triage routes
	responses := api.Group("/responses")
	responses.Post("/inbound", controller.IngestInbound)
	responses.Get("/drafts", controller.ListDrafts)
	responses.Post("/drafts/:id/approve", controller.ApproveDraft)
	responses.Post("/drafts/:id/discard", controller.DiscardDraft)

	// Websocket progress stream for the latest run
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/automation/progress", controller.RunProgress())
}

// SetupCronRoutes exposes the scheduler-facing batch trigger. These
// endpoints authenticate with the shared cron secret, not a user token.
func SetupCronRoutes(app *fiber.App) {
	cron := app.Group("/cron", middleware.CronAuth())
	cron.Post("/automation/run", controller.RunAutomation)
	cron.Get("/automation/run", controller.RunAutomation)
}
