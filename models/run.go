package models

import (
	"time"

	"gorm.io/gorm"
)

// Automation run states.
const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// AutomationRun is the persisted record of one batch invocation. Progress
// counters are written back after every processed lead, so a restarted or
// horizontally-scaled instance can see what a crashed run got through
// instead of keeping job state in process memory.
type AutomationRun struct {
	gorm.Model

	Status      string `gorm:"default:'pending';index" json:"status"`
	TriggeredBy string `json:"triggered_by"` // cron, worker, manual

	// Step increases monotonically, once per processed lead.
	Step int `gorm:"default:0" json:"step"`

	Eligible  int `gorm:"default:0" json:"eligible"`
	Processed int `gorm:"default:0" json:"processed"`
	Succeeded int `gorm:"default:0" json:"succeeded"`
	Failed    int `gorm:"default:0" json:"failed"`
	Retried   int `gorm:"default:0" json:"retried"`
	Skipped   int `gorm:"default:0" json:"skipped"`

	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	LastError  *string    `json:"last_error"`

	// Per-lead failure reasons, JSON-encoded for observability.
	FailureDetail string `gorm:"type:text" json:"failure_detail"`
}
