package models

import (
	"time"

	"gorm.io/gorm"
)

// Delivery status values a lead moves through while its sequence runs.
const (
	DeliveryReady      = "ready"
	DeliverySending    = "sending"
	DeliverySent       = "sent"
	DeliveryFailed     = "failed"
	DeliveryMaxRetries = "max_retries_exceeded"
	DeliveryCompleted  = "completed"
)

// Pipeline stages set by humans in the CRM. Moving a lead to a terminal
// pipeline stage halts its sequence.
const (
	PipelineNew     = "new"
	PipelineCalling = "calling"
	PipelineMeeting = "meeting"
	PipelineDeal    = "deal"
	PipelineLost    = "lost"
)

// Attempt outcomes recorded in the history log.
const (
	AttemptSent    = "sent"
	AttemptFailed  = "failed"
	AttemptBounced = "bounced"
)

// Lead represents a single contact enrolled (or enrollable) in the
// outreach sequence. The automation engine owns the sequence and delivery
// state fields; everything else is CRM data.
type Lead struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Email        string  `gorm:"not null;index" json:"email" validate:"required,email"`
	Name         string  `json:"name"`
	Company      string  `json:"company"`
	ContactEmail string  `json:"contact_email"` // company contact, preferred when UseCompanyEmail is set
	Phone        string  `json:"phone"`
	Website      string  `json:"website"`
	City         string  `json:"city"`
	Rating       float64 `json:"rating"`
	ReviewCount  int     `json:"review_count"`

	// AI-enriched ownership data. OwnerName is the explicitly authored
	// owner; CompanyOwner is the generic company-owner field.
	OwnerName     string `json:"owner_name"`
	CompanyOwner  string `json:"company_owner"`
	ExecutiveName string `json:"executive_name"`

	PipelineStage string `gorm:"default:'new';index" json:"pipeline_stage"`

	// Outreach routing flags
	UseCompanyEmail   bool `gorm:"default:false" json:"use_company_email"`
	UseAuthorIdentity bool `gorm:"default:false" json:"use_author_identity"`

	// Sequence state
	AutomationEnabled bool       `gorm:"default:false;index" json:"automation_enabled"`
	SequenceActive    bool       `gorm:"default:false;index" json:"sequence_active"`
	CurrentStage      string     `json:"current_stage"`
	CurrentStep       int        `gorm:"default:0" json:"current_step"`
	NextScheduledAt   *time.Time `gorm:"index" json:"next_scheduled_at"`
	StoppedReason     *string    `json:"stopped_reason"`

	// Delivery state
	DeliveryStatus string     `gorm:"default:'ready';index" json:"delivery_status"`
	RetryCount     int        `gorm:"default:0" json:"retry_count"`
	FailureCount   int        `gorm:"default:0" json:"failure_count"`
	LastAttemptAt  *time.Time `json:"last_attempt_at"`
	LastError      *string    `json:"last_error"`

	// Claim timestamp for the per-lead lease taken before sending, so
	// overlapping batch invocations cannot both pick up the same lead.
	ClaimedUntil *time.Time `json:"-"`

	// Relations
	Attempts   []SequenceAttempt `gorm:"foreignKey:LeadID" json:"attempts,omitempty"`
	SendErrors []SendError       `gorm:"foreignKey:LeadID" json:"send_errors,omitempty"`
}

// SequenceAttempt is one entry in a lead's append-only outreach history.
// The rendered content is snapshotted in full for audit and for the
// duplicate-suppression check.
type SequenceAttempt struct {
	gorm.Model
	LeadID uint `gorm:"not null;index" json:"lead_id"`
	UserID uint `gorm:"not null;index" json:"user_id"`

	Stage      string    `gorm:"not null;index" json:"stage"`
	Status     string    `gorm:"not null" json:"status"` // sent, failed, bounced
	MessageID  string    `json:"message_id"`
	RetryCount int       `gorm:"default:0" json:"retry_count"`
	SentAt     time.Time `gorm:"not null;index" json:"sent_at"`

	// Rendered content snapshot
	Subject  string `json:"subject"`
	HTMLBody string `gorm:"type:text" json:"html_body"`
	TextBody string `gorm:"type:text" json:"text_body"`

	// Relations
	Lead Lead `json:"-"`
}

// SendError is an append-only error log entry, kept separate from the
// attempt history so failures never overwrite audit data.
type SendError struct {
	gorm.Model
	LeadID uint `gorm:"not null;index" json:"lead_id"`

	Stage   string `json:"stage"`
	Attempt int    `json:"attempt"`
	Message string `gorm:"type:text" json:"message"`

	// Relations
	Lead Lead `json:"-"`
}
