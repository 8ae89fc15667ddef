package models

import (
	"time"

	"gorm.io/gorm"
)

// SequenceTemplate is the email template for one sequence stage. A nil
// UserID marks a global template; owner-specific templates take precedence.
//
// Legacy templates carry pre-rendered HTML/text content. Modular templates
// carry a content prompt instead and are rendered through the AI generator
// at send time.
type SequenceTemplate struct {
	gorm.Model
	UserID *uint `gorm:"index" json:"user_id,omitempty"`

	Stage   string `gorm:"not null;index" json:"stage"`
	Subject string `gorm:"not null" json:"subject"`

	// Legacy pre-rendered content
	HTMLContent string `gorm:"type:text" json:"html_content"`
	TextContent string `gorm:"type:text" json:"text_content"`

	// Modular content, rendered via the AI generator
	ContentPrompt string `gorm:"type:text" json:"content_prompt"`
	Signature     string `gorm:"type:text" json:"signature"`
	MediaLinks    string `gorm:"type:text" json:"media_links"`
	HTMLDesign    string `gorm:"type:text" json:"html_design"`

	// No column default: GORM drops zero-valued fields carrying a default
	// tag from the INSERT, which would resurrect a template created as
	// inactive. Every create path sets this field explicitly.
	IsActive bool `gorm:"index" json:"is_active"`
}

// IsModular reports whether this template requires AI rendering.
func (t *SequenceTemplate) IsModular() bool {
	return t.ContentPrompt != ""
}

// Units accepted in timing entries.
const (
	UnitMinutes = "minutes"
	UnitHours   = "hours"
	UnitDays    = "days"
)

// TimingEntry defines the wait before a stage fires, relative to the
// previous send. A nil UserID marks the global default schedule.
type TimingEntry struct {
	gorm.Model
	UserID *uint `gorm:"index" json:"user_id,omitempty"`

	Stage string `gorm:"not null;index" json:"stage"`
	Delay int    `gorm:"not null" json:"delay"`
	Unit  string `gorm:"not null" json:"unit"` // minutes, hours, days
}

// Duration converts the entry to a concrete wait.
func (e *TimingEntry) Duration() time.Duration {
	switch e.Unit {
	case UnitMinutes:
		return time.Duration(e.Delay) * time.Minute
	case UnitHours:
		return time.Duration(e.Delay) * time.Hour
	case UnitDays:
		return time.Duration(e.Delay) * 24 * time.Hour
	default:
		return time.Duration(e.Delay) * 24 * time.Hour
	}
}
