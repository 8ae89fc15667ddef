package models

import (
	"time"

	"gorm.io/gorm"
)

// Draft response sources and states.
const (
	DraftSourceAI    = "ai_draft"
	DraftSourceFinal = "final_template"

	DraftPendingReview = "pending_review"
	DraftApproved      = "approved"
	DraftSent          = "sent"
	DraftDiscarded     = "discarded"
)

// InboundEmail is a reply (or any inbound message) delivered by the reply
// fetcher and fed into triage.
type InboundEmail struct {
	gorm.Model
	UserID   uint  `gorm:"not null;index" json:"user_id"`
	LeadID   *uint `gorm:"index" json:"lead_id,omitempty"`
	SenderID *uint `gorm:"index" json:"sender_id,omitempty"`

	MessageID   string    `gorm:"index" json:"message_id"`
	FromAddress string    `gorm:"not null;index" json:"from_address"`
	ToAddress   string    `json:"to_address"`
	Subject     string    `json:"subject"`
	Body        string    `gorm:"type:text" json:"body"`
	BodyHTML    string    `gorm:"type:text" json:"body_html"`
	ReceivedAt  time.Time `gorm:"not null" json:"received_at"`
	Processed   bool      `gorm:"default:false;index" json:"processed"`

	// Relations
	User User `json:"-"`
}

// Conversation tracks the inbound message count per (owner, address) pair.
// The count is incremented atomically so the reply-threshold check cannot
// be bypassed by concurrent inbound messages.
type Conversation struct {
	gorm.Model
	UserID  uint   `gorm:"not null;uniqueIndex:idx_conversations_owner_address" json:"user_id"`
	Address string `gorm:"not null;uniqueIndex:idx_conversations_owner_address" json:"address"`

	MessageCount  int        `gorm:"default:0" json:"message_count"`
	LastMessageAt *time.Time `json:"last_message_at"`
}

// DraftResponse holds a triaged reply: either an AI draft awaiting human
// review or the deterministic final-template message marked auto-sendable.
type DraftResponse struct {
	gorm.Model
	UserID         uint  `gorm:"not null;index" json:"user_id"`
	LeadID         uint  `gorm:"not null;index" json:"lead_id"`
	InboundEmailID uint  `gorm:"not null;index" json:"inbound_email_id"`
	ConversationID *uint `json:"conversation_id,omitempty"`

	Subject  string `gorm:"not null" json:"subject"`
	Body     string `gorm:"type:text" json:"body"`
	Source   string `gorm:"not null" json:"source"` // ai_draft, final_template
	AutoSend bool   `gorm:"default:false" json:"auto_send"`

	Status    string     `gorm:"default:'pending_review';index" json:"status"`
	SentAt    *time.Time `json:"sent_at"`
	MessageID string     `json:"message_id"`

	// Relations
	Lead    Lead         `json:"-"`
	Inbound InboundEmail `gorm:"foreignKey:InboundEmailID" json:"-"`
}
