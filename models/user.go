package models

import (
	"gorm.io/gorm"
)

// User represents an account that owns leads, templates and senders
type User struct {
	gorm.Model

	// Authentication fields
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`

	// Profile information
	Name     *string `json:"name,omitempty"`
	Company  *string `json:"company,omitempty"`
	Timezone string  `gorm:"default:'UTC'" json:"timezone"`

	// Account status
	IsActive bool `gorm:"default:true" json:"is_active"`
	IsAdmin  bool `gorm:"default:false" json:"is_admin"`

	// Relations
	Senders []Sender `gorm:"foreignKey:UserID" json:"senders,omitempty"`
	Leads   []Lead   `gorm:"foreignKey:UserID" json:"leads,omitempty"`
}

// CompanyProfile holds the per-account company fields that feed template
// placeholders and the reply persona used when drafting responses.
type CompanyProfile struct {
	gorm.Model
	UserID uint `gorm:"not null;uniqueIndex" json:"user_id"`

	CompanyName   string `json:"company_name"`
	OwnerName     string `json:"owner_name"`
	ExecutiveName string `json:"executive_name"`
	Service       string `json:"service"`
	Industry      string `json:"industry"`
	Website       string `json:"website"`
	Location      string `json:"location"`

	// Outbound identity defaults
	SenderName  string `json:"sender_name"`
	SenderEmail string `json:"sender_email"`

	// Natural-language persona prompt used by the reply drafter
	ReplyPersona string `gorm:"type:text" json:"reply_persona"`

	// Relations
	User User `json:"-"`
}
