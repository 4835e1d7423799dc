package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ConversationTypeDirect = "direct"
	ConversationTypeGroup  = "group"
)

// Conversation is never hard-deleted in the common path; deactivation flips
// IsActive so history stays reachable.
type Conversation struct {
	ID        uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	Name      *string    `gorm:"size:255" json:"name"`
	Type      string     `gorm:"size:20;not null;default:'direct'" json:"type"`
	CreatedBy *uuid.UUID `gorm:"type:uuid" json:"created_by"`
	IsActive  bool       `gorm:"default:true" json:"is_active"`

	Participants []ConversationParticipant `gorm:"constraint:OnDelete:CASCADE" json:"participants,omitempty"`
	Messages     []Message                 `gorm:"constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// TouchConversation bumps updated_at so the conversation list orders by
// latest activity.
func TouchConversation(db *gorm.DB, conversationID uuid.UUID) error {
	return db.Model(&Conversation{}).
		Where("id = ?", conversationID).
		Update("updated_at", time.Now()).Error
}
