package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	MessageTypeText   = "text"
	MessageTypeFile   = "file"
	MessageTypeImage  = "image"
	MessageTypeSystem = "system"
)

// Message content is immutable except through the edit path, which stamps
// EditedAt. Deletion is always soft so history and unread counts stay
// consistent. SenderID is nullable so messages survive account removal.
type Message struct {
	ID             uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	ConversationID uuid.UUID  `gorm:"type:uuid;not null;index" json:"conversation_id"`
	SenderID       *uuid.UUID `gorm:"type:uuid" json:"sender_id"`
	MessageType    string     `gorm:"size:20;not null;default:'text'" json:"message_type"`
	Content        string     `gorm:"type:text;not null" json:"content"`
	FileURL        *string    `gorm:"size:512" json:"file_url"`
	FileName       *string    `gorm:"size:255" json:"file_name"`
	FileSize       *int64     `json:"file_size"`
	IsEdited       bool       `gorm:"default:false" json:"is_edited"`
	EditedAt       *time.Time `json:"edited_at"`
	IsDeleted      bool       `gorm:"default:false" json:"is_deleted"`
	DeletedAt      *time.Time `json:"deleted_at"`

	Sender    *User             `gorm:"foreignkey:SenderID" json:"sender,omitempty"`
	Reactions []MessageReaction `gorm:"constraint:OnDelete:CASCADE" json:"reactions,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
