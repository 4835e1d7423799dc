package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ParticipantRoleAdmin  = "admin"
	ParticipantRoleMember = "member"
)

// ConversationParticipant links a user to a conversation. At most one row
// exists per (conversation, user) pair; re-adding a removed participant
// reactivates the existing row. LastReadAt is the read cursor: messages
// created after it are unread for this user.
type ConversationParticipant struct {
	ID             uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	ConversationID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_conversation_user" json:"conversation_id"`
	UserID         uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_conversation_user" json:"user_id"`
	Role           string     `gorm:"size:20;not null;default:'member'" json:"role"`
	JoinedAt       time.Time  `json:"joined_at"`
	LastReadAt     *time.Time `json:"last_read_at"`
	IsActive       bool       `gorm:"default:true" json:"is_active"`

	User User `gorm:"foreignkey:UserID" json:"user,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *ConversationParticipant) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	return nil
}

// MarkConversationRead advances the participant's read cursor to now. Both
// the socket join path and the paginated history endpoint funnel through
// here, so front ends that separate viewing from reading can skip it.
// The cursor only ever moves forward since the new value is always now.
func MarkConversationRead(db *gorm.DB, conversationID, userID uuid.UUID) error {
	return db.Model(&ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ? AND is_active = ?", conversationID, userID, true).
		Update("last_read_at", time.Now()).Error
}

// UnreadCount counts non-deleted messages newer than the participant's read
// cursor; a nil cursor means every message counts.
func UnreadCount(db *gorm.DB, conversationID uuid.UUID, lastReadAt *time.Time) (int64, error) {
	query := db.Model(&Message{}).
		Where("conversation_id = ? AND is_deleted = ?", conversationID, false)
	if lastReadAt != nil {
		query = query.Where("created_at > ?", *lastReadAt)
	}

	var count int64
	err := query.Count(&count).Error
	return count, err
}
