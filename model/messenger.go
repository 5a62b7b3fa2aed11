package model

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is the single private channel between two users. The pair is
// stored low id first so (a, b) and (b, a) land on the same row.
type Conversation struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ParticipantLowID  uint       `gorm:"not null;uniqueIndex:idx_conversation_pair,priority:1" json:"participant_low_id"`
	ParticipantHighID uint       `gorm:"not null;uniqueIndex:idx_conversation_pair,priority:2;index;check:chk_conversation_pair_order,participant_low_id < participant_high_id" json:"participant_high_id"`
	CreatedAt         time.Time  `gorm:"not null" json:"created_at"`
	LastMessageAt     *time.Time `json:"last_message_at"`
	Messages          []Message  `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

func (c *Conversation) HasParticipant(userID uint) bool {
	return userID != 0 && (c.ParticipantLowID == userID || c.ParticipantHighID == userID)
}

// Other returns the participant that is not userID.
func (c *Conversation) Other(userID uint) uint {
	if c.ParticipantLowID == userID {
		return c.ParticipantHighID
	}
	return c.ParticipantLowID
}

type Message struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index:idx_message_order,priority:1" json:"conversation_id"`
	SenderID       uint      `gorm:"not null" json:"sender_id"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	IsRead         bool      `gorm:"not null;default:false" json:"is_read"`
	CreatedAt      time.Time `gorm:"not null;index:idx_message_order,priority:2" json:"created_at"`
}
