// Package api holds the JSON shapes exchanged between the server and its
// polling clients.
package api

import (
	"encoding/json"
	"time"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Response is the envelope every endpoint answers with.
type Response struct {
	Status  string          `json:"status"`
	Message *string         `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type Participant struct {
	ID     uint   `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type ConversationSummary struct {
	ID               string      `json:"id"`
	OtherParticipant Participant `json:"other_participant"`
	LastMessageAt    *time.Time  `json:"last_message_at"`
	CreatedAt        time.Time   `json:"created_at"`
	UnreadCount      int         `json:"unread_count"`
}

type Conversation struct {
	ID            string     `json:"id"`
	Participants  [2]uint    `json:"participants"`
	CreatedAt     time.Time  `json:"created_at"`
	LastMessageAt *time.Time `json:"last_message_at"`
	Created       bool       `json:"created"`
}

type Message struct {
	ID        uint64    `json:"id"`
	SenderID  uint      `json:"sender_id"`
	Content   string    `json:"content"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateConversationInput struct {
	OtherUserID uint `json:"other_user_id"`
}

type SendMessageInput struct {
	Content string `json:"content"`
}

type SigninInput struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	OTP     bool   `json:"2fa"`
}
