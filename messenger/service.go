package messenger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"dm-service/model"
)

// Summary is one row of a user's conversation list.
type Summary struct {
	Conversation model.Conversation
	Other        model.Profile
	UnreadCount  int
}

// Service is the stateless request surface over the directory and the log.
// Every conversation-scoped call checks participation before delegating.
type Service struct {
	dir    *Directory
	log    *MessageLog
	users  Identity
	events Publisher
	logger zerolog.Logger
}

type Option func(*Service)

// WithPublisher routes domain events to p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

// WithClock replaces the server clock used to stamp conversations and
// messages.
func WithClock(c Clock) Option {
	return func(s *Service) {
		s.dir.now = c
		s.log.now = c
	}
}

// WithMaxContentLength caps message length in runes.
func WithMaxContentLength(n int) Option {
	return func(s *Service) {
		s.log.SetMaxContentLength(n)
	}
}

func NewService(db *gorm.DB, users Identity, logger zerolog.Logger, opts ...Option) *Service {
	dir := NewDirectory(db, users, logger)
	s := &Service{
		dir:    dir,
		log:    NewMessageLog(db, dir, logger),
		users:  users,
		events: nopPublisher{},
		logger: logger.With().Str("component", "messenger").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) ListConversations(ctx context.Context, userID uint) ([]Summary, error) {
	convs, err := s.dir.ListFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(convs))
	if len(convs) == 0 {
		return out, nil
	}

	ids := make([]uuid.UUID, 0, len(convs))
	others := make([]uint, 0, len(convs))
	for i := range convs {
		ids = append(ids, convs[i].ID)
		others = append(others, convs[i].Other(userID))
	}
	profiles, err := s.users.Profiles(ctx, others)
	if err != nil {
		return nil, err
	}
	unread, err := s.log.UnreadCounts(ctx, userID, ids)
	if err != nil {
		return nil, err
	}

	for i := range convs {
		other := convs[i].Other(userID)
		profile, ok := profiles[other]
		if !ok {
			profile = model.Profile{ID: other}
		}
		out = append(out, Summary{
			Conversation: convs[i],
			Other:        profile,
			UnreadCount:  unread[convs[i].ID],
		})
	}
	return out, nil
}

// GetOrCreateConversation is the only way conversations come into being.
// created is true only for the call that inserted the row.
func (s *Service) GetOrCreateConversation(ctx context.Context, userID, otherUserID uint) (*model.Conversation, bool, error) {
	conv, created, err := s.dir.Resolve(ctx, userID, otherUserID)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.publish(ctx, ActionConversationCreated, ConversationCreatedEvent{
			ConversationID: conv.ID,
			Participants:   [2]uint{conv.ParticipantLowID, conv.ParticipantHighID},
			CreatedAt:      conv.CreatedAt,
		})
	}
	return conv, created, nil
}

func (s *Service) GetMessages(ctx context.Context, userID uint, conversationID uuid.UUID) ([]model.Message, error) {
	if _, err := s.authorize(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	return s.log.List(ctx, conversationID, userID)
}

func (s *Service) SendMessage(ctx context.Context, userID uint, conversationID uuid.UUID, content string) (*model.Message, error) {
	conv, err := s.authorize(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	msg, err := s.log.Append(ctx, conversationID, userID, content)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, ActionMessageCreated, MessageCreatedEvent{
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		RecipientID:    conv.Other(userID),
		CreatedAt:      msg.CreatedAt,
	})
	return msg, nil
}

// authorize collapses "no such conversation" into ErrForbidden so callers
// outside a conversation cannot probe for its existence.
func (s *Service) authorize(ctx context.Context, userID uint, conversationID uuid.UUID) (*model.Conversation, error) {
	conv, err := s.dir.Get(ctx, conversationID)
	if errors.Is(err, ErrConversationNotFound) {
		return nil, ErrForbidden
	}
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrForbidden
	}
	return conv, nil
}

func (s *Service) publish(ctx context.Context, action string, payload any) {
	if err := s.events.Publish(ctx, action, payload); err != nil {
		s.logger.Warn().Err(err).Str("action", action).Msg("publish event")
	}
}

type ConversationCreatedEvent struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Participants   [2]uint   `json:"participants"`
	CreatedAt      time.Time `json:"created_at"`
}

type MessageCreatedEvent struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uint64    `json:"message_id"`
	SenderID       uint      `json:"sender_id"`
	RecipientID    uint      `json:"recipient_id"`
	CreatedAt      time.Time `json:"created_at"`
}
