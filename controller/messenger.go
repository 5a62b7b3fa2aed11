package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"dm-service/api"
	"dm-service/messenger"
	"dm-service/middleware"
	"dm-service/model"
)

type Messenger struct {
	svc *messenger.Service
}

func NewMessenger(svc *messenger.Service) *Messenger {
	return &Messenger{svc: svc}
}

func (m *Messenger) ListConversations(c *fiber.Ctx) error {
	userID, ok := middleware.CallerID(c)
	if !ok {
		return failure(c, fiber.StatusUnauthorized, "Invalid or expired JWT")
	}

	summaries, err := m.svc.ListConversations(c.UserContext(), userID)
	if err != nil {
		return domainError(c, err)
	}

	out := make([]api.ConversationSummary, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, api.ConversationSummary{
			ID: s.Conversation.ID.String(),
			OtherParticipant: api.Participant{
				ID:     s.Other.ID,
				Name:   s.Other.Name,
				Avatar: s.Other.Avatar,
			},
			LastMessageAt: s.Conversation.LastMessageAt,
			CreatedAt:     s.Conversation.CreatedAt,
			UnreadCount:   s.UnreadCount,
		})
	}
	return success(c, fiber.StatusOK, out)
}

func (m *Messenger) CreateConversation(c *fiber.Ctx) error {
	userID, ok := middleware.CallerID(c)
	if !ok {
		return failure(c, fiber.StatusUnauthorized, "Invalid or expired JWT")
	}

	input := new(api.CreateConversationInput)
	if err := c.BodyParser(input); err != nil || input.OtherUserID == 0 {
		return failure(c, fiber.StatusBadRequest, "Review your input")
	}

	conv, created, err := m.svc.GetOrCreateConversation(c.UserContext(), userID, input.OtherUserID)
	if err != nil {
		return domainError(c, err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return success(c, status, api.Conversation{
		ID:            conv.ID.String(),
		Participants:  [2]uint{conv.ParticipantLowID, conv.ParticipantHighID},
		CreatedAt:     conv.CreatedAt,
		LastMessageAt: conv.LastMessageAt,
		Created:       created,
	})
}

func (m *Messenger) GetMessages(c *fiber.Ctx) error {
	userID, ok := middleware.CallerID(c)
	if !ok {
		return failure(c, fiber.StatusUnauthorized, "Invalid or expired JWT")
	}
	conversationID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		// Malformed ids get the same answer as foreign ones.
		return failure(c, fiber.StatusForbidden, messenger.ErrForbidden.Message)
	}

	messages, err := m.svc.GetMessages(c.UserContext(), userID, conversationID)
	if err != nil {
		return domainError(c, err)
	}

	out := make([]api.Message, 0, len(messages))
	for i := range messages {
		out = append(out, messageDTO(&messages[i]))
	}
	return success(c, fiber.StatusOK, out)
}

func (m *Messenger) SendMessage(c *fiber.Ctx) error {
	userID, ok := middleware.CallerID(c)
	if !ok {
		return failure(c, fiber.StatusUnauthorized, "Invalid or expired JWT")
	}
	conversationID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return failure(c, fiber.StatusForbidden, messenger.ErrForbidden.Message)
	}

	input := new(api.SendMessageInput)
	if err := c.BodyParser(input); err != nil {
		return failure(c, fiber.StatusBadRequest, "Review your input")
	}

	msg, err := m.svc.SendMessage(c.UserContext(), userID, conversationID, input.Content)
	if err != nil {
		return domainError(c, err)
	}
	return success(c, fiber.StatusCreated, messageDTO(msg))
}

func messageDTO(m *model.Message) api.Message {
	return api.Message{
		ID:        m.ID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		IsRead:    m.IsRead,
		CreatedAt: m.CreatedAt,
	}
}
