package messenger

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"dm-service/model"
)

const DefaultMaxContentLength = 4000

// MessageLog is the append-only, per-conversation message store.
type MessageLog struct {
	db        *gorm.DB
	dir       *Directory
	now       Clock
	maxLength int
	log       zerolog.Logger
}

func NewMessageLog(db *gorm.DB, dir *Directory, log zerolog.Logger) *MessageLog {
	return &MessageLog{
		db:        db,
		dir:       dir,
		now:       systemClock,
		maxLength: DefaultMaxContentLength,
		log:       log.With().Str("component", "message_log").Logger(),
	}
}

// SetMaxContentLength caps message length in runes; n <= 0 disables the cap.
func (l *MessageLog) SetMaxContentLength(n int) {
	l.maxLength = n
}

// Append stores a message from senderID. created_at never precedes the
// conversation's last activity, so append order and (created_at, id) order
// agree even if the clock steps back.
func (l *MessageLog) Append(ctx context.Context, conversationID uuid.UUID, senderID uint, content string) (*model.Message, error) {
	conv, err := l.dir.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(senderID) {
		return nil, ErrForbiddenSender
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if l.maxLength > 0 && utf8.RuneCountInString(content) > l.maxLength {
		return nil, ErrContentTooLong
	}

	createdAt := stamp(l.now)
	if conv.LastMessageAt != nil && createdAt.Before(*conv.LastMessageAt) {
		createdAt = conv.LastMessageAt.UTC()
	}

	msg := &model.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      createdAt,
	}
	if err := l.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, err
	}

	// Forward-only compare-and-set: a concurrent append with a later stamp
	// wins regardless of which UPDATE lands first.
	err = l.db.WithContext(ctx).
		Model(&model.Conversation{}).
		Where("id = ? AND (last_message_at IS NULL OR last_message_at < ?)", conv.ID, createdAt).
		Update("last_message_at", createdAt).Error
	if err != nil {
		l.log.Error().Err(err).Str("conversation_id", conv.ID.String()).Uint64("message_id", msg.ID).Msg("advance last_message_at")
		return nil, err
	}
	return msg, nil
}

// List returns the whole conversation oldest first and marks everything the
// requester received as read. The returned rows reflect the post-read state.
func (l *MessageLog) List(ctx context.Context, conversationID uuid.UUID, requesterID uint) ([]model.Message, error) {
	conv, err := l.dir.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(requesterID) {
		return nil, ErrForbidden
	}

	messages := []model.Message{}
	err = l.db.WithContext(ctx).
		Where("conversation_id = ?", conv.ID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	var unread []uint64
	for i := range messages {
		if messages[i].SenderID != requesterID && !messages[i].IsRead {
			unread = append(unread, messages[i].ID)
		}
	}
	if len(unread) == 0 {
		return messages, nil
	}

	err = l.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("id IN ? AND is_read = ?", unread, false).
		Update("is_read", true).Error
	if err != nil {
		return nil, err
	}
	for i := range messages {
		if messages[i].SenderID != requesterID {
			messages[i].IsRead = true
		}
	}
	return messages, nil
}

// UnreadCounts returns, per conversation, how many messages addressed to
// userID are still unread. Conversations with none are absent.
func (l *MessageLog) UnreadCounts(ctx context.Context, userID uint, conversationIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	out := make(map[uuid.UUID]int, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		ConversationID uuid.UUID
		Unread         int
	}
	err := l.db.WithContext(ctx).
		Model(&model.Message{}).
		Select("conversation_id, COUNT(*) AS unread").
		Where("conversation_id IN ? AND sender_id <> ? AND is_read = ?", conversationIDs, userID, false).
		Group("conversation_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ConversationID] = r.Unread
	}
	return out, nil
}
