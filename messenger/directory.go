package messenger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"dm-service/model"
)

// resolveAttempts bounds find-or-create: the first insert may lose a race to
// a concurrent resolve, in which case the winner's row is read back. A second
// miss after that is a genuine storage problem.
const resolveAttempts = 2

// Directory maps an unordered pair of users to exactly one conversation.
type Directory struct {
	db    *gorm.DB
	users Identity
	now   Clock
	log   zerolog.Logger
}

func NewDirectory(db *gorm.DB, users Identity, log zerolog.Logger) *Directory {
	return &Directory{
		db:    db,
		users: users,
		now:   systemClock,
		log:   log.With().Str("component", "directory").Logger(),
	}
}

// CanonicalPair orders a participant pair low id first.
func CanonicalPair(a, b uint) (low, high uint) {
	if a < b {
		return a, b
	}
	return b, a
}

// Resolve returns the conversation between a and b, creating it on first
// contact. created reports whether this call inserted the row.
func (d *Directory) Resolve(ctx context.Context, a, b uint) (conv *model.Conversation, created bool, err error) {
	if a == 0 || b == 0 || a == b {
		return nil, false, ErrInvalidParticipants
	}
	ok, err := d.users.Exists(ctx, a, b)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, ErrInvalidParticipants
	}

	low, high := CanonicalPair(a, b)
	var lastErr error
	for attempt := 0; attempt < resolveAttempts; attempt++ {
		conv, err = d.find(ctx, low, high)
		if err == nil {
			return conv, false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, err
		}

		conv = &model.Conversation{
			ID:                uuid.New(),
			ParticipantLowID:  low,
			ParticipantHighID: high,
			CreatedAt:         stamp(d.now),
		}
		err = d.db.WithContext(ctx).Create(conv).Error
		if err == nil {
			d.log.Info().Str("conversation_id", conv.ID.String()).Uint("low", low).Uint("high", high).Msg("conversation created")
			return conv, true, nil
		}
		if !isUniqueViolation(err) {
			return nil, false, err
		}
		d.log.Debug().Uint("low", low).Uint("high", high).Int("attempt", attempt).Msg("lost conversation create race, re-reading")
		lastErr = err
	}
	return nil, false, wrap(ErrTransientConflict, lastErr)
}

// Get loads a conversation by id.
func (d *Directory) Get(ctx context.Context, id uuid.UUID) (*model.Conversation, error) {
	var conv model.Conversation
	err := d.db.WithContext(ctx).Where("id = ?", id).Take(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListFor returns every conversation userID takes part in, most recently
// active first; conversations without messages follow, newest first.
func (d *Directory) ListFor(ctx context.Context, userID uint) ([]model.Conversation, error) {
	var out []model.Conversation
	err := d.db.WithContext(ctx).
		Where("participant_low_id = ? OR participant_high_id = ?", userID, userID).
		Order("CASE WHEN last_message_at IS NULL THEN 1 ELSE 0 END").
		Order("last_message_at DESC").
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Directory) find(ctx context.Context, low, high uint) (*model.Conversation, error) {
	var conv model.Conversation
	err := d.db.WithContext(ctx).
		Where("participant_low_id = ? AND participant_high_id = ?", low, high).
		Take(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}
