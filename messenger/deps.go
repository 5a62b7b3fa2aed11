package messenger

import (
	"context"
	"time"

	"dm-service/model"
)

// Identity is the user directory owned by the auth side of the system.
type Identity interface {
	// Exists reports whether every id belongs to a registered user.
	Exists(ctx context.Context, ids ...uint) (bool, error)
	Profiles(ctx context.Context, ids []uint) (map[uint]model.Profile, error)
}

const (
	ActionConversationCreated = "messenger.conversation_created"
	ActionMessageCreated      = "messenger.message_created"
)

// Publisher forwards domain events to whoever is listening. Delivery is best
// effort; a failed publish never fails the operation that produced it.
type Publisher interface {
	Publish(ctx context.Context, action string, payload any) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, any) error { return nil }

// Clock returns the server time used to stamp rows.
type Clock func() time.Time

func systemClock() time.Time { return time.Now() }

func stamp(c Clock) time.Time {
	return c().UTC().Truncate(time.Microsecond)
}
