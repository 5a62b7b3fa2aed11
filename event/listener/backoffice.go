package listener

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"dm-service/event"
)

const ActionUserUpdated = "user.updated"

// ProfileInvalidator drops cached identity data for a user.
type ProfileInvalidator interface {
	Invalidate(ctx context.Context, id uint) error
}

type userUpdated struct {
	ID uint `json:"id"`
}

// Backoffice consumes admin-side events until events is closed or ctx ends.
func Backoffice(ctx context.Context, events <-chan event.EventChannelData, profiles ProfileInvalidator, log zerolog.Logger) {
	log = log.With().Str("component", "backoffice_listener").Logger()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			handle(ctx, ev, profiles, log)
		}
	}
}

func handle(ctx context.Context, ev event.EventChannelData, profiles ProfileInvalidator, log zerolog.Logger) {
	switch ev.Action {
	case ActionUserUpdated:
		var payload userUpdated
		if err := json.Unmarshal(ev.Data, &payload); err != nil || payload.ID == 0 {
			log.Warn().Str("action", ev.Action).Msg("malformed event payload")
			return
		}
		if err := profiles.Invalidate(ctx, payload.ID); err != nil {
			log.Error().Err(err).Uint("user_id", payload.ID).Msg("invalidate profile")
			return
		}
		log.Debug().Uint("user_id", payload.ID).Msg("profile invalidated")
	default:
		log.Debug().Str("action", ev.Action).Msg("ignoring event")
	}
}
