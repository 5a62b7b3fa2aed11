package identity

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"dm-service/messenger"
	"dm-service/model"
)

const profileKeyPrefix = "profile:"

// Cache fronts another Identity with redis. Only profiles are cached; a
// profile hit also answers Exists for that id.
type Cache struct {
	next messenger.Identity
	rdb  *redis.Client
	ttl  time.Duration
	log  zerolog.Logger
}

func NewCache(next messenger.Identity, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *Cache {
	return &Cache{
		next: next,
		rdb:  rdb,
		ttl:  ttl,
		log:  log.With().Str("component", "identity_cache").Logger(),
	}
}

// Exists answers from cached profiles. A user deleted within the cache TTL
// still exists until the entry expires or is invalidated; that staleness is
// accepted.
func (c *Cache) Exists(ctx context.Context, ids ...uint) (bool, error) {
	want := dedupe(ids)
	if len(want) == 0 {
		return false, nil
	}
	profiles, err := c.Profiles(ctx, want)
	if err != nil {
		return false, err
	}
	return len(profiles) == len(want), nil
}

func (c *Cache) Profiles(ctx context.Context, ids []uint) (map[uint]model.Profile, error) {
	want := dedupe(ids)
	out := make(map[uint]model.Profile, len(want))
	if len(want) == 0 {
		return out, nil
	}

	keys := make([]string, len(want))
	for i, id := range want {
		keys[i] = profileKey(id)
	}
	var missing []uint
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		c.log.Warn().Err(err).Msg("profile cache read")
		missing = want
	} else {
		for i, v := range vals {
			s, ok := v.(string)
			var p model.Profile
			if !ok || json.Unmarshal([]byte(s), &p) != nil {
				missing = append(missing, want[i])
				continue
			}
			out[want[i]] = p
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	fresh, err := c.next.Profiles(ctx, missing)
	if err != nil {
		return nil, err
	}
	pipe := c.rdb.Pipeline()
	for id, p := range fresh {
		out[id] = p
		raw, _ := json.Marshal(p)
		pipe.Set(ctx, profileKey(id), raw, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		c.log.Warn().Err(err).Msg("profile cache write")
	}
	return out, nil
}

// Invalidate drops a cached profile, e.g. after the user renamed themselves.
func (c *Cache) Invalidate(ctx context.Context, id uint) error {
	return c.rdb.Del(ctx, profileKey(id)).Err()
}

func profileKey(id uint) string {
	return profileKeyPrefix + strconv.FormatUint(uint64(id), 10)
}
