package database

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"dm-service/config"
)

const (
	// RedisTokens holds refresh tokens keyed by user id.
	RedisTokens = 0
	// RedisCache holds cached profiles and rate limit windows.
	RedisCache = 1
)

var Redis = make(map[int]*redis.Client)

func RedisConnect(ctx context.Context) error {
	for _, db := range strings.Split(config.Config("REDIS_DB"), ",") {
		dbNumber, err := strconv.Atoi(strings.TrimSpace(db))
		if err != nil {
			return fmt.Errorf("bad REDIS_DB entry %q: %w", db, err)
		}

		client := redis.NewClient(&redis.Options{
			Addr: fmt.Sprintf(
				"%s:%s",
				config.Config("REDIS_HOST"),
				config.Config("REDIS_PORT"),
			),
			Password: config.Config("REDIS_PASSWORD"),
			DB:       dbNumber,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis db %d: %w", dbNumber, err)
		}
		Redis[dbNumber] = client
	}
	for _, required := range []int{RedisTokens, RedisCache} {
		if Redis[required] == nil {
			return fmt.Errorf("REDIS_DB must include database %d", required)
		}
	}

	log.Info().Int("databases", len(Redis)).Msg("connections opened to Redis")
	return nil
}

func RedisClose() {
	for _, client := range Redis {
		_ = client.Close()
	}
}
