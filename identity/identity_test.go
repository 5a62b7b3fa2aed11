package identity

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dm-service/model"
	"dm-service/testutil"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	testutil.SeedUser(t, db, 7, "seven")
	u := testutil.SeedUser(t, db, 42, "fortytwo")
	require.NoError(t, db.Model(u).Updates(map[string]any{"display_name": "Forty Two", "avatar_url": "https://cdn.example/42.png"}).Error)

	s := NewStore(db)

	ok, err := s.Exists(ctx, 7, 42)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, 7, 7)
	require.NoError(t, err)
	assert.True(t, ok, "duplicates count once")

	ok, err = s.Exists(ctx, 7, 99)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	profiles, err := s.Profiles(ctx, []uint{7, 42, 99})
	require.NoError(t, err)
	assert.Equal(t, model.Profile{ID: 7, Name: "seven"}, profiles[7])
	assert.Equal(t, model.Profile{ID: 42, Name: "Forty Two", Avatar: "https://cdn.example/42.png"}, profiles[42])
	_, found := profiles[99]
	assert.False(t, found)
}

// Runs against a real redis when TEST_REDIS_ADDR is set.
func TestCache(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis cache tests")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	t.Cleanup(func() {
		rdb.FlushDB(ctx)
		_ = rdb.Close()
	})
	require.NoError(t, rdb.FlushDB(ctx).Err())

	db := testutil.DB(t)
	u := testutil.SeedUser(t, db, 7, "seven")
	c := NewCache(NewStore(db), rdb, time.Minute, zerolog.Nop())

	profiles, err := c.Profiles(ctx, []uint{7})
	require.NoError(t, err)
	assert.Equal(t, "seven", profiles[7].Name)

	// Served from cache until invalidated.
	require.NoError(t, db.Model(u).Update("display_name", "Seven").Error)
	profiles, err = c.Profiles(ctx, []uint{7})
	require.NoError(t, err)
	assert.Equal(t, "seven", profiles[7].Name)

	require.NoError(t, c.Invalidate(ctx, 7))
	profiles, err = c.Profiles(ctx, []uint{7})
	require.NoError(t, err)
	assert.Equal(t, "Seven", profiles[7].Name)

	ok, err := c.Exists(ctx, 7, 8)
	require.NoError(t, err)
	assert.False(t, ok)

	// A deleted user keeps passing until the cached profile goes away.
	testutil.SeedUser(t, db, 8, "eight")
	ok, err = c.Exists(ctx, 7, 8)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, db.Delete(&model.User{}, 8).Error)
	ok, err = c.Exists(ctx, 7, 8)
	require.NoError(t, err)
	assert.True(t, ok, "served from cache within the TTL")

	require.NoError(t, c.Invalidate(ctx, 8))
	ok, err = c.Exists(ctx, 7, 8)
	require.NoError(t, err)
	assert.False(t, ok)
}
