package messenger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"dm-service/model"
)

func TestCanonicalPair(t *testing.T) {
	low, high := CanonicalPair(42, 7)
	assert.Equal(t, uint(7), low)
	assert.Equal(t, uint(42), high)

	low, high = CanonicalPair(7, 42)
	assert.Equal(t, uint(7), low)
	assert.Equal(t, uint(42), high)
}

func TestDirectory_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("creates once and is idempotent in both argument orders", func(t *testing.T) {
		db := testDB(t)
		dir := NewDirectory(db, newFakeUsers(7, 42), zerolog.Nop())

		first, created, err := dir.Resolve(ctx, 7, 42)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, uint(7), first.ParticipantLowID)
		assert.Equal(t, uint(42), first.ParticipantHighID)
		assert.Nil(t, first.LastMessageAt)

		again, created, err := dir.Resolve(ctx, 42, 7)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, again.ID)

		var n int64
		require.NoError(t, db.Model(&model.Conversation{}).Count(&n).Error)
		assert.Equal(t, int64(1), n)
	})

	t.Run("rejects self conversation", func(t *testing.T) {
		dir := NewDirectory(testDB(t), newFakeUsers(7), zerolog.Nop())
		_, _, err := dir.Resolve(ctx, 7, 7)
		assert.ErrorIs(t, err, ErrInvalidParticipants)
	})

	t.Run("rejects unknown user", func(t *testing.T) {
		dir := NewDirectory(testDB(t), newFakeUsers(7), zerolog.Nop())
		_, _, err := dir.Resolve(ctx, 7, 1000)
		assert.ErrorIs(t, err, ErrInvalidParticipants)
	})

	t.Run("rejects zero id", func(t *testing.T) {
		dir := NewDirectory(testDB(t), newFakeUsers(7), zerolog.Nop())
		_, _, err := dir.Resolve(ctx, 0, 7)
		assert.ErrorIs(t, err, ErrInvalidParticipants)
	})

	t.Run("identity failures are surfaced", func(t *testing.T) {
		users := newFakeUsers(7, 42)
		users.err = errors.New("identity down")
		dir := NewDirectory(testDB(t), users, zerolog.Nop())
		_, _, err := dir.Resolve(ctx, 7, 42)
		require.Error(t, err)
		assert.Equal(t, Code(""), CodeOf(err))
	})
}

func TestDirectory_ResolveConcurrentFirstContact(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	dir := NewDirectory(db, newFakeUsers(7, 42), zerolog.Nop())

	const callers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[uuid.UUID]int{}
		created int
		errs    []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := uint(7), uint(42)
			if i%2 == 1 {
				a, b = b, a
			}
			conv, c, err := dir.Resolve(ctx, a, b)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			ids[conv.ID]++
			if c {
				created++
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Len(t, ids, 1)
	assert.Equal(t, 1, created)

	var n int64
	require.NoError(t, db.Model(&model.Conversation{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

// interleave runs fn after every query on the conversations table, between
// the directory's lookup and its insert.
func interleave(t *testing.T, db *gorm.DB, fn func(tx *gorm.DB)) {
	t.Helper()
	err := db.Callback().Query().After("gorm:query").Register("test:interleave", func(tx *gorm.DB) {
		if tx.Statement.Table == "conversations" {
			fn(tx)
		}
	})
	require.NoError(t, err)
}

func TestDirectory_ResolveLosesInsertRace(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the row inserted by the winner", func(t *testing.T) {
		db := testDB(t)
		dir := NewDirectory(db, newFakeUsers(7, 42), zerolog.Nop())

		winner := &model.Conversation{ID: uuid.New(), ParticipantLowID: 7, ParticipantHighID: 42, CreatedAt: time.Now().UTC()}
		var fired atomic.Bool
		interleave(t, db, func(tx *gorm.DB) {
			if errors.Is(tx.Error, gorm.ErrRecordNotFound) && fired.CompareAndSwap(false, true) {
				require.NoError(t, db.Session(&gorm.Session{NewDB: true}).Create(winner).Error)
			}
		})

		conv, created, err := dir.Resolve(ctx, 42, 7)
		require.NoError(t, err)
		assert.True(t, fired.Load())
		assert.False(t, created)
		assert.Equal(t, winner.ID, conv.ID)

		var n int64
		require.NoError(t, db.Model(&model.Conversation{}).Count(&n).Error)
		assert.Equal(t, int64(1), n)
	})

	t.Run("gives up after the second conflict", func(t *testing.T) {
		db := testDB(t)
		dir := NewDirectory(db, newFakeUsers(7, 42), zerolog.Nop())

		winner := &model.Conversation{ID: uuid.New(), ParticipantLowID: 7, ParticipantHighID: 42, CreatedAt: time.Now().UTC()}
		var lookups atomic.Int32
		interleave(t, db, func(tx *gorm.DB) {
			lookups.Add(1)
			if errors.Is(tx.Error, gorm.ErrRecordNotFound) {
				require.NoError(t, db.Session(&gorm.Session{NewDB: true}).Create(winner).Error)
				return
			}
			// Hide the committed row so every lookup misses.
			_ = tx.AddError(gorm.ErrRecordNotFound)
		})

		_, _, err := dir.Resolve(ctx, 7, 42)
		assert.ErrorIs(t, err, ErrTransientConflict)
		assert.True(t, isUniqueViolation(errors.Unwrap(err)))
		assert.Equal(t, int32(resolveAttempts), lookups.Load())
	})
}

func TestDirectory_UniqueIndexBacksTheInvariant(t *testing.T) {
	db := testDB(t)
	first := &model.Conversation{ID: uuid.New(), ParticipantLowID: 7, ParticipantHighID: 42}
	require.NoError(t, db.Create(first).Error)

	dup := &model.Conversation{ID: uuid.New(), ParticipantLowID: 7, ParticipantHighID: 42}
	err := db.Create(dup).Error
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))
}

func TestDirectory_Get(t *testing.T) {
	ctx := context.Background()
	dir := NewDirectory(testDB(t), newFakeUsers(7, 42), zerolog.Nop())

	_, err := dir.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrConversationNotFound)

	conv, _, err := dir.Resolve(ctx, 7, 42)
	require.NoError(t, err)
	got, err := dir.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
}
