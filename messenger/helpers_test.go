package messenger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"dm-service/model"
	"dm-service/testutil"
)

func testDB(tb testing.TB) *gorm.DB {
	tb.Helper()
	return testutil.DB(tb)
}

type fakeUsers struct {
	mu       sync.Mutex
	profiles map[uint]model.Profile
	err      error
}

func newFakeUsers(ids ...uint) *fakeUsers {
	f := &fakeUsers{profiles: map[uint]model.Profile{}}
	for _, id := range ids {
		f.profiles[id] = model.Profile{ID: id, Name: fmt.Sprintf("user-%d", id)}
	}
	return f
}

func (f *fakeUsers) Exists(_ context.Context, ids ...uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	for _, id := range ids {
		if _, ok := f.profiles[id]; !ok {
			return false, nil
		}
	}
	return true, nil
}

func (f *fakeUsers) Profiles(_ context.Context, ids []uint) (map[uint]model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := map[uint]model.Profile{}
	for _, id := range ids {
		if p, ok := f.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// tickClock advances one millisecond per reading.
type tickClock struct {
	base time.Time
	n    atomic.Int64
}

func newTickClock() *tickClock {
	return &tickClock{base: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *tickClock) Now() time.Time {
	return c.base.Add(time.Duration(c.n.Add(1)) * time.Millisecond)
}

type recordedEvent struct {
	Action  string
	Payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, action string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{Action: action, Payload: payload})
	return p.err
}

func (p *recordingPublisher) actions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Action
	}
	return out
}

func newTestService(tb testing.TB, users *fakeUsers, opts ...Option) (*Service, *gorm.DB) {
	tb.Helper()
	db := testDB(tb)
	clock := newTickClock()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewService(db, users, zerolog.Nop(), opts...), db
}
