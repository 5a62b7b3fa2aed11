package syncclient

import (
	"context"
	"errors"
	"sync"
)

const DefaultMaxViews = 8

var ErrTooManyViews = errors.New("syncclient: too many open views")

// Manager opens views against one source and caps how many run at once.
type Manager struct {
	src      Source
	maxViews int
	opts     []Option

	mu    sync.Mutex
	views map[*View]struct{}
}

// NewManager returns a manager allowing maxViews concurrent views; a
// non-positive value uses DefaultMaxViews. opts apply to every view.
func NewManager(src Source, maxViews int, opts ...Option) *Manager {
	if maxViews <= 0 {
		maxViews = DefaultMaxViews
	}
	return &Manager{
		src:      src,
		maxViews: maxViews,
		opts:     opts,
		views:    make(map[*View]struct{}),
	}
}

// Open starts a view. The slot is freed when the view closes, including
// when ctx ends.
func (m *Manager) Open(ctx context.Context, conversationID string, opts ...Option) (*View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.views) >= m.maxViews {
		return nil, ErrTooManyViews
	}
	all := append(append([]Option{}, m.opts...), opts...)
	// release blocks on m.mu until the view is registered below.
	v := start(ctx, m.src, conversationID, m.release, all)
	m.views[v] = struct{}{}
	return v, nil
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.views)
}

// CloseAll closes every open view and waits for their loops to exit.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	views := make([]*View, 0, len(m.views))
	for v := range m.views {
		views = append(views, v)
	}
	m.mu.Unlock()
	for _, v := range views {
		v.Close()
	}
	for _, v := range views {
		v.Wait()
	}
}

func (m *Manager) release(v *View) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.views, v)
}
