// Package syncclient keeps locally displayed conversations current by
// polling the server. Each open view owns one cancellable polling loop.
package syncclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dm-service/api"
)

const (
	DefaultInterval   = 5 * time.Second
	DefaultMaxBackoff = 60 * time.Second
)

var ErrClosed = errors.New("syncclient: view closed")

// Source is the slice of the conversation surface a view depends on.
type Source interface {
	GetMessages(ctx context.Context, conversationID string) ([]api.Message, error)
	SendMessage(ctx context.Context, conversationID, content string) (*api.Message, error)
}

type options struct {
	interval     time.Duration
	maxBackoff   time.Duration
	backoff      bool
	refreshEvery time.Duration
	refreshBurst int
	onUpdate     func([]api.Message)
	onError      func(error)
}

type Option func(*options)

func WithInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

func WithMaxBackoff(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.maxBackoff = d
		}
	}
}

// WithoutBackoff keeps polling at the base interval regardless of failures.
func WithoutBackoff() Option {
	return func(o *options) { o.backoff = false }
}

// WithRefreshLimit sets the token bucket for out-of-band refreshes.
func WithRefreshLimit(every time.Duration, burst int) Option {
	return func(o *options) {
		o.refreshEvery = every
		o.refreshBurst = burst
	}
}

// OnUpdate is called with a copy of the new message list every time a fetch
// result is applied. Hooks run on the fetching goroutine and must not call
// Refresh or Send.
func OnUpdate(fn func([]api.Message)) Option {
	return func(o *options) { o.onUpdate = fn }
}

// OnError is called for every failed fetch that was not discarded.
func OnError(fn func(error)) Option {
	return func(o *options) { o.onError = fn }
}

func defaults() options {
	return options{
		interval:     DefaultInterval,
		maxBackoff:   DefaultMaxBackoff,
		backoff:      true,
		refreshEvery: time.Second,
		refreshBurst: 3,
	}
}

// View is the live state of one open conversation.
type View struct {
	src  Source
	id   string
	opts options

	refresh *rate.Limiter

	mu       sync.Mutex
	messages []api.Message
	lastErr  error
	failures int
	seq      uint64
	applied  uint64
	closed   bool

	notify sync.Mutex // keeps hook calls in apply order

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	onClose   func(*View)
}

// Start opens a view on conversationID and begins polling immediately. The
// loop stops when Close is called or ctx ends; either way the view is closed.
func Start(ctx context.Context, src Source, conversationID string, opts ...Option) *View {
	return start(ctx, src, conversationID, nil, opts)
}

func start(ctx context.Context, src Source, conversationID string, onClose func(*View), opts []Option) *View {
	o := defaults()
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(ctx)
	v := &View{
		src:      src,
		id:       conversationID,
		opts:     o,
		refresh:  rate.NewLimiter(rate.Every(o.refreshEvery), o.refreshBurst),
		messages: []api.Message{},
		cancel:   cancel,
		done:     make(chan struct{}),
		onClose:  onClose,
	}
	go v.run(ctx)
	return v
}

func (v *View) ConversationID() string { return v.id }

// Messages returns a copy of the last applied message list.
func (v *View) Messages() []api.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]api.Message, len(v.messages))
	copy(out, v.messages)
	return out
}

// LastError reports the most recent fetch failure, or nil once a later
// fetch has succeeded.
func (v *View) LastError() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastErr
}

// Send delivers content and then refreshes so the sender sees it without
// waiting for the next tick.
func (v *View) Send(ctx context.Context, content string) (*api.Message, error) {
	if v.isClosed() {
		return nil, ErrClosed
	}
	msg, err := v.src.SendMessage(ctx, v.id, content)
	if err != nil {
		return nil, err
	}
	// A failed refresh is no worse than a failed tick.
	_ = v.Refresh(ctx)
	return msg, nil
}

// Refresh fetches out of band. Calls beyond the refresh budget wait for a
// token or fail when ctx cannot wait that long.
func (v *View) Refresh(ctx context.Context) error {
	if v.isClosed() {
		return ErrClosed
	}
	if err := v.refresh.Wait(ctx); err != nil {
		return err
	}
	return v.fetch(ctx)
}

// Close stops the polling loop. Results of fetches still in flight are
// discarded. It does not wait for the loop to exit; use Wait for that.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		v.mu.Lock()
		v.closed = true
		v.mu.Unlock()
		v.cancel()
		if v.onClose != nil {
			v.onClose(v)
		}
	})
}

// Wait blocks until the polling loop has exited.
func (v *View) Wait() {
	<-v.done
}

func (v *View) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

func (v *View) run(ctx context.Context) {
	defer close(v.done)
	defer v.Close()
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			_ = v.fetch(ctx)
			timer.Reset(v.delay())
		}
	}
}

// delay is the wait before the next scheduled poll.
func (v *View) delay() time.Duration {
	v.mu.Lock()
	failures := v.failures
	v.mu.Unlock()
	if !v.opts.backoff || failures == 0 {
		return v.opts.interval
	}
	d := v.opts.interval
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= v.opts.maxBackoff {
			return v.opts.maxBackoff
		}
	}
	return d
}

func (v *View) fetch(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	v.seq++
	seq := v.seq
	v.mu.Unlock()

	msgs, err := v.src.GetMessages(ctx, v.id)

	v.notify.Lock()
	defer v.notify.Unlock()
	v.mu.Lock()
	if v.closed || seq <= v.applied {
		v.mu.Unlock()
		return err
	}
	if err != nil {
		v.failures++
		v.lastErr = err
		v.mu.Unlock()
		if v.opts.onError != nil {
			v.opts.onError(err)
		}
		return err
	}
	if msgs == nil {
		msgs = []api.Message{}
	}
	v.messages = msgs
	v.applied = seq
	v.failures = 0
	v.lastErr = nil
	var snapshot []api.Message
	if v.opts.onUpdate != nil {
		snapshot = make([]api.Message, len(msgs))
		copy(snapshot, msgs)
	}
	v.mu.Unlock()
	if v.opts.onUpdate != nil {
		v.opts.onUpdate(snapshot)
	}
	return nil
}
