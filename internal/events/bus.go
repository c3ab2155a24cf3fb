// Package events fans scheduler notifications out to API streams, the session
// persister and the remote sync broadcaster.
package events

import (
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/zsiec/cadence/internal/config"
	"github.com/zsiec/cadence/internal/logger"
	"github.com/zsiec/cadence/internal/metrics"
	"github.com/zsiec/cadence/internal/playback/types"
)

const defaultSubscriberBuffer = 64

// Drop reasons reported in metrics.
const (
	dropFull      = "full"
	dropThrottled = "throttled"
)

// Option configures a subscription.
type Option func(*subscriber)

// WithNames limits the subscription to the named events.
func WithNames(names ...string) Option {
	return func(s *subscriber) {
		s.names = make(map[string]bool, len(names))
		for _, n := range names {
			s.names[n] = true
		}
	}
}

// WithBuffer sets the channel capacity.
func WithBuffer(n int) Option {
	return func(s *subscriber) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// Unthrottled delivers every frame-changed event. Consumers that need each
// frame, such as the remote sync broadcaster, use it.
func Unthrottled() Option {
	return func(s *subscriber) {
		s.limiter = nil
	}
}

type subscriber struct {
	id      string
	ch      chan types.Event
	buffer  int
	names   map[string]bool
	limiter *rate.Limiter
	dropped atomic.Uint64
}

func (s *subscriber) wants(name string) bool {
	return s.names == nil || s.names[name]
}

// Subscription is a stream of events. C is closed on Unsubscribe or when the
// bus closes.
type Subscription struct {
	C   <-chan types.Event
	sub *subscriber
}

func (s *Subscription) ID() string {
	return s.sub.id
}

// Dropped counts events this subscriber missed.
func (s *Subscription) Dropped() uint64 {
	return s.sub.dropped.Load()
}

// Stats summarizes bus activity.
type Stats struct {
	Published   uint64 `json:"published"`
	Subscribers int    `json:"subscribers"`
	Dropped     uint64 `json:"dropped"`
}

// Bus implements types.Notifier. Notify never blocks: a full subscriber
// loses the event, and frame-changed events are rate limited per subscriber.
type Bus struct {
	cfg    config.EventsConfig
	logger logger.Logger

	mu     sync.RWMutex
	subs   map[string]*subscriber
	closed bool

	published atomic.Uint64
}

func NewBus(cfg config.EventsConfig, log logger.Logger) *Bus {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Bus{
		cfg:    cfg,
		logger: log.WithField("component", "event_bus"),
		subs:   make(map[string]*subscriber),
	}
}

func (b *Bus) frameLimiter() *rate.Limiter {
	if b.cfg.FrameEventRate <= 0 {
		return nil
	}
	burst := b.cfg.FrameEventBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(b.cfg.FrameEventRate), burst)
}

// Subscribe registers id. Re-using an id replaces the older subscription.
func (b *Bus) Subscribe(id string, opts ...Option) *Subscription {
	s := &subscriber{
		id:      id,
		buffer:  b.cfg.SubscriberBuffer,
		limiter: b.frameLimiter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ch = make(chan types.Event, s.buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return &Subscription{C: s.ch, sub: s}
	}
	if old, ok := b.subs[id]; ok {
		close(old.ch)
	}
	b.subs[id] = s

	b.logger.WithField("subscriber", id).Debug("Event subscriber added")
	return &Subscription{C: s.ch, sub: s}
}

// Unsubscribe removes the subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.subs[sub.sub.id]; ok && cur == sub.sub {
		delete(b.subs, sub.sub.id)
		close(cur.ch)
	}
}

// Notify publishes ev to every interested subscriber.
func (b *Bus) Notify(ev types.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	b.published.Add(1)
	metrics.IncrementEventPublished(ev.Name)

	for _, s := range b.subs {
		if !s.wants(ev.Name) {
			continue
		}
		if ev.Name == types.EventFrameChanged && s.limiter != nil && !s.limiter.Allow() {
			s.dropped.Add(1)
			metrics.IncrementEventDropped(s.id, dropThrottled)
			continue
		}
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
			metrics.IncrementEventDropped(s.id, dropFull)
		}
	}
}

func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st := Stats{
		Published:   b.published.Load(),
		Subscribers: len(b.subs),
	}
	for _, s := range b.subs {
		st.Dropped += s.dropped.Load()
	}
	return st
}

// Close drops every subscriber. Later Notify calls are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}
