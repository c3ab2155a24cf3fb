package store

import (
	"context"
	"sync"
	"time"

	"github.com/zsiec/cadence/internal/events"
	"github.com/zsiec/cadence/internal/logger"
	"github.com/zsiec/cadence/internal/metrics"
	"github.com/zsiec/cadence/internal/playback/scheduler"
	"github.com/zsiec/cadence/internal/playback/types"
)

const persisterComponent = "session_persister"

// StateFunc returns the state to persist. It is called after an event was
// delivered and must reflect the command that emitted it.
type StateFunc func(ctx context.Context) (scheduler.State, error)

// persistedEvents change something a restored session needs. Frame changes
// during playback are left out; the position is captured on play-stop.
var persistedEvents = []string{
	types.EventPlayStart,
	types.EventPlayStop,
	types.EventRangeChanged,
	types.EventNarrowedRangeChanged,
	types.EventNewInPoint,
	types.EventNewOutPoint,
	types.EventCacheModeChanged,
	types.EventPlayModeChanged,
	types.EventPlayIncChanged,
	types.EventFPSChanged,
	types.EventRealtimeChanged,
}

// Persister saves session state whenever a state-changing event is published.
// Bursts of events collapse into a single save.
type Persister struct {
	store   SessionStore
	bus     *events.Bus
	state   StateFunc
	timeout time.Duration
	logger  logger.Logger

	sub    *events.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewPersister(st SessionStore, bus *events.Bus, state StateFunc, queue int, log logger.Logger) *Persister {
	if queue <= 0 {
		queue = 16
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Persister{
		store:   st,
		bus:     bus,
		state:   state,
		timeout: 2 * time.Second,
		logger:  log.WithField("component", persisterComponent),
		sub:     bus.Subscribe(persisterComponent, events.WithNames(persistedEvents...), events.WithBuffer(queue)),
	}
}

func (p *Persister) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop unsubscribes, waits for the loop and writes the final state.
func (p *Persister) Stop() {
	p.once.Do(func() {
		p.bus.Unsubscribe(p.sub)
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
		p.save(context.Background())
	})
}

func (p *Persister) run(ctx context.Context) {
	metrics.IncrementGoroutineCreated(persisterComponent)
	defer func() {
		metrics.IncrementGoroutineDestroyed(persisterComponent)
		p.wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			metrics.IncrementContextCancellation(persisterComponent, "stop")
			return
		case _, ok := <-p.sub.C:
			if !ok {
				return
			}
			p.coalesce()
			p.save(ctx)
		}
	}
}

// coalesce drops events already queued behind the one being handled.
func (p *Persister) coalesce() {
	for {
		select {
		case _, ok := <-p.sub.C:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (p *Persister) save(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	st, err := p.state(ctx)
	if err != nil {
		p.logger.WithError(err).Warn("Failed to read session state for persisting")
		return
	}
	if err := p.store.Save(ctx, st); err != nil {
		p.logger.WithError(err).WithField("session_id", st.SessionID).Warn("Failed to persist session state")
	}
}
