package vsync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Signal is one vsync announcement: the refresh is expected Offset seconds
// after At.
type Signal struct {
	Seq    uint64
	Offset float64
	At     time.Time
}

// MailboxStats reports handoff counters.
type MailboxStats struct {
	Published   uint64 `json:"published"`
	Consumed    uint64 `json:"consumed"`
	Overwritten uint64 `json:"overwritten"`
	Timeouts    uint64 `json:"timeouts"`
}

// Mailbox hands the latest vsync announcement from a render or compositor
// goroutine to the control goroutine. It holds a single slot: a newer signal
// replaces an unconsumed one, so the consumer always sees the freshest
// timestamp and the producer never blocks.
type Mailbox struct {
	mu       sync.Mutex
	latest   Signal
	has      bool
	consumed uint64 // seq of the last signal handed out

	notify chan struct{}

	published   atomic.Uint64
	taken       atomic.Uint64
	overwritten atomic.Uint64
	timeouts    atomic.Uint64
}

func NewMailbox() *Mailbox {
	return &Mailbox{notify: make(chan struct{}, 1)}
}

// Publish stores a new announcement and returns its sequence number.
func (m *Mailbox) Publish(offset float64, at time.Time) uint64 {
	m.mu.Lock()
	if m.has && m.latest.Seq != m.consumed {
		m.overwritten.Add(1)
	}
	seq := m.latest.Seq + 1
	m.latest = Signal{Seq: seq, Offset: offset, At: at}
	m.has = true
	m.mu.Unlock()

	m.published.Add(1)
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return seq
}

// TryTake returns a signal newer than after, if one is waiting.
func (m *Mailbox) TryTake(after uint64) (Signal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.has || m.latest.Seq <= after {
		return Signal{}, false
	}
	m.consumed = m.latest.Seq
	m.taken.Add(1)
	return m.latest, true
}

// Wait blocks until a signal newer than after arrives, the timeout passes or
// ctx is done. The boolean is false on timeout.
func (m *Mailbox) Wait(ctx context.Context, after uint64, timeout time.Duration) (Signal, bool) {
	if sig, ok := m.TryTake(after); ok {
		return sig, true
	}
	if timeout <= 0 {
		m.timeouts.Add(1)
		return Signal{}, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-m.notify:
			if sig, ok := m.TryTake(after); ok {
				return sig, true
			}
		case <-timer.C:
			m.timeouts.Add(1)
			return m.TryTake(after)
		case <-ctx.Done():
			return Signal{}, false
		}
	}
}

func (m *Mailbox) Stats() MailboxStats {
	return MailboxStats{
		Published:   m.published.Load(),
		Consumed:    m.taken.Load(),
		Overwritten: m.overwritten.Load(),
		Timeouts:    m.timeouts.Load(),
	}
}
