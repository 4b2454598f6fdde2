package session

import (
	"sync"
	"time"

	"github.com/avelichko/walink/internal/domain"
	"github.com/avelichko/walink/internal/netlink"
)

// StateChange is published on every session state transition. Consumed by
// the admin event stream.
type StateChange struct {
	TenantID domain.TenantID        `json:"tenant_id"`
	State    string                 `json:"state"`
	Code     netlink.DisconnectCode `json:"-"`
	CodeName string                 `json:"disconnect_code,omitempty"`
	At       time.Time              `json:"at"`
}

const subscriberBuffer = 32

// Bus fans state changes out to subscribers. Publishing never blocks; a
// slow subscriber drops events rather than stalling the supervisor.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan StateChange
	next int
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan StateChange)}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called to release the subscription.
func (b *Bus) Subscribe() (<-chan StateChange, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan StateChange, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish delivers ev to all subscribers, dropping it for any whose buffer
// is full.
func (b *Bus) Publish(ev StateChange) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if ev.Code != netlink.CodeNone {
		ev.CodeName = ev.Code.String()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
