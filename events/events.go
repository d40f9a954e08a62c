// Package events implements the route-change event bus: every table
// mutation that is visible outside the table (installed, metric
// changed, poisoned, removed) is published here so other components
// (the engine's triggered-update gate, future admin surfaces) can react
// without the table knowing who's listening. Implemented as a
// mutex-protected slice of buffered Go channels, since in-process
// fan-out this small doesn't warrant an external dependency.
package events

import (
	"net"
	"sync"
	"time"

	"github.com/katrip/ripd/route"
)

// Kind classifies a route-change event.
type Kind int

const (
	Added Kind = iota
	Updated
	Poisoned
	Removed
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Updated:
		return "updated"
	case Poisoned:
		return "poisoned"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Event describes a single route-table change.
type Event struct {
	Kind      Kind
	Network   net.IP
	Mask      net.IPMask
	Metric    int
	NextHop   net.IP
	Interface string
	Source    route.Source
	At        time.Time
}

// Bus fans a sequence of Events out to any number of subscribers. The
// zero value is ready to use.
type Bus struct {
	mu   sync.Mutex
	subs []chan Event
}

// subscriberBuffer bounds how many unconsumed events a slow subscriber
// can accumulate before Publish starts dropping its events rather than
// blocking the table's write path.
const subscriberBuffer = 64

// Subscribe returns a channel that receives every future event until
// Unsubscribe is called with it.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, subscriberBuffer)
	b.subs = append(b.subs, ch)
	return ch
}

// Unsubscribe detaches and closes a channel previously returned by
// Subscribe. Safe to call more than once.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(s)
			return
		}
	}
}

// Publish delivers ev to every current subscriber. A subscriber whose
// buffer is full has the event dropped rather than stalling the
// caller — the table's write path must never block on a slow reader.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		select {
		case s <- ev:
		default:
		}
	}
}
