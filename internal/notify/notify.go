// Package notify is the in-process event bus for finished and failed
// ingest runs. The daemon publishes; the maintain loop and anything
// else that wants to react to new catalogs subscribes.
package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/photcat/photcat/pkg/types"
)

// EventKind discriminates bus events.
type EventKind int

const (
	// EventCatalogReady announces a newly registered catalog store.
	EventCatalogReady EventKind = iota
	// EventRunFailed announces an ingest run that errored out.
	EventRunFailed
)

// Event is one bus message.
type Event struct {
	Kind      EventKind
	Target    string
	Product   types.ProductHandle
	Filters   []string
	RowCount  int64
	Err       string
	Timestamp time.Time
}

// Subscriber is one registered listener.
type Subscriber struct {
	ID      string
	Filters []string
	Ch      chan Event
}

// Notifier is a non-blocking pub/sub bus. Slow subscribers lose
// events rather than stalling the pipeline; drops are counted.
type Notifier struct {
	subscribers sync.Map
	bufferSize  int
	dropped     atomic.Int64
}

// NewNotifier creates a bus whose subscriber channels hold bufferSize
// pending events.
func NewNotifier(bufferSize int) *Notifier {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Notifier{bufferSize: bufferSize}
}

// Publish fans the event out to every matching subscriber. Never
// blocks: a full channel drops the event for that subscriber.
func (n *Notifier) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	n.subscribers.Range(func(key, value interface{}) bool {
		sub := value.(*Subscriber)
		if matchesTarget(sub.Filters, ev.Target) {
			select {
			case sub.Ch <- ev:
			default:
				n.dropped.Add(1)
			}
		}
		return true
	})
}

// Subscribe registers a listener under the given ID. filters are
// target prefixes; no filters means everything.
func (n *Notifier) Subscribe(id string, filters ...string) *Subscriber {
	sub := &Subscriber{
		ID:      id,
		Filters: filters,
		Ch:      make(chan Event, n.bufferSize),
	}
	n.subscribers.Store(id, sub)
	return sub
}

// SubscribeAutoID registers a listener under a generated ID and
// returns its channel.
func (n *Notifier) SubscribeAutoID(filters ...string) *Subscriber {
	return n.Subscribe("sub-"+uuid.NewString(), filters...)
}

// Unsubscribe removes a listener and closes its channel.
func (n *Notifier) Unsubscribe(id string) {
	if value, ok := n.subscribers.LoadAndDelete(id); ok {
		close(value.(*Subscriber).Ch)
	}
}

// Close removes every listener and closes their channels. Publish
// after Close is a no-op.
func (n *Notifier) Close() {
	n.subscribers.Range(func(key, value interface{}) bool {
		if v, ok := n.subscribers.LoadAndDelete(key); ok {
			close(v.(*Subscriber).Ch)
		}
		return true
	})
}

// Dropped returns how many events were lost to full subscriber
// channels.
func (n *Notifier) Dropped() int64 {
	return n.dropped.Load()
}

func matchesTarget(filters []string, target string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if len(f) == 0 {
			return true
		}
		if len(target) >= len(f) && target[:len(f)] == f {
			return true
		}
	}
	return false
}
