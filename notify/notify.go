// Package notify fans out every accepted append to live subscribers
// filtered by series id set and flag, delivered without blocking the
// ingest path on a slow subscriber.
package notify

import (
	"sync"

	"github.com/duskdb/duskdb/meas"
)

// Callback receives one matching measurement per call.
type Callback func(meas.Measurement)

type subscription struct {
	id   uint64
	ids  map[uint32]struct{}
	flag uint32
	cb   Callback
}

func (s *subscription) matches(m meas.Measurement) bool {
	if len(s.ids) > 0 {
		if _, ok := s.ids[m.ID]; !ok {
			return false
		}
	}

	return s.flag == 0 || s.flag == m.Flag
}

// Notifier fans out appended measurements to subscribers. Each Publish
// runs every matching subscriber's callback asynchronously, each on its
// own goroutine, so a slow subscriber can't stall the ingest path or other
// subscribers.
type Notifier struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*subscription
}

// New returns an empty Notifier.
func New() *Notifier {
	return &Notifier{subs: make(map[uint64]*subscription)}
}

// Subscription identifies a registered callback so it can be removed.
type Subscription struct {
	id uint64
	n  *Notifier
}

// Unsubscribe removes the callback from future Publish calls.
func (s Subscription) Unsubscribe() {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	delete(s.n.subs, s.id)
}

// Subscribe registers cb to fire on every future Publish matching ids
// (any series if ids is empty) and flag (any flag if 0).
func (n *Notifier) Subscribe(ids map[uint32]struct{}, flag uint32, cb Callback) Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	id := n.nextID
	n.subs[id] = &subscription{id: id, ids: ids, flag: flag, cb: cb}

	return Subscription{id: id, n: n}
}

// Publish delivers m to every matching subscriber. Each callback runs on
// its own goroutine; Publish does not wait for them to return.
func (n *Notifier) Publish(m meas.Measurement) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, s := range n.subs {
		if s.matches(m) {
			go s.cb(m)
		}
	}
}

// Len returns the current number of live subscriptions, for tests and
// diagnostics.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return len(n.subs)
}
