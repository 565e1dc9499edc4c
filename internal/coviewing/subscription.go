package coviewing

import "sync"

// Subscription receives every published Snapshot. A slow reader only ever
// misses intermediate snapshots, never the newest one.
type Subscription struct {
	C <-chan *Snapshot

	ch   chan *Snapshot
	agg  *Aggregator
	once sync.Once
}

// Subscribe registers a listener and immediately delivers the current
// snapshot. Close must be called when done.
func (a *Aggregator) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *Snapshot, buffer)
	sub := &Subscription{C: ch, ch: ch, agg: a}

	a.subsMu.Lock()
	ch <- a.current.Load()
	a.subs[sub] = struct{}{}
	a.subsMu.Unlock()
	return sub
}

// Close unregisters the listener and closes C. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.agg.subsMu.Lock()
		delete(s.agg.subs, s)
		close(s.ch)
		s.agg.subsMu.Unlock()
	})
}

func (a *Aggregator) broadcast(snap *Snapshot) {
	a.subsMu.Lock()
	defer a.subsMu.Unlock()

	for sub := range a.subs {
		select {
		case sub.ch <- snap:
			continue
		default:
		}
		// full: replace the oldest queued snapshot with this one
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- snap:
		default:
		}
	}
}
