package remote

import (
	"sync"
)

// subscriber delivers snapshots to one callback on its own goroutine.
//
// push never blocks: snapshots are queued and drained in order by run.
type subscriber struct {
	fn func(Snapshot)

	mu     sync.Mutex
	queue  []Snapshot
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
	onStop func()
}

func newSubscriber(fn func(Snapshot), onStop func()) *subscriber {
	s := &subscriber{
		fn:     fn,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		onStop: onStop,
	}
	go s.run()
	return s
}

func (s *subscriber) push(snap Snapshot) {
	s.mu.Lock()
	s.queue = append(s.queue, snap)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			snap := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.fn(snap)
		}
	}
}

// Cancel implements Subscription.Cancel.
func (s *subscriber) Cancel() {
	s.once.Do(func() {
		close(s.done)
		if s.onStop != nil {
			s.onStop()
		}
	})
}

// stopped reports whether Cancel has been called.
func (s *subscriber) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// hub fans snapshots out to the subscribers of each path.
type hub struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[*subscriber]struct{})}
}

// add registers fn on path and queues initial as its first delivery.
func (h *hub) add(path string, initial Snapshot, fn func(Snapshot)) *subscriber {
	var sub *subscriber
	sub = newSubscriber(fn, func() { h.remove(path, sub) })

	h.mu.Lock()
	if h.subs[path] == nil {
		h.subs[path] = make(map[*subscriber]struct{})
	}
	h.subs[path][sub] = struct{}{}
	h.mu.Unlock()

	sub.push(initial)
	return sub
}

func (h *hub) remove(path string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[path]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, path)
		}
	}
}

// publish queues snap for every subscriber of snap.Path. Each subscriber gets
// its own copy of the data.
func (h *hub) publish(snap Snapshot) {
	h.mu.Lock()
	targets := make([]*subscriber, 0, len(h.subs[snap.Path]))
	for sub := range h.subs[snap.Path] {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		sub.push(Snapshot{Path: snap.Path, Data: clone(snap.Data), UpdateTime: snap.UpdateTime})
	}
}

// count returns the number of live subscribers across all paths.
func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// closeAll cancels every subscriber.
func (h *hub) closeAll() {
	h.mu.Lock()
	var all []*subscriber
	for _, set := range h.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range all {
		sub.Cancel()
	}
}
