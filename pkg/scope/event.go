package scope

import (
	"fmt"
	"sync"
	"time"
)

// Change describes one version bump. It carries no key list;
// consumers re-derive their view from a fresh snapshot.
type Change struct {
	// Version is the store version after the mutation.
	Version uint64

	// Time is when the mutation was applied.
	Time time.Time
}

type subscriber struct {
	id string
	fn func(Change)
}

// subscriberRegistry keeps change callbacks in registration order.
type subscriberRegistry struct {
	subs    []subscriber
	counter int
	mu      sync.Mutex
}

func newSubscriberRegistry() *subscriberRegistry {
	return &subscriberRegistry{
		subs: make([]subscriber, 0),
	}
}

func (r *subscriberRegistry) add(fn func(Change)) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := generateSubscriberID(r.counter)
	r.counter++
	r.subs = append(r.subs, subscriber{id: id, fn: fn})
	return id
}

func generateSubscriberID(n int) string {
	return fmt.Sprintf("sub_%d", n)
}

func (r *subscriberRegistry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.subs {
		if s.id == id {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			return true
		}
	}
	return false
}

// dispatch calls every subscriber with c. The list is copied first so a
// callback may unsubscribe itself without deadlocking.
func (r *subscriberRegistry) dispatch(c Change) {
	r.mu.Lock()
	subs := make([]subscriber, len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()

	for _, s := range subs {
		s.fn(c)
	}
}

func (r *subscriberRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
