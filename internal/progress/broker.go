// Package progress publishes analysis job state to subscribers, with a
// push broker and a bounded polling fallback.
package progress

import (
	"sync"

	"github.com/joshsymonds/writeoff/internal/model"
)

// subscriberBuffer is the per-subscriber channel depth. When a subscriber
// falls behind, the oldest buffered snapshot is discarded in favor of the
// newest: snapshots are idempotent overwrites, so only the latest matters.
const subscriberBuffer = 16

// Broker fans job snapshots out to per-job subscribers. Publish never
// blocks on a slow subscriber.
type Broker struct {
	subs map[string]map[int]chan model.ProgressSnapshot
	next int
	mu   sync.RWMutex
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[int]chan model.ProgressSnapshot),
	}
}

// Publish delivers a snapshot to every subscriber of its job. Delivery per
// job follows write order; a full subscriber buffer drops the oldest
// snapshot to make room for the newest.
func (b *Broker) Publish(snapshot model.ProgressSnapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[snapshot.JobID] {
		select {
		case ch <- snapshot:
			continue
		default:
		}

		// Buffer full: evict the oldest and retry once.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snapshot:
		default:
		}
	}
}

// Subscribe registers for a job's snapshots. The returned cancel function
// is the caller's explicit handle: dropping a subscription never depends on
// process-wide state.
func (b *Broker) Subscribe(jobID string) (<-chan model.ProgressSnapshot, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan model.ProgressSnapshot, subscriberBuffer)

	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[int]chan model.ProgressSnapshot)
	}
	b.subs[jobID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.subs[jobID]; ok {
			if sub, ok := subs[id]; ok {
				delete(subs, id)
				close(sub)
			}
			if len(subs) == 0 {
				delete(b.subs, jobID)
			}
		}
	}

	return ch, cancel
}
