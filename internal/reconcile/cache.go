// Package reconcile keeps an in-memory view of transaction records
// consistent with the store while letting the UI apply review updates
// optimistically.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/joshsymonds/writeoff/internal/common"
	"github.com/joshsymonds/writeoff/internal/model"
	"github.com/joshsymonds/writeoff/internal/service"
)

// Store is the slice of the persistence layer the cache needs.
type Store interface {
	FindByCompositeKey(ctx context.Context, ownerID, recordID string) (*model.TransactionRecord, error)
	UpdateRecord(ctx context.Context, ownerID, recordID string, mutate func(*model.TransactionRecord) error) (*model.TransactionRecord, error)
	Subscribe() (<-chan service.ChangeEvent, func())
}

// Cache is an optimistic local view of transaction records. Reads are
// served locally; writes are applied to the local copy first, then
// persisted, and rolled back to the exact prior state if persistence
// fails. Change notifications from other writers converge the cache
// toward the store.
type Cache struct {
	store   Store
	logger  *slog.Logger
	records map[string]model.TransactionRecord
	unsub   func()
	done    chan struct{}
	mu      sync.RWMutex
}

// NewCache creates a cache subscribed to store change notifications.
func NewCache(store Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Cache{
		store:   store,
		logger:  logger,
		records: make(map[string]model.TransactionRecord),
		done:    make(chan struct{}),
	}

	events, cancel := store.Subscribe()
	c.unsub = cancel
	go c.watch(events)

	return c
}

func cacheKey(ownerID, recordID string) string {
	return ownerID + "/" + recordID
}

// watch applies post-commit change notifications. Notifications arrive in
// commit order, but a stale event can still race a local write that has
// already observed a newer version, so events only ever move a cached
// record forward.
func (c *Cache) watch(events <-chan service.ChangeEvent) {
	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Record == nil {
				continue
			}
			c.applyEvent(ev.Record)
		}
	}
}

func (c *Cache) applyEvent(record *model.TransactionRecord) {
	key := cacheKey(record.OwnerID, record.ID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.records[key]; ok && cached.Version > record.Version {
		return
	}
	c.records[key] = *record
}

// Get returns the cached copy of a record, if present.
func (c *Cache) Get(ownerID, recordID string) (model.TransactionRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	record, ok := c.records[cacheKey(ownerID, recordID)]
	return record, ok
}

// ApplyUpdate applies a review patch optimistically: the local copy is
// updated immediately, then the patch is replayed against the current
// stored state inside the store's transaction. On persistence failure the
// local copy is restored to exactly its prior state and the error is
// surfaced so the caller can retry or inform the user.
func (c *Cache) ApplyUpdate(ctx context.Context, ownerID, recordID string, patch model.ReviewPatch) (*model.TransactionRecord, error) {
	if patch.Empty() {
		return nil, fmt.Errorf("%w: review patch is empty", common.ErrInvalidConfig)
	}

	key := cacheKey(ownerID, recordID)

	c.mu.Lock()
	prior, hadPrior := c.records[key]
	if !hadPrior {
		c.mu.Unlock()
		fetched, err := c.store.FindByCompositeKey(ctx, ownerID, recordID)
		if err != nil {
			return nil, fmt.Errorf("failed to load record %s: %w", recordID, err)
		}
		c.mu.Lock()
		// Another writer may have populated the entry while we fetched.
		if cached, ok := c.records[key]; !ok || cached.Version < fetched.Version {
			c.records[key] = *fetched
		}
		prior, hadPrior = c.records[key], true
	}

	optimistic := prior
	patch.Apply(&optimistic)
	c.records[key] = optimistic
	c.mu.Unlock()

	updated, err := c.store.UpdateRecord(ctx, ownerID, recordID, func(r *model.TransactionRecord) error {
		patch.Apply(r)
		return nil
	})
	if err != nil {
		c.rollback(key, prior, hadPrior)
		return nil, fmt.Errorf("failed to persist review for record %s: %w", recordID, err)
	}

	// Another writer can commit right after ours and its event may have
	// already landed, so this write is version-gated like any other: the
	// cache only ever moves forward.
	c.mu.Lock()
	if cached, ok := c.records[key]; !ok || cached.Version <= updated.Version {
		c.records[key] = *updated
	}
	c.mu.Unlock()

	return updated, nil
}

// rollback restores the pre-update local state byte for byte. A failed
// write must leave no trace of the optimistic copy, but a newer state
// committed by another writer in the meantime stays put.
func (c *Cache) rollback(key string, prior model.TransactionRecord, hadPrior bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.records[key]; ok && cached.Version > prior.Version {
		return
	}
	if hadPrior {
		c.records[key] = prior
	} else {
		delete(c.records, key)
	}
}

// Close detaches the cache from store notifications.
func (c *Cache) Close() {
	close(c.done)
	if c.unsub != nil {
		c.unsub()
	}
}
