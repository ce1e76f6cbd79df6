// Package docstore implements the record store on SQLite, storing each
// logical record as a JSON document. The same logical collection exists
// under several physical layouts carried over from earlier product
// iterations; the composite-key lookup in lookup.go tolerates all of them.
package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/joshsymonds/writeoff/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// subscriberBuffer is the channel depth per change subscriber. A subscriber
// that falls further behind than this loses events rather than stalling
// writers; snapshots are idempotent overwrites so droppage is recoverable.
const subscriberBuffer = 64

// Store implements service.RecordStore using SQLite.
type Store struct {
	db     *sql.DB
	dbPath string

	// notifyMu spans commit and event emission so subscribers observe
	// record versions in commit order.
	notifyMu sync.Mutex

	subMu   sync.RWMutex
	subs    map[int]chan service.ChangeEvent
	nextSub int
}

// NewStore creates a new SQLite-backed document store.
func NewStore(dbPath string) (*Store, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		db:     db,
		dbPath: dbPath,
		subs:   make(map[int]chan service.ChangeEvent),
	}, nil
}

// Close closes the database connection and detaches all subscribers.
func (s *Store) Close() error {
	s.subMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subMu.Unlock()

	return s.db.Close()
}

// Subscribe registers a change subscriber. Events are delivered in commit
// order; a slow subscriber loses events instead of blocking writers.
func (s *Store) Subscribe() (<-chan service.ChangeEvent, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan service.ChangeEvent, subscriberBuffer)
	s.subs[id] = ch

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}

	return ch, cancel
}

// emit fans an event out to all subscribers without blocking.
func (s *Store) emit(ev service.ChangeEvent) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is not keeping up; drop rather than stall.
		}
	}
}

// queryer abstracts *sql.DB and *sql.Tx for the lookup strategies.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func validateContext(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("context must not be nil")
	}
	return nil
}

func validateString(s, paramName string) error {
	if s == "" {
		return fmt.Errorf("%s must not be empty", paramName)
	}
	return nil
}
