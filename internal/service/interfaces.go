// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/joshsymonds/writeoff/internal/model"
)

// RecordStore defines the contract for the document-oriented persistence
// layer. The backing store may expose the same logical collection under
// several physical layouts; implementations hide that behind the
// composite-key lookup.
type RecordStore interface {
	// Record operations.
	SaveRecords(ctx context.Context, records []model.TransactionRecord) error
	FindByCompositeKey(ctx context.Context, ownerID, recordID string) (*model.TransactionRecord, error)
	ListIncomplete(ctx context.Context, ownerID, accountID string) ([]model.TransactionRecord, error)
	ListByAccount(ctx context.Context, ownerID, accountID string) ([]model.TransactionRecord, error)
	CountByStatus(ctx context.Context, ownerID, accountID string) (model.StatusCounts, error)
	// UpdateRecord performs a transactional read-modify-write. The mutate
	// function sees the current stored record and edits it in place; the
	// merged result is committed atomically. Returning common.ErrNoChange
	// from mutate aborts the write and returns the current record unchanged.
	UpdateRecord(ctx context.Context, ownerID, recordID string, mutate func(*model.TransactionRecord) error) (*model.TransactionRecord, error)

	// Job operations. Job counters are written only by the orchestrator
	// that owns the job.
	GetJob(ctx context.Context, jobID string) (*model.AnalysisJob, error)
	SaveJob(ctx context.Context, job *model.AnalysisJob) error
	UpdateJob(ctx context.Context, jobID string, mutate func(*model.AnalysisJob) error) (*model.AnalysisJob, error)

	// Profile operations (read-only prompt enrichment).
	GetProfile(ctx context.Context, ownerID string) (*model.UserProfile, error)
	SaveProfile(ctx context.Context, profile *model.UserProfile) error

	// Subscribe registers for post-commit change notifications. The
	// returned cancel function detaches the subscriber.
	Subscribe() (<-chan ChangeEvent, func())

	// Store management.
	Migrate(ctx context.Context) error
	Close() error
}

// ChangeEvent is a post-commit notification. Exactly one of Record or Job
// is set.
type ChangeEvent struct {
	Record *model.TransactionRecord
	Job    *model.AnalysisJob
}

// Classifier produces a structured deductibility decision for one
// transaction. Implementations never write to the record store.
type Classifier interface {
	Classify(ctx context.Context, record model.TransactionRecord, profile *model.UserProfile) (model.ClassificationDecision, error)
}

// ProgressPublisher receives every job mutation for fan-out to subscribers.
// Publish must never block on a slow subscriber.
type ProgressPublisher interface {
	Publish(snapshot model.ProgressSnapshot)
}

// ProfileProvider reads the user's tax context.
type ProfileProvider interface {
	GetProfile(ctx context.Context, ownerID string) (*model.UserProfile, error)
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
