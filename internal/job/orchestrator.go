// Package job owns the lifecycle of analysis jobs: deterministic identity,
// idempotent start, bounded fan-out of per-transaction classification, and
// progress accounting.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joshsymonds/writeoff/internal/common"
	"github.com/joshsymonds/writeoff/internal/model"
	"github.com/joshsymonds/writeoff/internal/service"
)

// Config holds the orchestrator's tunable bounds. The worker count exists
// because the classification service is rate-limited; unbounded fan-out
// would cascade failures instead of spreading load.
type Config struct {
	Retry           service.RetryOptions
	Workers         int
	ClassifyTimeout time.Duration
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Workers:         4,
		ClassifyTimeout: 30 * time.Second,
		Retry: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// Orchestrator runs analysis jobs. One orchestrator serves all accounts;
// jobs for different accounts run fully independently.
type Orchestrator struct {
	store      service.RecordStore
	classifier service.Classifier
	publisher  service.ProgressPublisher
	logger     *slog.Logger
	active     map[string]chan struct{}
	unsub      func()
	cfg        Config
	mu         sync.Mutex
}

// New creates an orchestrator. Progress snapshots are published from the
// store's post-commit event stream, so subscribers see job progress in
// commit order even when several workers update the counter concurrently.
func New(store service.RecordStore, classifier service.Classifier, publisher service.ProgressPublisher, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = DefaultConfig().ClassifyTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		store:      store,
		classifier: classifier,
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger,
		active:     make(map[string]chan struct{}),
	}

	events, cancel := store.Subscribe()
	o.unsub = cancel
	go o.forward(events)

	return o
}

// forward republishes committed job states as progress snapshots. The
// store delivers events in commit order and this is the only goroutine
// publishing job progress, so subscribers never see the counter move
// backwards.
func (o *Orchestrator) forward(events <-chan service.ChangeEvent) {
	for ev := range events {
		if ev.Job != nil {
			o.publisher.Publish(ev.Job.Snapshot())
		}
	}
}

// Close detaches the orchestrator from store notifications. Jobs already
// running keep running.
func (o *Orchestrator) Close() {
	if o.unsub != nil {
		o.unsub()
	}
}

// StartOrResume starts the analysis job for an account, or returns the
// in-flight job's id when one is already running. The id is a pure
// function of (owner, account): concurrent callers for the same pair
// observe one job, never two.
//
// The job runs as background work detached from the caller's context; it
// survives the session that triggered it.
func (o *Orchestrator) StartOrResume(ctx context.Context, ownerID, accountID string) (string, error) {
	if ownerID == "" || accountID == "" {
		return "", fmt.Errorf("%w: ownerID and accountID are required", common.ErrInvalidConfig)
	}

	jobID := model.DeriveJobID(ownerID, accountID)

	o.mu.Lock()
	if _, running := o.active[jobID]; running {
		o.mu.Unlock()
		o.logger.Info("job already in flight, joining it",
			"job_id", jobID,
			"account_id", accountID)
		return jobID, nil
	}
	done := make(chan struct{})
	o.active[jobID] = done
	o.mu.Unlock()

	records, err := o.store.ListIncomplete(ctx, ownerID, accountID)
	if err != nil {
		// Infrastructure-level failure: the job cannot even enumerate
		// its work, so the job itself fails.
		o.failJob(ctx, jobID, ownerID, accountID, err)
		o.release(jobID, done)
		return "", fmt.Errorf("failed to list transactions for account %s: %w", accountID, err)
	}

	job := &model.AnalysisJob{
		JobID:      jobID,
		OwnerID:    ownerID,
		AccountID:  accountID,
		Status:     model.JobQueued,
		TotalCount: len(records),
		StartedAt:  time.Now(),
	}

	if len(records) == 0 {
		existing, getErr := o.store.GetJob(ctx, jobID)
		switch {
		case getErr == nil && existing.Terminal():
			// Nothing left to analyze and the previous run already
			// finished; its outcome and counters stand. Publish the
			// stored state so a waiting subscriber still terminates.
			o.publisher.Publish(existing.Snapshot())
		case getErr == nil:
			// A non-terminal job with no work left, most likely from an
			// interrupted process. Finalize it in place, counters intact.
			if _, err := o.store.UpdateJob(ctx, jobID, func(j *model.AnalysisJob) error {
				j.Status = model.JobCompleted
				j.FinishedAt = time.Now()
				return nil
			}); err != nil {
				o.release(jobID, done)
				return "", fmt.Errorf("failed to finalize job %s: %w", jobID, err)
			}
		default:
			job.Status = model.JobCompleted
			job.FinishedAt = time.Now()
			if err := o.store.SaveJob(ctx, job); err != nil {
				o.release(jobID, done)
				return "", fmt.Errorf("failed to save job %s: %w", jobID, err)
			}
		}
		o.release(jobID, done)
		return jobID, nil
	}

	if err := o.store.SaveJob(ctx, job); err != nil {
		o.release(jobID, done)
		return "", fmt.Errorf("failed to save job %s: %w", jobID, err)
	}

	go o.run(context.WithoutCancel(ctx), job, records, done)

	return jobID, nil
}

// Wait blocks until the given job's current run finishes. It returns
// immediately when no run is in flight.
func (o *Orchestrator) Wait(jobID string) {
	o.mu.Lock()
	done, running := o.active[jobID]
	o.mu.Unlock()
	if running {
		<-done
	}
}

// Reanalyze resets an account's records to pending and starts a fresh run
// under the same deterministic job id. Records a human has reviewed keep
// their review unless includeReviewed is set.
func (o *Orchestrator) Reanalyze(ctx context.Context, ownerID, accountID string, includeReviewed bool) (string, error) {
	jobID := model.DeriveJobID(ownerID, accountID)

	o.mu.Lock()
	_, running := o.active[jobID]
	o.mu.Unlock()
	if running {
		return "", fmt.Errorf("job %s is still running; cannot reset it", jobID)
	}

	records, err := o.store.ListByAccount(ctx, ownerID, accountID)
	if err != nil {
		return "", fmt.Errorf("failed to list transactions for account %s: %w", accountID, err)
	}

	for _, record := range records {
		_, err := o.store.UpdateRecord(ctx, record.OwnerID, record.ID, func(r *model.TransactionRecord) error {
			if !r.ResetAnalysis(includeReviewed) {
				return common.ErrNoChange
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("failed to reset record %s: %w", record.ID, err)
		}
	}

	return o.StartOrResume(ctx, ownerID, accountID)
}

// run processes one job's records with bounded concurrency. One bad
// transaction never aborts the job: failures are contained per record and
// the job still reaches a terminal state.
func (o *Orchestrator) run(ctx context.Context, job *model.AnalysisJob, records []model.TransactionRecord, done chan struct{}) {
	defer o.release(job.JobID, done)

	o.setJobStatus(ctx, job.JobID, model.JobRunning)

	profile := o.loadProfile(ctx, job.OwnerID)

	sem := make(chan struct{}, o.cfg.Workers)
	var wg sync.WaitGroup

	for _, record := range records {
		wg.Add(1)
		go func(record model.TransactionRecord) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			o.processRecord(ctx, record, profile)
			o.bumpProcessed(ctx, job.JobID)
		}(record)
	}

	wg.Wait()

	if ctx.Err() != nil {
		o.failJob(ctx, job.JobID, job.OwnerID, job.AccountID, ctx.Err())
		return
	}

	// The job completes once every record has a terminal per-record
	// status, whether or not some of them failed.
	updated, err := o.store.UpdateJob(ctx, job.JobID, func(j *model.AnalysisJob) error {
		j.Status = model.JobCompleted
		j.FinishedAt = time.Now()
		return nil
	})
	if err != nil {
		o.logger.Error("failed to finalize job", "job_id", job.JobID, "error", err)
		return
	}

	o.logger.Info("analysis job completed",
		"job_id", job.JobID,
		"processed", updated.ProcessedCount,
		"total", updated.TotalCount)
}

// processRecord classifies one transaction and folds the result in. Every
// write re-reads current state inside the store transaction, so a human
// review that lands mid-flight is never overwritten.
func (o *Orchestrator) processRecord(ctx context.Context, record model.TransactionRecord, profile *model.UserProfile) {
	current, err := o.updateWithRetry(ctx, record, func(r *model.TransactionRecord) error {
		if r.Source == model.SourceUser && r.Status.Terminal() {
			return common.ErrNoChange
		}
		r.Status = model.AnalysisRunning
		return nil
	})
	if err != nil {
		o.logger.Error("failed to mark record running",
			"record_id", record.ID,
			"error", err)
		o.markFailed(ctx, record, err)
		return
	}
	if current.Source == model.SourceUser && current.Status.Terminal() {
		// A human reviewed this record since it was listed; their verdict
		// stands and no classification request is made.
		return
	}

	var decision model.ClassificationDecision
	classifyErr := common.WithRetry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.ClassifyTimeout)
		defer cancel()

		d, err := o.classifier.Classify(callCtx, record, profile)
		if err != nil {
			return &common.RetryableError{Err: err, Retryable: true}
		}
		decision = d
		return nil
	}, o.cfg.Retry)

	if classifyErr != nil {
		o.logger.Warn("classification failed terminally for record",
			"record_id", record.ID,
			"merchant", record.Merchant,
			"error", classifyErr)
		o.markFailed(ctx, record, classifyErr)
		return
	}

	if err := o.persistDecision(ctx, record, decision); err != nil {
		o.logger.Error("failed to write classification result",
			"record_id", record.ID,
			"error", err)
		// The record must not finalize as running: park it as failed so
		// the next run retries it.
		o.markFailed(ctx, record, err)
	}
}

// updateWithRetry runs a record write under the retry budget. SQLite lock
// contention and transient I/O errors get the same backoff as
// classification calls.
func (o *Orchestrator) updateWithRetry(ctx context.Context, record model.TransactionRecord, mutate func(*model.TransactionRecord) error) (*model.TransactionRecord, error) {
	var updated *model.TransactionRecord
	err := common.WithRetry(ctx, func() error {
		u, err := o.store.UpdateRecord(ctx, record.OwnerID, record.ID, mutate)
		if err != nil {
			return &common.RetryableError{Err: err, Retryable: true}
		}
		updated = u
		return nil
	}, o.cfg.Retry)
	return updated, err
}

func (o *Orchestrator) persistDecision(ctx context.Context, record model.TransactionRecord, decision model.ClassificationDecision) error {
	_, err := o.updateWithRetry(ctx, record, func(r *model.TransactionRecord) error {
		if !r.ApplyDecision(decision) {
			return common.ErrNoChange
		}
		return nil
	})
	return err
}

// markFailed parks a record in the failed status so a finalized job never
// leaves it dangling mid-analysis. Best effort by necessity: when even
// this write exhausts its retries the error is logged and the record is
// picked up again by the next run.
func (o *Orchestrator) markFailed(ctx context.Context, record model.TransactionRecord, cause error) {
	if _, err := o.updateWithRetry(ctx, record, func(r *model.TransactionRecord) error {
		if r.Source == model.SourceUser && r.Status.Terminal() {
			return common.ErrNoChange
		}
		r.MarkFailed(cause)
		return nil
	}); err != nil {
		o.logger.Error("failed to mark record failed",
			"record_id", record.ID,
			"error", err)
	}
}

// bumpProcessed increments the job counter exactly once per record per
// run. Counter monotonicity is enforced by the store's job update.
func (o *Orchestrator) bumpProcessed(ctx context.Context, jobID string) {
	if _, err := o.store.UpdateJob(ctx, jobID, func(j *model.AnalysisJob) error {
		j.ProcessedCount++
		return nil
	}); err != nil {
		o.logger.Error("failed to update job progress", "job_id", jobID, "error", err)
	}
}

func (o *Orchestrator) setJobStatus(ctx context.Context, jobID string, status model.JobStatus) {
	if _, err := o.store.UpdateJob(ctx, jobID, func(j *model.AnalysisJob) error {
		j.Status = status
		return nil
	}); err != nil {
		o.logger.Error("failed to update job status", "job_id", jobID, "error", err)
	}
}

// failJob records a job-level infrastructure failure. Best effort: the
// job document may itself be unreachable when the store is down.
func (o *Orchestrator) failJob(ctx context.Context, jobID, ownerID, accountID string, cause error) {
	job := &model.AnalysisJob{
		JobID:      jobID,
		OwnerID:    ownerID,
		AccountID:  accountID,
		Status:     model.JobFailed,
		FinishedAt: time.Now(),
		Error:      cause.Error(),
	}

	if existing, err := o.store.GetJob(ctx, jobID); err == nil {
		job.StartedAt = existing.StartedAt
		job.ProcessedCount = existing.ProcessedCount
		job.TotalCount = existing.TotalCount
	}

	if err := o.store.SaveJob(ctx, job); err != nil {
		o.logger.Error("failed to persist job failure", "job_id", jobID, "error", err)
	}
}

func (o *Orchestrator) loadProfile(ctx context.Context, ownerID string) *model.UserProfile {
	profile, err := o.store.GetProfile(ctx, ownerID)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			o.logger.Warn("failed to load user profile", "owner_id", ownerID, "error", err)
		}
		return nil
	}
	return profile
}

func (o *Orchestrator) release(jobID string, done chan struct{}) {
	o.mu.Lock()
	delete(o.active, jobID)
	o.mu.Unlock()
	close(done)
}
