package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joshsymonds/writeoff/internal/common"
	"github.com/joshsymonds/writeoff/internal/model"
)

// JobReader is the slice of the record store the poller needs.
type JobReader interface {
	GetJob(ctx context.Context, jobID string) (*model.AnalysisJob, error)
	CountByStatus(ctx context.Context, ownerID, accountID string) (model.StatusCounts, error)
}

// PollConfig bounds the polling fallback. Both the attempt count and the
// elapsed wall clock are capped independently of the job's own retry
// budget, so a slow-to-terminate job cannot force subscribers into an
// unbounded wait.
type PollConfig struct {
	Interval    time.Duration
	MaxInterval time.Duration
	MaxElapsed  time.Duration
	MaxAttempts int
}

// DefaultPollConfig returns the default polling bounds.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		Interval:    2 * time.Second,
		MaxInterval: 30 * time.Second,
		MaxElapsed:  5 * time.Minute,
		MaxAttempts: 150,
	}
}

// Poller is the pull fallback for observing job progress when push
// subscription is unavailable.
type Poller struct {
	store  JobReader
	logger *slog.Logger
	cfg    PollConfig
}

// NewPoller creates a poller over the given store.
func NewPoller(store JobReader, cfg PollConfig, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollConfig().Interval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultPollConfig().MaxInterval
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = DefaultPollConfig().MaxElapsed
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultPollConfig().MaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{store: store, cfg: cfg, logger: logger}
}

// Status takes one progress reading. It prefers the job document and falls
// back to deriving a snapshot from per-record statuses when the job cannot
// be read, so both computations terminate a waiter through the same
// Terminal predicate.
func (p *Poller) Status(ctx context.Context, ownerID, accountID string) (model.ProgressSnapshot, error) {
	jobID := model.DeriveJobID(ownerID, accountID)

	job, err := p.store.GetJob(ctx, jobID)
	if err == nil {
		return job.Snapshot(), nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return model.ProgressSnapshot{}, err
	}

	counts, err := p.store.CountByStatus(ctx, ownerID, accountID)
	if err != nil {
		return model.ProgressSnapshot{}, err
	}
	if counts.Total() == 0 {
		return model.ProgressSnapshot{}, fmt.Errorf("no job and no records for account %s: %w", accountID, common.ErrNotFound)
	}

	return counts.Snapshot(jobID), nil
}

// Wait polls until the job reaches a terminal snapshot or a bound is
// exceeded. Transient read errors widen the interval exponentially instead
// of aborting; exhausting either bound surfaces the terminal gave-up
// snapshot together with common.ErrGaveUp.
func (p *Poller) Wait(ctx context.Context, ownerID, accountID string) (model.ProgressSnapshot, error) {
	jobID := model.DeriveJobID(ownerID, accountID)
	deadline := time.Now().Add(p.cfg.MaxElapsed)
	interval := p.cfg.Interval

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		snapshot, err := p.Status(ctx, ownerID, accountID)
		if err != nil {
			p.logger.Warn("progress poll failed",
				"job_id", jobID,
				"attempt", attempt,
				"error", err)
			interval *= 2
			if interval > p.cfg.MaxInterval {
				interval = p.cfg.MaxInterval
			}
		} else {
			interval = p.cfg.Interval
			if snapshot.Terminal() {
				return snapshot, nil
			}
		}

		if time.Now().After(deadline) {
			break
		}

		select {
		case <-ctx.Done():
			return gaveUpSnapshot(jobID), ctx.Err()
		case <-time.After(interval):
		}
	}

	p.logger.Warn("gave up waiting for job progress",
		"job_id", jobID,
		"max_attempts", p.cfg.MaxAttempts,
		"max_elapsed", p.cfg.MaxElapsed)

	return gaveUpSnapshot(jobID), common.ErrGaveUp
}

func gaveUpSnapshot(jobID string) model.ProgressSnapshot {
	return model.ProgressSnapshot{
		JobID:     jobID,
		Status:    model.JobUnknown,
		Remaining: model.RemainingUnknown,
	}
}
