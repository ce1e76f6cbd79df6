package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/joshsymonds/writeoff/internal/common"
	"github.com/joshsymonds/writeoff/internal/model"
	"github.com/joshsymonds/writeoff/internal/service"
)

// GetJob loads one analysis job document.
func (s *Store) GetJob(ctx context.Context, jobID string) (*model.AnalysisJob, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(jobID, "jobID"); err != nil {
		return nil, err
	}

	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM jobs WHERE id = ?`, jobID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	var job model.AnalysisJob
	if err := json.Unmarshal([]byte(doc), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", jobID, err)
	}

	return &job, nil
}

// SaveJob writes the job document, replacing any previous state. Only the
// orchestrator that owns the job calls this.
func (s *Store) SaveJob(ctx context.Context, job *model.AnalysisJob) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job must not be nil")
	}
	if err := validateString(job.JobID, "job.JobID"); err != nil {
		return err
	}

	doc, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.JobID, err)
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, doc) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET doc = excluded.doc, updated_at = CURRENT_TIMESTAMP
	`, job.JobID, string(doc)); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.JobID, err)
	}

	saved := *job
	s.emit(service.ChangeEvent{Job: &saved})

	return nil
}

// UpdateJob performs a transactional read-modify-write on the job document.
// The processed counter is monotonic: a stale or redelivered mutation can
// never move it backwards, and it is clamped to the total.
func (s *Store) UpdateJob(ctx context.Context, jobID string, mutate func(*model.AnalysisJob) error) (*model.AnalysisJob, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if mutate == nil {
		return nil, fmt.Errorf("mutate function must not be nil")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var doc string
	err = tx.QueryRowContext(ctx, `SELECT doc FROM jobs WHERE id = ?`, jobID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	var job model.AnalysisJob
	if err := json.Unmarshal([]byte(doc), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", jobID, err)
	}

	before := job
	if err := mutate(&job); err != nil {
		if errors.Is(err, common.ErrNoChange) {
			return &before, nil
		}
		return nil, err
	}

	if job.ProcessedCount < before.ProcessedCount {
		job.ProcessedCount = before.ProcessedCount
	}
	if job.TotalCount > 0 && job.ProcessedCount > job.TotalCount {
		job.ProcessedCount = job.TotalCount
	}

	updatedDoc, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job %s: %w", jobID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET doc = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(updatedDoc), jobID); err != nil {
		return nil, fmt.Errorf("failed to write job %s: %w", jobID, err)
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit job update: %w", err)
	}

	updated := job
	s.emit(service.ChangeEvent{Job: &updated})

	result := job
	return &result, nil
}
