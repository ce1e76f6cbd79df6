package progress

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joshsymonds/writeoff/internal/common"
	"github.com/joshsymonds/writeoff/internal/model"
)

// fakeReader scripts the store responses the poller observes.
type fakeReader struct {
	job       *model.AnalysisJob
	jobErr    error
	counts    model.StatusCounts
	countsErr error
	polls     atomic.Int64
}

func (f *fakeReader) GetJob(_ context.Context, _ string) (*model.AnalysisJob, error) {
	f.polls.Add(1)
	if f.jobErr != nil {
		return nil, f.jobErr
	}
	return f.job, nil
}

func (f *fakeReader) CountByStatus(_ context.Context, _, _ string) (model.StatusCounts, error) {
	return f.counts, f.countsErr
}

func fastConfig() PollConfig {
	return PollConfig{
		Interval:    time.Millisecond,
		MaxInterval: 4 * time.Millisecond,
		MaxElapsed:  200 * time.Millisecond,
		MaxAttempts: 10,
	}
}

func TestStatusPrefersJobDocument(t *testing.T) {
	reader := &fakeReader{job: &model.AnalysisJob{
		JobID:          model.DeriveJobID("user-1", "acct-1"),
		Status:         model.JobRunning,
		ProcessedCount: 2,
		TotalCount:     5,
	}}
	poller := NewPoller(reader, fastConfig(), nil)

	snapshot, err := poller.Status(context.Background(), "user-1", "acct-1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if snapshot.Processed != 2 || snapshot.Total != 5 {
		t.Errorf("snapshot = %+v", snapshot)
	}
	if snapshot.Remaining != model.RemainingUnknown {
		t.Errorf("job-derived snapshot should not claim a remaining count, got %d", snapshot.Remaining)
	}
}

func TestStatusFallsBackToRecordCounts(t *testing.T) {
	reader := &fakeReader{
		jobErr: common.ErrNotFound,
		counts: model.StatusCounts{Completed: 3, Failed: 1},
	}
	poller := NewPoller(reader, fastConfig(), nil)

	snapshot, err := poller.Status(context.Background(), "user-1", "acct-1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !snapshot.Terminal() {
		t.Error("all-terminal record counts must produce a terminal snapshot")
	}
	if snapshot.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", snapshot.Remaining)
	}
}

func TestStatusNoJobNoRecords(t *testing.T) {
	reader := &fakeReader{jobErr: common.ErrNotFound}
	poller := NewPoller(reader, fastConfig(), nil)

	_, err := poller.Status(context.Background(), "user-1", "acct-1")
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestWaitReturnsTerminalSnapshot(t *testing.T) {
	reader := &fakeReader{job: &model.AnalysisJob{
		JobID:          model.DeriveJobID("user-1", "acct-1"),
		Status:         model.JobCompleted,
		ProcessedCount: 5,
		TotalCount:     5,
	}}
	poller := NewPoller(reader, fastConfig(), nil)

	snapshot, err := poller.Wait(context.Background(), "user-1", "acct-1")
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if !snapshot.Terminal() {
		t.Errorf("snapshot not terminal: %+v", snapshot)
	}
}

func TestWaitGivesUpAfterMaxAttempts(t *testing.T) {
	// The job never terminates; the poller must give up on its own.
	reader := &fakeReader{job: &model.AnalysisJob{
		JobID:      model.DeriveJobID("user-1", "acct-1"),
		Status:     model.JobRunning,
		TotalCount: 5,
	}}
	cfg := fastConfig()
	poller := NewPoller(reader, cfg, nil)

	snapshot, err := poller.Wait(context.Background(), "user-1", "acct-1")
	if !errors.Is(err, common.ErrGaveUp) {
		t.Fatalf("err = %v, want ErrGaveUp", err)
	}
	if snapshot.Status != model.JobUnknown {
		t.Errorf("status = %q, want unknown", snapshot.Status)
	}
	if !snapshot.Terminal() {
		t.Error("the gave-up snapshot itself must be terminal")
	}
	if polls := reader.polls.Load(); polls > int64(cfg.MaxAttempts) {
		t.Errorf("polled %d times, budget was %d", polls, cfg.MaxAttempts)
	}
}

func TestWaitGivesUpOnPersistentErrors(t *testing.T) {
	reader := &fakeReader{
		jobErr:    errors.New("store unreachable"),
		countsErr: errors.New("store unreachable"),
	}
	poller := NewPoller(reader, fastConfig(), nil)

	snapshot, err := poller.Wait(context.Background(), "user-1", "acct-1")
	if err == nil {
		t.Fatal("expected an error")
	}
	if snapshot.Status != model.JobUnknown {
		t.Errorf("status = %q, want unknown", snapshot.Status)
	}
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	reader := &fakeReader{job: &model.AnalysisJob{
		JobID:      model.DeriveJobID("user-1", "acct-1"),
		Status:     model.JobRunning,
		TotalCount: 5,
	}}
	cfg := fastConfig()
	cfg.MaxElapsed = time.Minute
	cfg.MaxAttempts = 1000000
	cfg.Interval = 10 * time.Millisecond
	poller := NewPoller(reader, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	snapshot, err := poller.Wait(ctx, "user-1", "acct-1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context deadline", err)
	}
	if snapshot.Status != model.JobUnknown {
		t.Errorf("status = %q, want unknown", snapshot.Status)
	}
}
