package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/joshsymonds/writeoff/internal/cli"
	"github.com/joshsymonds/writeoff/internal/job"
	"github.com/joshsymonds/writeoff/internal/model"
	"github.com/joshsymonds/writeoff/internal/progress"
)

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Classify an account's transactions for tax deductibility",
		Long: `Start (or join) the analysis job for an account. Each transaction that
has not finished analysis is classified by the LLM; income transactions
are labeled without an LLM call. Running analyze twice for the same
account joins the in-flight job instead of starting a second one.`,
		RunE: runAnalyze,
	}

	cmd.Flags().String("owner", "", "owner user id (required)")
	cmd.Flags().String("account", "", "account id to analyze (required)")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	ownerID, _ := cmd.Flags().GetString("owner")
	accountID, _ := cmd.Flags().GetString("account")

	logger := slog.Default()

	store, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	classifier, err := newClassifier(logger)
	if err != nil {
		return fmt.Errorf("failed to create classifier: %w", err)
	}
	defer func() { _ = classifier.Close() }()

	broker := progress.NewBroker()
	orchestrator := job.New(store, classifier, broker, job.DefaultConfig(), logger)
	defer orchestrator.Close()

	// Subscribe before starting: the job id is deterministic, and a fast
	// job could otherwise publish its terminal snapshot before we listen.
	jobID := model.DeriveJobID(ownerID, accountID)
	updates, cancel := broker.Subscribe(jobID)
	defer cancel()

	if _, err := orchestrator.StartOrResume(ctx, ownerID, accountID); err != nil {
		return err
	}

	fmt.Println(cli.FormatTitle("Analyzing transactions"))

	var bar *progressbar.ProgressBar
	var last model.ProgressSnapshot

	// The job may already be terminal (nothing to do); check before
	// blocking on the update stream.
	if existing, err := store.GetJob(ctx, jobID); err == nil {
		last = existing.Snapshot()
	}

wait:
	for !last.Terminal() {
		select {
		case <-ctx.Done():
			fmt.Println(cli.FormatWarning("Interrupted; the job keeps running in the background"))
			return ctx.Err()
		case snapshot, ok := <-updates:
			if !ok {
				break wait
			}
			last = snapshot
			if bar == nil && snapshot.Total > 0 {
				bar = progressbar.NewOptions(snapshot.Total,
					progressbar.OptionSetDescription("classifying"),
					progressbar.OptionShowCount(),
					progressbar.OptionClearOnFinish(),
				)
			}
			if bar != nil {
				_ = bar.Set(snapshot.Processed)
			}
		}
	}
	orchestrator.Wait(jobID)

	counts, err := store.CountByStatus(ctx, ownerID, accountID)
	if err != nil {
		return fmt.Errorf("failed to summarize account: %w", err)
	}

	fmt.Println(summarize(last, counts))
	return nil
}

func summarize(snapshot model.ProgressSnapshot, counts model.StatusCounts) string {
	var b strings.Builder
	switch snapshot.Status {
	case model.JobCompleted:
		b.WriteString(cli.FormatSuccess(fmt.Sprintf("Analysis complete: %d of %d transactions processed", snapshot.Processed, snapshot.Total)))
	case model.JobFailed:
		b.WriteString(cli.FormatError("Analysis failed"))
	default:
		b.WriteString(cli.FormatWarning(fmt.Sprintf("Analysis ended in state %s", snapshot.Status)))
	}
	b.WriteString("\n")
	b.WriteString(cli.SubtleStyle.Render(fmt.Sprintf("completed: %d  failed: %d  remaining: %d",
		counts.Completed, counts.Failed, counts.Remaining())))
	return b.String()
}
