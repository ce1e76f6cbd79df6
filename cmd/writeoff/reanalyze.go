package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/writeoff/internal/cli"
	"github.com/joshsymonds/writeoff/internal/job"
	"github.com/joshsymonds/writeoff/internal/progress"
)

func reanalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reanalyze",
		Short: "Reset an account's classifications and run analysis again",
		Long: `Clear engine-produced classifications for an account and start a fresh
analysis run. Records you have reviewed keep their review unless
--include-reviewed is set.`,
		RunE: runReanalyze,
	}

	cmd.Flags().String("owner", "", "owner user id (required)")
	cmd.Flags().String("account", "", "account id to reanalyze (required)")
	cmd.Flags().Bool("include-reviewed", false, "also reset records with a human review")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func runReanalyze(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	ownerID, _ := cmd.Flags().GetString("owner")
	accountID, _ := cmd.Flags().GetString("account")
	includeReviewed, _ := cmd.Flags().GetBool("include-reviewed")

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

	jobID, err := orchestrator.Reanalyze(ctx, ownerID, accountID, includeReviewed)
	if err != nil {
		return err
	}

	fmt.Println(cli.FormatInfo(fmt.Sprintf("Reanalysis started as job %s", jobID)))

	snapshot, err := progress.NewPoller(store, progress.DefaultPollConfig(), logger).Wait(ctx, ownerID, accountID)
	if err != nil {
		fmt.Println(renderStatus(snapshot))
		return err
	}
	orchestrator.Wait(jobID)

	fmt.Println(renderStatus(snapshot))
	return nil
}
