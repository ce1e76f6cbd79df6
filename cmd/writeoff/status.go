package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/writeoff/internal/cli"
	"github.com/joshsymonds/writeoff/internal/model"
	"github.com/joshsymonds/writeoff/internal/progress"
)

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show analysis progress for an account",
		Long: `Report the current state of an account's analysis job. With --wait the
command polls until the job finishes or the polling bounds are exhausted;
an unobservable job is reported as unknown rather than waited on forever.`,
		RunE: runStatus,
	}

	cmd.Flags().String("owner", "", "owner user id (required)")
	cmd.Flags().String("account", "", "account id (required)")
	cmd.Flags().Bool("wait", false, "poll until the job reaches a terminal state")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	ownerID, _ := cmd.Flags().GetString("owner")
	accountID, _ := cmd.Flags().GetString("account")
	wait, _ := cmd.Flags().GetBool("wait")

	store, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	poller := progress.NewPoller(store, progress.DefaultPollConfig(), slog.Default())

	var snapshot model.ProgressSnapshot
	if wait {
		snapshot, err = poller.Wait(ctx, ownerID, accountID)
	} else {
		snapshot, err = poller.Status(ctx, ownerID, accountID)
	}
	if err != nil && snapshot.Status != model.JobUnknown {
		return err
	}

	fmt.Println(renderStatus(snapshot))
	if err != nil {
		return err
	}
	return nil
}

func renderStatus(s model.ProgressSnapshot) string {
	line := fmt.Sprintf("job %s: %s  processed %d/%d", s.JobID, s.Status, s.Processed, s.Total)
	if s.Remaining != model.RemainingUnknown {
		line += fmt.Sprintf("  remaining %d", s.Remaining)
	}

	switch s.Status {
	case model.JobCompleted:
		return cli.FormatSuccess(line)
	case model.JobFailed:
		return cli.FormatError(line)
	case model.JobUnknown:
		return cli.FormatWarning(line + "  (gave up observing)")
	default:
		return cli.FormatInfo(line)
	}
}
