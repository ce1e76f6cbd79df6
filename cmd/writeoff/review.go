package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/writeoff/internal/cli"
	"github.com/joshsymonds/writeoff/internal/model"
	"github.com/joshsymonds/writeoff/internal/reconcile"
)

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review [record-id]",
		Short: "Record a human deductibility decision for a transaction",
		Long: `Apply a manual review to one transaction. A reviewed record is owned by
you: later engine runs will not overwrite it unless you explicitly
reanalyze with --include-reviewed.`,
		Args: cobra.ExactArgs(1),
		RunE: runReview,
	}

	cmd.Flags().String("owner", "", "owner user id (required)")
	cmd.Flags().Bool("deductible", false, "mark the transaction deductible")
	cmd.Flags().Bool("not-deductible", false, "mark the transaction not deductible")
	cmd.Flags().String("category", "", "set the transaction category")
	cmd.Flags().String("notes", "", "attach review notes")
	cmd.Flags().String("reasoning", "", "replace the stored reasoning")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

func runReview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	recordID := args[0]
	ownerID, _ := cmd.Flags().GetString("owner")

	patch, err := patchFromFlags(cmd)
	if err != nil {
		return err
	}

	store, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	cache := reconcile.NewCache(store, slog.Default())
	defer cache.Close()

	updated, err := cache.ApplyUpdate(ctx, ownerID, recordID, patch)
	if err != nil {
		return err
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf("Recorded review for %s (%s)", updated.ID, updated.Merchant)))
	if updated.Deductible != nil {
		verdict := "not deductible"
		if *updated.Deductible {
			verdict = "deductible"
		}
		fmt.Println(cli.SubtleStyle.Render("verdict: " + verdict))
	}
	return nil
}

func patchFromFlags(cmd *cobra.Command) (model.ReviewPatch, error) {
	deductible, _ := cmd.Flags().GetBool("deductible")
	notDeductible, _ := cmd.Flags().GetBool("not-deductible")
	if deductible && notDeductible {
		return model.ReviewPatch{}, fmt.Errorf("--deductible and --not-deductible are mutually exclusive")
	}

	var patch model.ReviewPatch
	if deductible || notDeductible {
		v := deductible
		patch.Deductible = &v
	}
	if cmd.Flags().Changed("category") {
		v, _ := cmd.Flags().GetString("category")
		patch.Category = &v
	}
	if cmd.Flags().Changed("notes") {
		v, _ := cmd.Flags().GetString("notes")
		patch.Notes = &v
	}
	if cmd.Flags().Changed("reasoning") {
		v, _ := cmd.Flags().GetString("reasoning")
		patch.Reasoning = &v
	}

	if patch.Empty() {
		return model.ReviewPatch{}, fmt.Errorf("nothing to change; pass at least one of --deductible, --not-deductible, --category, --notes, --reasoning")
	}
	return patch, nil
}
