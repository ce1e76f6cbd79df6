package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/writeoff/internal/cli"
	"github.com/joshsymonds/writeoff/internal/model"
	"github.com/joshsymonds/writeoff/internal/ofx"
)

func importOFXCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-ofx [files...]",
		Short: "Import transactions from OFX/QFX files",
		Long: `Import financial transactions from OFX or QFX (Quicken) files exported
from your bank. Re-importing a file is safe: records that already exist
are left untouched.

Examples:
  # Import single file
  writeoff import-ofx --owner me ~/Downloads/chase_jan_2024.qfx

  # Import all QFX files in a directory
  writeoff import-ofx --owner me ~/Downloads/*.qfx`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImportOFX,
	}

	cmd.Flags().String("owner", "", "owner user id (required)")
	cmd.Flags().BoolP("dry-run", "d", false, "Preview import without saving")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

func runImportOFX(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ownerID, _ := cmd.Flags().GetString("owner")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	// Expand globs and collect all files
	var allFiles []string
	for _, pattern := range args {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			// If no glob matches, check if it's a direct file
			if _, err := os.Stat(pattern); err == nil {
				allFiles = append(allFiles, pattern)
			} else {
				slog.Warn("No files found matching pattern", "pattern", pattern)
			}
		} else {
			allFiles = append(allFiles, matches...)
		}
	}

	if len(allFiles) == 0 {
		return fmt.Errorf("no files found to import")
	}

	slog.Info("Importing OFX files...",
		"file_count", len(allFiles),
		"dry_run", dryRun)

	var allRecords []model.TransactionRecord
	seen := make(map[string]bool) // For deduplication across files

	parser := ofx.NewParser()

	for _, filePath := range allFiles {
		slog.Info("Processing file", "file", filepath.Base(filePath))

		f, err := os.Open(filePath)
		if err != nil {
			slog.Error("Failed to open file",
				"file", filePath,
				"error", err)
			continue
		}

		records, err := parser.ParseFile(ctx, f, ownerID)
		_ = f.Close()
		if err != nil {
			slog.Error("Failed to parse OFX file",
				"file", filePath,
				"error", err)
			continue
		}

		for _, record := range records {
			key := record.ContentKey()
			if seen[key] {
				continue
			}
			seen[key] = true
			allRecords = append(allRecords, record)
		}
	}

	if len(allRecords) == 0 {
		return fmt.Errorf("no transactions found in any file")
	}

	if dryRun {
		fmt.Println(cli.FormatInfo(fmt.Sprintf("Dry run: would import %d transactions", len(allRecords))))
		return nil
	}

	store, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.SaveRecords(ctx, allRecords); err != nil {
		return fmt.Errorf("failed to save transactions: %w", err)
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf("Imported %d transactions", len(allRecords))))
	return nil
}
