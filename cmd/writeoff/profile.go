package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/writeoff/internal/cli"
	"github.com/joshsymonds/writeoff/internal/common"
	"github.com/joshsymonds/writeoff/internal/model"
)

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage the tax profile used to contextualize classification",
	}

	cmd.AddCommand(profileShowCmd())
	cmd.AddCommand(profileSetCmd())

	return cmd
}

func profileShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the stored tax profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			ownerID, _ := cmd.Flags().GetString("owner")

			store, err := openStore(ctx)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer func() { _ = store.Close() }()

			profile, err := store.GetProfile(ctx, ownerID)
			if err != nil {
				if errors.Is(err, common.ErrNotFound) {
					fmt.Println(cli.FormatWarning("No profile stored; classification runs without taxpayer context"))
					return nil
				}
				return err
			}

			content := fmt.Sprintf("profession: %s\nincome bracket: %s\nfiling status: %s\nstate: %s",
				profile.Profession, profile.IncomeBracket, profile.FilingStatus, profile.State)
			fmt.Println(cli.RenderBox("Tax profile", content))
			return nil
		},
	}

	cmd.Flags().String("owner", "", "owner user id (required)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func profileSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store or update the tax profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			ownerID, _ := cmd.Flags().GetString("owner")

			store, err := openStore(ctx)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer func() { _ = store.Close() }()

			profile := &model.UserProfile{OwnerID: ownerID}
			if existing, err := store.GetProfile(ctx, ownerID); err == nil {
				profile = existing
			}

			if cmd.Flags().Changed("profession") {
				profile.Profession, _ = cmd.Flags().GetString("profession")
			}
			if cmd.Flags().Changed("income-bracket") {
				profile.IncomeBracket, _ = cmd.Flags().GetString("income-bracket")
			}
			if cmd.Flags().Changed("filing-status") {
				profile.FilingStatus, _ = cmd.Flags().GetString("filing-status")
			}
			if cmd.Flags().Changed("state") {
				profile.State, _ = cmd.Flags().GetString("state")
			}

			if err := store.SaveProfile(ctx, profile); err != nil {
				return fmt.Errorf("failed to save profile: %w", err)
			}

			fmt.Println(cli.FormatSuccess("Profile saved"))
			return nil
		},
	}

	cmd.Flags().String("owner", "", "owner user id (required)")
	cmd.Flags().String("profession", "", "profession or trade")
	cmd.Flags().String("income-bracket", "", "approximate income bracket")
	cmd.Flags().String("filing-status", "", "tax filing status")
	cmd.Flags().String("state", "", "state of residence")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
