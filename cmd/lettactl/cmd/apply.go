package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/barysiuk/lettactl/internal/engine"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Reconcile the fleet manifest against the server",
	Long: `Apply converges the live fleet to match the manifest: missing agents
and resources are created, drifted scalar fields and attachments are
updated in place, and a changed system prompt forks a new versioned
agent while the old one keeps its conversation.

Detaches and deletes are destructive and run only with --force; without
it they are reported and skipped. One agent's failure never stops the
rest of the pass.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps()
		if err != nil {
			return err
		}

		file, _ := cmd.Flags().GetString("file")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		force, _ := cmd.Flags().GetBool("force")
		only, _ := cmd.Flags().GetStringArray("agent")

		ctx := cmd.Context()
		cfg, err := loadManifest(ctx, file)
		if err != nil {
			return err
		}

		rec := engine.NewReconciler(d.client, d.logger)
		res, err := rec.Run(ctx, cfg, engine.Options{
			DryRun: dryRun,
			Force:  force,
			Only:   only,
		})
		if err != nil {
			return err
		}

		renderResult(os.Stdout, res, renderOpts{dryRun: dryRun, force: force})

		created, updated, unchanged, errs := res.Counts()
		if dryRun {
			fmt.Fprintf(os.Stdout, "\nWould apply: %d to create, %d to update, %d unchanged.\n",
				created, updated, unchanged)
			fmt.Fprintln(os.Stdout, "Dry run: no changes were written.")
			return nil
		}

		fmt.Fprintf(os.Stdout, "\nApplied: %d created, %d updated, %d unchanged, %d errors\n",
			created, updated, unchanged, errs)
		if errs > 0 {
			return fmt.Errorf("%d agent(s) failed", errs)
		}
		return nil
	},
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "Path to the fleet manifest (required)")
	applyCmd.Flags().Bool("dry-run", false, "Compute and print operations without writing anything")
	applyCmd.Flags().Bool("force", false, "Allow detach and delete operations")
	applyCmd.Flags().StringArray("agent", nil, "Restrict the pass to this manifest entry (repeatable)")
	_ = applyCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(applyCmd)
}
