package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/barysiuk/lettactl/internal/engine"
)

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Show what apply would change, without writing anything",
	Long: `Diff computes the full reconciliation plan against the live server and
prints it: agents to create, scalar fields and attachments to change,
and line diffs for memory block values. Nothing is written.

Differences are not an error; the exit code is 0 either way.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps()
		if err != nil {
			return err
		}

		file, _ := cmd.Flags().GetString("file")
		only, _ := cmd.Flags().GetStringArray("agent")
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx := cmd.Context()
		cfg, err := loadManifest(ctx, file)
		if err != nil {
			return err
		}

		rec := engine.NewReconciler(d.client, d.logger)
		res, err := rec.Run(ctx, cfg, engine.Options{DryRun: true, Only: only})
		if err != nil {
			return err
		}

		if asJSON {
			data, err := json.MarshalIndent(resultJSON(res, true), "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling plan: %w", err)
			}
			fmt.Fprintln(os.Stdout, string(data))
			return nil
		}

		renderResult(os.Stdout, res, renderOpts{dryRun: true, blockDiffs: true})

		created, updated, unchanged, _ := res.Counts()
		if created+updated == 0 {
			fmt.Fprintln(os.Stdout, "\nNo differences.")
		} else {
			fmt.Fprintf(os.Stdout, "\n%d to create, %d to update, %d unchanged.\n",
				created, updated, unchanged)
		}
		return nil
	},
}

func init() {
	diffCmd.Flags().StringP("file", "f", "", "Path to the fleet manifest (required)")
	diffCmd.Flags().StringArray("agent", nil, "Restrict the diff to this manifest entry (repeatable)")
	diffCmd.Flags().Bool("json", false, "Output the plan as JSON")
	_ = diffCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(diffCmd)
}
