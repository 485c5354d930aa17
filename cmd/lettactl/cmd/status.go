package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/barysiuk/lettactl/internal/engine"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the live fleet, one row per agent base name",
	Long: `Status lists the newest live agent per base name with its model and
attachment counts. With -f it also computes drift against the manifest:
how many operations an apply would perform for each agent.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps()
		if err != nil {
			return err
		}

		file, _ := cmd.Flags().GetString("file")
		ctx := cmd.Context()

		var entries []engine.AgentVersion
		drift := map[string]string{}
		withDrift := file != ""

		if withDrift {
			cfg, err := loadManifest(ctx, file)
			if err != nil {
				return err
			}
			rec := engine.NewReconciler(d.client, d.logger)
			res, err := rec.Run(ctx, cfg, engine.Options{DryRun: true})
			if err != nil {
				return err
			}
			for _, a := range res.Agents {
				drift[a.Name] = driftLabel(a)
			}
			entries = rec.Registry().All()
		} else {
			reg := engine.NewVersionRegistry(d.client, d.logger)
			if err := reg.LoadExisting(ctx); err != nil {
				return err
			}
			entries = reg.All()
		}

		if len(entries) == 0 && len(drift) == 0 {
			fmt.Fprintln(os.Stdout, "No agents found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		if withDrift {
			fmt.Fprintln(w, "NAME\tVERSION\tMODEL\tTOOLS\tBLOCKS\tFOLDERS\tUPDATED\tDRIFT")
		} else {
			fmt.Fprintln(w, "NAME\tVERSION\tMODEL\tTOOLS\tBLOCKS\tFOLDERS\tUPDATED")
		}

		seen := map[string]bool{}
		for _, e := range entries {
			seen[e.Name] = true
			row, err := statusRow(ctx, d, e)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: reading agent %s: %v\n", e.Name, err)
				continue
			}
			if withDrift {
				dl, ok := drift[e.Name]
				if !ok {
					dl = "-"
				}
				row += "\t" + dl
			}
			fmt.Fprintln(w, row)
		}

		// Manifest agents with no live counterpart yet.
		if withDrift {
			for _, name := range sortedNames(drift) {
				if seen[name] {
					continue
				}
				fmt.Fprintf(w, "%s\t-\t-\t-\t-\t-\t-\t%s\n", name, drift[name])
			}
		}

		_ = w.Flush()
		return nil
	},
}

func statusRow(ctx context.Context, d *deps, e engine.AgentVersion) (string, error) {
	agent, err := d.client.GetAgent(ctx, e.ID)
	if err != nil {
		return "", err
	}
	tools, err := d.client.ListAgentTools(ctx, e.ID)
	if err != nil {
		return "", err
	}
	blocks, err := d.client.ListAgentBlocks(ctx, e.ID)
	if err != nil {
		return "", err
	}
	folders, err := d.client.ListAgentFolders(ctx, e.ID)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s\t%s\t%s\t%d\t%d\t%d\t%s",
		e.BaseName,
		orDash(e.Version),
		orDash(agent.Model),
		len(tools),
		len(blocks),
		len(folders),
		formatTime(e.UpdatedAt),
	), nil
}

func driftLabel(a engine.AgentResult) string {
	switch a.Action {
	case engine.ActionCreated:
		return "missing"
	case engine.ActionUpdated:
		return fmt.Sprintf("%d ops", a.Ops.OperationCount)
	case engine.ActionUnchanged:
		return "none"
	default:
		return "error"
	}
}

func init() {
	statusCmd.Flags().StringP("file", "f", "", "Manifest to compute drift against")
	rootCmd.AddCommand(statusCmd)
}
