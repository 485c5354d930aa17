package cmd

import (
	"github.com/spf13/cobra"

	"github.com/barysiuk/lettactl/internal/tui"
)

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Browse the live fleet in an interactive terminal UI",
	Long: `Browse opens a full-screen view of the live fleet: pick an agent to
see its configuration and attachments, and delete agents after a
confirmation prompt.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps()
		if err != nil {
			return err
		}
		return tui.Run(d.client, d.cfg.BaseURL)
	},
}

func init() {
	rootCmd.AddCommand(browseCmd)
}
