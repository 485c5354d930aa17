package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/barysiuk/lettactl/internal/cliconfig"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "lettactl",
	Short: "Declarative fleet management for Letta agents",
	Long: `Lettactl reconciles a declarative fleet manifest against a Letta server.

Describe agents, tools, memory blocks, folders, and archives in YAML;
apply converges the live fleet to match. Agents are never deleted or
recreated by an apply - breaking prompt changes fork a new versioned
agent and the old one keeps its conversation.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		setupLogging(verbose)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("lettactl %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}

// setupLogging routes slog to a rotating file under the config
// directory. Verbose mode mirrors everything to stderr as well.
func setupLogging(verbose bool) {
	var w io.Writer = io.Discard
	if m, err := cliconfig.NewManager(); err == nil {
		w = &lumberjack.Logger{
			Filename:   filepath.Join(m.LogsDir(), "lettactl.log"),
			MaxSize:    15, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	if verbose {
		w = io.MultiWriter(w, os.Stderr)
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(handler))
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "Mirror debug logs to stderr")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
