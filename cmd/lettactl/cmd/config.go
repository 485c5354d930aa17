package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/barysiuk/lettactl/internal/cliconfig"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the lettactl configuration file",
	Long: `The configuration file lives at ~/.lettactl/config.jsonc and may
contain comments. LETTA_BASE_URL, LETTA_API_KEY, and LETTA_PROJECT
override it at runtime without being written back.`,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := cliconfig.NewManager()
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, manager.ConfigPath())
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := cliconfig.NewManager()
		if err != nil {
			return err
		}
		cfg, err := manager.Load()
		if err != nil {
			return err
		}

		apiKey := "(unset)"
		if cfg.APIKey != "" {
			apiKey = "(set)"
		}
		fmt.Fprintf(os.Stdout, "baseUrl:         %s\n", cfg.BaseURL)
		fmt.Fprintf(os.Stdout, "apiKey:          %s\n", apiKey)
		fmt.Fprintf(os.Stdout, "project:         %s\n", orDash(cfg.Project))
		fmt.Fprintf(os.Stdout, "timeoutSeconds:  %d\n", cfg.TimeoutSeconds)

		var active []string
		for _, v := range []string{cliconfig.EnvBaseURL, cliconfig.EnvAPIKey, cliconfig.EnvProject} {
			if os.Getenv(v) != "" {
				active = append(active, v)
			}
		}
		if len(active) > 0 {
			fmt.Fprintln(os.Stdout)
			for _, v := range active {
				fmt.Fprintf(os.Stdout, "Environment override active: %s\n", v)
			}
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set writes one value to the configuration file. Valid keys are
baseUrl, apiKey, project, and timeoutSeconds.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := cliconfig.NewManager()
		if err != nil {
			return err
		}
		cfg, err := manager.Load()
		if err != nil {
			return err
		}

		key, value := args[0], args[1]
		switch key {
		case "baseUrl":
			cfg.BaseURL = value
		case "apiKey":
			cfg.APIKey = value
		case "project":
			cfg.Project = value
		case "timeoutSeconds":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return fmt.Errorf("timeoutSeconds must be a positive integer, got %q", value)
			}
			cfg.TimeoutSeconds = n
		default:
			return fmt.Errorf("unknown key %q (valid keys: baseUrl, apiKey, project, timeoutSeconds)", key)
		}

		if err := manager.Save(cfg); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Set %s in %s\n", key, manager.ConfigPath())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}
