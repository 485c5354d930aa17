package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/barysiuk/lettactl/internal/engine"
	"github.com/barysiuk/lettactl/internal/letta"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Inspect and manage live agents",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every live agent, all versions included",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps()
		if err != nil {
			return err
		}

		agents, err := d.client.ListAgents(cmd.Context())
		if err != nil {
			return err
		}
		sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			data, err := json.MarshalIndent(agents, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling agents: %w", err)
			}
			fmt.Fprintln(os.Stdout, string(data))
			return nil
		}

		if len(agents) == 0 {
			fmt.Fprintln(os.Stdout, "No agents found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tID\tMODEL\tUPDATED")
		for _, a := range agents {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.Name, a.ID, orDash(a.Model), formatTime(a.UpdatedAt))
		}
		_ = w.Flush()
		return nil
	},
}

var agentsDescribeCmd = &cobra.Command{
	Use:   "describe <name>",
	Short: "Show one agent's configuration and attachments",
	Long: `Describe fetches an agent with its attached tools, memory blocks,
folders, and archives. The name may be a full server name or a base
name, which resolves to the newest version.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		agent, err := findAgent(ctx, d, args[0])
		if err != nil {
			return err
		}

		tools, err := d.client.ListAgentTools(ctx, agent.ID)
		if err != nil {
			return err
		}
		blocks, err := d.client.ListAgentBlocks(ctx, agent.ID)
		if err != nil {
			return err
		}
		folders, err := d.client.ListAgentFolders(ctx, agent.ID)
		if err != nil {
			return err
		}
		archives, err := d.client.ListAgentArchives(ctx, agent.ID)
		if err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			view := describeView{
				Agent:    agent,
				Tools:    names(tools, func(t letta.Tool) string { return t.Name }),
				Blocks:   names(blocks, func(b letta.Block) string { return b.Label }),
				Folders:  names(folders, func(f letta.Folder) string { return f.Name }),
				Archives: names(archives, func(a letta.Archive) string { return a.Name }),
			}
			data, err := json.MarshalIndent(view, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling agent: %w", err)
			}
			fmt.Fprintln(os.Stdout, string(data))
			return nil
		}

		md := describeMarkdown(agent, tools, blocks, folders, archives)
		fmt.Fprint(os.Stdout, renderMarkdown(md))
		return nil
	},
}

type describeView struct {
	Agent    *letta.Agent `json:"agent"`
	Tools    []string     `json:"tools"`
	Blocks   []string     `json:"blocks"`
	Folders  []string     `json:"folders"`
	Archives []string     `json:"archives"`
}

func describeMarkdown(agent *letta.Agent, tools []letta.Tool, blocks []letta.Block, folders []letta.Folder, archives []letta.Archive) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", agent.Name)
	fmt.Fprintf(&sb, "- ID: `%s`\n", agent.ID)
	fmt.Fprintf(&sb, "- Model: %s\n", orDash(agent.Model))
	fmt.Fprintf(&sb, "- Embedding: %s\n", orDash(agent.Embedding))
	if agent.ContextWindow > 0 {
		fmt.Fprintf(&sb, "- Context window: %d\n", agent.ContextWindow)
	}
	fmt.Fprintf(&sb, "- Updated: %s\n", formatTime(agent.UpdatedAt))
	if agent.Description != "" {
		fmt.Fprintf(&sb, "\n%s\n", agent.Description)
	}

	fmt.Fprintf(&sb, "\n## System prompt\n\n```\n%s\n```\n", strings.TrimSpace(agent.SystemPrompt))

	fmt.Fprintf(&sb, "\n## Tools (%d)\n\n", len(tools))
	for _, t := range tools {
		fmt.Fprintf(&sb, "- %s\n", t.Name)
	}
	fmt.Fprintf(&sb, "\n## Memory blocks (%d)\n\n", len(blocks))
	for _, b := range blocks {
		note := ""
		if b.ReadOnly {
			note = " (read-only)"
		}
		fmt.Fprintf(&sb, "- %s%s\n", b.Label, note)
	}
	fmt.Fprintf(&sb, "\n## Folders (%d)\n\n", len(folders))
	for _, f := range folders {
		fmt.Fprintf(&sb, "- %s\n", f.Name)
	}
	fmt.Fprintf(&sb, "\n## Archives (%d)\n\n", len(archives))
	for _, a := range archives {
		fmt.Fprintf(&sb, "- %s\n", a.Name)
	}

	if len(agent.Metadata) > 0 {
		fmt.Fprintf(&sb, "\n## Metadata\n\n")
		for _, k := range sortedNames(agent.Metadata) {
			fmt.Fprintf(&sb, "- `%s`\n", k)
		}
	}
	return sb.String()
}

// renderMarkdown renders through glamour, falling back to the raw text
// when the renderer cannot be built.
func renderMarkdown(md string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

func names[T any](in []T, name func(T) string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		out = append(out, name(v))
	}
	sort.Strings(out)
	return out
}

var agentsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete an agent and its conversation",
	Long: `Delete removes an agent from the server permanently, conversation
included, so it always requires --force. With --all-versions every
agent sharing the base name is deleted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if !force {
			return fmt.Errorf("deleting an agent destroys its conversation; re-run with --force")
		}

		d, err := newDeps()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		agents, err := d.client.ListAgents(ctx)
		if err != nil {
			return err
		}

		name := args[0]
		allVersions, _ := cmd.Flags().GetBool("all-versions")
		base, _ := engine.ParseVersionedName(name)

		var targets []letta.Agent
		for _, a := range agents {
			if allVersions {
				if b, _ := engine.ParseVersionedName(a.Name); b == base {
					targets = append(targets, a)
				}
			} else if a.Name == name {
				targets = append(targets, a)
			}
		}
		if len(targets) == 0 {
			return fmt.Errorf("agent %q not found", name)
		}

		for _, a := range targets {
			if err := d.client.DeleteAgent(ctx, a.ID); err != nil {
				return fmt.Errorf("deleting %s: %w", a.Name, err)
			}
			d.logger.Info("agent deleted", "name", a.Name, "id", a.ID)
			fmt.Fprintf(os.Stdout, "Deleted %s (%s)\n", a.Name, a.ID)
		}
		return nil
	},
}

func init() {
	agentsListCmd.Flags().Bool("json", false, "Output as JSON")
	agentsDescribeCmd.Flags().Bool("json", false, "Output as JSON")
	agentsDeleteCmd.Flags().Bool("force", false, "Confirm the deletion")
	agentsDeleteCmd.Flags().Bool("all-versions", false, "Delete every version of the base name")
	agentsCmd.AddCommand(agentsListCmd)
	agentsCmd.AddCommand(agentsDescribeCmd)
	agentsCmd.AddCommand(agentsDeleteCmd)
	rootCmd.AddCommand(agentsCmd)
}
