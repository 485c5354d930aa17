package tui

import (
	"fmt"
	"strings"

	"github.com/barysiuk/lettactl/internal/letta"
)

// agentMarkdown builds the detail document shown in the browser's
// viewport. Memory block values are inlined in full; everything else is
// listed by name.
func agentMarkdown(agent *letta.Agent, tools []letta.Tool, blocks []letta.Block, folders []letta.Folder, archives []letta.Archive) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", agent.Name)
	if agent.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", agent.Description)
	}

	fmt.Fprintf(&b, "- ID: `%s`\n", agent.ID)
	if agent.Model != "" {
		fmt.Fprintf(&b, "- Model: %s\n", agent.Model)
	}
	if agent.Embedding != "" {
		fmt.Fprintf(&b, "- Embedding: %s\n", agent.Embedding)
	}
	if agent.ContextWindow > 0 {
		fmt.Fprintf(&b, "- Context window: %d\n", agent.ContextWindow)
	}
	if !agent.UpdatedAt.IsZero() {
		fmt.Fprintf(&b, "- Updated: %s\n", agent.UpdatedAt.Format("2006-01-02 15:04"))
	}
	b.WriteString("\n")

	if agent.SystemPrompt != "" {
		b.WriteString("## System prompt\n\n")
		b.WriteString("```\n")
		b.WriteString(strings.TrimRight(agent.SystemPrompt, "\n"))
		b.WriteString("\n```\n\n")
	}

	fmt.Fprintf(&b, "## Tools (%d)\n\n", len(tools))
	if len(tools) == 0 {
		b.WriteString("*(none)*\n")
	}
	for _, t := range tools {
		if t.Description != "" {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		} else {
			fmt.Fprintf(&b, "- %s\n", t.Name)
		}
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Memory blocks (%d)\n\n", len(blocks))
	if len(blocks) == 0 {
		b.WriteString("*(none)*\n\n")
	}
	for _, bl := range blocks {
		label := bl.Label
		if bl.ReadOnly {
			label += " (read-only)"
		}
		fmt.Fprintf(&b, "### %s\n\n", label)
		fmt.Fprintf(&b, "```\n%s\n```\n\n", strings.TrimRight(bl.Value, "\n"))
	}

	fmt.Fprintf(&b, "## Folders (%d)\n\n", len(folders))
	if len(folders) == 0 {
		b.WriteString("*(none)*\n")
	}
	for _, f := range folders {
		fmt.Fprintf(&b, "- %s\n", f.Name)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Archives (%d)\n\n", len(archives))
	if len(archives) == 0 {
		b.WriteString("*(none)*\n")
	}
	for _, ar := range archives {
		if ar.Description != "" {
			fmt.Fprintf(&b, "- %s: %s\n", ar.Name, ar.Description)
		} else {
			fmt.Fprintf(&b, "- %s\n", ar.Name)
		}
	}

	return b.String()
}
