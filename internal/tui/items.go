package tui

import (
	"github.com/charmbracelet/bubbles/list"

	"github.com/barysiuk/lettactl/internal/engine"
	"github.com/barysiuk/lettactl/internal/letta"
)

// agentItem wraps a live Agent for the bubbles list.
// Implements list.DefaultItem (Title + Description + FilterValue).
type agentItem struct {
	agent letta.Agent
}

// Title shows the base name, with the version component as a styled
// suffix on versioned (retired) agents.
func (i agentItem) Title() string {
	base, version := engine.ParseVersionedName(i.agent.Name)
	if version == "" {
		return base
	}
	return base + " " + versionBadgeStyle.Render(version)
}

func (i agentItem) Description() string {
	model := i.agent.Model
	if model == "" {
		model = "no model"
	}
	if i.agent.UpdatedAt.IsZero() {
		return model
	}
	return model + " · updated " + i.agent.UpdatedAt.Format("2006-01-02 15:04")
}

// FilterValue returns the full server name so filtering matches both the
// base name and the version suffix.
func (i agentItem) FilterValue() string { return i.agent.Name }

// agentsToItems converts live agents to list items.
func agentsToItems(agents []letta.Agent) []list.Item {
	items := make([]list.Item, len(agents))
	for i, a := range agents {
		items[i] = agentItem{agent: a}
	}
	return items
}
