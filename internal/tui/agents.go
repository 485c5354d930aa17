package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/barysiuk/lettactl/internal/engine"
	"github.com/barysiuk/lettactl/internal/letta"
)

// agentsModel is the main view: the live agents on the server as a
// filterable list.
type agentsModel struct {
	width  int
	height int

	list list.Model

	// Data (pushed from App after each fetch).
	agents []letta.Agent
	loaded bool
	err    error
}

func newAgentsModel() agentsModel {
	d := newAgentDelegate()
	l := list.New(nil, d, 0, 0)
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(true)
	l.DisableQuitKeybindings()
	l.SetShowPagination(false)

	return agentsModel{
		list: l,
	}
}

func (m agentsModel) setSize(width, height int) agentsModel {
	m.width = width
	m.height = height
	// List sizing happens dynamically in view() via render-then-measure.
	// We store dimensions here so view() can compute the list height.
	m.list.SetSize(width, max(1, height))
	return m
}

func (m agentsModel) setData(agents []letta.Agent, err error) agentsModel {
	m.loaded = true
	m.err = err
	m.agents = agents
	m.list.SetItems(agentsToItems(agents))
	return m
}

func (m agentsModel) count() int { return len(m.agents) }

// versionedCount counts agents whose server name carries a version
// component, i.e. retired conversations parked by a prompt change.
func (m agentsModel) versionedCount() int {
	n := 0
	for _, a := range m.agents {
		if _, v := engine.ParseVersionedName(a.Name); v != "" {
			n++
		}
	}
	return n
}

func (m agentsModel) update(msg tea.Msg, app *App) (agentsModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		// Don't intercept keys while filtering.
		if m.list.SettingFilter() {
			break
		}

		switch {
		case key.Matches(msg, keys.Delete):
			return m, m.deleteSelected(app)

		case key.Matches(msg, keys.Refresh):
			return m, tea.Batch(startTask, app.loadAgentsCmd)

		case key.Matches(msg, keys.Enter):
			// Open the detail overlay for the selected agent.
			return m, m.openDetail(app)
		}
	}

	// Forward all other messages to the list (handles j/k, filtering, etc.)
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// openDetail fetches the selected agent's configuration and attachments,
// then triggers the detail overlay.
func (m agentsModel) openDetail(app *App) tea.Cmd {
	item := m.list.SelectedItem()
	if item == nil {
		return nil
	}
	ai, ok := item.(agentItem)
	if !ok {
		return nil
	}

	client := app.client
	id := ai.agent.ID

	fetch := func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		agent, err := client.GetAgent(ctx, id)
		if err != nil {
			return openDetailMsg{err: err}
		}
		tools, err := client.ListAgentTools(ctx, id)
		if err != nil {
			return openDetailMsg{err: err}
		}
		blocks, err := client.ListAgentBlocks(ctx, id)
		if err != nil {
			return openDetailMsg{err: err}
		}
		folders, err := client.ListAgentFolders(ctx, id)
		if err != nil {
			return openDetailMsg{err: err}
		}
		archives, err := client.ListAgentArchives(ctx, id)
		if err != nil {
			return openDetailMsg{err: err}
		}

		return openDetailMsg{
			title:   agent.Name,
			content: agentMarkdown(agent, tools, blocks, folders, archives),
		}
	}
	return tea.Batch(startTask, fetch)
}

// deleteSelected asks for confirmation, then deletes the selected agent.
func (m agentsModel) deleteSelected(app *App) tea.Cmd {
	item := m.list.SelectedItem()
	if item == nil {
		return nil
	}
	ai, ok := item.(agentItem)
	if !ok {
		return nil
	}

	client := app.client
	agent := ai.agent

	deleteCmd := tea.Batch(startTask, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		if err := client.DeleteAgent(ctx, agent.ID); err != nil {
			return agentDeletedMsg{name: agent.Name, err: err}
		}
		return agentDeletedMsg{name: agent.Name}
	})

	app.confirm = app.confirm.show(
		fmt.Sprintf("Delete agent %s? Its conversation history is lost.", agent.Name),
		deleteCmd,
	)
	return nil
}

func (m agentsModel) view() string {
	if !m.loaded {
		return mutedStyle.Render("  Loading...")
	}

	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("  Error listing agents: %v", m.err))
	}

	// --- Render-then-measure: fixed chrome first, then size the list from what remains. ---

	// 1. Render fixed chrome parts.
	count := len(m.agents)
	var sectionHeader string
	if count == 0 {
		sectionHeader = renderSectionHeader("AGENTS", m.width) + "\n"
	} else {
		sectionHeader = renderSectionHeader(fmt.Sprintf("AGENTS (%d)", count), m.width) + "\n"
	}

	var parts []string
	if versioned := m.versionedCount(); versioned > 0 {
		parts = append(parts,
			mutedStyle.Render(fmt.Sprintf("%d current, %d versioned", count-versioned, versioned)))
	}
	parts = append(parts,
		headerHintStyle.Render("[enter] inspect  [d] delete  [r] refresh"))

	footer := "  " + strings.Join(parts, "  |  ")
	// Blank line padding between list and footer message.
	footerBlock := "\n\n" + footer

	// 2. Measure chrome height.
	chromeH := lipgloss.Height(sectionHeader) + lipgloss.Height(footerBlock)

	// 3. Size the list to fit its content, capped by available space.
	//    DefaultDelegate: Height()=2 (title+desc), Spacing()=1.
	//    The list calculates PerPage = availHeight / (Height+Spacing) using
	//    integer division. It also internally subtracts chrome from the height
	//    we give it (e.g. title/filter bar = 1 even when empty). We add that
	//    back so the items-per-page calculation comes out right.
	if count > 0 {
		maxH := m.height - chromeH
		if maxH < 1 {
			maxH = 1
		}
		itemSlot := 3 // Height(2) + Spacing(1)
		// +1 compensates for the list's internal title/filter bar line
		// (lipgloss.Height("") == 1, so it always steals 1 line).
		listH := count*itemSlot + 1
		if listH > maxH {
			listH = maxH
		}
		m.list.SetSize(m.width, listH)
	}

	// 4. Assemble.
	var b strings.Builder
	b.WriteString(sectionHeader)

	if count == 0 {
		b.WriteString("\n" + mutedStyle.Render("  No agents on the server"))
	} else {
		b.WriteString(m.list.View())
	}

	b.WriteString(footerBlock)

	return b.String()
}
