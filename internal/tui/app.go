package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/barysiuk/lettactl/internal/letta"
)

// fetchTimeout bounds every server request issued from the browser.
const fetchTimeout = 30 * time.Second

// appView represents the active screen.
type appView int

const (
	viewAgents appView = iota // Main agent list (default)
	viewDetail                // Agent detail overlay
)

// App is the root Bubbletea model for the fleet browser.
type App struct {
	client  letta.Client
	baseURL string

	// View state.
	activeView appView
	width      int
	height     int
	ready      bool

	// Sub-models.
	agents agentsModel

	// Agent detail overlay.
	detailViewport viewport.Model
	detailTitle    string
	detailLoading  bool
	detailSpinner  spinner.Model

	// Cached glamour renderer (lazy-initialized on first detail view).
	glamourRenderer *glamour.TermRenderer

	// Bottom bar.
	help   help.Model
	status statusBarModel

	// Confirmation dialog (overlays the content area when active).
	confirm confirmModel
}

// NewApp creates the root model for a server reachable at serverURL.
func NewApp(client letta.Client, serverURL string) App {
	h := help.New()
	h.ShortSeparator = "  |  "

	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(spinnerStyle),
	)

	return App{
		client:        client,
		baseURL:       serverURL,
		agents:        newAgentsModel(),
		detailSpinner: s,
		help:          h,
		status:        newStatusBarModel(),
		confirm:       newConfirmModel(),
	}
}

// Run opens the full-screen fleet browser and blocks until the user quits.
func Run(client letta.Client, serverURL string) error {
	p := tea.NewProgram(NewApp(client, serverURL), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// --- Messages ---

// agentsLoadedMsg carries the result of a ListAgents fetch.
type agentsLoadedMsg struct {
	agents []letta.Agent
	err    error
}

// openDetailMsg is sent by the agents model to open the detail overlay.
type openDetailMsg struct {
	title   string
	content string
	err     error
}

// detailRenderedMsg is sent when background glamour rendering completes.
type detailRenderedMsg struct {
	content  string
	renderer *glamour.TermRenderer
}

// agentDeletedMsg carries the result of a DeleteAgent call.
type agentDeletedMsg struct {
	name string
	err  error
}

// startTask announces an in-flight server request to the status bar.
func startTask() tea.Msg { return taskStartedMsg{} }

// --- Init / Update / View ---

func (a App) Init() tea.Cmd {
	return tea.Batch(startTask, a.loadAgentsCmd)
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.ready = true
		a.help.Width = msg.Width
		a.status.width = msg.Width
		a.propagateSize()
		return a, nil

	case agentsLoadedMsg:
		a.status, _ = a.status.update(taskDoneMsg{})
		if msg.err != nil {
			a.agents = a.agents.setData(nil, msg.err)
			var cmd tea.Cmd
			a.status, cmd = a.status.showMsg(fmt.Sprintf("Error: %v", msg.err), statusError)
			return a, cmd
		}
		a.agents = a.agents.setData(msg.agents, nil)
		// Re-propagate sizes so the list height tracks the new item count.
		if a.ready {
			a.propagateSize()
		}
		return a, nil

	case openDetailMsg:
		a.status, _ = a.status.update(taskDoneMsg{})
		if msg.err != nil {
			var cmd tea.Cmd
			a.status, cmd = a.status.showMsg(fmt.Sprintf("Error: %v", msg.err), statusError)
			return a, cmd
		}
		a.activeView = viewDetail
		a.detailTitle = msg.title
		a.detailLoading = true
		w, h := a.innerContentSize()
		// -4 for the detail's own header, separator, footer, and separator lines.
		vp := viewport.New(w, max(0, h-4))
		a.detailViewport = vp

		// Render markdown in background to avoid blocking the UI.
		rawContent := msg.content
		cachedRenderer := a.glamourRenderer
		renderCmd := func() tea.Msg {
			r := cachedRenderer
			if r == nil {
				var err error
				r, err = glamour.NewTermRenderer(
					glamour.WithAutoStyle(),
					glamour.WithWordWrap(w),
				)
				if err != nil {
					return detailRenderedMsg{content: rawContent}
				}
			}
			rendered, err := r.Render(rawContent)
			if err != nil {
				rendered = rawContent
			}
			return detailRenderedMsg{
				content:  strings.TrimRight(rendered, "\n"),
				renderer: r,
			}
		}
		return a, tea.Batch(a.detailSpinner.Tick, renderCmd)

	case detailRenderedMsg:
		a.detailLoading = false
		a.detailViewport.SetContent(msg.content)
		// Cache the renderer for future detail views.
		if msg.renderer != nil {
			a.glamourRenderer = msg.renderer
		}
		return a, nil

	case agentDeletedMsg:
		a.status, _ = a.status.update(taskDoneMsg{})
		if msg.err != nil {
			var cmd tea.Cmd
			a.status, cmd = a.status.showMsg(fmt.Sprintf("Error: %v", msg.err), statusError)
			return a, cmd
		}
		var cmd tea.Cmd
		a.status, cmd = a.status.showMsg("Deleted "+msg.name, statusSuccess)
		return a, tea.Batch(cmd, startTask, a.loadAgentsCmd)

	case spinner.TickMsg:
		// Route spinner ticks to the appropriate consumer.
		if a.detailLoading {
			var cmd tea.Cmd
			a.detailSpinner, cmd = a.detailSpinner.Update(msg)
			return a, cmd
		}
		var cmd tea.Cmd
		a.status, cmd = a.status.update(msg)
		return a, cmd

	case statusDismissMsg, taskStartedMsg, taskDoneMsg:
		var cmd tea.Cmd
		a.status, cmd = a.status.update(msg)
		return a, cmd

	case confirmResultMsg:
		// Callers react through the onConfirm command they provided.
		return a, nil

	case tea.KeyMsg:
		// Confirmation dialog intercepts all keys when active.
		if a.confirm.active {
			var cmd tea.Cmd
			var consumed bool
			a.confirm, cmd, consumed = a.confirm.update(msg)
			if consumed {
				return a, cmd
			}
		}

		// Handle detail keys separately; the viewport needs arrow/pgup/pgdn.
		if a.activeView == viewDetail {
			if key.Matches(msg, keys.Back) || key.Matches(msg, keys.Quit) {
				a.activeView = viewAgents
				return a, nil
			}
			var cmd tea.Cmd
			a.detailViewport, cmd = a.detailViewport.Update(msg)
			return a, cmd
		}

		// Global quit. Not while filtering; the list owns input then.
		if key.Matches(msg, keys.Quit) {
			if a.agents.list.SettingFilter() {
				break
			}
			return a, tea.Quit
		}
	}

	// Delegate to the agent list.
	var cmd tea.Cmd
	if a.activeView == viewAgents {
		a.agents, cmd = a.agents.update(msg, &a)
	}
	return a, cmd
}

func (a App) View() string {
	if !a.ready {
		return "Loading..."
	}

	// Layout: fixed header + flex content box + fixed bottom bar.
	// Header and bottom bar always render. Content box gets whatever remains.
	//
	// Frame sizes are read from contentStyle via GetVerticalFrameSize() etc.
	// so the layout adapts automatically if contentStyle changes.

	// 1. Render fixed chrome (header, bottom bar).
	header := a.renderHeader()
	bottomBar := a.renderBottomBar()

	// 2. Measure fixed chrome height.
	//    JoinVertical adds \n between each block. We always have
	//    3 blocks (header, styled, bottomBar), so 2 separators.
	separators := 2
	chromeH := lipgloss.Height(header)
	chromeH += lipgloss.Height(bottomBar)
	chromeH += separators

	// 3. Compute content box dimensions from contentStyle's own frame sizes.
	//    frameV/H = border + padding combined.
	//    borderV/H = just the border (Width/Height include padding, exclude border).
	frameV := contentStyle.GetVerticalFrameSize()
	frameH := contentStyle.GetHorizontalFrameSize()
	borderV := contentStyle.GetVerticalBorderSize()
	borderH := contentStyle.GetHorizontalBorderSize()

	// Width/Height for contentStyle include padding but exclude border.
	innerW := max(0, a.width-borderH)
	innerH := max(0, a.height-chromeH-borderV)

	// Text area inside the box (after border + padding).
	textW := max(0, a.width-frameH)
	textH := max(0, a.height-chromeH-frameV)

	// 4. Render active view content.
	content := ""
	switch a.activeView {
	case viewAgents:
		content = a.agents.view()
	case viewDetail:
		content = a.renderDetail()
	}

	// If a confirmation dialog is active, it replaces the content area.
	if a.confirm.active {
		content = a.confirm.view()
	}

	// Clamp content to the text area so it can't inflate the box.
	// clampWidth prevents wrapping; clampHeight prevents overflow.
	content = clampWidth(content, textW)
	content = clampHeight(content, textH)

	styled := contentStyle.
		Width(innerW).
		Height(innerH).
		Render(content)

	// 5. Assemble with lipgloss.JoinVertical for clean stacking.
	return lipgloss.JoinVertical(lipgloss.Left, header, styled, bottomBar)
}

func (a App) renderHeader() string {
	logo := logoStyle.Render("lettactl")
	server := headerPathStyle.Render(a.baseURL)

	var hints string
	switch a.activeView {
	case viewAgents:
		if a.agents.loaded && a.agents.err == nil {
			hints = headerHintStyle.Render(fmt.Sprintf("%d agents", a.agents.count()))
		}
	case viewDetail:
		hints = headerHintStyle.Render(a.detailTitle)
	}

	// Indent 1 char to align with content box's left border.
	indent := " "
	left := lipgloss.JoinHorizontal(lipgloss.Top, indent, logo, " ", server)
	gap := a.width - lipgloss.Width(left) - lipgloss.Width(hints) - 1
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + hints
}

// renderBottomBar composes the context help for the active view with the
// status bar's transient message and task spinner zones.
func (a App) renderBottomBar() string {
	var km help.KeyMap
	switch a.activeView {
	case viewAgents:
		km = agentsHelpKeyMap{}
	case viewDetail:
		km = detailHelpKeyMap{}
	}

	// Indent 1 char to align with content box's left border.
	helpContent := " " + helpStyle.Render(a.help.View(km))
	return a.status.view(helpContent)
}

func (a App) renderDetail() string {
	w, _ := a.innerContentSize()
	title := viewportTitleStyle.Render(" " + a.detailTitle + " ")
	line := strings.Repeat("─", max(0, w-lipgloss.Width(title)))
	header := lipgloss.JoinHorizontal(lipgloss.Center, title, mutedStyle.Render(line))

	if a.detailLoading {
		loading := a.detailSpinner.View() + " Rendering..."
		return header + "\n\n" + loading
	}

	pct := fmt.Sprintf(" %3.0f%% ", a.detailViewport.ScrollPercent()*100)
	footer := viewportPctStyle.Render(pct)

	return header + "\n\n" + a.detailViewport.View() + "\n\n" + footer
}

// --- Data management ---

// loadAgentsCmd fetches the live agent list, sorted by name.
func (a App) loadAgentsCmd() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	agents, err := a.client.ListAgents(ctx)
	if err != nil {
		return agentsLoadedMsg{err: err}
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	return agentsLoadedMsg{agents: agents}
}

func (a *App) propagateSize() {
	w, h := a.innerContentSize()
	// innerContentSize returns the text content area (after border + padding).
	// Sub-models render into this space.
	a.agents = a.agents.setSize(w, h)
	a.confirm = a.confirm.setSize(w, h)

	// Update detail viewport if active.
	if a.activeView == viewDetail {
		a.detailViewport.Width = w
		a.detailViewport.Height = max(0, h-4) // header + separator + footer + separator
	}
}

// innerContentSize computes the text content area available to sub-models.
// This is the space inside contentStyle after border AND padding are removed.
// Frame sizes are read from contentStyle itself via GetVerticalFrameSize() etc.
// so this adapts automatically if contentStyle changes.
func (a App) innerContentSize() (width, height int) {
	// Measure actual rendered chrome heights.
	header := a.renderHeader()
	bottomBar := a.renderBottomBar()

	// JoinVertical adds \n between blocks. Always 3 blocks
	// (header, styled, bottomBar), so 2 separators.
	separators := 2
	chromeH := lipgloss.Height(header)
	chromeH += lipgloss.Height(bottomBar)
	chromeH += separators

	// Frame = border + padding. Subtract the full frame to get the text area.
	frameV := contentStyle.GetVerticalFrameSize()
	frameH := contentStyle.GetHorizontalFrameSize()

	width = max(0, a.width-frameH)
	height = max(0, a.height-chromeH-frameV)

	return width, height
}

// clampHeight truncates content to at most maxLines lines.
// If a sub-model renders more lines than its allocated height, we
// truncate rather than pushing the header off-screen.
func clampHeight(content string, maxLines int) string {
	if maxLines <= 0 {
		return ""
	}
	lines := strings.Split(content, "\n")
	if len(lines) <= maxLines {
		return content
	}
	return strings.Join(lines[:maxLines], "\n")
}

// clampWidth truncates each line to at most maxWidth visible characters
// (ANSI-escape aware). This prevents lipgloss from wrapping long lines
// inside a Width()-constrained box, which would inflate its rendered height
// and push the bottom border off-screen.
func clampWidth(content string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if lipgloss.Width(line) > maxWidth {
			lines[i] = ansi.Truncate(line, maxWidth, "")
		}
	}
	return strings.Join(lines, "\n")
}
