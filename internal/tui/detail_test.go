package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/barysiuk/lettactl/internal/letta"
)

func TestAgentMarkdown_Basic(t *testing.T) {
	agent := &letta.Agent{
		ID:            "agent-123",
		Name:          "support",
		Description:   "Handles customer tickets",
		Model:         "openai/gpt-4o",
		Embedding:     "openai/text-embedding-3-small",
		ContextWindow: 32000,
		SystemPrompt:  "You are a support agent.",
		UpdatedAt:     time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	}
	md := agentMarkdown(agent, nil, nil, nil, nil)

	if !strings.Contains(md, "# support") {
		t.Errorf("markdown should contain title heading, got:\n%s", md)
	}
	if !strings.Contains(md, "Handles customer tickets") {
		t.Error("markdown should contain description")
	}
	if !strings.Contains(md, "`agent-123`") {
		t.Error("markdown should contain backticked ID")
	}
	if !strings.Contains(md, "openai/gpt-4o") {
		t.Error("markdown should contain model")
	}
	if !strings.Contains(md, "openai/text-embedding-3-small") {
		t.Error("markdown should contain embedding")
	}
	if !strings.Contains(md, "32000") {
		t.Error("markdown should contain context window")
	}
	if !strings.Contains(md, "2024-01-15 10:30") {
		t.Error("markdown should contain formatted update time")
	}
}

func TestAgentMarkdown_SystemPromptFenced(t *testing.T) {
	agent := &letta.Agent{
		Name:         "support",
		SystemPrompt: "You are a support agent.\n",
	}
	md := agentMarkdown(agent, nil, nil, nil, nil)

	if !strings.Contains(md, "## System prompt") {
		t.Error("markdown should contain system prompt section")
	}
	if !strings.Contains(md, "```\nYou are a support agent.\n```") {
		t.Errorf("system prompt should be fenced with trailing whitespace trimmed, got:\n%s", md)
	}
}

func TestAgentMarkdown_Tools(t *testing.T) {
	agent := &letta.Agent{Name: "support"}
	tools := []letta.Tool{
		{Name: "web_search", Description: "Search the web"},
		{Name: "run_code"},
	}
	md := agentMarkdown(agent, tools, nil, nil, nil)

	if !strings.Contains(md, "## Tools (2)") {
		t.Errorf("markdown should contain tools section with count, got:\n%s", md)
	}
	if !strings.Contains(md, "- web_search: Search the web") {
		t.Error("tool with description should render name and description")
	}
	if !strings.Contains(md, "- run_code") {
		t.Error("tool without description should render name only")
	}
}

func TestAgentMarkdown_MemoryBlocks(t *testing.T) {
	agent := &letta.Agent{Name: "support"}
	blocks := []letta.Block{
		{Label: "persona", Value: "I am helpful."},
		{Label: "policies", Value: "Refunds within 30 days.", ReadOnly: true},
	}
	md := agentMarkdown(agent, nil, blocks, nil, nil)

	if !strings.Contains(md, "## Memory blocks (2)") {
		t.Errorf("markdown should contain memory blocks section with count, got:\n%s", md)
	}
	if !strings.Contains(md, "### persona") {
		t.Error("markdown should contain block label heading")
	}
	if !strings.Contains(md, "```\nI am helpful.\n```") {
		t.Error("block value should be fenced in full")
	}
	if !strings.Contains(md, "### policies (read-only)") {
		t.Error("read-only block should carry the read-only note")
	}
}

func TestAgentMarkdown_FoldersAndArchives(t *testing.T) {
	agent := &letta.Agent{Name: "support"}
	folders := []letta.Folder{{Name: "kb-articles"}}
	archives := []letta.Archive{{Name: "history", Description: "Past conversations"}}
	md := agentMarkdown(agent, nil, nil, folders, archives)

	if !strings.Contains(md, "## Folders (1)") {
		t.Error("markdown should contain folders section with count")
	}
	if !strings.Contains(md, "- kb-articles") {
		t.Error("markdown should list folder names")
	}
	if !strings.Contains(md, "## Archives (1)") {
		t.Error("markdown should contain archives section with count")
	}
	if !strings.Contains(md, "- history: Past conversations") {
		t.Error("archive should render name and description")
	}
}

func TestAgentMarkdown_EmptySections(t *testing.T) {
	agent := &letta.Agent{Name: "support"}
	md := agentMarkdown(agent, nil, nil, nil, nil)

	// Every attachment section still appears, marked empty.
	for _, heading := range []string{"## Tools (0)", "## Memory blocks (0)", "## Folders (0)", "## Archives (0)"} {
		if !strings.Contains(md, heading) {
			t.Errorf("markdown should contain %q even when empty", heading)
		}
	}
	if strings.Count(md, "*(none)*") != 4 {
		t.Errorf("markdown should mark all four empty sections, got:\n%s", md)
	}
}

func TestAgentMarkdown_NoSystemPrompt(t *testing.T) {
	agent := &letta.Agent{Name: "support"}
	md := agentMarkdown(agent, nil, nil, nil, nil)

	if strings.Contains(md, "## System prompt") {
		t.Error("markdown should omit system prompt section when empty")
	}
}

func TestAgentMarkdown_NoDescription(t *testing.T) {
	agent := &letta.Agent{
		Name:  "support",
		Model: "openai/gpt-4o",
	}
	md := agentMarkdown(agent, nil, nil, nil, nil)

	// The title is followed directly by the facts list.
	idx := strings.Index(md, "# support")
	if idx < 0 {
		t.Fatal("markdown should contain title")
	}
	rest := md[idx:]
	if !strings.Contains(rest, "- Model: openai/gpt-4o") {
		t.Errorf("facts list should follow the title, got:\n%s", rest)
	}
}
