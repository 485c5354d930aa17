package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/barysiuk/lettactl/internal/letta"
)

func TestAgentItem_Title(t *testing.T) {
	item := agentItem{agent: letta.Agent{Name: "support"}}
	if got := item.Title(); got != "support" {
		t.Errorf("Title() = %q, want %q", got, "support")
	}
}

func TestAgentItem_Title_Versioned(t *testing.T) {
	item := agentItem{agent: letta.Agent{Name: "support__v__20240115-103000"}}
	title := item.Title()

	if !strings.Contains(title, "support") {
		t.Errorf("Title() = %q, should contain base name", title)
	}
	if !strings.Contains(title, "20240115-103000") {
		t.Errorf("Title() = %q, should contain version", title)
	}
	if strings.Contains(title, "__v__") {
		t.Errorf("Title() = %q, should not contain raw version separator", title)
	}
}

func TestAgentItem_Description(t *testing.T) {
	item := agentItem{agent: letta.Agent{
		Name:  "support",
		Model: "openai/gpt-4o",
	}}
	desc := item.Description()
	if !strings.Contains(desc, "openai/gpt-4o") {
		t.Errorf("Description() = %q, should contain model", desc)
	}
}

func TestAgentItem_Description_NoModel(t *testing.T) {
	item := agentItem{agent: letta.Agent{Name: "support"}}
	desc := item.Description()
	if !strings.Contains(desc, "no model") {
		t.Errorf("Description() = %q, should note missing model", desc)
	}
}

func TestAgentItem_Description_WithUpdatedAt(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	item := agentItem{agent: letta.Agent{
		Name:      "support",
		Model:     "openai/gpt-4o",
		UpdatedAt: ts,
	}}
	desc := item.Description()
	if !strings.Contains(desc, "2024-01-15 10:30") {
		t.Errorf("Description() = %q, should contain formatted update time", desc)
	}
}

func TestAgentItem_Description_ZeroUpdatedAt(t *testing.T) {
	item := agentItem{agent: letta.Agent{
		Name:  "support",
		Model: "openai/gpt-4o",
	}}
	desc := item.Description()
	if strings.Contains(desc, "updated") {
		t.Errorf("Description() = %q, should omit update time when zero", desc)
	}
}

func TestAgentItem_FilterValue(t *testing.T) {
	// FilterValue keeps the full server name so filtering matches
	// both the base name and the version suffix.
	item := agentItem{agent: letta.Agent{Name: "support__v__20240115-103000"}}
	if got := item.FilterValue(); got != "support__v__20240115-103000" {
		t.Errorf("FilterValue() = %q, want full name", got)
	}
}

func TestAgentsToItems(t *testing.T) {
	agents := []letta.Agent{
		{Name: "billing"},
		{Name: "support"},
		{Name: "triage"},
	}
	items := agentsToItems(agents)

	if len(items) != 3 {
		t.Fatalf("len(items) = %d, want 3", len(items))
	}
	for i, name := range []string{"billing", "support", "triage"} {
		it, ok := items[i].(agentItem)
		if !ok {
			t.Fatalf("items[%d] is %T, want agentItem", i, items[i])
		}
		if it.agent.Name != name {
			t.Errorf("items[%d].agent.Name = %q, want %q", i, it.agent.Name, name)
		}
	}
}

func TestAgentsToItems_Empty(t *testing.T) {
	items := agentsToItems(nil)
	if len(items) != 0 {
		t.Errorf("len(items) = %d, want 0", len(items))
	}
}
