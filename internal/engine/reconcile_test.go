package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"testing"

	"github.com/barysiuk/lettactl/internal/letta"
	"github.com/barysiuk/lettactl/internal/manifest"
)

func TestRun_CreatesAgentWithFullAttachments(t *testing.T) {
	srv, client := testServer(t)
	cfg := fleetConfig(t)

	rec := NewReconciler(client, testLogger())
	result, err := rec.Run(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	created, updated, unchanged, errs := result.Counts()
	if created != 1 || updated != 0 || unchanged != 0 || errs != 0 {
		t.Fatalf("counts = %d/%d/%d/%d, want 1 created", created, updated, unchanged, errs)
	}

	agent, ok := srv.AgentByName("support")
	if !ok {
		t.Fatal("agent support not created")
	}
	if agent.Model != "openai/gpt-4.1" || agent.SystemPrompt != "You are a support agent." {
		t.Errorf("agent fields = %+v", agent)
	}

	wantAttached := map[string]int{"tools": 1, "blocks": 3, "folders": 1, "archives": 1}
	for kind, want := range wantAttached {
		if got := len(srv.AttachedIDs(agent.ID, kind)); got != want {
			t.Errorf("%s attached = %d, want %d", kind, got, want)
		}
	}

	folders, err := client.ListFolders(context.Background())
	if err != nil || len(folders) != 1 {
		t.Fatalf("folders = %v (%v), want docs", folders, err)
	}
	names := srv.FolderFiles(folders[0].ID)
	if len(names) != 2 {
		t.Errorf("folder files = %v, want notes.md and guide.md", names)
	}
	if content, _ := srv.FileContent(folders[0].ID, "notes.md"); content != "release notes" {
		t.Errorf("notes.md content = %q", content)
	}

	if agent.Metadata[MetaFolderFileHashes] == "" {
		t.Error("folder hash record not written at create")
	}
}

func TestRun_SecondPassIsUnchanged(t *testing.T) {
	srv, client := testServer(t)
	cfg := fleetConfig(t)
	rec := NewReconciler(client, testLogger())

	if _, err := rec.Run(context.Background(), cfg, Options{}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	result, err := NewReconciler(client, testLogger()).Run(context.Background(), fleetConfig(t), Options{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	created, updated, unchanged, errs := result.Counts()
	if created != 0 || updated != 0 || unchanged != 1 || errs != 0 {
		t.Fatalf("counts = %d/%d/%d/%d, want everything unchanged", created, updated, unchanged, errs)
	}
	for _, a := range result.Agents {
		if a.Ops != nil && a.Ops.OperationCount != 0 {
			t.Errorf("agent %s planned %d ops on a converged fleet", a.Name, a.Ops.OperationCount)
		}
	}
	if got := srv.AgentCount(); got != 1 {
		t.Errorf("agent count = %d, want 1", got)
	}
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	srv, client := testServer(t)
	cfg := fleetConfig(t)

	result, err := NewReconciler(client, testLogger()).Run(context.Background(), cfg, Options{DryRun: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	created, _, _, _ := result.Counts()
	if created != 1 {
		t.Errorf("created = %d, want the planned creation reported", created)
	}
	if result.Fleet.FleetChanges() == 0 {
		t.Error("dry run reported no fleet-level resource changes")
	}

	if got := srv.AgentCount(); got != 0 {
		t.Fatalf("dry run created %d agents", got)
	}
	ctx := context.Background()
	if tools, _ := client.ListTools(ctx); len(tools) != 0 {
		t.Errorf("dry run registered tools: %v", tools)
	}
	if blocks, _ := client.ListBlocks(ctx); len(blocks) != 0 {
		t.Errorf("dry run created blocks: %v", blocks)
	}
	if folders, _ := client.ListFolders(ctx); len(folders) != 0 {
		t.Errorf("dry run created folders: %v", folders)
	}
	if archives, _ := client.ListArchives(ctx); len(archives) != 0 {
		t.Errorf("dry run created archives: %v", archives)
	}
}

func TestRun_PromptChangeForksNewVersion(t *testing.T) {
	srv, client := testServer(t)
	srv.SeedAgent(letta.Agent{Name: "support", SystemPrompt: "an older prompt"})

	cfg := fleetConfig(t)
	rec := NewReconciler(client, testLogger())
	result, err := rec.Run(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	created, _, _, errs := result.Counts()
	if created != 1 || errs != 0 {
		t.Fatalf("counts: created=%d errs=%d, want a forked creation", created, errs)
	}
	if got := srv.AgentCount(); got != 2 {
		t.Fatalf("agent count = %d, want old and new side by side", got)
	}

	versioned := regexp.MustCompile(`^support__v__\d{8}-[0-9a-f]{8}$`)
	if !versioned.MatchString(result.Agents[0].Name) {
		t.Errorf("new agent name = %q, want versioned form", result.Agents[0].Name)
	}

	// The old agent keeps its name, prompt, and (absent) attachments.
	old, ok := srv.AgentByName("support")
	if !ok {
		t.Fatal("original agent disappeared")
	}
	if old.SystemPrompt != "an older prompt" {
		t.Errorf("original prompt = %q, was rewritten", old.SystemPrompt)
	}
	if got := srv.AttachedIDs(old.ID, "tools"); len(got) != 0 {
		t.Errorf("original agent gained attachments: %v", got)
	}
}

func TestRun_ScalarDriftConvergesInPlace(t *testing.T) {
	srv, client := testServer(t)
	srv.SeedAgent(letta.Agent{
		Name:         "support",
		SystemPrompt: "You are a support agent.",
		Model:        "openai/gpt-4o",
	})

	cfg := fleetConfig(t)
	result, err := NewReconciler(client, testLogger()).Run(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	_, updated, _, errs := result.Counts()
	if updated != 1 || errs != 0 {
		t.Fatalf("counts: updated=%d errs=%d, want in-place update", updated, errs)
	}
	if got := srv.AgentCount(); got != 1 {
		t.Errorf("agent count = %d, want no fork for field drift", got)
	}

	agent, _ := srv.AgentByName("support")
	if agent.Model != "openai/gpt-4.1" {
		t.Errorf("model = %q, want converged value", agent.Model)
	}
	if got := len(srv.AttachedIDs(agent.ID, "tools")); got != 1 {
		t.Errorf("tools attached = %d, want 1", got)
	}
}

func TestRun_ToolSourceChangeReattachesNewVersion(t *testing.T) {
	srv, client := testServer(t)
	ctx := context.Background()

	if _, err := NewReconciler(client, testLogger()).Run(ctx, fleetConfig(t), Options{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	agent, _ := srv.AgentByName("support")
	oldIDs := srv.AttachedIDs(agent.ID, "tools")
	if len(oldIDs) != 1 {
		t.Fatalf("attached tools = %v", oldIDs)
	}

	cfg := fleetConfig(t)
	cfg.Tools[0].Source = "def search_docs(query: str) -> str:\n    return better_lookup(query)\n"

	result, err := NewReconciler(client, testLogger()).Run(ctx, cfg, Options{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	_, updated, _, errs := result.Counts()
	if updated != 1 || errs != 0 {
		t.Fatalf("counts: updated=%d errs=%d", updated, errs)
	}

	newIDs := srv.AttachedIDs(agent.ID, "tools")
	if len(newIDs) != 1 || newIDs[0] == oldIDs[0] {
		t.Fatalf("attached = %v, want a fresh tool id (old %s)", newIDs, oldIDs[0])
	}
	tool, ok := srv.ToolByID(newIDs[0])
	if !ok {
		t.Fatal("new tool not on server")
	}
	if tool.SourceCode != cfg.Tools[0].Source {
		t.Errorf("attached tool source = %q, want updated source", tool.SourceCode)
	}
}

func templateConfig(t *testing.T, toolNames ...string) *manifest.Config {
	t.Helper()
	cfg := &manifest.Config{Version: 1}
	for _, name := range toolNames {
		cfg.Tools = append(cfg.Tools, manifest.ToolSpec{
			Name:       name,
			Source:     fmt.Sprintf("def %s(): pass", name),
			SourceType: "python",
		})
	}
	cfg.Agents = []manifest.AgentSpec{{
		Template: true,
		Match:    "support-*",
		Tools:    toolNames,
	}}
	return resolveWith(t, cfg, nil)
}

func TestRun_TemplateFirstApplyPreservesUserResources(t *testing.T) {
	srv, client := testServer(t)
	ctx := context.Background()

	eu := srv.SeedAgent(letta.Agent{Name: "support-eu", SystemPrompt: "eu"})
	us := srv.SeedAgent(letta.Agent{Name: "support-us", SystemPrompt: "us"})
	userTool := srv.SeedTool(letta.Tool{Name: "user_helper", SourceCode: "def user_helper(): pass"})
	if err := srv.Attach(eu.ID, "tools", userTool.ID); err != nil {
		t.Fatal(err)
	}

	result, err := NewReconciler(client, testLogger()).Run(ctx, templateConfig(t, "announce"), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Agents) != 2 {
		t.Fatalf("results = %d, want one per matched agent", len(result.Agents))
	}
	for _, a := range result.Agents {
		if a.Entry != "template(support-*)" {
			t.Errorf("entry = %q", a.Entry)
		}
		if a.Failed() {
			t.Errorf("agent %s failed: %v", a.Name, a.Err)
		}
	}

	// Both matched agents gained the template tool; the hand-attached
	// one survived the first apply untouched.
	if got := len(srv.AttachedIDs(us.ID, "tools")); got != 1 {
		t.Errorf("support-us tools = %d, want 1", got)
	}
	euTools := srv.AttachedIDs(eu.ID, "tools")
	if len(euTools) != 2 {
		t.Fatalf("support-eu tools = %v, want template tool plus user tool", euTools)
	}

	// Provenance was recorded.
	agent, _ := srv.AgentByName("support-eu")
	var rec LastApplied
	if err := json.Unmarshal([]byte(agent.Metadata[MetaLastApplied]), &rec); err != nil {
		t.Fatalf("provenance record: %v", err)
	}
	if len(rec.Tools) != 1 || rec.Tools[0] != "announce" {
		t.Errorf("record tools = %v, want [announce]", rec.Tools)
	}
}

func TestRun_TemplateForcedRemovalTakesOnlyOwned(t *testing.T) {
	srv, client := testServer(t)
	ctx := context.Background()

	eu := srv.SeedAgent(letta.Agent{Name: "support-eu", SystemPrompt: "eu"})
	userTool := srv.SeedTool(letta.Tool{Name: "user_helper", SourceCode: "def user_helper(): pass"})
	if err := srv.Attach(eu.ID, "tools", userTool.ID); err != nil {
		t.Fatal(err)
	}

	// First apply attaches announce and records it.
	if _, err := NewReconciler(client, testLogger()).Run(ctx, templateConfig(t, "announce"), Options{}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// The template stops declaring announce. Forced, the recorded tool
	// is detached and the hand-attached one stays.
	if _, err := NewReconciler(client, testLogger()).Run(ctx, templateConfig(t), Options{Force: true}); err != nil {
		t.Fatalf("forced run: %v", err)
	}
	got := srv.AttachedIDs(eu.ID, "tools")
	if len(got) != 1 || got[0] != userTool.ID {
		t.Errorf("tools after forced run = %v, want only the user tool", got)
	}
}

func TestRun_WithheldDetachSurrendersOwnership(t *testing.T) {
	srv, client := testServer(t)
	ctx := context.Background()
	eu := srv.SeedAgent(letta.Agent{Name: "support-eu", SystemPrompt: "eu"})

	if _, err := NewReconciler(client, testLogger()).Run(ctx, templateConfig(t, "announce"), Options{}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Unforced, the detach is withheld. The provenance record still
	// tracks the current desired state, which no longer declares the
	// tool, so its ownership claim lapses here.
	result, err := NewReconciler(client, testLogger()).Run(ctx, templateConfig(t), Options{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := len(srv.AttachedIDs(eu.ID, "tools")); got != 1 {
		t.Fatalf("tools = %d, want detach withheld without force", got)
	}
	if a := result.Agents[0]; a.Apply == nil || len(a.Apply.Skipped) != 1 {
		t.Fatalf("result = %+v, want one skipped detach", result.Agents[0])
	}

	// A later forced run finds no ownership record and leaves the tool
	// alone, like any other hand-attached resource.
	result, err = NewReconciler(client, testLogger()).Run(ctx, templateConfig(t), Options{Force: true})
	if err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if got := len(srv.AttachedIDs(eu.ID, "tools")); got != 1 {
		t.Errorf("tools after forced run = %d, want the orphaned tool kept", got)
	}
	if got := result.Agents[0].Action; got != ActionUnchanged {
		t.Errorf("action = %q, want %q", got, ActionUnchanged)
	}
}

func TestRun_TemplateMatchingNothingWarns(t *testing.T) {
	_, client := testServer(t)

	result, err := NewReconciler(client, testLogger()).Run(context.Background(), templateConfig(t, "announce"), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("warnings = %v, want one no-match notice", result.Warnings)
	}
	if len(result.Agents) != 0 {
		t.Errorf("agents = %+v, want none", result.Agents)
	}
}

func TestRun_OnlyRestrictsEntries(t *testing.T) {
	srv, client := testServer(t)
	cfg := &manifest.Config{
		Version: 1,
		Agents: []manifest.AgentSpec{
			{Name: "alpha", SystemPrompt: "a"},
			{Name: "beta", SystemPrompt: "b"},
		},
	}
	resolveWith(t, cfg, nil)

	result, err := NewReconciler(client, testLogger()).Run(context.Background(), cfg, Options{Only: []string{"beta"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Agents) != 1 || result.Agents[0].Name != "beta" {
		t.Fatalf("results = %+v, want only beta", result.Agents)
	}
	if _, ok := srv.AgentByName("alpha"); ok {
		t.Error("alpha was created despite --only beta")
	}
}

// flakyClient fails agent fetches for one ID, to prove one broken
// agent cannot sink the rest of the pass.
type flakyClient struct {
	letta.Client
	failID string
}

func (c *flakyClient) GetAgent(ctx context.Context, id string) (*letta.Agent, error) {
	if id == c.failID {
		return nil, fmt.Errorf("injected fetch failure")
	}
	return c.Client.GetAgent(ctx, id)
}

func TestRun_OneAgentFailureIsIsolated(t *testing.T) {
	srv, client := testServer(t)
	broken := srv.SeedAgent(letta.Agent{Name: "alpha", SystemPrompt: "a"})
	srv.SeedAgent(letta.Agent{Name: "beta", SystemPrompt: "b"})

	cfg := &manifest.Config{
		Version: 1,
		Agents: []manifest.AgentSpec{
			{Name: "alpha", SystemPrompt: "a"},
			{Name: "beta", SystemPrompt: "b", Description: "converge me"},
		},
	}
	resolveWith(t, cfg, nil)

	flaky := &flakyClient{Client: client, failID: broken.ID}
	result, err := NewReconciler(flaky, testLogger()).Run(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.Agents) != 2 {
		t.Fatalf("results = %d, want both entries processed", len(result.Agents))
	}
	byName := map[string]AgentResult{}
	for _, a := range result.Agents {
		byName[a.Name] = a
	}
	if got := byName["alpha"]; got.Action != ActionFailed || got.Err == nil {
		t.Errorf("alpha = %+v, want recorded failure", got)
	}
	if got := byName["beta"]; got.Action != ActionUpdated {
		t.Errorf("beta = %+v, want reconciled despite alpha", got)
	}
	if agent, _ := srv.AgentByName("beta"); agent.Description != "converge me" {
		t.Errorf("beta description = %q, want converged", agent.Description)
	}
}
