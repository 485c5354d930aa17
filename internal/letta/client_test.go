package letta_test

import (
	"context"
	"errors"
	"testing"

	"github.com/barysiuk/lettactl/internal/letta"
	"github.com/barysiuk/lettactl/internal/letta/lettatest"
)

func newTestClient(t *testing.T) (*letta.HTTPClient, *lettatest.Server) {
	t.Helper()
	srv := lettatest.New()
	t.Cleanup(srv.Close)
	return srv.Client(), srv
}

func TestAgentLifecycle(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	created, err := client.CreateAgent(ctx, letta.AgentCreate{
		Name:         "support-bot",
		SystemPrompt: "You are helpful.",
		Model:        "openai/gpt-4.1",
	})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if created.ID == "" {
		t.Fatal("created agent has no ID")
	}

	got, err := client.GetAgent(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.Name != "support-bot" {
		t.Errorf("Name = %q, want %q", got.Name, "support-bot")
	}
	if got.SystemPrompt != "You are helpful." {
		t.Errorf("SystemPrompt = %q, want %q", got.SystemPrompt, "You are helpful.")
	}

	newModel := "openai/gpt-4o"
	updated, err := client.UpdateAgent(ctx, created.ID, letta.AgentUpdate{Model: &newModel})
	if err != nil {
		t.Fatalf("UpdateAgent: %v", err)
	}
	if updated.Model != newModel {
		t.Errorf("Model = %q, want %q", updated.Model, newModel)
	}
	// Fields not named in the update must survive.
	if updated.SystemPrompt != "You are helpful." {
		t.Errorf("SystemPrompt changed by unrelated update: %q", updated.SystemPrompt)
	}

	if err := client.DeleteAgent(ctx, created.ID); err != nil {
		t.Fatalf("DeleteAgent: %v", err)
	}
	if _, err := client.GetAgent(ctx, created.ID); !errors.Is(err, letta.ErrNotFound) {
		t.Errorf("GetAgent after delete: err = %v, want ErrNotFound", err)
	}
}

func TestGetAgentByName(t *testing.T) {
	client, srv := newTestClient(t)
	ctx := context.Background()

	srv.SeedAgent(letta.Agent{Name: "alpha", SystemPrompt: "a"})
	srv.SeedAgent(letta.Agent{Name: "beta", SystemPrompt: "b"})

	got, err := client.GetAgentByName(ctx, "beta")
	if err != nil {
		t.Fatalf("GetAgentByName: %v", err)
	}
	if got.Name != "beta" {
		t.Errorf("Name = %q, want %q", got.Name, "beta")
	}

	if _, err := client.GetAgentByName(ctx, "missing"); !errors.Is(err, letta.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateAgent_DuplicateName(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	if _, err := client.CreateAgent(ctx, letta.AgentCreate{Name: "dup"}); err != nil {
		t.Fatalf("first CreateAgent: %v", err)
	}
	_, err := client.CreateAgent(ctx, letta.AgentCreate{Name: "dup"})
	if err == nil {
		t.Fatal("second CreateAgent with same name should fail")
	}
	var apiErr *letta.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != 409 {
		t.Errorf("Status = %d, want 409", apiErr.Status)
	}
}

func TestToolAttachDetach(t *testing.T) {
	client, srv := newTestClient(t)
	ctx := context.Background()

	agent := srv.SeedAgent(letta.Agent{Name: "bot"})
	tool, err := client.CreateTool(ctx, letta.ToolCreate{
		Name:       "wave",
		SourceCode: "def wave():\n    return 'hi'\n",
		SourceType: "python",
	})
	if err != nil {
		t.Fatalf("CreateTool: %v", err)
	}

	if err := client.AttachTool(ctx, agent.ID, tool.ID); err != nil {
		t.Fatalf("AttachTool: %v", err)
	}
	tools, err := client.ListAgentTools(ctx, agent.ID)
	if err != nil {
		t.Fatalf("ListAgentTools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "wave" {
		t.Fatalf("agent tools = %+v, want one tool named wave", tools)
	}

	// Attaching twice is idempotent.
	if err := client.AttachTool(ctx, agent.ID, tool.ID); err != nil {
		t.Fatalf("second AttachTool: %v", err)
	}
	tools, _ = client.ListAgentTools(ctx, agent.ID)
	if len(tools) != 1 {
		t.Fatalf("after duplicate attach, len = %d, want 1", len(tools))
	}

	if err := client.DetachTool(ctx, agent.ID, tool.ID); err != nil {
		t.Fatalf("DetachTool: %v", err)
	}
	tools, _ = client.ListAgentTools(ctx, agent.ID)
	if len(tools) != 0 {
		t.Fatalf("after detach, len = %d, want 0", len(tools))
	}
}

func TestCreateTool_NewVersionGetsNewID(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	v1, err := client.CreateTool(ctx, letta.ToolCreate{Name: "calc", SourceCode: "def calc(): return 1"})
	if err != nil {
		t.Fatalf("CreateTool v1: %v", err)
	}
	v2, err := client.CreateTool(ctx, letta.ToolCreate{Name: "calc", SourceCode: "def calc(): return 2"})
	if err != nil {
		t.Fatalf("CreateTool v2: %v", err)
	}
	if v1.ID == v2.ID {
		t.Error("re-registering a tool should mint a new ID")
	}
}

func TestBlockValueUpdate(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	b, err := client.CreateBlock(ctx, letta.BlockCreate{Label: "persona", Value: "v1", Limit: 4000})
	if err != nil {
		t.Fatalf("CreateBlock: %v", err)
	}
	updated, err := client.UpdateBlockValue(ctx, b.ID, "v2")
	if err != nil {
		t.Fatalf("UpdateBlockValue: %v", err)
	}
	if updated.Value != "v2" {
		t.Errorf("Value = %q, want %q", updated.Value, "v2")
	}
	if updated.ID != b.ID {
		t.Errorf("ID changed on value update: %q -> %q", b.ID, updated.ID)
	}
}

func TestFolderFiles_DedupNaming(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	folder, err := client.CreateFolder(ctx, "docs")
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}

	first, err := client.UploadFile(ctx, folder.ID, "notes.md", []byte("one"))
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if first.Name != "notes.md" {
		t.Errorf("first upload name = %q, want notes.md", first.Name)
	}

	second, err := client.UploadFile(ctx, folder.ID, "notes.md", []byte("two"))
	if err != nil {
		t.Fatalf("second UploadFile: %v", err)
	}
	if second.Name != "notes_(2).md" {
		t.Errorf("second upload name = %q, want notes_(2).md", second.Name)
	}

	files, err := client.ListFolderFiles(ctx, folder.ID)
	if err != nil {
		t.Fatalf("ListFolderFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("len(files) = %d, want 2", len(files))
	}

	if err := client.DeleteFile(ctx, folder.ID, second.ID); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	files, _ = client.ListFolderFiles(ctx, folder.ID)
	if len(files) != 1 || files[0].Name != "notes.md" {
		t.Fatalf("after delete, files = %+v, want just notes.md", files)
	}
}

func TestListFolderFiles_ServerError(t *testing.T) {
	client, srv := newTestClient(t)
	ctx := context.Background()

	folder := srv.SeedFolder(letta.Folder{Name: "docs"})
	srv.BreakFolderListing("docs")

	_, err := client.ListFolderFiles(ctx, folder.ID)
	if err == nil {
		t.Fatal("ListFolderFiles on broken folder should fail")
	}
	var apiErr *letta.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != 500 {
		t.Errorf("Status = %d, want 500", apiErr.Status)
	}
}

func TestArchives(t *testing.T) {
	client, srv := newTestClient(t)
	ctx := context.Background()

	agent := srv.SeedAgent(letta.Agent{Name: "bot"})
	archive, err := client.CreateArchive(ctx, "kb-2026", "knowledge base")
	if err != nil {
		t.Fatalf("CreateArchive: %v", err)
	}

	if err := client.AttachArchive(ctx, agent.ID, archive.ID); err != nil {
		t.Fatalf("AttachArchive: %v", err)
	}
	archives, err := client.ListAgentArchives(ctx, agent.ID)
	if err != nil {
		t.Fatalf("ListAgentArchives: %v", err)
	}
	if len(archives) != 1 || archives[0].Name != "kb-2026" {
		t.Fatalf("archives = %+v, want one named kb-2026", archives)
	}

	if err := client.DetachArchive(ctx, agent.ID, archive.ID); err != nil {
		t.Fatalf("DetachArchive: %v", err)
	}
	archives, _ = client.ListAgentArchives(ctx, agent.ID)
	if len(archives) != 0 {
		t.Fatalf("after detach, archives = %+v, want none", archives)
	}
}

func TestAttachMissingResource(t *testing.T) {
	client, srv := newTestClient(t)
	ctx := context.Background()

	agent := srv.SeedAgent(letta.Agent{Name: "bot"})
	err := client.AttachTool(ctx, agent.ID, "tool-does-not-exist")
	if !errors.Is(err, letta.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
