package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/barysiuk/lettactl/internal/blob"
	"github.com/barysiuk/lettactl/internal/letta"
	"github.com/barysiuk/lettactl/internal/letta/lettatest"
	"github.com/barysiuk/lettactl/internal/manifest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testServer(t *testing.T) (*lettatest.Server, *letta.HTTPClient) {
	t.Helper()
	srv := lettatest.New()
	t.Cleanup(srv.Close)
	return srv, srv.Client()
}

func fixedTime() time.Time {
	return time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)
}

// resolveWith marks a hand-built config resolved, serving folder file
// refs from the given ref → content map.
func resolveWith(t *testing.T, cfg *manifest.Config, files map[string]string) *manifest.Config {
	t.Helper()
	store := blob.FetchFunc(func(_ context.Context, ref string) ([]byte, error) {
		return []byte(files[ref]), nil
	})
	if err := cfg.Resolve(context.Background(), store); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return cfg
}

func boolPtr(b bool) *bool { return &b }

// fleetConfig is the standard fixture: one agent using every resource
// class, with inline content throughout.
func fleetConfig(t *testing.T) *manifest.Config {
	t.Helper()
	cfg := &manifest.Config{
		Version: 1,
		Tools: []manifest.ToolSpec{{
			Name:       "search_docs",
			Source:     "def search_docs(query: str) -> str:\n    return lookup(query)\n",
			SourceType: "python",
		}},
		Blocks: []manifest.BlockSpec{
			{Label: "guidelines", Value: "Be concise."},
			{Label: "policy", Value: "Never share keys.", Mutable: boolPtr(false)},
		},
		Folders: []manifest.FolderSpec{{
			Name:  "docs",
			Files: []string{"notes.md", "guide.md"},
		}},
		Archives: []manifest.ArchiveSpec{{Name: "research", Description: "long-term findings"}},
		Agents: []manifest.AgentSpec{{
			Name:         "support",
			SystemPrompt: "You are a support agent.",
			Model:        "openai/gpt-4.1",
			Embedding:    "openai/text-embedding-3-small",
			Tools:        []string{"search_docs"},
			Memory:       []manifest.BlockSpec{{Label: "persona", Value: "Friendly and direct."}},
			SharedBlocks: []string{"guidelines", "policy"},
			Folders:      []string{"docs"},
			Archives:     []string{"research"},
		}},
	}
	return resolveWith(t, cfg, map[string]string{
		"notes.md": "release notes",
		"guide.md": "user guide",
	})
}
