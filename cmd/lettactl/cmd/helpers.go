package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/barysiuk/lettactl/internal/blob"
	"github.com/barysiuk/lettactl/internal/engine"
	"github.com/barysiuk/lettactl/internal/letta"
	"github.com/barysiuk/lettactl/internal/manifest"
)

// loadManifest parses the fleet manifest and resolves every content
// reference, so downstream code never touches the filesystem again.
func loadManifest(ctx context.Context, path string) (*manifest.Config, error) {
	cfg, err := manifest.Load(path)
	if err != nil {
		return nil, err
	}
	store := blob.NewDefault(cfg.Dir)
	if err := cfg.Resolve(ctx, store); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findAgent resolves a name argument to a live agent: exact server name
// first, then the newest version of the base name.
func findAgent(ctx context.Context, d *deps, name string) (*letta.Agent, error) {
	agent, err := d.client.GetAgentByName(ctx, name)
	if err == nil {
		return agent, nil
	}
	if !errors.Is(err, letta.ErrNotFound) {
		return nil, err
	}

	reg := engine.NewVersionRegistry(d.client, d.logger)
	if err := reg.LoadExisting(ctx); err != nil {
		return nil, err
	}
	if v, ok := reg.Lookup(name); ok {
		return d.client.GetAgent(ctx, v.ID)
	}
	return nil, fmt.Errorf("agent %q not found", name)
}

// formatTime renders a server timestamp for table output.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}

// orDash substitutes "-" for empty table cells.
func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
