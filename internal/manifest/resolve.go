package manifest

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/barysiuk/lettactl/internal/blob"
)

// Resolve fetches every content reference in the manifest and inlines
// it: tool sourceFrom into Source, block valueFrom into Value, agent
// systemPromptFrom into SystemPrompt, and folder file refs into
// ResolvedFiles. After Resolve the config is self-contained and the
// engine never touches the filesystem or network for content.
func (c *Config) Resolve(ctx context.Context, store blob.Store) error {
	if c.resolved {
		return nil
	}

	for i := range c.Tools {
		t := &c.Tools[i]
		if t.SourceFrom == "" {
			continue
		}
		data, err := store.Fetch(ctx, t.SourceFrom)
		if err != nil {
			return fmt.Errorf("tool %q: %w", t.Name, err)
		}
		t.Source = string(data)
	}

	for i := range c.Blocks {
		if err := resolveBlock(ctx, store, &c.Blocks[i]); err != nil {
			return err
		}
	}

	for i := range c.Folders {
		f := &c.Folders[i]
		f.ResolvedFiles = f.ResolvedFiles[:0]
		seen := make(map[string]bool)
		for _, ref := range f.Files {
			name := FileName(ref)
			if seen[name] {
				return fmt.Errorf("folder %q: duplicate file name %q", f.Name, name)
			}
			seen[name] = true
			data, err := store.Fetch(ctx, ref)
			if err != nil {
				return fmt.Errorf("folder %q: %w", f.Name, err)
			}
			f.ResolvedFiles = append(f.ResolvedFiles, FileContent{
				Name:    name,
				Ref:     ref,
				Content: data,
			})
		}
	}

	for i := range c.Agents {
		a := &c.Agents[i]
		if a.SystemPromptFrom != "" {
			data, err := store.Fetch(ctx, a.SystemPromptFrom)
			if err != nil {
				return fmt.Errorf("agent %s: %w", a.DisplayName(), err)
			}
			a.SystemPrompt = string(data)
		}
		for j := range a.Memory {
			if err := resolveBlock(ctx, store, &a.Memory[j]); err != nil {
				return fmt.Errorf("agent %s: %w", a.DisplayName(), err)
			}
		}
	}

	c.resolved = true
	return nil
}

// Resolved reports whether Resolve has completed.
func (c *Config) Resolved() bool { return c.resolved }

func resolveBlock(ctx context.Context, store blob.Store, b *BlockSpec) error {
	if b.ValueFrom == "" {
		return nil
	}
	data, err := store.Fetch(ctx, b.ValueFrom)
	if err != nil {
		return fmt.Errorf("block %q: %w", b.Label, err)
	}
	b.Value = string(data)
	return nil
}

// FileName derives the server-side filename for a content reference:
// the base of the path component, whether the ref is a bare path or a
// URL.
func FileName(ref string) string {
	if i := strings.Index(ref, "://"); i > 0 {
		if u, err := url.Parse(ref); err == nil && u.Path != "" {
			return path.Base(u.Path)
		}
	}
	return filepath.Base(ref)
}
