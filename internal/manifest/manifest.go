// Package manifest defines the fleet manifest: the YAML document that
// declares every agent, tool, memory block, folder, and archive the
// fleet should converge to. Loading is strict (unknown fields are
// errors), validation catches cross-reference mistakes before any
// network call, and resolution pulls referenced content in so the
// engine only ever sees inline text.
package manifest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is a parsed fleet manifest.
type Config struct {
	Version  int           `yaml:"version"`
	Defaults Defaults      `yaml:"defaults,omitempty"`
	Tools    []ToolSpec    `yaml:"tools,omitempty"`
	Blocks   []BlockSpec   `yaml:"blocks,omitempty"` // shared blocks
	Folders  []FolderSpec  `yaml:"folders,omitempty"`
	Archives []ArchiveSpec `yaml:"archives,omitempty"`
	Agents   []AgentSpec   `yaml:"agents"`

	// Dir is the manifest file's directory; relative content refs
	// resolve against it. Set by Load.
	Dir string `yaml:"-"`

	resolved bool
}

// Defaults are applied to agents that leave the field empty.
type Defaults struct {
	Model         string `yaml:"model,omitempty"`
	Embedding     string `yaml:"embedding,omitempty"`
	ContextWindow int    `yaml:"contextWindow,omitempty"`
}

// ToolSpec declares a tool. Exactly one of Source (inline code) and
// SourceFrom (content reference) must be set.
type ToolSpec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Source      string `yaml:"source,omitempty"`
	SourceFrom  string `yaml:"sourceFrom,omitempty"`
	SourceType  string `yaml:"sourceType,omitempty"` // defaults to "python"
}

// BlockSpec declares a memory block, shared (top level) or agent-owned
// (under an agent's memory list). At most one of Value and ValueFrom.
type BlockSpec struct {
	Label     string `yaml:"label"`
	Value     string `yaml:"value,omitempty"`
	ValueFrom string `yaml:"valueFrom,omitempty"`
	Limit     int    `yaml:"limit,omitempty"`
	// Mutable blocks are rewritten in place when their value changes;
	// immutable blocks are replaced by a new versioned block. Defaults
	// to true.
	Mutable *bool `yaml:"mutable,omitempty"`
}

// IsMutable reports the effective mutability (default true).
func (b BlockSpec) IsMutable() bool {
	return b.Mutable == nil || *b.Mutable
}

// FolderSpec declares a folder and the content refs for its files.
type FolderSpec struct {
	Name  string   `yaml:"name"`
	Files []string `yaml:"files,omitempty"`

	// ResolvedFiles is populated by Resolve.
	ResolvedFiles []FileContent `yaml:"-"`
}

// FileContent is one fetched folder file.
type FileContent struct {
	Name    string // base filename used on the server
	Ref     string // original content reference
	Content []byte
}

// ArchiveSpec declares an archival memory store.
type ArchiveSpec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
}

// AgentSpec declares one agent, or (with Template set) a template
// applied to every live agent whose base name matches the glob.
type AgentSpec struct {
	Name             string         `yaml:"name,omitempty"`
	Template         bool           `yaml:"template,omitempty"`
	Match            string         `yaml:"match,omitempty"` // glob, template mode only
	SystemPrompt     string         `yaml:"systemPrompt,omitempty"`
	SystemPromptFrom string         `yaml:"systemPromptFrom,omitempty"`
	Description      string         `yaml:"description,omitempty"`
	Model            string         `yaml:"model,omitempty"`
	Embedding        string         `yaml:"embedding,omitempty"`
	EmbeddingConfig  map[string]any `yaml:"embeddingConfig,omitempty"`
	ContextWindow    int            `yaml:"contextWindow,omitempty"`
	Reasoning        *bool          `yaml:"reasoning,omitempty"` // nil leaves the live setting alone

	Tools        []string    `yaml:"tools,omitempty"`
	Memory       []BlockSpec `yaml:"memory,omitempty"` // agent-owned blocks
	SharedBlocks []string    `yaml:"sharedBlocks,omitempty"`
	Folders      []string    `yaml:"folders,omitempty"`
	Archives     []string    `yaml:"archives,omitempty"` // at most one
}

// DisplayName names the entry in logs and results.
func (a AgentSpec) DisplayName() string {
	if a.Template {
		return "template(" + a.Match + ")"
	}
	return a.Name
}

// Load reads, parses, defaults, and validates a manifest file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving manifest path: %w", err)
	}
	cfg.Dir = filepath.Dir(abs)

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", filepath.Base(path), err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Tools {
		if c.Tools[i].SourceType == "" {
			c.Tools[i].SourceType = "python"
		}
	}
	for i := range c.Agents {
		a := &c.Agents[i]
		if a.Template {
			// Templates manage only the fields they set.
			continue
		}
		if a.Model == "" {
			a.Model = c.Defaults.Model
		}
		if a.Embedding == "" {
			a.Embedding = c.Defaults.Embedding
		}
		if a.ContextWindow == 0 {
			a.ContextWindow = c.Defaults.ContextWindow
		}
	}
}

// Validate checks structural and cross-reference rules. It returns the
// first problem found, phrased with enough context to fix the YAML.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported manifest version %d (want 1)", c.Version)
	}
	if len(c.Agents) == 0 {
		return fmt.Errorf("manifest declares no agents")
	}

	toolNames := make(map[string]bool)
	for i, t := range c.Tools {
		if t.Name == "" {
			return fmt.Errorf("tools[%d]: name is required", i)
		}
		if toolNames[t.Name] {
			return fmt.Errorf("duplicate tool %q", t.Name)
		}
		toolNames[t.Name] = true
		if (t.Source == "") == (t.SourceFrom == "") {
			return fmt.Errorf("tool %q: exactly one of source and sourceFrom is required", t.Name)
		}
	}

	blockLabels := make(map[string]bool)
	for i, b := range c.Blocks {
		if b.Label == "" {
			return fmt.Errorf("blocks[%d]: label is required", i)
		}
		if blockLabels[b.Label] {
			return fmt.Errorf("duplicate block %q", b.Label)
		}
		blockLabels[b.Label] = true
		if b.Value != "" && b.ValueFrom != "" {
			return fmt.Errorf("block %q: value and valueFrom are mutually exclusive", b.Label)
		}
		if b.Limit < 0 {
			return fmt.Errorf("block %q: negative limit", b.Label)
		}
	}

	folderNames := make(map[string]bool)
	for i, f := range c.Folders {
		if f.Name == "" {
			return fmt.Errorf("folders[%d]: name is required", i)
		}
		if folderNames[f.Name] {
			return fmt.Errorf("duplicate folder %q", f.Name)
		}
		folderNames[f.Name] = true
	}

	archiveNames := make(map[string]bool)
	for i, a := range c.Archives {
		if a.Name == "" {
			return fmt.Errorf("archives[%d]: name is required", i)
		}
		if archiveNames[a.Name] {
			return fmt.Errorf("duplicate archive %q", a.Name)
		}
		archiveNames[a.Name] = true
	}

	agentNames := make(map[string]bool)
	for i, a := range c.Agents {
		ident := a.DisplayName()
		if a.Template {
			if a.Match == "" {
				return fmt.Errorf("agents[%d]: template entries require match", i)
			}
			if _, err := filepath.Match(a.Match, "probe"); err != nil {
				return fmt.Errorf("template %q: invalid match pattern: %w", a.Match, err)
			}
		} else {
			if a.Name == "" {
				return fmt.Errorf("agents[%d]: name is required", i)
			}
			if strings.Contains(a.Name, versionSeparator) {
				return fmt.Errorf("agent %q: name must not contain %q", a.Name, versionSeparator)
			}
			if agentNames[a.Name] {
				return fmt.Errorf("duplicate agent %q", a.Name)
			}
			agentNames[a.Name] = true
		}

		if a.SystemPrompt != "" && a.SystemPromptFrom != "" {
			return fmt.Errorf("agent %s: systemPrompt and systemPromptFrom are mutually exclusive", ident)
		}
		if !a.Template && a.SystemPrompt == "" && a.SystemPromptFrom == "" {
			return fmt.Errorf("agent %s: a system prompt is required", ident)
		}

		for _, name := range a.Tools {
			if !toolNames[name] {
				return fmt.Errorf("agent %s: unknown tool %q", ident, name)
			}
		}
		for _, label := range a.SharedBlocks {
			if !blockLabels[label] {
				return fmt.Errorf("agent %s: unknown shared block %q", ident, label)
			}
		}
		for _, name := range a.Folders {
			if !folderNames[name] {
				return fmt.Errorf("agent %s: unknown folder %q", ident, name)
			}
		}
		if len(a.Archives) > 1 {
			return fmt.Errorf("agent %s: at most one archive may be attached", ident)
		}
		for _, name := range a.Archives {
			if !archiveNames[name] {
				return fmt.Errorf("agent %s: unknown archive %q", ident, name)
			}
		}

		memLabels := make(map[string]bool)
		for _, m := range a.Memory {
			if m.Label == "" {
				return fmt.Errorf("agent %s: memory block without label", ident)
			}
			if memLabels[m.Label] {
				return fmt.Errorf("agent %s: duplicate memory block %q", ident, m.Label)
			}
			memLabels[m.Label] = true
			if blockLabels[m.Label] {
				return fmt.Errorf("agent %s: memory block %q collides with a shared block", ident, m.Label)
			}
			if m.Value != "" && m.ValueFrom != "" {
				return fmt.Errorf("agent %s: block %q: value and valueFrom are mutually exclusive", ident, m.Label)
			}
		}
	}
	return nil
}

// versionSeparator mirrors the engine's versioned-name separator;
// declared names must stay on the base-name side of it.
const versionSeparator = "__v__"

// ToolByName returns the declared tool spec.
func (c *Config) ToolByName(name string) (ToolSpec, bool) {
	for _, t := range c.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolSpec{}, false
}

// BlockByLabel returns the declared shared block spec.
func (c *Config) BlockByLabel(label string) (BlockSpec, bool) {
	for _, b := range c.Blocks {
		if b.Label == label {
			return b, true
		}
	}
	return BlockSpec{}, false
}

// FolderByName returns the declared folder spec.
func (c *Config) FolderByName(name string) (FolderSpec, bool) {
	for _, f := range c.Folders {
		if f.Name == name {
			return f, true
		}
	}
	return FolderSpec{}, false
}

// ArchiveByName returns the declared archive spec.
func (c *Config) ArchiveByName(name string) (ArchiveSpec, bool) {
	for _, a := range c.Archives {
		if a.Name == name {
			return a, true
		}
	}
	return ArchiveSpec{}, false
}

// AgentNames lists non-template agent names, sorted.
func (c *Config) AgentNames() []string {
	var names []string
	for _, a := range c.Agents {
		if !a.Template {
			names = append(names, a.Name)
		}
	}
	sort.Strings(names)
	return names
}
