// Package letta is a minimal REST client for a Letta-compatible agent
// server. It covers the slice of the API that fleet reconciliation
// needs: agents, tools, memory blocks, folders with files, and
// archives, plus the attach/detach relationships between them.
package letta

import "time"

// Agent is a live agent as reported by the server.
type Agent struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	SystemPrompt    string            `json:"system"`
	Description     string            `json:"description,omitempty"`
	Model           string            `json:"model,omitempty"` // Handle form, e.g. "openai/gpt-4.1"
	Embedding       string            `json:"embedding,omitempty"`
	EmbeddingConfig map[string]any    `json:"embeddingConfig,omitempty"`
	ContextWindow   int               `json:"contextWindowLimit,omitempty"`
	Reasoning       bool              `json:"enableReasoner,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	UpdatedAt       time.Time         `json:"updatedAt,omitempty"`
}

// AgentCreate is the request body for creating an agent.
type AgentCreate struct {
	Name            string            `json:"name"`
	SystemPrompt    string            `json:"system"`
	Description     string            `json:"description,omitempty"`
	Model           string            `json:"model,omitempty"`
	Embedding       string            `json:"embedding,omitempty"`
	EmbeddingConfig map[string]any    `json:"embeddingConfig,omitempty"`
	ContextWindow   int               `json:"contextWindowLimit,omitempty"`
	Reasoning       bool              `json:"enableReasoner,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// AgentUpdate is a partial update. Nil pointers mean "leave unchanged";
// the server only touches fields that are present.
type AgentUpdate struct {
	SystemPrompt    *string           `json:"system,omitempty"`
	Description     *string           `json:"description,omitempty"`
	Model           *string           `json:"model,omitempty"`
	Embedding       *string           `json:"embedding,omitempty"`
	EmbeddingConfig map[string]any    `json:"embeddingConfig,omitempty"`
	ContextWindow   *int              `json:"contextWindowLimit,omitempty"`
	Reasoning       *bool             `json:"enableReasoner,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Tool is a registered tool. SourceCode is the full function text; the
// tool name equals the function name.
type Tool struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	SourceCode  string `json:"sourceCode"`
	SourceType  string `json:"sourceType,omitempty"` // e.g. "python"
}

// ToolCreate is the request body for registering a tool.
type ToolCreate struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	SourceCode  string `json:"sourceCode"`
	SourceType  string `json:"sourceType,omitempty"`
}

// Block is a memory block. Blocks attached to multiple agents are
// "shared"; the distinction is a matter of attachment, not type.
type Block struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Value    string `json:"value"`
	Limit    int    `json:"limit,omitempty"`
	ReadOnly bool   `json:"readOnly,omitempty"`
}

// BlockCreate is the request body for creating a block.
type BlockCreate struct {
	Label    string `json:"label"`
	Value    string `json:"value"`
	Limit    int    `json:"limit,omitempty"`
	ReadOnly bool   `json:"readOnly,omitempty"`
}

// Folder is a named file container agents can attach for retrieval.
type Folder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FolderFile is a file stored inside a folder. Name is the server-side
// filename, which may carry a dedup suffix like "notes_(2).md" when the
// same name was uploaded more than once.
type FolderFile struct {
	ID       string `json:"id"`
	FolderID string `json:"folderId"`
	Name     string `json:"name"`
	Size     int64  `json:"size,omitempty"`
}

// Archive is an archival memory store an agent can attach.
type Archive struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
