// Package engine computes and applies the difference between a fleet
// manifest and the live state of a Letta-compatible server. It never
// deletes or recreates an agent: scalar fields and attachments are
// converged in place, and a breaking system-prompt change forks a new
// versioned agent while the old one keeps its conversation.
package engine

import (
	"time"

	"github.com/barysiuk/lettactl/internal/letta"
)

// Agent metadata keys owned by this tool. Everything else under an
// agent's metadata belongs to its operators and is left untouched.
const (
	// MetaLastApplied stores the JSON LastApplied record written after
	// a template apply.
	MetaLastApplied = "lettactl.lastApplied"
	// MetaFolderFileHashes stores the folder → file → hash map from
	// the most recent apply; folder analyzers read it to detect file
	// content changes without re-downloading server content.
	MetaFolderFileHashes = "lettactl.folderFileHashes"
)

// DryRunID marks resources that would be created by a real run.
const DryRunID = "(new)"

// AgentVersion is one live agent as tracked by the version registry:
// the newest agent per base name.
type AgentVersion struct {
	ID        string
	Name      string // full server name, possibly base__v__version
	BaseName  string
	Version   string // empty for unversioned names
	Hashes    ConfigHashes
	UpdatedAt time.Time
}

// ConfigHashes carries the per-field content digests of an agent
// configuration. SystemPrompt decides version bumps; the rest feed
// drift display and metadata.
type ConfigHashes struct {
	SystemPrompt string `json:"systemPrompt,omitempty"`
	Model        string `json:"model,omitempty"`
	Embedding    string `json:"embedding,omitempty"`
	Tools        string `json:"tools,omitempty"`
	Blocks       string `json:"blocks,omitempty"`
	Folders      string `json:"folders,omitempty"`
	Archives     string `json:"archives,omitempty"`
	Overall      string `json:"overall,omitempty"`
}

// Resolution is the version registry's verdict for one manifest agent.
type Resolution struct {
	Name     string // agent name to create or update
	Create   bool
	Existing *AgentVersion // prior newest agent, nil if none
}

// ResourceDiff partitions current ∪ desired into the four outcome
// buckets. Every element lands in exactly one bucket.
type ResourceDiff[T any] struct {
	ToAdd     []T
	ToRemove  []T
	ToUpdate  []T
	Unchanged []T
}

// Total is the number of partitioned elements.
func (d ResourceDiff[T]) Total() int {
	return len(d.ToAdd) + len(d.ToRemove) + len(d.ToUpdate) + len(d.Unchanged)
}

// Changed is the number of elements requiring operations.
func (d ResourceDiff[T]) Changed() int {
	return len(d.ToAdd) + len(d.ToRemove) + len(d.ToUpdate)
}

// ToolChange is one tool attachment operation. ID is the attached (or
// to-attach) tool; NewID is set for source-changed replacements.
type ToolChange struct {
	Name   string
	ID     string
	NewID  string
	Reason string
}

// BlockStrategy tags how a block change is executed.
type BlockStrategy string

const (
	// BlockAttachOp attaches an existing block.
	BlockAttachOp BlockStrategy = "attach"
	// BlockDetachOp detaches a block (destructive, force-gated).
	BlockDetachOp BlockStrategy = "detach"
	// BlockReplaceOp swaps an immutable block for its new version:
	// detach ID, attach NewID.
	BlockReplaceOp BlockStrategy = "replace"
	// BlockRewriteOp updates a mutable block's value in place.
	BlockRewriteOp BlockStrategy = "rewrite"
)

// BlockChange is one memory block operation, keyed by base label.
type BlockChange struct {
	Label    string
	ID       string
	NewID    string
	Value    string // desired value, set for rewrites and replaces
	OldValue string // live value being rewritten or replaced
	Strategy BlockStrategy
}

// FileRef identifies a file on the server.
type FileRef struct {
	ID   string
	Name string // server-side name, possibly dedup-suffixed
}

// FileUpdate replaces a folder file's content: delete every stale
// server variant, then upload the manifest version.
type FileUpdate struct {
	Name  string
	Stale []FileRef
}

// FolderChange is one folder operation with its per-file breakdown.
// For adds, AddFiles lists the full desired file set.
type FolderChange struct {
	Name        string
	ID          string
	AddFiles    []string
	RemoveFiles []FileRef
	UpdateFiles []FileUpdate
}

// FileOps counts the file entries this change operates on. An update
// is one entry however many stale variants it clears.
func (f FolderChange) FileOps() int {
	return len(f.AddFiles) + len(f.RemoveFiles) + len(f.UpdateFiles)
}

// ArchiveChange is one archive attachment operation.
type ArchiveChange struct {
	Name string
	ID   string
}

// FieldChange records a scalar agent field that differs.
type FieldChange struct {
	Field string
	From  string
	To    string
}

// UpdateOperations is the full reconciliation plan for one agent.
type UpdateOperations struct {
	AgentID   string
	AgentName string
	BaseName  string

	Fields   []FieldChange
	Tools    ResourceDiff[ToolChange]
	Blocks   ResourceDiff[BlockChange]
	Folders  ResourceDiff[FolderChange]
	Archives ResourceDiff[ArchiveChange]

	// OperationCount totals field changes, changed resource entries,
	// and per-file operations. Recomputed whenever the plan is
	// filtered.
	OperationCount int

	// PreservesConversation is true on every plan this engine
	// produces; no generated operation destroys message history.
	PreservesConversation bool
}

// Recount recomputes OperationCount from the current buckets.
func (o *UpdateOperations) Recount() {
	n := len(o.Fields)
	n += o.Tools.Changed()
	n += o.Blocks.Changed()
	n += len(o.Folders.ToAdd) + len(o.Folders.ToRemove)
	for _, f := range o.Folders.ToUpdate {
		n += f.FileOps()
	}
	n += o.Archives.Changed()
	o.OperationCount = n
}

// Empty reports whether the plan contains no operations.
func (o *UpdateOperations) Empty() bool {
	return o.OperationCount == 0
}

// ToolReplacement records a tool re-registered this pass because its
// source changed.
type ToolReplacement struct {
	OldID string
	NewID string
}

// BlockReplacement records an immutable shared block re-versioned this
// pass.
type BlockReplacement struct {
	OldID    string
	NewID    string
	NewLabel string
}

// Snapshot is the read-only registry state for one reconcile pass:
// the latest server object per base name, plus what changed while
// preparing. Analyzers receive it and never mutate it.
type Snapshot struct {
	Tools    map[string]letta.Tool  // by tool name
	Blocks   map[string]letta.Block // latest shared block by base label
	Folders  map[string]letta.Folder
	Archives map[string]letta.Archive

	ReplacedTools  map[string]ToolReplacement  // by tool name
	ReplacedBlocks map[string]BlockReplacement // by base label

	// Fleet-level writes performed (or, in dry runs, planned) while
	// preparing, for display.
	CreatedTools    []string
	CreatedBlocks   []string
	RewrittenBlocks []string
	CreatedFolders  []string
	CreatedArchives []string
}

// FleetChanges counts the fleet-level resource writes of the pass.
func (s *Snapshot) FleetChanges() int {
	return len(s.CreatedTools) + len(s.ReplacedTools) +
		len(s.CreatedBlocks) + len(s.RewrittenBlocks) + len(s.ReplacedBlocks) +
		len(s.CreatedFolders) + len(s.CreatedArchives)
}

// NewSnapshot returns an empty snapshot with all maps ready.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Tools:          make(map[string]letta.Tool),
		Blocks:         make(map[string]letta.Block),
		Folders:        make(map[string]letta.Folder),
		Archives:       make(map[string]letta.Archive),
		ReplacedTools:  make(map[string]ToolReplacement),
		ReplacedBlocks: make(map[string]BlockReplacement),
	}
}

// LastApplied is the template provenance record: which resources a
// template attached to an agent and the content hashes it applied.
// Stored as JSON under MetaLastApplied.
type LastApplied struct {
	Tools            []string                     `json:"tools,omitempty"`
	SharedBlocks     []string                     `json:"sharedBlocks,omitempty"`
	Folders          []string                     `json:"folders,omitempty"`
	ToolHashes       map[string]string            `json:"toolHashes,omitempty"`
	BlockHashes      map[string]string            `json:"blockHashes,omitempty"`
	FolderFileHashes map[string]map[string]string `json:"folderFileHashes,omitempty"`
}

// Owns reports whether the record lists name under the given class.
func (l *LastApplied) Owns(class, name string) bool {
	if l == nil {
		return false
	}
	var list []string
	switch class {
	case "tool":
		list = l.Tools
	case "block":
		list = l.SharedBlocks
	case "folder":
		list = l.Folders
	}
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

// Conflict is a warn-only template drift: a template-owned resource
// whose server content no longer matches what the template last
// applied.
type Conflict struct {
	Class  string // "tool", "block", "folder"
	Name   string
	Reason string
}
