package engine

import (
	"encoding/json"
	"log/slog"

	"github.com/barysiuk/lettactl/internal/letta"
	"github.com/barysiuk/lettactl/internal/manifest"
)

// loadLastApplied reads the template provenance record from agent
// metadata. A missing or unreadable record means first apply.
func loadLastApplied(agent *letta.Agent, logger *slog.Logger) *LastApplied {
	raw, ok := agent.Metadata[MetaLastApplied]
	if !ok || raw == "" {
		return nil
	}
	var rec LastApplied
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		logger.Warn("unreadable provenance record, treating as first apply",
			"agent", agent.Name, "error", err)
		return nil
	}
	return &rec
}

// decodeFolderHashes reads the folder → file → hash map recorded on the
// previous apply. Missing or unreadable records yield nil, which makes
// every exact-match file read as "no proof of drift".
func decodeFolderHashes(agent *letta.Agent, logger *slog.Logger) map[string]map[string]string {
	raw, ok := agent.Metadata[MetaFolderFileHashes]
	if !ok || raw == "" {
		return nil
	}
	var m map[string]map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		logger.Warn("unreadable folder hash record, ignoring",
			"agent", agent.Name, "error", err)
		return nil
	}
	return m
}

// mergeFilter restricts a template plan to resources the template has
// provenance for, and reports content that drifted on the server since
// the last apply. Filtered plans keep the partition property: entries
// the template may not touch move to Unchanged rather than vanishing.
//
// With no prior record every removal and every detach-bearing update is
// suppressed, whatever the force flag says. In-place block rewrites
// survive: they detach nothing and declare the template's own content.
func (e *Engine) mergeFilter(st *agentState, ops *UpdateOperations, prev *LastApplied) []Conflict {
	defer ops.Recount()

	if prev == nil {
		suppressFirstApply(ops)
		return nil
	}

	conflicts := e.detectConflicts(st, prev)

	// Tools. Removals and detach-then-reattach updates need provenance.
	keepRemove := ops.Tools.ToRemove[:0]
	for _, t := range ops.Tools.ToRemove {
		if prev.Owns("tool", t.Name) {
			keepRemove = append(keepRemove, t)
		} else {
			ops.Tools.Unchanged = append(ops.Tools.Unchanged, t)
		}
	}
	ops.Tools.ToRemove = keepRemove

	keepUpdate := ops.Tools.ToUpdate[:0]
	for _, t := range ops.Tools.ToUpdate {
		if prev.Owns("tool", t.Name) {
			keepUpdate = append(keepUpdate, t)
		} else {
			ops.Tools.Unchanged = append(ops.Tools.Unchanged, t)
		}
	}
	ops.Tools.ToUpdate = keepUpdate

	// Blocks. Rewrites and replaces need the label in the prior hash
	// record; detaches need the shared-block ownership list.
	keepBRemove := ops.Blocks.ToRemove[:0]
	for _, b := range ops.Blocks.ToRemove {
		if prev.Owns("block", b.Label) {
			keepBRemove = append(keepBRemove, b)
		} else {
			ops.Blocks.Unchanged = append(ops.Blocks.Unchanged, b)
		}
	}
	ops.Blocks.ToRemove = keepBRemove

	keepBUpdate := ops.Blocks.ToUpdate[:0]
	for _, b := range ops.Blocks.ToUpdate {
		_, tracked := prev.BlockHashes[b.Label]
		if tracked || prev.Owns("block", b.Label) {
			keepBUpdate = append(keepBUpdate, b)
		} else {
			ops.Blocks.Unchanged = append(ops.Blocks.Unchanged, b)
		}
	}
	ops.Blocks.ToUpdate = keepBUpdate

	// Folders. Folder detaches need ownership; inside updated folders,
	// file removals and overwrites need the file in the prior record.
	keepFRemove := ops.Folders.ToRemove[:0]
	for _, f := range ops.Folders.ToRemove {
		if prev.Owns("folder", f.Name) {
			keepFRemove = append(keepFRemove, f)
		} else {
			ops.Folders.Unchanged = append(ops.Folders.Unchanged, f)
		}
	}
	ops.Folders.ToRemove = keepFRemove

	keepFUpdate := ops.Folders.ToUpdate[:0]
	for _, f := range ops.Folders.ToUpdate {
		owned := prev.FolderFileHashes[f.Name]

		keepRm := f.RemoveFiles[:0]
		for _, ref := range f.RemoveFiles {
			if _, ok := owned[normalizeFileName(ref.Name)]; ok {
				keepRm = append(keepRm, ref)
			}
		}
		f.RemoveFiles = keepRm

		keepUp := f.UpdateFiles[:0]
		for _, up := range f.UpdateFiles {
			if _, ok := owned[up.Name]; ok {
				keepUp = append(keepUp, up)
			}
		}
		f.UpdateFiles = keepUp

		if f.FileOps() == 0 {
			ops.Folders.Unchanged = append(ops.Folders.Unchanged, f)
			continue
		}
		keepFUpdate = append(keepFUpdate, f)
	}
	ops.Folders.ToUpdate = keepFUpdate

	// Archives carry no provenance, so template mode never detaches one.
	ops.Archives.Unchanged = append(ops.Archives.Unchanged, ops.Archives.ToRemove...)
	ops.Archives.ToRemove = nil

	return conflicts
}

// suppressFirstApply empties every removal and detach-bearing update
// bucket, moving the entries to Unchanged.
func suppressFirstApply(ops *UpdateOperations) {
	ops.Tools.Unchanged = append(ops.Tools.Unchanged, ops.Tools.ToRemove...)
	ops.Tools.ToRemove = nil
	ops.Tools.Unchanged = append(ops.Tools.Unchanged, ops.Tools.ToUpdate...)
	ops.Tools.ToUpdate = nil

	ops.Blocks.Unchanged = append(ops.Blocks.Unchanged, ops.Blocks.ToRemove...)
	ops.Blocks.ToRemove = nil
	keep := ops.Blocks.ToUpdate[:0]
	for _, b := range ops.Blocks.ToUpdate {
		if b.Strategy == BlockRewriteOp {
			keep = append(keep, b)
		} else {
			ops.Blocks.Unchanged = append(ops.Blocks.Unchanged, b)
		}
	}
	ops.Blocks.ToUpdate = keep

	ops.Folders.Unchanged = append(ops.Folders.Unchanged, ops.Folders.ToRemove...)
	ops.Folders.ToRemove = nil
	keepF := ops.Folders.ToUpdate[:0]
	for _, f := range ops.Folders.ToUpdate {
		f.RemoveFiles = nil
		f.UpdateFiles = nil
		if len(f.AddFiles) == 0 {
			ops.Folders.Unchanged = append(ops.Folders.Unchanged, f)
			continue
		}
		keepF = append(keepF, f)
	}
	ops.Folders.ToUpdate = keepF

	ops.Archives.Unchanged = append(ops.Archives.Unchanged, ops.Archives.ToRemove...)
	ops.Archives.ToRemove = nil
}

// detectConflicts compares what the template last applied against the
// agent's live content. Drift is advisory; the apply still proceeds.
func (e *Engine) detectConflicts(st *agentState, prev *LastApplied) []Conflict {
	var out []Conflict

	liveTools := make(map[string]letta.Tool, len(st.tools))
	for _, t := range st.tools {
		liveTools[t.Name] = t
	}
	for _, name := range sortedCopy(prev.Tools) {
		recorded, ok := prev.ToolHashes[name]
		if !ok {
			continue
		}
		if live, attached := liveTools[name]; attached && Hash(live.SourceCode) != recorded {
			out = append(out, Conflict{
				Class:  "tool",
				Name:   name,
				Reason: "source changed on server since last apply",
			})
		}
	}

	liveBlocks := make(map[string]letta.Block, len(st.blocks))
	for _, b := range st.blocks {
		base, _ := ParseVersionedName(b.Label)
		liveBlocks[base] = b
	}
	for _, label := range sortedKeys2(prev.BlockHashes) {
		if live, attached := liveBlocks[label]; attached && Hash(live.Value) != prev.BlockHashes[label] {
			out = append(out, Conflict{
				Class:  "block",
				Name:   label,
				Reason: "value changed on server since last apply",
			})
		}
	}

	current := decodeFolderHashes(st.agent, e.logger)
	for _, name := range sortedCopy(prev.Folders) {
		recorded := prev.FolderFileHashes[name]
		if len(recorded) == 0 {
			continue
		}
		if folderHashesDiffer(recorded, current[name]) {
			out = append(out, Conflict{
				Class:  "folder",
				Name:   name,
				Reason: "files changed since last apply",
			})
		}
	}
	return out
}

func folderHashesDiffer(recorded, current map[string]string) bool {
	if len(recorded) != len(current) {
		return true
	}
	for name, h := range recorded {
		if current[name] != h {
			return true
		}
	}
	return false
}

// buildLastApplied produces the provenance record for the current
// desired state. It is written on every template apply, changed or
// not, so the record never goes stale.
func buildLastApplied(spec manifest.AgentSpec, idx *ContentIndex) *LastApplied {
	rec := &LastApplied{
		Tools:        sortedCopy(spec.Tools),
		SharedBlocks: sortedCopy(spec.SharedBlocks),
		Folders:      sortedCopy(spec.Folders),
	}

	if len(spec.Tools) > 0 {
		rec.ToolHashes = make(map[string]string, len(spec.Tools))
		for _, name := range spec.Tools {
			rec.ToolHashes[name] = idx.ToolHashes[name]
		}
	}

	if len(spec.SharedBlocks)+len(spec.Memory) > 0 {
		rec.BlockHashes = make(map[string]string)
		for _, label := range spec.SharedBlocks {
			rec.BlockHashes[label] = idx.BlockHashes[label]
		}
		for _, m := range spec.Memory {
			rec.BlockHashes[m.Label] = Hash(m.Value)
		}
	}

	if len(spec.Folders) > 0 {
		rec.FolderFileHashes = make(map[string]map[string]string, len(spec.Folders))
		for _, name := range spec.Folders {
			files := idx.FolderFiles[name]
			cp := make(map[string]string, len(files))
			for fn, h := range files {
				cp[fn] = h
			}
			rec.FolderFileHashes[name] = cp
		}
	}
	return rec
}

// folderHashRecord is the per-apply file hash map for the folders this
// spec manages, written under MetaFolderFileHashes.
func folderHashRecord(spec manifest.AgentSpec, idx *ContentIndex) map[string]map[string]string {
	out := make(map[string]map[string]string, len(spec.Folders))
	for _, name := range spec.Folders {
		files := idx.FolderFiles[name]
		cp := make(map[string]string, len(files))
		for fn, h := range files {
			cp[fn] = h
		}
		out[name] = cp
	}
	return out
}
