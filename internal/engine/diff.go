package engine

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/barysiuk/lettactl/internal/letta"
	"github.com/barysiuk/lettactl/internal/manifest"
)

// diffTools partitions the agent's attached tools against the desired
// tool names. The snapshot holds the current registered tool per name;
// an attachment pointing at any other ID is stale and gets a
// detach-then-reattach update.
func diffTools(current []letta.Tool, desired []string, snap *Snapshot) ResourceDiff[ToolChange] {
	var d ResourceDiff[ToolChange]

	attached := make(map[string]letta.Tool, len(current))
	for _, t := range current {
		attached[t.Name] = t
	}
	want := make(map[string]bool, len(desired))
	for _, name := range desired {
		want[name] = true
	}

	for _, name := range sortedCopy(desired) {
		target := snap.Tools[name]
		cur, ok := attached[name]
		if !ok {
			d.ToAdd = append(d.ToAdd, ToolChange{Name: name, ID: target.ID})
			continue
		}
		if cur.ID != target.ID {
			d.ToUpdate = append(d.ToUpdate, ToolChange{
				Name:   name,
				ID:     cur.ID,
				NewID:  target.ID,
				Reason: "source changed",
			})
			continue
		}
		d.Unchanged = append(d.Unchanged, ToolChange{Name: name, ID: cur.ID})
	}

	for _, t := range sortedTools(current) {
		if !want[t.Name] {
			d.ToRemove = append(d.ToRemove, ToolChange{Name: t.Name, ID: t.ID})
		}
	}
	return d
}

// diffBlocks partitions attached memory blocks against the agent's
// desired blocks: its own memory entries plus referenced shared
// labels. Matching is by base label, so a block replaced under a
// versioned label still pairs with its logical entry.
//
// Desired agent-owned blocks with no live counterpart are created here
// as a side effect (the attach needs an ID); dry runs use the DryRunID
// sentinel instead.
func (e *Engine) diffBlocks(
	ctx context.Context,
	current []letta.Block,
	spec manifest.AgentSpec,
	snap *Snapshot,
	dryRun bool,
) (ResourceDiff[BlockChange], error) {
	var d ResourceDiff[BlockChange]

	attached := make(map[string]letta.Block, len(current))
	for _, b := range current {
		base, _ := ParseVersionedName(b.Label)
		attached[base] = b
	}

	desired := make(map[string]bool, len(spec.Memory)+len(spec.SharedBlocks))

	// Agent-owned memory blocks: the block object belongs to this
	// agent, so value drift is handled here per agent.
	for _, m := range spec.Memory {
		desired[m.Label] = true
		cur, ok := attached[m.Label]
		if !ok {
			id, err := e.ensureBlock(ctx, m.Label, m, dryRun)
			if err != nil {
				return d, err
			}
			d.ToAdd = append(d.ToAdd, BlockChange{
				Label: m.Label, ID: id, Strategy: BlockAttachOp,
			})
			continue
		}
		if Hash(cur.Value) == Hash(m.Value) {
			d.Unchanged = append(d.Unchanged, BlockChange{Label: m.Label, ID: cur.ID})
			continue
		}
		if m.IsMutable() {
			d.ToUpdate = append(d.ToUpdate, BlockChange{
				Label: m.Label, ID: cur.ID,
				Value: m.Value, OldValue: cur.Value,
				Strategy: BlockRewriteOp,
			})
			continue
		}
		label := FormatVersionedName(m.Label, NewVersion(e.now(), ShortHash(m.Value)))
		newID, err := e.ensureBlock(ctx, label, m, dryRun)
		if err != nil {
			return d, err
		}
		d.ToUpdate = append(d.ToUpdate, BlockChange{
			Label: m.Label, ID: cur.ID, NewID: newID,
			Value: m.Value, OldValue: cur.Value,
			Strategy: BlockReplaceOp,
		})
	}

	// Shared blocks: content converges globally during preparation;
	// per agent only the attachment can be missing or stale.
	for _, label := range spec.SharedBlocks {
		desired[label] = true
		target := snap.Blocks[label]
		cur, ok := attached[label]
		if !ok {
			d.ToAdd = append(d.ToAdd, BlockChange{
				Label: label, ID: target.ID, Strategy: BlockAttachOp,
			})
			continue
		}
		if cur.ID != target.ID {
			d.ToUpdate = append(d.ToUpdate, BlockChange{
				Label: label, ID: cur.ID, NewID: target.ID,
				Value: target.Value, OldValue: cur.Value,
				Strategy: BlockReplaceOp,
			})
			continue
		}
		d.Unchanged = append(d.Unchanged, BlockChange{Label: label, ID: cur.ID})
	}

	for _, base := range sortedKeys(attached) {
		if !desired[base] {
			d.ToRemove = append(d.ToRemove, BlockChange{
				Label: base, ID: attached[base].ID, Strategy: BlockDetachOp,
			})
		}
	}
	sortBlockChanges(&d)
	return d, nil
}

func (e *Engine) ensureBlock(ctx context.Context, label string, spec manifest.BlockSpec, dryRun bool) (string, error) {
	if dryRun {
		return DryRunID, nil
	}
	b, err := e.client.CreateBlock(ctx, letta.BlockCreate{
		Label:    label,
		Value:    spec.Value,
		Limit:    spec.Limit,
		ReadOnly: !spec.IsMutable(),
	})
	if err != nil {
		return "", fmt.Errorf("creating block %q: %w", label, err)
	}
	return b.ID, nil
}

// dedupSuffix matches the platform's duplicate-upload rename:
// "notes_(2).md". The capture groups recover the original name.
var dedupSuffix = regexp.MustCompile(`^(.*)_\((\d+)\)(\.[^.]*)?$`)

// normalizeFileName strips a dedup suffix so server variants compare
// equal to the manifest name: notes_(2).md → notes.md.
func normalizeFileName(name string) string {
	m := dedupSuffix.FindStringSubmatch(name)
	if m == nil {
		return name
	}
	return m[1] + m[3]
}

// diffFolders partitions attached folders against the desired folder
// names, descending into per-file operations for folders present on
// both sides. File updates are decided against the hashes recorded in
// agent metadata on the previous apply, never against live file
// content. A folder whose file listing fails is deliberately reported
// unchanged.
func (e *Engine) diffFolders(
	ctx context.Context,
	agent *letta.Agent,
	current []letta.Folder,
	spec manifest.AgentSpec,
	snap *Snapshot,
	idx *ContentIndex,
) ResourceDiff[FolderChange] {
	var d ResourceDiff[FolderChange]

	prev := decodeFolderHashes(agent, e.logger)

	attached := make(map[string]letta.Folder, len(current))
	for _, f := range current {
		attached[f.Name] = f
	}
	want := make(map[string]bool, len(spec.Folders))
	for _, name := range spec.Folders {
		want[name] = true
	}

	for _, name := range sortedCopy(spec.Folders) {
		desiredFiles := idx.FolderFiles[name]
		cur, ok := attached[name]
		if !ok {
			d.ToAdd = append(d.ToAdd, e.folderAttach(ctx, agent, name, snap.Folders[name], desiredFiles))
			continue
		}

		change, err := e.diffFolderFiles(ctx, cur, desiredFiles, prev[name])
		if err != nil {
			e.logger.Warn("folder file listing failed, leaving folder unchanged",
				"agent", agent.Name, "folder", name, "error", err)
			d.Unchanged = append(d.Unchanged, FolderChange{Name: name, ID: cur.ID})
			continue
		}
		if change.FileOps() == 0 {
			d.Unchanged = append(d.Unchanged, FolderChange{Name: name, ID: cur.ID})
			continue
		}
		d.ToUpdate = append(d.ToUpdate, change)
	}

	for _, f := range sortedFolders(current) {
		if !want[f.Name] {
			d.ToRemove = append(d.ToRemove, FolderChange{Name: f.Name, ID: f.ID})
		}
	}
	return d
}

// folderAttach plans the attachment of a folder the agent lacks. The
// folder itself is shared and may already hold files from earlier
// passes, so only files missing by normalized name are uploaded.
func (e *Engine) folderAttach(
	ctx context.Context,
	agent *letta.Agent,
	name string,
	target letta.Folder,
	desired map[string]string,
) FolderChange {
	change := FolderChange{Name: name, ID: target.ID}

	if target.ID == DryRunID {
		change.AddFiles = sortedKeys2(desired)
		return change
	}

	files, err := e.client.ListFolderFiles(ctx, target.ID)
	if err != nil {
		e.logger.Warn("folder file listing failed, attaching without file sync",
			"agent", agent.Name, "folder", name, "error", err)
		return change
	}
	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[normalizeFileName(f.Name)] = true
	}
	for _, fn := range sortedKeys2(desired) {
		if !present[fn] {
			change.AddFiles = append(change.AddFiles, fn)
		}
	}
	return change
}

// diffFolderFiles computes the per-file operations for one folder
// attached to one agent.
func (e *Engine) diffFolderFiles(
	ctx context.Context,
	folder letta.Folder,
	desired map[string]string, // file name → manifest hash
	prevHashes map[string]string, // file name → hash recorded last apply
) (FolderChange, error) {
	change := FolderChange{Name: folder.Name, ID: folder.ID}

	files, err := e.client.ListFolderFiles(ctx, folder.ID)
	if err != nil {
		return change, err
	}

	variants := make(map[string][]FileRef)
	for _, f := range files {
		norm := normalizeFileName(f.Name)
		variants[norm] = append(variants[norm], FileRef{ID: f.ID, Name: f.Name})
	}

	for _, name := range sortedKeys2(desired) {
		vs := variants[name]
		if len(vs) == 0 {
			change.AddFiles = append(change.AddFiles, name)
			continue
		}

		var exact *FileRef
		var extras []FileRef
		for i := range vs {
			if vs[i].Name == name {
				exact = &vs[i]
			} else {
				extras = append(extras, vs[i])
			}
		}

		if exact == nil {
			// Only dedup-suffixed variants survive: clear them all and
			// re-upload under the clean name.
			change.UpdateFiles = append(change.UpdateFiles, FileUpdate{Name: name, Stale: vs})
			continue
		}

		// Surplus suffixed copies next to an exact match are plain
		// removals.
		change.RemoveFiles = append(change.RemoveFiles, extras...)

		recorded, ok := prevHashes[name]
		if ok && recorded != desired[name] {
			change.UpdateFiles = append(change.UpdateFiles, FileUpdate{Name: name, Stale: []FileRef{*exact}})
		}
		// No recorded hash means the file predates our tracking;
		// without proof of drift it stays as-is.
	}

	for _, norm := range sortedKeys2m(variants) {
		if _, ok := desired[norm]; !ok {
			change.RemoveFiles = append(change.RemoveFiles, variants[norm]...)
		}
	}
	return change, nil
}

// diffArchives partitions attached archives against desired names.
func diffArchives(current []letta.Archive, desired []string, snap *Snapshot) ResourceDiff[ArchiveChange] {
	var d ResourceDiff[ArchiveChange]

	attached := make(map[string]letta.Archive, len(current))
	for _, a := range current {
		attached[a.Name] = a
	}
	want := make(map[string]bool, len(desired))
	for _, name := range desired {
		want[name] = true
	}

	for _, name := range sortedCopy(desired) {
		if cur, ok := attached[name]; ok {
			d.Unchanged = append(d.Unchanged, ArchiveChange{Name: name, ID: cur.ID})
		} else {
			d.ToAdd = append(d.ToAdd, ArchiveChange{Name: name, ID: snap.Archives[name].ID})
		}
	}
	for _, a := range sortedArchives(current) {
		if !want[a.Name] {
			d.ToRemove = append(d.ToRemove, ArchiveChange{Name: a.Name, ID: a.ID})
		}
	}
	return d
}

// --- small sorted helpers -------------------------------------------------

func sortedKeys(m map[string]letta.Block) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeys2(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeys2m(m map[string][]FileRef) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedTools(in []letta.Tool) []letta.Tool {
	out := make([]letta.Tool, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sortedFolders(in []letta.Folder) []letta.Folder {
	out := make([]letta.Folder, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sortedArchives(in []letta.Archive) []letta.Archive {
	out := make([]letta.Archive, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sortBlockChanges(d *ResourceDiff[BlockChange]) {
	byLabel := func(s []BlockChange) {
		sort.Slice(s, func(i, j int) bool { return s[i].Label < s[j].Label })
	}
	byLabel(d.ToAdd)
	byLabel(d.ToRemove)
	byLabel(d.ToUpdate)
	byLabel(d.Unchanged)
}
