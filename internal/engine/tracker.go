package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/barysiuk/lettactl/internal/manifest"
)

// ContentIndex is the hashed view of a resolved manifest: one
// name → digest map per resource class. Every origin (inline text,
// local file, remote object) reduces to the same hashed form, so
// nothing downstream cares where content came from.
type ContentIndex struct {
	ToolHashes  map[string]string            // tool name → source hash
	BlockHashes map[string]string            // shared block label → value hash
	FolderFiles map[string]map[string]string // folder name → file name → hash
}

// BuildIndex hashes every piece of content in a resolved manifest.
func BuildIndex(cfg *manifest.Config) (*ContentIndex, error) {
	if !cfg.Resolved() {
		return nil, fmt.Errorf("manifest content not resolved")
	}

	idx := &ContentIndex{
		ToolHashes:  make(map[string]string),
		BlockHashes: make(map[string]string),
		FolderFiles: make(map[string]map[string]string),
	}
	for _, t := range cfg.Tools {
		idx.ToolHashes[t.Name] = Hash(t.Source)
	}
	for _, b := range cfg.Blocks {
		idx.BlockHashes[b.Label] = Hash(b.Value)
	}
	for _, f := range cfg.Folders {
		files := make(map[string]string, len(f.ResolvedFiles))
		for _, rf := range f.ResolvedFiles {
			files[rf.Name] = Hash(string(rf.Content))
		}
		idx.FolderFiles[f.Name] = files
	}
	return idx, nil
}

// AgentHashes computes the per-field digests for one manifest agent.
// The system prompt is trimmed first; incidental leading and trailing
// whitespace never forces a version bump.
func (idx *ContentIndex) AgentHashes(a manifest.AgentSpec) ConfigHashes {
	h := ConfigHashes{
		SystemPrompt: Hash(strings.TrimSpace(a.SystemPrompt)),
		Model:        Hash(a.Model),
		Embedding:    HashFields(a.Embedding, canonicalJSON(a.EmbeddingConfig)),
	}

	toolFields := make([]string, 0, len(a.Tools))
	for _, name := range sortedCopy(a.Tools) {
		toolFields = append(toolFields, name+"="+idx.ToolHashes[name])
	}
	h.Tools = HashFields(toolFields...)

	var blockFields []string
	for _, m := range a.Memory {
		blockFields = append(blockFields, "own:"+m.Label+"="+Hash(m.Value))
	}
	for _, label := range sortedCopy(a.SharedBlocks) {
		blockFields = append(blockFields, "shared:"+label+"="+idx.BlockHashes[label])
	}
	sort.Strings(blockFields)
	h.Blocks = HashFields(blockFields...)

	var folderFields []string
	for _, name := range sortedCopy(a.Folders) {
		files := idx.FolderFiles[name]
		names := make([]string, 0, len(files))
		for fn := range files {
			names = append(names, fn)
		}
		sort.Strings(names)
		for _, fn := range names {
			folderFields = append(folderFields, name+"/"+fn+"="+files[fn])
		}
	}
	h.Folders = HashFields(folderFields...)

	h.Archives = HashFields(sortedCopy(a.Archives)...)
	h.Overall = HashFields(
		h.SystemPrompt, h.Model, h.Embedding, h.Tools, h.Blocks, h.Folders, h.Archives,
	)
	return h
}

// canonicalJSON renders a JSON-able value with sorted keys, for
// order-insensitive comparison of nested config objects.
func canonicalJSON(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
