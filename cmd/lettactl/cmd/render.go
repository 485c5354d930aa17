package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/barysiuk/lettactl/internal/engine"
)

// renderOpts control how a reconcile pass is printed.
type renderOpts struct {
	dryRun     bool
	force      bool
	blockDiffs bool // expand block value changes into line diffs
}

// renderResult prints one pass: fleet-level resource writes first, then
// each agent with its operations. Warnings and drift notices go to
// stderr so they survive piping.
func renderResult(out io.Writer, res *engine.FleetResult, o renderOpts) {
	renderFleet(out, res.Fleet)
	for _, w := range res.Warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}
	for _, a := range res.Agents {
		renderAgent(out, a, o)
	}
}

func renderFleet(out io.Writer, snap *engine.Snapshot) {
	if snap == nil || snap.FleetChanges() == 0 {
		return
	}
	fmt.Fprintln(out, "Fleet resources:")
	for _, name := range snap.CreatedTools {
		fmt.Fprintf(out, "  + tool %s\n", name)
	}
	for _, name := range sortedNames(snap.ReplacedTools) {
		fmt.Fprintf(out, "  ~ tool %s (source changed)\n", name)
	}
	for _, label := range snap.CreatedBlocks {
		fmt.Fprintf(out, "  + block %s\n", label)
	}
	for _, label := range snap.RewrittenBlocks {
		fmt.Fprintf(out, "  ~ block %s (rewritten)\n", label)
	}
	for _, label := range sortedNames(snap.ReplacedBlocks) {
		fmt.Fprintf(out, "  ~ block %s (replaced by %s)\n", label, snap.ReplacedBlocks[label].NewLabel)
	}
	for _, name := range snap.CreatedFolders {
		fmt.Fprintf(out, "  + folder %s\n", name)
	}
	for _, name := range snap.CreatedArchives {
		fmt.Fprintf(out, "  + archive %s\n", name)
	}
	fmt.Fprintln(out)
}

func renderAgent(out io.Writer, a engine.AgentResult, o renderOpts) {
	// Versioned forks already carry the entry as their base name, so the
	// marker is only printed for template entries.
	name := a.Name
	if a.Entry != "" && a.Entry != a.Name {
		if base, _ := engine.ParseVersionedName(a.Name); base != a.Entry {
			name = fmt.Sprintf("%s  [%s]", a.Name, a.Entry)
		}
	}

	switch a.Action {
	case engine.ActionCreated:
		if o.dryRun {
			fmt.Fprintf(out, "%s  would create\n", name)
		} else {
			fmt.Fprintf(out, "%s  created\n", name)
		}
	case engine.ActionUpdated:
		if o.dryRun {
			fmt.Fprintf(out, "%s  would update\n", name)
		} else {
			fmt.Fprintf(out, "%s  updated\n", name)
		}
	case engine.ActionUnchanged:
		fmt.Fprintf(out, "%s  unchanged\n", name)
	case engine.ActionFailed:
		fmt.Fprintf(out, "%s  failed: %v\n", name, a.Err)
	}

	for _, c := range a.Conflicts {
		fmt.Fprintf(os.Stderr, "Warning: %s: %s %q drifted since last apply: %s\n",
			a.Name, c.Class, c.Name, c.Reason)
	}

	if a.Ops != nil && !a.Ops.Empty() {
		renderOps(out, a.Ops, o)
	}
	if a.Apply != nil {
		for _, f := range a.Apply.Failed {
			fmt.Fprintf(out, "  failed %s %s: %v\n", f.Kind, f.Name, f.Err)
		}
	}
}

// renderOps prints an agent's plan as one line per operation. Removal
// lines carry the force notice; in apply mode those exact operations
// are the ones the engine reports as skipped.
func renderOps(out io.Writer, ops *engine.UpdateOperations, o renderOpts) {
	for _, f := range ops.Fields {
		fmt.Fprintf(out, "  ~ %s: %s -> %s\n", f.Field, f.From, f.To)
	}

	for _, t := range ops.Tools.ToAdd {
		fmt.Fprintf(out, "  + tool %s\n", t.Name)
	}
	for _, t := range ops.Tools.ToUpdate {
		fmt.Fprintf(out, "  ~ tool %s (%s)\n", t.Name, t.Reason)
	}
	for _, t := range ops.Tools.ToRemove {
		fmt.Fprintf(out, "  - tool %s%s\n", t.Name, forceNote(o))
	}

	for _, b := range ops.Blocks.ToAdd {
		fmt.Fprintf(out, "  + block %s\n", b.Label)
	}
	for _, b := range ops.Blocks.ToUpdate {
		fmt.Fprintf(out, "  ~ block %s (%s)\n", b.Label, b.Strategy)
		if o.blockDiffs && b.OldValue != b.Value {
			fmt.Fprint(out, indent(diffLines(b.OldValue, b.Value), "    "))
		}
	}
	for _, b := range ops.Blocks.ToRemove {
		fmt.Fprintf(out, "  - block %s%s\n", b.Label, forceNote(o))
	}

	for _, f := range ops.Folders.ToAdd {
		fmt.Fprintf(out, "  + folder %s (%d files)\n", f.Name, len(f.AddFiles))
	}
	for _, f := range ops.Folders.ToUpdate {
		fmt.Fprintf(out, "  ~ folder %s (%s)\n", f.Name, folderDetail(f, o))
	}
	for _, f := range ops.Folders.ToRemove {
		fmt.Fprintf(out, "  - folder %s%s\n", f.Name, forceNote(o))
	}

	for _, a := range ops.Archives.ToAdd {
		fmt.Fprintf(out, "  + archive %s\n", a.Name)
	}
	for _, a := range ops.Archives.ToRemove {
		fmt.Fprintf(out, "  - archive %s%s\n", a.Name, forceNote(o))
	}
}

func forceNote(o renderOpts) string {
	if o.force {
		return ""
	}
	return " (requires --force)"
}

func folderDetail(f engine.FolderChange, o renderOpts) string {
	var parts []string
	for _, fn := range f.AddFiles {
		parts = append(parts, "+"+fn)
	}
	for _, up := range f.UpdateFiles {
		parts = append(parts, "~"+up.Name)
	}
	for _, ref := range f.RemoveFiles {
		parts = append(parts, "-"+ref.Name)
	}
	s := strings.Join(parts, " ")
	if !o.force && len(f.RemoveFiles) > 0 {
		s += "; removals require --force"
	}
	return s
}

// diffLines renders a line-level diff between two texts with +/-
// prefixes, unchanged lines indented to match.
func diffLines(oldText, newText string) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var sb strings.Builder
	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		}
		for _, line := range strings.Split(strings.TrimRight(d.Text, "\n"), "\n") {
			sb.WriteString(prefix)
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func indent(s, prefix string) string {
	if s == "" {
		return s
	}
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n") + "\n"
}

func sortedNames[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// --- JSON view ------------------------------------------------------------

type opJSON struct {
	Op     string `json:"op"` // add, remove, update
	Kind   string `json:"kind"`
	Name   string `json:"name"`
	Detail string `json:"detail,omitempty"`
}

type agentJSON struct {
	Name       string   `json:"name"`
	Entry      string   `json:"entry,omitempty"`
	Action     string   `json:"action"`
	Operations []opJSON `json:"operations,omitempty"`
	Error      string   `json:"error,omitempty"`
}

type resultView struct {
	DryRun    bool        `json:"dryRun"`
	Resources []opJSON    `json:"resources,omitempty"`
	Agents    []agentJSON `json:"agents"`
	Warnings  []string    `json:"warnings,omitempty"`
}

// resultJSON shapes a fleet result for --json output.
func resultJSON(res *engine.FleetResult, dryRun bool) resultView {
	view := resultView{DryRun: dryRun, Warnings: res.Warnings}

	if snap := res.Fleet; snap != nil {
		for _, n := range snap.CreatedTools {
			view.Resources = append(view.Resources, opJSON{Op: "add", Kind: "tool", Name: n})
		}
		for _, n := range sortedNames(snap.ReplacedTools) {
			view.Resources = append(view.Resources, opJSON{Op: "update", Kind: "tool", Name: n, Detail: "source changed"})
		}
		for _, n := range snap.CreatedBlocks {
			view.Resources = append(view.Resources, opJSON{Op: "add", Kind: "block", Name: n})
		}
		for _, n := range snap.RewrittenBlocks {
			view.Resources = append(view.Resources, opJSON{Op: "update", Kind: "block", Name: n, Detail: "rewritten"})
		}
		for _, n := range sortedNames(snap.ReplacedBlocks) {
			view.Resources = append(view.Resources, opJSON{Op: "update", Kind: "block", Name: n, Detail: "replaced by " + snap.ReplacedBlocks[n].NewLabel})
		}
		for _, n := range snap.CreatedFolders {
			view.Resources = append(view.Resources, opJSON{Op: "add", Kind: "folder", Name: n})
		}
		for _, n := range snap.CreatedArchives {
			view.Resources = append(view.Resources, opJSON{Op: "add", Kind: "archive", Name: n})
		}
	}

	for _, a := range res.Agents {
		aj := agentJSON{Name: a.Name, Entry: a.Entry, Action: a.Action}
		if a.Err != nil {
			aj.Error = a.Err.Error()
		}
		if a.Ops != nil {
			aj.Operations = opsJSON(a.Ops)
		}
		view.Agents = append(view.Agents, aj)
	}
	return view
}

func opsJSON(ops *engine.UpdateOperations) []opJSON {
	var out []opJSON
	for _, f := range ops.Fields {
		out = append(out, opJSON{Op: "update", Kind: "field", Name: f.Field, Detail: f.From + " -> " + f.To})
	}
	for _, t := range ops.Tools.ToAdd {
		out = append(out, opJSON{Op: "add", Kind: "tool", Name: t.Name})
	}
	for _, t := range ops.Tools.ToUpdate {
		out = append(out, opJSON{Op: "update", Kind: "tool", Name: t.Name, Detail: t.Reason})
	}
	for _, t := range ops.Tools.ToRemove {
		out = append(out, opJSON{Op: "remove", Kind: "tool", Name: t.Name})
	}
	for _, b := range ops.Blocks.ToAdd {
		out = append(out, opJSON{Op: "add", Kind: "block", Name: b.Label})
	}
	for _, b := range ops.Blocks.ToUpdate {
		out = append(out, opJSON{Op: "update", Kind: "block", Name: b.Label, Detail: string(b.Strategy)})
	}
	for _, b := range ops.Blocks.ToRemove {
		out = append(out, opJSON{Op: "remove", Kind: "block", Name: b.Label})
	}
	for _, f := range ops.Folders.ToAdd {
		out = append(out, opJSON{Op: "add", Kind: "folder", Name: f.Name, Detail: fmt.Sprintf("%d files", len(f.AddFiles))})
	}
	for _, f := range ops.Folders.ToUpdate {
		out = append(out, opJSON{Op: "update", Kind: "folder", Name: f.Name, Detail: folderDetail(f, renderOpts{force: true})})
	}
	for _, f := range ops.Folders.ToRemove {
		out = append(out, opJSON{Op: "remove", Kind: "folder", Name: f.Name})
	}
	for _, a := range ops.Archives.ToAdd {
		out = append(out, opJSON{Op: "add", Kind: "archive", Name: a.Name})
	}
	for _, a := range ops.Archives.ToRemove {
		out = append(out, opJSON{Op: "remove", Kind: "archive", Name: a.Name})
	}
	return out
}
