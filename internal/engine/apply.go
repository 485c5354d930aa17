package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/barysiuk/lettactl/internal/manifest"
)

// SkippedOp is a destructive operation withheld because force was off.
type SkippedOp struct {
	Kind   string // e.g. "tool detach"
	Name   string
	Reason string
}

// FailedOp is an operation that was attempted and failed. The rest of
// the agent's plan still ran.
type FailedOp struct {
	Kind string
	Name string
	Err  error
}

// ApplyResult reports what one agent's plan actually did.
type ApplyResult struct {
	Applied int
	Skipped []SkippedOp
	Failed  []FailedOp
}

// Ok reports whether every attempted operation succeeded.
func (r *ApplyResult) Ok() bool {
	return len(r.Failed) == 0
}

// Apply executes an update plan in a fixed order: scalar fields first,
// then tools, blocks, folders with their files, archives. Additive and
// update entries always run; every detach or delete runs only under
// force and is surfaced as skipped otherwise. A failed operation is
// logged and recorded, and the remaining operations still run; the
// next reconcile pass recomputes whatever is left.
func (e *Engine) Apply(
	ctx context.Context,
	ops *UpdateOperations,
	cfg *manifest.Config,
	spec manifest.AgentSpec,
	force bool,
) *ApplyResult {
	res := &ApplyResult{}
	agentID := ops.AgentID

	// --- scalar fields, one batched call --------------------------------

	if len(ops.Fields) > 0 {
		upd := fieldsToUpdate(spec, ops.Fields)
		if _, err := e.client.UpdateAgent(ctx, agentID, upd); err != nil {
			e.fail(res, "field update", fieldNames(ops.Fields), err)
		} else {
			res.Applied += len(ops.Fields)
		}
	}

	// --- tools ----------------------------------------------------------

	for _, t := range ops.Tools.ToAdd {
		id := t.ID
		e.run(res, "tool attach", t.Name, func() error {
			return e.client.AttachTool(ctx, agentID, id)
		})
	}
	for _, t := range ops.Tools.ToUpdate {
		oldID, newID := t.ID, t.NewID
		e.run(res, "tool update", t.Name, func() error {
			if err := e.client.DetachTool(ctx, agentID, oldID); err != nil {
				return fmt.Errorf("detaching old version: %w", err)
			}
			return e.client.AttachTool(ctx, agentID, newID)
		})
	}
	for _, t := range ops.Tools.ToRemove {
		if !force {
			e.skip(res, "tool detach", t.Name)
			continue
		}
		id := t.ID
		e.run(res, "tool detach", t.Name, func() error {
			return e.client.DetachTool(ctx, agentID, id)
		})
	}

	// --- memory blocks --------------------------------------------------

	for _, b := range ops.Blocks.ToAdd {
		id := b.ID
		e.run(res, "block attach", b.Label, func() error {
			return e.client.AttachBlock(ctx, agentID, id)
		})
	}
	for _, b := range ops.Blocks.ToUpdate {
		b := b
		switch b.Strategy {
		case BlockReplaceOp:
			e.run(res, "block replace", b.Label, func() error {
				if err := e.client.DetachBlock(ctx, agentID, b.ID); err != nil {
					return fmt.Errorf("detaching old version: %w", err)
				}
				return e.client.AttachBlock(ctx, agentID, b.NewID)
			})
		case BlockRewriteOp:
			e.run(res, "block rewrite", b.Label, func() error {
				_, err := e.client.UpdateBlockValue(ctx, b.ID, b.Value)
				return err
			})
		}
	}
	for _, b := range ops.Blocks.ToRemove {
		if !force {
			e.skip(res, "block detach", b.Label)
			continue
		}
		id := b.ID
		e.run(res, "block detach", b.Label, func() error {
			return e.client.DetachBlock(ctx, agentID, id)
		})
	}

	// --- folders and files ----------------------------------------------

	for _, f := range ops.Folders.ToAdd {
		f := f
		e.run(res, "folder attach", f.Name, func() error {
			if err := e.client.AttachFolder(ctx, agentID, f.ID); err != nil {
				return err
			}
			for _, fn := range f.AddFiles {
				if err := e.uploadFile(ctx, cfg, f.Name, f.ID, fn); err != nil {
					return err
				}
			}
			return nil
		})
	}
	for _, f := range ops.Folders.ToUpdate {
		f := f
		for _, fn := range f.AddFiles {
			fn := fn
			e.run(res, "file add", f.Name+"/"+fn, func() error {
				return e.uploadFile(ctx, cfg, f.Name, f.ID, fn)
			})
		}
		for _, up := range f.UpdateFiles {
			up := up
			e.run(res, "file update", f.Name+"/"+up.Name, func() error {
				for _, stale := range up.Stale {
					if err := e.client.DeleteFile(ctx, f.ID, stale.ID); err != nil {
						return fmt.Errorf("removing stale %s: %w", stale.Name, err)
					}
				}
				return e.uploadFile(ctx, cfg, f.Name, f.ID, up.Name)
			})
		}
		for _, ref := range f.RemoveFiles {
			if !force {
				e.skip(res, "file remove", f.Name+"/"+ref.Name)
				continue
			}
			ref := ref
			e.run(res, "file remove", f.Name+"/"+ref.Name, func() error {
				return e.client.DeleteFile(ctx, f.ID, ref.ID)
			})
		}
	}
	for _, f := range ops.Folders.ToRemove {
		if !force {
			e.skip(res, "folder detach", f.Name)
			continue
		}
		id := f.ID
		e.run(res, "folder detach", f.Name, func() error {
			return e.client.DetachFolder(ctx, agentID, id)
		})
	}

	// --- archives -------------------------------------------------------

	for _, a := range ops.Archives.ToAdd {
		id := a.ID
		e.run(res, "archive attach", a.Name, func() error {
			return e.client.AttachArchive(ctx, agentID, id)
		})
	}
	for _, a := range ops.Archives.ToRemove {
		if !force {
			e.skip(res, "archive detach", a.Name)
			continue
		}
		id := a.ID
		e.run(res, "archive detach", a.Name, func() error {
			return e.client.DetachArchive(ctx, agentID, id)
		})
	}

	return res
}

func (e *Engine) run(res *ApplyResult, kind, name string, fn func() error) {
	if err := fn(); err != nil {
		e.fail(res, kind, name, err)
		return
	}
	res.Applied++
}

func (e *Engine) fail(res *ApplyResult, kind, name string, err error) {
	e.logger.Warn("operation failed, continuing",
		"op", kind, "name", name, "error", err)
	res.Failed = append(res.Failed, FailedOp{Kind: kind, Name: name, Err: err})
}

func (e *Engine) skip(res *ApplyResult, kind, name string) {
	res.Skipped = append(res.Skipped, SkippedOp{
		Kind: kind, Name: name, Reason: "requires --force",
	})
}

func (e *Engine) uploadFile(ctx context.Context, cfg *manifest.Config, folderName, folderID, fileName string) error {
	content, ok := folderFileContent(cfg, folderName, fileName)
	if !ok {
		return fmt.Errorf("manifest has no content for %s/%s", folderName, fileName)
	}
	_, err := e.client.UploadFile(ctx, folderID, fileName, content)
	return err
}

func folderFileContent(cfg *manifest.Config, folderName, fileName string) ([]byte, bool) {
	spec, ok := cfg.FolderByName(folderName)
	if !ok {
		return nil, false
	}
	for _, f := range spec.ResolvedFiles {
		if f.Name == fileName {
			return f.Content, true
		}
	}
	return nil, false
}

func fieldNames(changes []FieldChange) string {
	names := make([]string, len(changes))
	for i, c := range changes {
		names[i] = c.Field
	}
	return strings.Join(names, ",")
}
