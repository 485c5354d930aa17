package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/barysiuk/lettactl/internal/letta"
	"github.com/barysiuk/lettactl/internal/manifest"
)

// Options control one reconcile pass.
type Options struct {
	// DryRun computes and reports every operation without writing
	// anything to the server.
	DryRun bool
	// Force enables detach and delete operations. Without it they are
	// reported as skipped.
	Force bool
	// Only restricts the pass to the named manifest entries. Empty
	// means all.
	Only []string
}

// Agent-level outcomes of a reconcile pass.
const (
	ActionCreated   = "created"
	ActionUpdated   = "updated"
	ActionUnchanged = "unchanged"
	ActionFailed    = "failed"
)

// AgentResult is the outcome for one reconciled agent. Template
// entries produce one result per matched live agent.
type AgentResult struct {
	Name      string // live agent name
	Entry     string // manifest entry it came from
	Action    string
	Ops       *UpdateOperations // nil for creations
	Apply     *ApplyResult      // nil in dry runs
	Conflicts []Conflict
	Err       error
}

// Failed reports whether this agent's reconciliation hit any error,
// fatal or per-operation.
func (r AgentResult) Failed() bool {
	return r.Err != nil || (r.Apply != nil && !r.Apply.Ok())
}

// FleetResult is one whole pass over the manifest.
type FleetResult struct {
	// Fleet carries the prepared shared-resource state, including
	// fleet-level creations and rewrites.
	Fleet    *Snapshot
	Agents   []AgentResult
	Warnings []string
}

// Counts tallies results by outcome. Errors counts agents with any
// failed operation, including partially applied ones.
func (f *FleetResult) Counts() (created, updated, unchanged, errors int) {
	for _, a := range f.Agents {
		if a.Failed() {
			errors++
			if a.Action == ActionFailed {
				continue
			}
		}
		switch a.Action {
		case ActionCreated:
			created++
		case ActionUpdated:
			updated++
		case ActionUnchanged:
			unchanged++
		}
	}
	return
}

// Reconciler drives a full pass: shared resources first, then each
// manifest agent in order, strictly sequentially. One agent's failure
// never stops the rest.
type Reconciler struct {
	client   letta.Client
	logger   *slog.Logger
	engine   *Engine
	registry *VersionRegistry
}

func NewReconciler(client letta.Client, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		client:   client,
		logger:   logger,
		engine:   New(client, logger),
		registry: NewVersionRegistry(client, logger),
	}
}

// Registry exposes the version registry after a pass, for display.
func (r *Reconciler) Registry() *VersionRegistry {
	return r.registry
}

// Run reconciles the whole manifest. It returns an error only when the
// pass cannot start at all (unresolved manifest, unreachable server);
// per-agent and per-operation failures land in the result instead.
func (r *Reconciler) Run(ctx context.Context, cfg *manifest.Config, opts Options) (*FleetResult, error) {
	idx, err := BuildIndex(cfg)
	if err != nil {
		return nil, err
	}

	snap, err := r.prepareResources(ctx, cfg, idx, opts.DryRun)
	if err != nil {
		return nil, fmt.Errorf("preparing shared resources: %w", err)
	}

	if err := r.registry.LoadExisting(ctx); err != nil {
		return nil, err
	}

	result := &FleetResult{Fleet: snap}
	for _, spec := range cfg.Agents {
		if !selected(spec, opts.Only) {
			continue
		}
		if spec.Template {
			r.runTemplate(ctx, result, cfg, spec, snap, idx, opts)
			continue
		}
		result.Agents = append(result.Agents, r.reconcileAgent(ctx, cfg, spec, snap, idx, opts))
	}
	return result, nil
}

func selected(spec manifest.AgentSpec, only []string) bool {
	if len(only) == 0 {
		return true
	}
	for _, name := range only {
		if name == spec.Name || name == spec.DisplayName() || name == spec.Match {
			return true
		}
	}
	return false
}

// --- shared resource preparation ----------------------------------------

// prepareResources converges every fleet-level resource before any
// agent is touched: tools are re-registered when their source changed,
// shared blocks are rewritten or re-versioned, folders and archives
// are created if missing. The returned snapshot is the read-only view
// every per-agent diff works from. Dry runs plan the same snapshot
// without writing, using the DryRunID sentinel for would-be creations.
func (r *Reconciler) prepareResources(ctx context.Context, cfg *manifest.Config, idx *ContentIndex, dryRun bool) (*Snapshot, error) {
	snap := NewSnapshot()

	if err := r.prepareTools(ctx, cfg, idx, snap, dryRun); err != nil {
		return nil, err
	}
	if err := r.prepareBlocks(ctx, cfg, snap, dryRun); err != nil {
		return nil, err
	}
	if err := r.prepareFolders(ctx, cfg, snap, dryRun); err != nil {
		return nil, err
	}
	if err := r.prepareArchives(ctx, cfg, snap, dryRun); err != nil {
		return nil, err
	}
	return snap, nil
}

func (r *Reconciler) prepareTools(ctx context.Context, cfg *manifest.Config, idx *ContentIndex, snap *Snapshot, dryRun bool) error {
	if len(cfg.Tools) == 0 {
		return nil
	}
	live, err := r.client.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("listing tools: %w", err)
	}
	// Re-registration leaves old versions behind, so a name can occur
	// more than once; the last listed is the newest.
	latest := make(map[string]letta.Tool, len(live))
	for _, t := range live {
		latest[t.Name] = t
	}

	for _, spec := range cfg.Tools {
		cur, exists := latest[spec.Name]
		if exists && Hash(cur.SourceCode) == idx.ToolHashes[spec.Name] {
			snap.Tools[spec.Name] = cur
			continue
		}

		if dryRun {
			snap.Tools[spec.Name] = letta.Tool{ID: DryRunID, Name: spec.Name}
			if exists {
				snap.ReplacedTools[spec.Name] = ToolReplacement{OldID: cur.ID, NewID: DryRunID}
			} else {
				snap.CreatedTools = append(snap.CreatedTools, spec.Name)
			}
			continue
		}

		created, err := r.client.CreateTool(ctx, letta.ToolCreate{
			Name:        spec.Name,
			Description: spec.Description,
			SourceCode:  spec.Source,
			SourceType:  spec.SourceType,
		})
		if err != nil {
			return fmt.Errorf("registering tool %q: %w", spec.Name, err)
		}
		snap.Tools[spec.Name] = *created
		if exists {
			r.logger.Info("tool source changed, registered new version",
				"tool", spec.Name, "old", cur.ID, "new", created.ID)
			snap.ReplacedTools[spec.Name] = ToolReplacement{OldID: cur.ID, NewID: created.ID}
		} else {
			snap.CreatedTools = append(snap.CreatedTools, spec.Name)
		}
	}
	return nil
}

func (r *Reconciler) prepareBlocks(ctx context.Context, cfg *manifest.Config, snap *Snapshot, dryRun bool) error {
	if len(cfg.Blocks) == 0 {
		return nil
	}
	live, err := r.client.ListBlocks(ctx)
	if err != nil {
		return fmt.Errorf("listing blocks: %w", err)
	}
	latest := make(map[string]letta.Block, len(live))
	for _, b := range live {
		base, _ := ParseVersionedName(b.Label)
		if cur, ok := latest[base]; !ok || blockNewer(b, cur) {
			latest[base] = b
		}
	}

	for _, spec := range cfg.Blocks {
		cur, exists := latest[spec.Label]

		switch {
		case exists && Hash(cur.Value) == Hash(spec.Value):
			snap.Blocks[spec.Label] = cur

		case exists && spec.IsMutable():
			snap.RewrittenBlocks = append(snap.RewrittenBlocks, spec.Label)
			if dryRun {
				snap.Blocks[spec.Label] = cur
				continue
			}
			updated, err := r.client.UpdateBlockValue(ctx, cur.ID, spec.Value)
			if err != nil {
				return fmt.Errorf("rewriting block %q: %w", spec.Label, err)
			}
			r.logger.Info("shared block rewritten in place", "block", spec.Label)
			snap.Blocks[spec.Label] = *updated

		case exists: // immutable, changed: fork a versioned replacement
			label := FormatVersionedName(spec.Label, NewVersion(time.Now(), ShortHash(spec.Value)))
			if dryRun {
				snap.Blocks[spec.Label] = letta.Block{ID: DryRunID, Label: label, Value: spec.Value}
				snap.ReplacedBlocks[spec.Label] = BlockReplacement{OldID: cur.ID, NewID: DryRunID, NewLabel: label}
				continue
			}
			created, err := r.client.CreateBlock(ctx, letta.BlockCreate{
				Label: label, Value: spec.Value, Limit: spec.Limit, ReadOnly: true,
			})
			if err != nil {
				return fmt.Errorf("replacing block %q: %w", spec.Label, err)
			}
			r.logger.Info("immutable block re-versioned",
				"block", spec.Label, "label", label)
			snap.Blocks[spec.Label] = *created
			snap.ReplacedBlocks[spec.Label] = BlockReplacement{OldID: cur.ID, NewID: created.ID, NewLabel: label}

		default: // missing
			snap.CreatedBlocks = append(snap.CreatedBlocks, spec.Label)
			if dryRun {
				snap.Blocks[spec.Label] = letta.Block{ID: DryRunID, Label: spec.Label, Value: spec.Value}
				continue
			}
			created, err := r.client.CreateBlock(ctx, letta.BlockCreate{
				Label: spec.Label, Value: spec.Value, Limit: spec.Limit, ReadOnly: !spec.IsMutable(),
			})
			if err != nil {
				return fmt.Errorf("creating block %q: %w", spec.Label, err)
			}
			snap.Blocks[spec.Label] = *created
		}
	}
	return nil
}

// blockNewer orders same-base blocks by version date in the label,
// unversioned labels oldest.
func blockNewer(a, b letta.Block) bool {
	_, av := ParseVersionedName(a.Label)
	_, bv := ParseVersionedName(b.Label)
	return versionDate(av) > versionDate(bv)
}

func (r *Reconciler) prepareFolders(ctx context.Context, cfg *manifest.Config, snap *Snapshot, dryRun bool) error {
	if len(cfg.Folders) == 0 {
		return nil
	}
	live, err := r.client.ListFolders(ctx)
	if err != nil {
		return fmt.Errorf("listing folders: %w", err)
	}
	byName := make(map[string]letta.Folder, len(live))
	for _, f := range live {
		byName[f.Name] = f
	}

	for _, spec := range cfg.Folders {
		if cur, ok := byName[spec.Name]; ok {
			snap.Folders[spec.Name] = cur
			continue
		}
		snap.CreatedFolders = append(snap.CreatedFolders, spec.Name)
		if dryRun {
			snap.Folders[spec.Name] = letta.Folder{ID: DryRunID, Name: spec.Name}
			continue
		}
		created, err := r.client.CreateFolder(ctx, spec.Name)
		if err != nil {
			return fmt.Errorf("creating folder %q: %w", spec.Name, err)
		}
		snap.Folders[spec.Name] = *created
	}
	return nil
}

func (r *Reconciler) prepareArchives(ctx context.Context, cfg *manifest.Config, snap *Snapshot, dryRun bool) error {
	if len(cfg.Archives) == 0 {
		return nil
	}
	live, err := r.client.ListArchives(ctx)
	if err != nil {
		return fmt.Errorf("listing archives: %w", err)
	}
	byName := make(map[string]letta.Archive, len(live))
	for _, a := range live {
		byName[a.Name] = a
	}

	for _, spec := range cfg.Archives {
		if cur, ok := byName[spec.Name]; ok {
			snap.Archives[spec.Name] = cur
			continue
		}
		snap.CreatedArchives = append(snap.CreatedArchives, spec.Name)
		if dryRun {
			snap.Archives[spec.Name] = letta.Archive{ID: DryRunID, Name: spec.Name}
			continue
		}
		created, err := r.client.CreateArchive(ctx, spec.Name, spec.Description)
		if err != nil {
			return fmt.Errorf("creating archive %q: %w", spec.Name, err)
		}
		snap.Archives[spec.Name] = *created
	}
	return nil
}

// --- per-agent reconciliation -------------------------------------------

func (r *Reconciler) reconcileAgent(
	ctx context.Context,
	cfg *manifest.Config,
	spec manifest.AgentSpec,
	snap *Snapshot,
	idx *ContentIndex,
	opts Options,
) AgentResult {
	res := AgentResult{Name: spec.Name, Entry: spec.Name}

	hashes := idx.AgentHashes(spec)
	resolution := r.registry.Resolve(spec.Name, hashes)
	res.Name = resolution.Name

	if resolution.Create {
		if resolution.Existing != nil {
			r.logger.Info("system prompt changed, forking new agent version",
				"base", spec.Name, "old", resolution.Existing.Name, "new", resolution.Name)
		}
		if opts.DryRun {
			res.Action = ActionCreated
			return res
		}
		agent, applyRes, err := r.createAgent(ctx, cfg, spec, resolution.Name, idx, snap)
		if err != nil {
			res.Action = ActionFailed
			res.Err = err
			return res
		}
		res.Action = ActionCreated
		res.Apply = applyRes
		r.registry.Update(AgentVersion{
			ID: agent.ID, Name: agent.Name, Hashes: hashes, UpdatedAt: time.Now(),
		})
		return res
	}

	existing := resolution.Existing
	ops, err := r.engine.GenerateUpdateOperations(ctx, existing.ID, spec, snap, idx, opts.DryRun)
	if err != nil {
		res.Action = ActionFailed
		res.Err = err
		return res
	}
	res.Ops = ops

	if ops.Empty() {
		res.Action = ActionUnchanged
	} else {
		res.Action = ActionUpdated
	}
	if opts.DryRun {
		return res
	}

	if !ops.Empty() {
		res.Apply = r.engine.Apply(ctx, ops, cfg, spec, opts.Force)
	}
	if err := r.recordFolderHashes(ctx, existing.ID, spec, idx); err != nil {
		r.logger.Warn("recording folder hashes failed", "agent", res.Name, "error", err)
	}
	r.registry.Update(AgentVersion{
		ID: existing.ID, Name: existing.Name, Hashes: hashes, UpdatedAt: time.Now(),
	})
	return res
}

// createAgent creates the agent with its scalar fields and metadata,
// then converges attachments through the ordinary diff-and-apply path.
// On a bare agent every resulting operation is additive.
func (r *Reconciler) createAgent(
	ctx context.Context,
	cfg *manifest.Config,
	spec manifest.AgentSpec,
	name string,
	idx *ContentIndex,
	snap *Snapshot,
) (*letta.Agent, *ApplyResult, error) {
	meta := map[string]string{}
	if len(spec.Folders) > 0 {
		raw, err := json.Marshal(folderHashRecord(spec, idx))
		if err != nil {
			return nil, nil, fmt.Errorf("encoding folder hashes: %w", err)
		}
		meta[MetaFolderFileHashes] = string(raw)
	}

	create := letta.AgentCreate{
		Name:            name,
		SystemPrompt:    spec.SystemPrompt,
		Description:     spec.Description,
		Model:           spec.Model,
		Embedding:       spec.Embedding,
		EmbeddingConfig: spec.EmbeddingConfig,
		ContextWindow:   spec.ContextWindow,
		Metadata:        meta,
	}
	if spec.Reasoning != nil {
		create.Reasoning = *spec.Reasoning
	}

	agent, err := r.client.CreateAgent(ctx, create)
	if err != nil {
		return nil, nil, fmt.Errorf("creating agent %q: %w", name, err)
	}
	r.logger.Info("agent created", "name", name, "id", agent.ID)

	ops, err := r.engine.GenerateUpdateOperations(ctx, agent.ID, spec, snap, idx, false)
	if err != nil {
		return agent, nil, fmt.Errorf("planning attachments for %q: %w", name, err)
	}
	applyRes := r.engine.Apply(ctx, ops, cfg, spec, false)
	return agent, applyRes, nil
}

// --- template mode -------------------------------------------------------

func (r *Reconciler) runTemplate(
	ctx context.Context,
	result *FleetResult,
	cfg *manifest.Config,
	spec manifest.AgentSpec,
	snap *Snapshot,
	idx *ContentIndex,
	opts Options,
) {
	targets := r.registry.MatchBases(spec.Match)
	if len(targets) == 0 {
		warning := fmt.Sprintf("template %q matched no agents", spec.Match)
		r.logger.Warn("template matched no agents", "pattern", spec.Match)
		result.Warnings = append(result.Warnings, warning)
		return
	}
	for _, target := range targets {
		result.Agents = append(result.Agents,
			r.reconcileTemplateTarget(ctx, cfg, spec, target, snap, idx, opts))
	}
}

// reconcileTemplateTarget applies a template entry to one matched live
// agent with merge semantics: removals need provenance from the last
// apply, drift against that record is warned about, and a fresh
// provenance record is written afterwards.
func (r *Reconciler) reconcileTemplateTarget(
	ctx context.Context,
	cfg *manifest.Config,
	spec manifest.AgentSpec,
	target AgentVersion,
	snap *Snapshot,
	idx *ContentIndex,
	opts Options,
) AgentResult {
	res := AgentResult{Name: target.Name, Entry: spec.DisplayName()}

	st, err := r.engine.fetchAgentState(ctx, target.ID)
	if err != nil {
		res.Action = ActionFailed
		res.Err = err
		return res
	}
	ops, err := r.engine.planFromState(ctx, st, spec, snap, idx, opts.DryRun)
	if err != nil {
		res.Action = ActionFailed
		res.Err = err
		return res
	}

	prev := loadLastApplied(st.agent, r.logger)
	res.Conflicts = r.engine.mergeFilter(st, ops, prev)
	for _, c := range res.Conflicts {
		r.logger.Warn("content drifted since last apply, proceeding",
			"agent", target.Name, "class", c.Class, "name", c.Name, "reason", c.Reason)
	}
	res.Ops = ops

	if ops.Empty() {
		res.Action = ActionUnchanged
	} else {
		res.Action = ActionUpdated
	}
	if opts.DryRun {
		return res
	}

	if !ops.Empty() {
		res.Apply = r.engine.Apply(ctx, ops, cfg, spec, opts.Force)
	}
	if err := r.recordTemplateApply(ctx, st.agent, spec, idx); err != nil {
		r.logger.Warn("recording template provenance failed",
			"agent", target.Name, "error", err)
	}
	return res
}

// --- metadata bookkeeping ------------------------------------------------

// recordFolderHashes writes the per-folder file hash map after a
// non-template apply, skipping the write when the stored record is
// already current.
func (r *Reconciler) recordFolderHashes(ctx context.Context, agentID string, spec manifest.AgentSpec, idx *ContentIndex) error {
	if len(spec.Folders) == 0 {
		return nil
	}
	agent, err := r.client.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}

	merged := decodeFolderHashes(agent, r.logger)
	if merged == nil {
		merged = make(map[string]map[string]string)
	}
	want := folderHashRecord(spec, idx)
	upToDate := true
	for name, files := range want {
		if folderHashesDiffer(files, merged[name]) {
			upToDate = false
		}
		merged[name] = files
	}
	if upToDate {
		return nil
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	return r.writeMetadata(ctx, agent, map[string]string{MetaFolderFileHashes: string(raw)})
}

// recordTemplateApply writes both metadata keys after a template
// apply: the provenance record always reflects the current desired
// state, so it stays accurate even for no-op passes.
func (r *Reconciler) recordTemplateApply(ctx context.Context, agent *letta.Agent, spec manifest.AgentSpec, idx *ContentIndex) error {
	set := make(map[string]string, 2)

	rec, err := json.Marshal(buildLastApplied(spec, idx))
	if err != nil {
		return err
	}
	set[MetaLastApplied] = string(rec)

	if len(spec.Folders) > 0 {
		merged := decodeFolderHashes(agent, r.logger)
		if merged == nil {
			merged = make(map[string]map[string]string)
		}
		for name, files := range folderHashRecord(spec, idx) {
			merged[name] = files
		}
		raw, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		set[MetaFolderFileHashes] = string(raw)
	}

	if metadataCurrent(agent, set) {
		return nil
	}
	return r.writeMetadata(ctx, agent, set)
}

func metadataCurrent(agent *letta.Agent, set map[string]string) bool {
	for k, v := range set {
		if agent.Metadata[k] != v {
			return false
		}
	}
	return true
}

// writeMetadata merges our keys into the agent's existing metadata and
// writes the whole map back; the server replaces metadata wholesale,
// so the read-modify-write keeps operator-owned keys intact.
func (r *Reconciler) writeMetadata(ctx context.Context, agent *letta.Agent, set map[string]string) error {
	meta := make(map[string]string, len(agent.Metadata)+len(set))
	for k, v := range agent.Metadata {
		meta[k] = v
	}
	for k, v := range set {
		meta[k] = v
	}
	_, err := r.client.UpdateAgent(ctx, agent.ID, letta.AgentUpdate{Metadata: meta})
	if err != nil {
		return fmt.Errorf("writing agent metadata: %w", err)
	}
	return nil
}
