package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/barysiuk/lettactl/internal/letta"
	"github.com/barysiuk/lettactl/internal/manifest"
)

// Engine computes and applies the operations that move one live agent
// to its desired configuration. It never deletes an agent and never
// touches conversation history.
type Engine struct {
	client letta.Client
	logger *slog.Logger
	now    func() time.Time
}

func New(client letta.Client, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{client: client, logger: logger, now: time.Now}
}

// agentState is everything the analyzers need about one live agent,
// fetched in a single batch up front.
type agentState struct {
	agent    *letta.Agent
	tools    []letta.Tool
	blocks   []letta.Block
	folders  []letta.Folder
	archives []letta.Archive
}

func (e *Engine) fetchAgentState(ctx context.Context, agentID string) (*agentState, error) {
	st := &agentState{}
	var err error

	if st.agent, err = e.client.GetAgent(ctx, agentID); err != nil {
		return nil, fmt.Errorf("fetching agent: %w", err)
	}
	if st.tools, err = e.client.ListAgentTools(ctx, agentID); err != nil {
		return nil, fmt.Errorf("listing agent tools: %w", err)
	}
	if st.blocks, err = e.client.ListAgentBlocks(ctx, agentID); err != nil {
		return nil, fmt.Errorf("listing agent blocks: %w", err)
	}
	if st.folders, err = e.client.ListAgentFolders(ctx, agentID); err != nil {
		return nil, fmt.Errorf("listing agent folders: %w", err)
	}
	if st.archives, err = e.client.ListAgentArchives(ctx, agentID); err != nil {
		return nil, fmt.Errorf("listing agent archives: %w", err)
	}
	return st, nil
}

// GenerateUpdateOperations diffs one live agent against its desired
// spec and returns the full operation set. Shared resources must
// already be prepared into snap. The only write it can perform is the
// lazy creation of missing agent-owned blocks (skipped in dry runs).
func (e *Engine) GenerateUpdateOperations(
	ctx context.Context,
	agentID string,
	spec manifest.AgentSpec,
	snap *Snapshot,
	idx *ContentIndex,
	dryRun bool,
) (*UpdateOperations, error) {
	st, err := e.fetchAgentState(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return e.planFromState(ctx, st, spec, snap, idx, dryRun)
}

// planFromState is GenerateUpdateOperations after the state fetch.
// Template reconciliation calls it directly so the same fetched state
// also feeds merge filtering and conflict detection.
func (e *Engine) planFromState(
	ctx context.Context,
	st *agentState,
	spec manifest.AgentSpec,
	snap *Snapshot,
	idx *ContentIndex,
	dryRun bool,
) (*UpdateOperations, error) {
	base, _ := ParseVersionedName(st.agent.Name)
	ops := &UpdateOperations{
		AgentID:               st.agent.ID,
		AgentName:             st.agent.Name,
		BaseName:              base,
		PreservesConversation: true,
	}

	var err error
	ops.Fields = diffFields(st.agent, spec)
	ops.Tools = diffTools(st.tools, spec.Tools, snap)
	if ops.Blocks, err = e.diffBlocks(ctx, st.blocks, spec, snap, dryRun); err != nil {
		return nil, err
	}
	ops.Folders = e.diffFolders(ctx, st.agent, st.folders, spec, snap, idx)
	ops.Archives = diffArchives(st.archives, spec.Archives, snap)

	ops.Recount()
	return ops, nil
}

// diffFields compares the scalar agent fields the manifest entry sets.
// Empty fields are unmanaged and never produce a change, so a sparse
// template cannot blank out live settings.
func diffFields(agent *letta.Agent, spec manifest.AgentSpec) []FieldChange {
	var changes []FieldChange
	add := func(field, from, to string) {
		changes = append(changes, FieldChange{Field: field, From: from, To: to})
	}

	if want := strings.TrimSpace(spec.SystemPrompt); want != "" {
		if got := strings.TrimSpace(agent.SystemPrompt); got != want {
			add("systemPrompt", agent.SystemPrompt, spec.SystemPrompt)
		}
	}
	if spec.Description != "" && agent.Description != spec.Description {
		add("description", agent.Description, spec.Description)
	}
	if spec.Model != "" && agent.Model != spec.Model {
		add("model", agent.Model, spec.Model)
	}
	if spec.Embedding != "" && agent.Embedding != spec.Embedding {
		add("embedding", agent.Embedding, spec.Embedding)
	}
	if len(spec.EmbeddingConfig) > 0 {
		got := canonicalJSON(agent.EmbeddingConfig)
		want := canonicalJSON(spec.EmbeddingConfig)
		if got != want {
			add("embeddingConfig", got, want)
		}
	}
	if spec.ContextWindow > 0 && agent.ContextWindow != spec.ContextWindow {
		add("contextWindow", strconv.Itoa(agent.ContextWindow), strconv.Itoa(spec.ContextWindow))
	}
	if spec.Reasoning != nil && agent.Reasoning != *spec.Reasoning {
		add("reasoning", strconv.FormatBool(agent.Reasoning), strconv.FormatBool(*spec.Reasoning))
	}
	return changes
}

// fieldsToUpdate converts field changes into the partial update sent
// to the platform.
func fieldsToUpdate(spec manifest.AgentSpec, changes []FieldChange) letta.AgentUpdate {
	var upd letta.AgentUpdate
	for _, c := range changes {
		switch c.Field {
		case "systemPrompt":
			upd.SystemPrompt = &spec.SystemPrompt
		case "description":
			upd.Description = &spec.Description
		case "model":
			upd.Model = &spec.Model
		case "embedding":
			upd.Embedding = &spec.Embedding
		case "embeddingConfig":
			upd.EmbeddingConfig = spec.EmbeddingConfig
		case "contextWindow":
			upd.ContextWindow = &spec.ContextWindow
		case "reasoning":
			upd.Reasoning = spec.Reasoning
		}
	}
	return upd
}
