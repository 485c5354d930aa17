package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/barysiuk/lettactl/internal/letta"
)

// VersionRegistry tracks the newest live agent per base name and
// decides, for each manifest agent, whether to create a fresh agent,
// update the existing one in place, or fork a new version.
type VersionRegistry struct {
	client  letta.Client
	logger  *slog.Logger
	now     func() time.Time
	entries map[string]AgentVersion // by base name, newest only
}

// NewVersionRegistry builds an empty registry. Call LoadExisting
// before resolving.
func NewVersionRegistry(client letta.Client, logger *slog.Logger) *VersionRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &VersionRegistry{
		client:  client,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]AgentVersion),
	}
}

// LoadExisting enumerates live agents once, hashing each composed
// system prompt and keeping the newest entry per base name. Agents
// whose name cannot be parsed are logged and skipped; the load
// continues.
func (r *VersionRegistry) LoadExisting(ctx context.Context) error {
	agents, err := r.client.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("listing agents: %w", err)
	}

	r.entries = make(map[string]AgentVersion, len(agents))
	for _, a := range agents {
		base, version := ParseVersionedName(a.Name)
		if base == "" {
			r.logger.Warn("skipping agent with unparsable name", "name", a.Name, "id", a.ID)
			continue
		}
		entry := AgentVersion{
			ID:        a.ID,
			Name:      a.Name,
			BaseName:  base,
			Version:   version,
			UpdatedAt: a.UpdatedAt,
			Hashes: ConfigHashes{
				SystemPrompt: Hash(strings.TrimSpace(a.SystemPrompt)),
			},
		}
		if cur, ok := r.entries[base]; !ok || newerVersion(entry, cur) {
			r.entries[base] = entry
		}
	}
	return nil
}

// Resolve decides the target agent for a base name given the desired
// config hashes:
//
//   - unknown base name → create under the bare base name
//   - known, same system-prompt hash → reuse and update in place
//   - known, different system-prompt hash → create a new versioned
//     agent; the old one keeps its name and conversation
//
// The versioned name is deterministic for a given prompt and day.
func (r *VersionRegistry) Resolve(baseName string, desired ConfigHashes) Resolution {
	existing, ok := r.entries[baseName]
	if !ok {
		return Resolution{Name: baseName, Create: true}
	}
	e := existing
	if existing.Hashes.SystemPrompt == desired.SystemPrompt {
		return Resolution{Name: existing.Name, Existing: &e}
	}
	version := NewVersion(r.now(), desired.SystemPrompt)
	return Resolution{
		Name:     FormatVersionedName(baseName, version),
		Create:   true,
		Existing: &e,
	}
}

// Update records an agent created or converged this pass so later
// lookups in the same run see it.
func (r *VersionRegistry) Update(v AgentVersion) {
	if v.BaseName == "" {
		v.BaseName, v.Version = ParseVersionedName(v.Name)
	}
	r.entries[v.BaseName] = v
}

// Lookup returns the newest known agent for a base name.
func (r *VersionRegistry) Lookup(baseName string) (AgentVersion, bool) {
	v, ok := r.entries[baseName]
	return v, ok
}

// MatchBases returns the entries whose base name matches the glob
// pattern, sorted by base name. Used by template application.
func (r *VersionRegistry) MatchBases(pattern string) []AgentVersion {
	var out []AgentVersion
	for base, v := range r.entries {
		if ok, _ := filepath.Match(pattern, base); ok {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BaseName < out[j].BaseName })
	return out
}

// All returns a sorted copy of every entry, for read-only display.
func (r *VersionRegistry) All() []AgentVersion {
	out := make([]AgentVersion, 0, len(r.entries))
	for _, v := range r.entries {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BaseName < out[j].BaseName })
	return out
}

// newerVersion orders two entries for the same base name: later
// version date wins, unversioned names sort oldest, ties fall back to
// the server's UpdatedAt stamp.
func newerVersion(a, b AgentVersion) bool {
	ad, bd := versionDate(a.Version), versionDate(b.Version)
	if ad != bd {
		return ad > bd
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}

func versionDate(v string) string {
	if i := strings.Index(v, "-"); i >= 0 {
		return v[:i]
	}
	return v
}
