package lettatest

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/barysiuk/lettactl/internal/letta"
)

// Seed and inspect helpers. These bypass HTTP so tests can arrange
// state a client could not create directly (specific IDs, dedup file
// names, stale metadata) and assert on server state after a run.

// SeedAgent stores an agent directly. A missing ID is generated.
func (s *Server) SeedAgent(a letta.Agent) letta.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = "agent-" + uuid.NewString()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = s.now()
	}
	s.agents[a.ID] = &agentState{agent: a}
	return a
}

// SeedTool stores a tool directly.
func (s *Server) SeedTool(t letta.Tool) letta.Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = "tool-" + uuid.NewString()
	}
	s.tools[t.ID] = t
	return t
}

// SeedBlock stores a block directly.
func (s *Server) SeedBlock(b letta.Block) letta.Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = "block-" + uuid.NewString()
	}
	s.blocks[b.ID] = b
	return b
}

// SeedFolder stores a folder directly.
func (s *Server) SeedFolder(f letta.Folder) letta.Folder {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == "" {
		f.ID = "folder-" + uuid.NewString()
	}
	s.folders[f.ID] = &folderState{folder: f}
	return f
}

// SeedFolderFile stores a file under a folder with the exact given
// name, bypassing dedup renaming.
func (s *Server) SeedFolderFile(folderID, name, content string) (letta.FolderFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[folderID]
	if !ok {
		return letta.FolderFile{}, fmt.Errorf("no folder %s", folderID)
	}
	meta := letta.FolderFile{
		ID:       "file-" + uuid.NewString(),
		FolderID: folderID,
		Name:     name,
		Size:     int64(len(content)),
	}
	f.files = append(f.files, storedFile{meta: meta, content: content})
	return meta, nil
}

// SeedArchive stores an archive directly.
func (s *Server) SeedArchive(a letta.Archive) letta.Archive {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = "archive-" + uuid.NewString()
	}
	s.archives[a.ID] = a
	return a
}

// Attach links a resource to an agent directly. Kind is one of
// "tools", "blocks", "folders", "archives".
func (s *Server) Attach(agentID, kind, resourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.agents[agentID]
	if !ok {
		return fmt.Errorf("no agent %s", agentID)
	}
	if !s.resourceExists(kind, resourceID) {
		return fmt.Errorf("no %s %s", kind, resourceID)
	}
	list := s.attachList(st, kind)
	for _, id := range *list {
		if id == resourceID {
			return nil
		}
	}
	*list = append(*list, resourceID)
	return nil
}

// BreakFolderListing makes file listings for the named folder fail
// with a 500 until restored.
func (s *Server) BreakFolderListing(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brokenFolders[name] = true
}

// RestoreFolderListing undoes BreakFolderListing.
func (s *Server) RestoreFolderListing(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.brokenFolders, name)
}

// SetClock overrides the server's clock, for deterministic UpdatedAt
// stamps.
func (s *Server) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// AgentByName returns a copy of the named agent's record, or false.
func (s *Server) AgentByName(name string) (letta.Agent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.agents {
		if st.agent.Name == name {
			return st.agent, true
		}
	}
	return letta.Agent{}, false
}

// AgentCount reports how many agents exist.
func (s *Server) AgentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.agents)
}

// AttachedIDs returns the attachment ID list of one kind for an agent.
func (s *Server) AttachedIDs(agentID, kind string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.agents[agentID]
	if !ok {
		return nil
	}
	list := s.attachList(st, kind)
	out := make([]string, len(*list))
	copy(out, *list)
	return out
}

// ToolByID returns a tool by ID.
func (s *Server) ToolByID(id string) (letta.Tool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tools[id]
	return t, ok
}

// BlockByID returns a block by ID.
func (s *Server) BlockByID(id string) (letta.Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[id]
	return b, ok
}

// FolderFiles lists the stored file names for a folder, in upload
// order, ignoring any BreakFolderListing override.
func (s *Server) FolderFiles(folderID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[folderID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(f.files))
	for _, sf := range f.files {
		out = append(out, sf.meta.Name)
	}
	return out
}

// FileContent returns the stored content of a file by folder and file
// name.
func (s *Server) FileContent(folderID, name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[folderID]
	if !ok {
		return "", false
	}
	for _, sf := range f.files {
		if sf.meta.Name == name {
			return sf.content, true
		}
	}
	return "", false
}
