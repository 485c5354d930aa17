// Package lettatest runs an in-memory Letta-compatible server for
// tests. It speaks the same REST surface as a real server, keeps all
// state in maps behind a mutex, and exposes direct seed/inspect
// helpers so tests can arrange out-of-band state (manual attachments,
// dedup-suffixed files) without going through the client.
package lettatest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/barysiuk/lettactl/internal/letta"
)

// Server is one in-memory platform instance.
type Server struct {
	mu sync.Mutex
	hs *httptest.Server

	agents   map[string]*agentState
	tools    map[string]letta.Tool
	blocks   map[string]letta.Block
	folders  map[string]*folderState
	archives map[string]letta.Archive

	// Folder names whose file listing returns 500, for exercising
	// the conservative-skip path.
	brokenFolders map[string]bool

	now func() time.Time
}

type agentState struct {
	agent    letta.Agent
	tools    []string // attached tool IDs, in attach order
	blocks   []string
	folders  []string
	archives []string
}

type folderState struct {
	folder letta.Folder
	files  []storedFile
}

type storedFile struct {
	meta    letta.FolderFile
	content string
}

// New starts a server. Callers must Close it.
func New() *Server {
	s := &Server{
		agents:        make(map[string]*agentState),
		tools:         make(map[string]letta.Tool),
		blocks:        make(map[string]letta.Block),
		folders:       make(map[string]*folderState),
		archives:      make(map[string]letta.Archive),
		brokenFolders: make(map[string]bool),
		now:           time.Now,
	}
	s.hs = httptest.NewServer(s.routes())
	return s
}

// Close shuts the server down.
func (s *Server) Close() { s.hs.Close() }

// URL is the server's base URL.
func (s *Server) URL() string { return s.hs.URL }

// Client returns an HTTP client pointed at this server.
func (s *Server) Client() *letta.HTTPClient {
	return letta.NewClient(letta.ClientOptions{BaseURL: s.hs.URL})
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/agents", s.handleListAgents)
	mux.HandleFunc("POST /v1/agents", s.handleCreateAgent)
	mux.HandleFunc("GET /v1/agents/{id}", s.handleGetAgent)
	mux.HandleFunc("PATCH /v1/agents/{id}", s.handleUpdateAgent)
	mux.HandleFunc("DELETE /v1/agents/{id}", s.handleDeleteAgent)

	mux.HandleFunc("GET /v1/agents/{id}/tools", s.handleAgentTools)
	mux.HandleFunc("PATCH /v1/agents/{id}/tools/attach/{rid}", s.attachHandler("tools"))
	mux.HandleFunc("PATCH /v1/agents/{id}/tools/detach/{rid}", s.detachHandler("tools"))
	mux.HandleFunc("GET /v1/agents/{id}/blocks", s.handleAgentBlocks)
	mux.HandleFunc("PATCH /v1/agents/{id}/blocks/attach/{rid}", s.attachHandler("blocks"))
	mux.HandleFunc("PATCH /v1/agents/{id}/blocks/detach/{rid}", s.detachHandler("blocks"))
	mux.HandleFunc("GET /v1/agents/{id}/folders", s.handleAgentFolders)
	mux.HandleFunc("PATCH /v1/agents/{id}/folders/attach/{rid}", s.attachHandler("folders"))
	mux.HandleFunc("PATCH /v1/agents/{id}/folders/detach/{rid}", s.detachHandler("folders"))
	mux.HandleFunc("GET /v1/agents/{id}/archives", s.handleAgentArchives)
	mux.HandleFunc("PATCH /v1/agents/{id}/archives/attach/{rid}", s.attachHandler("archives"))
	mux.HandleFunc("PATCH /v1/agents/{id}/archives/detach/{rid}", s.detachHandler("archives"))

	mux.HandleFunc("GET /v1/tools", s.handleListTools)
	mux.HandleFunc("POST /v1/tools", s.handleCreateTool)
	mux.HandleFunc("GET /v1/blocks", s.handleListBlocks)
	mux.HandleFunc("POST /v1/blocks", s.handleCreateBlock)
	mux.HandleFunc("PATCH /v1/blocks/{id}", s.handleUpdateBlock)
	mux.HandleFunc("GET /v1/folders", s.handleListFolders)
	mux.HandleFunc("POST /v1/folders", s.handleCreateFolder)
	mux.HandleFunc("GET /v1/folders/{id}/files", s.handleListFiles)
	mux.HandleFunc("POST /v1/folders/{id}/upload", s.handleUpload)
	mux.HandleFunc("DELETE /v1/folders/{id}/files/{fid}", s.handleDeleteFile)
	mux.HandleFunc("GET /v1/archives", s.handleListArchives)
	mux.HandleFunc("POST /v1/archives", s.handleCreateArchive)

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

// ---------------------------------------------------------------------------
// Agents
// ---------------------------------------------------------------------------

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nameFilter := r.URL.Query().Get("name")
	out := []letta.Agent{}
	for _, st := range s.agents {
		if nameFilter != "" && st.agent.Name != nameFilter {
			continue
		}
		out = append(out, st.agent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req letta.AgentCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "decoding agent: %v", err)
		return
	}
	if req.Name == "" {
		writeErr(w, http.StatusBadRequest, "agent name is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.agents {
		if st.agent.Name == req.Name {
			writeErr(w, http.StatusConflict, "agent %q already exists", req.Name)
			return
		}
	}
	a := letta.Agent{
		ID:              "agent-" + uuid.NewString(),
		Name:            req.Name,
		SystemPrompt:    req.SystemPrompt,
		Description:     req.Description,
		Model:           req.Model,
		Embedding:       req.Embedding,
		EmbeddingConfig: req.EmbeddingConfig,
		ContextWindow:   req.ContextWindow,
		Reasoning:       req.Reasoning,
		Metadata:        req.Metadata,
		UpdatedAt:       s.now(),
	}
	s.agents[a.ID] = &agentState{agent: a}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.agents[r.PathValue("id")]
	if !ok {
		writeErr(w, http.StatusNotFound, "no such agent")
		return
	}
	writeJSON(w, http.StatusOK, st.agent)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var req letta.AgentUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "decoding update: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.agents[r.PathValue("id")]
	if !ok {
		writeErr(w, http.StatusNotFound, "no such agent")
		return
	}
	if req.SystemPrompt != nil {
		st.agent.SystemPrompt = *req.SystemPrompt
	}
	if req.Description != nil {
		st.agent.Description = *req.Description
	}
	if req.Model != nil {
		st.agent.Model = *req.Model
	}
	if req.Embedding != nil {
		st.agent.Embedding = *req.Embedding
	}
	if req.EmbeddingConfig != nil {
		st.agent.EmbeddingConfig = req.EmbeddingConfig
	}
	if req.ContextWindow != nil {
		st.agent.ContextWindow = *req.ContextWindow
	}
	if req.Reasoning != nil {
		st.agent.Reasoning = *req.Reasoning
	}
	if req.Metadata != nil {
		st.agent.Metadata = req.Metadata
	}
	st.agent.UpdatedAt = s.now()
	writeJSON(w, http.StatusOK, st.agent)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := r.PathValue("id")
	if _, ok := s.agents[id]; !ok {
		writeErr(w, http.StatusNotFound, "no such agent")
		return
	}
	delete(s.agents, id)
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Attachments
// ---------------------------------------------------------------------------

func (s *Server) attachList(st *agentState, kind string) *[]string {
	switch kind {
	case "tools":
		return &st.tools
	case "blocks":
		return &st.blocks
	case "folders":
		return &st.folders
	default:
		return &st.archives
	}
}

func (s *Server) resourceExists(kind, id string) bool {
	switch kind {
	case "tools":
		_, ok := s.tools[id]
		return ok
	case "blocks":
		_, ok := s.blocks[id]
		return ok
	case "folders":
		_, ok := s.folders[id]
		return ok
	default:
		_, ok := s.archives[id]
		return ok
	}
}

func (s *Server) attachHandler(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		st, ok := s.agents[r.PathValue("id")]
		if !ok {
			writeErr(w, http.StatusNotFound, "no such agent")
			return
		}
		rid := r.PathValue("rid")
		if !s.resourceExists(kind, rid) {
			writeErr(w, http.StatusNotFound, "no such %s", strings.TrimSuffix(kind, "s"))
			return
		}
		list := s.attachList(st, kind)
		for _, id := range *list {
			if id == rid {
				writeJSON(w, http.StatusOK, map[string]string{"status": "already attached"})
				return
			}
		}
		*list = append(*list, rid)
		writeJSON(w, http.StatusOK, map[string]string{"status": "attached"})
	}
}

func (s *Server) detachHandler(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		st, ok := s.agents[r.PathValue("id")]
		if !ok {
			writeErr(w, http.StatusNotFound, "no such agent")
			return
		}
		rid := r.PathValue("rid")
		list := s.attachList(st, kind)
		kept := (*list)[:0]
		for _, id := range *list {
			if id != rid {
				kept = append(kept, id)
			}
		}
		*list = kept
		writeJSON(w, http.StatusOK, map[string]string{"status": "detached"})
	}
}

func (s *Server) handleAgentTools(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.agents[r.PathValue("id")]
	if !ok {
		writeErr(w, http.StatusNotFound, "no such agent")
		return
	}
	out := []letta.Tool{}
	for _, id := range st.tools {
		if t, ok := s.tools[id]; ok {
			out = append(out, t)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAgentBlocks(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.agents[r.PathValue("id")]
	if !ok {
		writeErr(w, http.StatusNotFound, "no such agent")
		return
	}
	out := []letta.Block{}
	for _, id := range st.blocks {
		if b, ok := s.blocks[id]; ok {
			out = append(out, b)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAgentFolders(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.agents[r.PathValue("id")]
	if !ok {
		writeErr(w, http.StatusNotFound, "no such agent")
		return
	}
	out := []letta.Folder{}
	for _, id := range st.folders {
		if f, ok := s.folders[id]; ok {
			out = append(out, f.folder)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAgentArchives(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.agents[r.PathValue("id")]
	if !ok {
		writeErr(w, http.StatusNotFound, "no such agent")
		return
	}
	out := []letta.Archive{}
	for _, id := range st.archives {
		if a, ok := s.archives[id]; ok {
			out = append(out, a)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// ---------------------------------------------------------------------------
// Global registries
// ---------------------------------------------------------------------------

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []letta.Tool{}
	for _, t := range s.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateTool(w http.ResponseWriter, r *http.Request) {
	var req letta.ToolCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "decoding tool: %v", err)
		return
	}
	if req.Name == "" {
		writeErr(w, http.StatusBadRequest, "tool name is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Registering an existing name creates a fresh tool version under a
	// new ID; the old ID stays resolvable for agents still holding it.
	t := letta.Tool{
		ID:          "tool-" + uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		SourceCode:  req.SourceCode,
		SourceType:  req.SourceType,
	}
	s.tools[t.ID] = t
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []letta.Block{}
	for _, b := range s.blocks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateBlock(w http.ResponseWriter, r *http.Request) {
	var req letta.BlockCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "decoding block: %v", err)
		return
	}
	if req.Label == "" {
		writeErr(w, http.StatusBadRequest, "block label is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b := letta.Block{
		ID:       "block-" + uuid.NewString(),
		Label:    req.Label,
		Value:    req.Value,
		Limit:    req.Limit,
		ReadOnly: req.ReadOnly,
	}
	s.blocks[b.ID] = b
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleUpdateBlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "decoding block update: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[r.PathValue("id")]
	if !ok {
		writeErr(w, http.StatusNotFound, "no such block")
		return
	}
	b.Value = req.Value
	s.blocks[b.ID] = b
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []letta.Folder{}
	for _, f := range s.folders {
		out = append(out, f.folder)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "decoding folder: %v", err)
		return
	}
	if req.Name == "" {
		writeErr(w, http.StatusBadRequest, "folder name is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.folders {
		if f.folder.Name == req.Name {
			writeErr(w, http.StatusConflict, "folder %q already exists", req.Name)
			return
		}
	}
	f := letta.Folder{ID: "folder-" + uuid.NewString(), Name: req.Name}
	s.folders[f.ID] = &folderState{folder: f}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[r.PathValue("id")]
	if !ok {
		writeErr(w, http.StatusNotFound, "no such folder")
		return
	}
	if s.brokenFolders[f.folder.Name] {
		writeErr(w, http.StatusInternalServerError, "file listing unavailable")
		return
	}
	out := []letta.FolderFile{}
	for _, sf := range f.files {
		out = append(out, sf.meta)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "decoding upload: %v", err)
		return
	}
	if req.Name == "" {
		writeErr(w, http.StatusBadRequest, "file name is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[r.PathValue("id")]
	if !ok {
		writeErr(w, http.StatusNotFound, "no such folder")
		return
	}
	meta := letta.FolderFile{
		ID:       "file-" + uuid.NewString(),
		FolderID: f.folder.ID,
		Name:     dedupName(req.Name, f),
		Size:     int64(len(req.Content)),
	}
	f.files = append(f.files, storedFile{meta: meta, content: req.Content})
	writeJSON(w, http.StatusOK, meta)
}

// dedupName mirrors the platform's duplicate-upload behavior: a second
// upload of "notes.md" is stored as "notes_(2).md", a third as
// "notes_(3).md", and so on.
func dedupName(name string, f *folderState) string {
	inUse := func(n string) bool {
		for _, sf := range f.files {
			if sf.meta.Name == n {
				return true
			}
		}
		return false
	}
	if !inUse(name) {
		return name
	}
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s_(%d)%s", base, n, ext)
		if !inUse(candidate) {
			return candidate
		}
	}
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[r.PathValue("id")]
	if !ok {
		writeErr(w, http.StatusNotFound, "no such folder")
		return
	}
	fid := r.PathValue("fid")
	for i, sf := range f.files {
		if sf.meta.ID == fid {
			f.files = append(f.files[:i], f.files[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeErr(w, http.StatusNotFound, "no such file")
}

func (s *Server) handleListArchives(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []letta.Archive{}
	for _, a := range s.archives {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateArchive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "decoding archive: %v", err)
		return
	}
	if req.Name == "" {
		writeErr(w, http.StatusBadRequest, "archive name is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a := letta.Archive{
		ID:          "archive-" + uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
	}
	s.archives[a.ID] = a
	writeJSON(w, http.StatusOK, a)
}
