package letta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is the slice of the server API the fleet tooling consumes.
// HTTPClient implements it against a real server; lettatest.Server
// backs it in tests.
type Client interface {
	// Agents.
	ListAgents(ctx context.Context) ([]Agent, error)
	GetAgent(ctx context.Context, id string) (*Agent, error)
	GetAgentByName(ctx context.Context, name string) (*Agent, error)
	CreateAgent(ctx context.Context, req AgentCreate) (*Agent, error)
	UpdateAgent(ctx context.Context, id string, req AgentUpdate) (*Agent, error)
	DeleteAgent(ctx context.Context, id string) error

	// Per-agent attachments.
	ListAgentTools(ctx context.Context, agentID string) ([]Tool, error)
	AttachTool(ctx context.Context, agentID, toolID string) error
	DetachTool(ctx context.Context, agentID, toolID string) error
	ListAgentBlocks(ctx context.Context, agentID string) ([]Block, error)
	AttachBlock(ctx context.Context, agentID, blockID string) error
	DetachBlock(ctx context.Context, agentID, blockID string) error
	ListAgentFolders(ctx context.Context, agentID string) ([]Folder, error)
	AttachFolder(ctx context.Context, agentID, folderID string) error
	DetachFolder(ctx context.Context, agentID, folderID string) error
	ListAgentArchives(ctx context.Context, agentID string) ([]Archive, error)
	AttachArchive(ctx context.Context, agentID, archiveID string) error
	DetachArchive(ctx context.Context, agentID, archiveID string) error

	// Global registries.
	ListTools(ctx context.Context) ([]Tool, error)
	CreateTool(ctx context.Context, req ToolCreate) (*Tool, error)
	ListBlocks(ctx context.Context) ([]Block, error)
	CreateBlock(ctx context.Context, req BlockCreate) (*Block, error)
	UpdateBlockValue(ctx context.Context, blockID, value string) (*Block, error)
	ListFolders(ctx context.Context) ([]Folder, error)
	CreateFolder(ctx context.Context, name string) (*Folder, error)
	ListFolderFiles(ctx context.Context, folderID string) ([]FolderFile, error)
	UploadFile(ctx context.Context, folderID, name string, content []byte) (*FolderFile, error)
	DeleteFile(ctx context.Context, folderID, fileID string) error
	ListArchives(ctx context.Context) ([]Archive, error)
	CreateArchive(ctx context.Context, name, description string) (*Archive, error)
}

// ClientOptions configures an HTTPClient.
type ClientOptions struct {
	BaseURL string        // e.g. "https://api.letta.example"
	Token   string        // bearer token; empty for unauthenticated servers
	Timeout time.Duration // per-request; defaults to 30s
	Logger  *slog.Logger  // defaults to slog.Default()
}

// HTTPClient talks JSON over REST to a Letta-compatible server.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewClient builds an HTTPClient from options.
func NewClient(opts ClientOptions) *HTTPClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// do issues one JSON request and decodes the response into out (if
// non-nil). 404 maps to ErrNotFound; other non-2xx statuses become an
// *APIError carrying the server's error message.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: reading response: %w", method, path, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("request failed",
			"method", method, "path", path, "status", resp.StatusCode)
		return fmt.Errorf("%s %s: %w", method, path,
			&APIError{Status: resp.StatusCode, Message: serverMessage(data)})
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s %s: decoding response: %w", method, path, err)
		}
	}
	return nil
}

// serverMessage extracts {"error": "..."} from an error body, falling
// back to the trimmed raw body.
func serverMessage(data []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(data))
}

// ---------------------------------------------------------------------------
// Agents
// ---------------------------------------------------------------------------

func (c *HTTPClient) ListAgents(ctx context.Context) ([]Agent, error) {
	var agents []Agent
	if err := c.do(ctx, http.MethodGet, "/v1/agents", nil, &agents); err != nil {
		return nil, err
	}
	for i := range agents {
		if err := validAgent(&agents[i]); err != nil {
			return nil, fmt.Errorf("listing agents: %w", err)
		}
	}
	return agents, nil
}

func (c *HTTPClient) GetAgent(ctx context.Context, id string) (*Agent, error) {
	var a Agent
	if err := c.do(ctx, http.MethodGet, "/v1/agents/"+url.PathEscape(id), nil, &a); err != nil {
		return nil, err
	}
	if err := validAgent(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *HTTPClient) GetAgentByName(ctx context.Context, name string) (*Agent, error) {
	var agents []Agent
	path := "/v1/agents?name=" + url.QueryEscape(name)
	if err := c.do(ctx, http.MethodGet, path, nil, &agents); err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("agent %q: %w", name, ErrNotFound)
	}
	if err := validAgent(&agents[0]); err != nil {
		return nil, err
	}
	return &agents[0], nil
}

func (c *HTTPClient) CreateAgent(ctx context.Context, req AgentCreate) (*Agent, error) {
	var a Agent
	if err := c.do(ctx, http.MethodPost, "/v1/agents", req, &a); err != nil {
		return nil, err
	}
	if err := validAgent(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *HTTPClient) UpdateAgent(ctx context.Context, id string, req AgentUpdate) (*Agent, error) {
	var a Agent
	if err := c.do(ctx, http.MethodPatch, "/v1/agents/"+url.PathEscape(id), req, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *HTTPClient) DeleteAgent(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/agents/"+url.PathEscape(id), nil, nil)
}

// ---------------------------------------------------------------------------
// Per-agent attachments
// ---------------------------------------------------------------------------

func (c *HTTPClient) ListAgentTools(ctx context.Context, agentID string) ([]Tool, error) {
	var tools []Tool
	path := "/v1/agents/" + url.PathEscape(agentID) + "/tools"
	if err := c.do(ctx, http.MethodGet, path, nil, &tools); err != nil {
		return nil, err
	}
	for i := range tools {
		if tools[i].ID == "" || tools[i].Name == "" {
			return nil, fmt.Errorf("listing agent tools: entry %d missing id or name", i)
		}
	}
	return tools, nil
}

func (c *HTTPClient) AttachTool(ctx context.Context, agentID, toolID string) error {
	path := "/v1/agents/" + url.PathEscape(agentID) + "/tools/attach/" + url.PathEscape(toolID)
	return c.do(ctx, http.MethodPatch, path, nil, nil)
}

func (c *HTTPClient) DetachTool(ctx context.Context, agentID, toolID string) error {
	path := "/v1/agents/" + url.PathEscape(agentID) + "/tools/detach/" + url.PathEscape(toolID)
	return c.do(ctx, http.MethodPatch, path, nil, nil)
}

func (c *HTTPClient) ListAgentBlocks(ctx context.Context, agentID string) ([]Block, error) {
	var blocks []Block
	path := "/v1/agents/" + url.PathEscape(agentID) + "/blocks"
	if err := c.do(ctx, http.MethodGet, path, nil, &blocks); err != nil {
		return nil, err
	}
	for i := range blocks {
		if blocks[i].ID == "" || blocks[i].Label == "" {
			return nil, fmt.Errorf("listing agent blocks: entry %d missing id or label", i)
		}
	}
	return blocks, nil
}

func (c *HTTPClient) AttachBlock(ctx context.Context, agentID, blockID string) error {
	path := "/v1/agents/" + url.PathEscape(agentID) + "/blocks/attach/" + url.PathEscape(blockID)
	return c.do(ctx, http.MethodPatch, path, nil, nil)
}

func (c *HTTPClient) DetachBlock(ctx context.Context, agentID, blockID string) error {
	path := "/v1/agents/" + url.PathEscape(agentID) + "/blocks/detach/" + url.PathEscape(blockID)
	return c.do(ctx, http.MethodPatch, path, nil, nil)
}

func (c *HTTPClient) ListAgentFolders(ctx context.Context, agentID string) ([]Folder, error) {
	var folders []Folder
	path := "/v1/agents/" + url.PathEscape(agentID) + "/folders"
	if err := c.do(ctx, http.MethodGet, path, nil, &folders); err != nil {
		return nil, err
	}
	return folders, nil
}

func (c *HTTPClient) AttachFolder(ctx context.Context, agentID, folderID string) error {
	path := "/v1/agents/" + url.PathEscape(agentID) + "/folders/attach/" + url.PathEscape(folderID)
	return c.do(ctx, http.MethodPatch, path, nil, nil)
}

func (c *HTTPClient) DetachFolder(ctx context.Context, agentID, folderID string) error {
	path := "/v1/agents/" + url.PathEscape(agentID) + "/folders/detach/" + url.PathEscape(folderID)
	return c.do(ctx, http.MethodPatch, path, nil, nil)
}

func (c *HTTPClient) ListAgentArchives(ctx context.Context, agentID string) ([]Archive, error) {
	var archives []Archive
	path := "/v1/agents/" + url.PathEscape(agentID) + "/archives"
	if err := c.do(ctx, http.MethodGet, path, nil, &archives); err != nil {
		return nil, err
	}
	return archives, nil
}

func (c *HTTPClient) AttachArchive(ctx context.Context, agentID, archiveID string) error {
	path := "/v1/agents/" + url.PathEscape(agentID) + "/archives/attach/" + url.PathEscape(archiveID)
	return c.do(ctx, http.MethodPatch, path, nil, nil)
}

func (c *HTTPClient) DetachArchive(ctx context.Context, agentID, archiveID string) error {
	path := "/v1/agents/" + url.PathEscape(agentID) + "/archives/detach/" + url.PathEscape(archiveID)
	return c.do(ctx, http.MethodPatch, path, nil, nil)
}

// ---------------------------------------------------------------------------
// Global registries
// ---------------------------------------------------------------------------

func (c *HTTPClient) ListTools(ctx context.Context) ([]Tool, error) {
	var tools []Tool
	if err := c.do(ctx, http.MethodGet, "/v1/tools", nil, &tools); err != nil {
		return nil, err
	}
	return tools, nil
}

func (c *HTTPClient) CreateTool(ctx context.Context, req ToolCreate) (*Tool, error) {
	var t Tool
	if err := c.do(ctx, http.MethodPost, "/v1/tools", req, &t); err != nil {
		return nil, err
	}
	if t.ID == "" {
		return nil, fmt.Errorf("creating tool %q: server returned no id", req.Name)
	}
	return &t, nil
}

func (c *HTTPClient) ListBlocks(ctx context.Context) ([]Block, error) {
	var blocks []Block
	if err := c.do(ctx, http.MethodGet, "/v1/blocks", nil, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

func (c *HTTPClient) CreateBlock(ctx context.Context, req BlockCreate) (*Block, error) {
	var b Block
	if err := c.do(ctx, http.MethodPost, "/v1/blocks", req, &b); err != nil {
		return nil, err
	}
	if b.ID == "" {
		return nil, fmt.Errorf("creating block %q: server returned no id", req.Label)
	}
	return &b, nil
}

func (c *HTTPClient) UpdateBlockValue(ctx context.Context, blockID, value string) (*Block, error) {
	var b Block
	body := map[string]string{"value": value}
	if err := c.do(ctx, http.MethodPatch, "/v1/blocks/"+url.PathEscape(blockID), body, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *HTTPClient) ListFolders(ctx context.Context) ([]Folder, error) {
	var folders []Folder
	if err := c.do(ctx, http.MethodGet, "/v1/folders", nil, &folders); err != nil {
		return nil, err
	}
	return folders, nil
}

func (c *HTTPClient) CreateFolder(ctx context.Context, name string) (*Folder, error) {
	var f Folder
	body := map[string]string{"name": name}
	if err := c.do(ctx, http.MethodPost, "/v1/folders", body, &f); err != nil {
		return nil, err
	}
	if f.ID == "" {
		return nil, fmt.Errorf("creating folder %q: server returned no id", name)
	}
	return &f, nil
}

func (c *HTTPClient) ListFolderFiles(ctx context.Context, folderID string) ([]FolderFile, error) {
	var files []FolderFile
	path := "/v1/folders/" + url.PathEscape(folderID) + "/files"
	if err := c.do(ctx, http.MethodGet, path, nil, &files); err != nil {
		return nil, err
	}
	return files, nil
}

func (c *HTTPClient) UploadFile(ctx context.Context, folderID, name string, content []byte) (*FolderFile, error) {
	var f FolderFile
	path := "/v1/folders/" + url.PathEscape(folderID) + "/upload"
	body := map[string]string{"name": name, "content": string(content)}
	if err := c.do(ctx, http.MethodPost, path, body, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *HTTPClient) DeleteFile(ctx context.Context, folderID, fileID string) error {
	path := "/v1/folders/" + url.PathEscape(folderID) + "/files/" + url.PathEscape(fileID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *HTTPClient) ListArchives(ctx context.Context) ([]Archive, error) {
	var archives []Archive
	if err := c.do(ctx, http.MethodGet, "/v1/archives", nil, &archives); err != nil {
		return nil, err
	}
	return archives, nil
}

func (c *HTTPClient) CreateArchive(ctx context.Context, name, description string) (*Archive, error) {
	var a Archive
	body := map[string]string{"name": name, "description": description}
	if err := c.do(ctx, http.MethodPost, "/v1/archives", body, &a); err != nil {
		return nil, err
	}
	if a.ID == "" {
		return nil, fmt.Errorf("creating archive %q: server returned no id", name)
	}
	return &a, nil
}

// validAgent rejects agent payloads missing the fields everything
// downstream keys on.
func validAgent(a *Agent) error {
	if a.ID == "" {
		return fmt.Errorf("agent %q missing id", a.Name)
	}
	if a.Name == "" {
		return fmt.Errorf("agent %s missing name", a.ID)
	}
	return nil
}
