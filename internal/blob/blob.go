// Package blob fetches manifest-referenced content by reference
// string. References are either plain paths (resolved against a base
// directory) or scheme-prefixed URLs; backends register per scheme so
// new origins can be plugged in without touching callers.
package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store resolves a content reference to its bytes.
type Store interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// FetchFunc adapts a function to the Store interface.
type FetchFunc func(ctx context.Context, ref string) ([]byte, error)

// Fetch implements Store.
func (f FetchFunc) Fetch(ctx context.Context, ref string) ([]byte, error) {
	return f(ctx, ref)
}

// Default dispatches on the reference's scheme. Out of the box it
// handles bare paths, file://, http:// and https://.
type Default struct {
	// BaseDir anchors relative paths; empty means the process working
	// directory.
	BaseDir string

	// HTTP is used for http(s) refs; nil gets a 30s-timeout client.
	HTTP *http.Client

	schemes map[string]FetchFunc
}

var _ Store = (*Default)(nil)

// NewDefault builds a Default store rooted at baseDir.
func NewDefault(baseDir string) *Default {
	return &Default{BaseDir: baseDir}
}

// Register installs a fetcher for a scheme (e.g. "s3"). Registering an
// already-handled scheme replaces the built-in behavior.
func (d *Default) Register(scheme string, fn FetchFunc) {
	if d.schemes == nil {
		d.schemes = make(map[string]FetchFunc)
	}
	d.schemes[strings.ToLower(scheme)] = fn
}

// Fetch resolves one reference.
func (d *Default) Fetch(ctx context.Context, ref string) ([]byte, error) {
	scheme, rest := splitScheme(ref)

	if fn, ok := d.schemes[scheme]; ok {
		return fn(ctx, ref)
	}

	switch scheme {
	case "":
		return d.fetchPath(rest)
	case "file":
		return d.fetchPath(strings.TrimPrefix(rest, "//"))
	case "http", "https":
		return d.fetchHTTP(ctx, ref)
	default:
		return nil, fmt.Errorf("unsupported content scheme %q in %q", scheme, ref)
	}
}

func (d *Default) fetchPath(p string) ([]byte, error) {
	if !filepath.IsAbs(p) && d.BaseDir != "" {
		p = filepath.Join(d.BaseDir, p)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}
	return data, nil
}

func (d *Default) fetchHTTP(ctx context.Context, url string) ([]byte, error) {
	client := d.HTTP
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	return data, nil
}

// splitScheme separates "scheme://rest" or "scheme:rest". Single-letter
// schemes are treated as Windows drive letters, i.e. plain paths.
func splitScheme(ref string) (scheme, rest string) {
	i := strings.Index(ref, ":")
	if i <= 1 {
		return "", ref
	}
	candidate := strings.ToLower(ref[:i])
	for _, r := range candidate {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '+' && r != '-' && r != '.' {
			return "", ref
		}
	}
	return candidate, ref[i+1:]
}
