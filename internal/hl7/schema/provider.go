package schema

import (
	"embed"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

//go:embed schemas/*.json
var bundled embed.FS

// Provider resolves a schema URI to its raw bytes. Adding a new provider
// kind never requires translator changes.
type Provider interface {
	ProviderType() string
	Open(uri string) (io.ReadCloser, error)
}

// BundledProvider serves the schemas compiled into the binary.
type BundledProvider struct{}

func (BundledProvider) ProviderType() string { return "bundled" }

func (BundledProvider) Open(uri string) (io.ReadCloser, error) {
	name := strings.TrimPrefix(uri, "bundled://")
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}
	f, err := bundled.Open("schemas/" + name)
	if err != nil {
		return nil, fmt.Errorf("no bundled schema %q: %w", name, err)
	}
	return f, nil
}

// Names lists the bundled schema names without extension.
func (BundledProvider) Names() []string {
	entries, err := fs.ReadDir(bundled, "schemas")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	return names
}

// FileProvider serves schemas from a directory tree, for deployments that
// override the bundled tables without rebuilding.
type FileProvider struct {
	Root string
}

func (FileProvider) ProviderType() string { return "file" }

func (p FileProvider) Open(uri string) (io.ReadCloser, error) {
	name := strings.TrimPrefix(uri, "file://")
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}
	path := filepath.Join(p.Root, filepath.FromSlash(name))
	rel, err := filepath.Rel(p.Root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("schema path %q escapes root", uri)
	}
	return os.Open(path)
}
