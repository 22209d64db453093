// Package workspace creates workspaces from industry presets.
//
// A preset bundles the engines a workspace type relies on and the flows it
// starts with. Six presets ship embedded in the binary; more can be added by
// dropping YAML files into a presets directory.
package workspace

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"
	log "github.com/sirupsen/logrus"
)

//go:embed presets/*.yaml
var builtinFS embed.FS

// EnginePreset is an engine entry of a preset.
type EnginePreset struct {
	Provider      string `yaml:"provider" json:"provider"`
	Model         string `yaml:"model" json:"model"`
	Label         string `yaml:"label" json:"label"`
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	Priority      int    `yaml:"priority" json:"priority"`
	AllowFallback bool   `yaml:"allow_fallback" json:"allow_fallback"`
}

// FlowPreset is a flow entry of a preset.
type FlowPreset struct {
	Key         string         `yaml:"key" json:"key"`
	Label       string         `yaml:"label" json:"label"`
	Description string         `yaml:"description" json:"description"`
	Definition  map[string]any `yaml:"definition" json:"definition"`
}

// WidgetPreset is one widget of a page.
type WidgetPreset struct {
	Type string `yaml:"type" json:"type"`
	Key  string `yaml:"key" json:"key"`
}

// PagePreset is a cockpit page shown for workspaces of the preset's type.
type PagePreset struct {
	Key     string         `yaml:"key" json:"key"`
	Label   string         `yaml:"label" json:"label"`
	Widgets []WidgetPreset `yaml:"widgets" json:"widgets"`
}

// Preset describes one workspace type.
type Preset struct {
	Type    string         `yaml:"type" json:"type"`
	Label   string         `yaml:"label" json:"label"`
	Version int            `yaml:"version" json:"version"`
	Engines []EnginePreset `yaml:"engines" json:"engines"`
	Flows   []FlowPreset   `yaml:"flows" json:"flows"`
	Pages   []PagePreset   `yaml:"pages,omitempty" json:"pages,omitempty"`
}

// Page returns the page with key, if the preset defines one.
func (p *Preset) Page(key string) (*PagePreset, bool) {
	for i := range p.Pages {
		if p.Pages[i].Key == key {
			return &p.Pages[i], true
		}
	}
	return nil, false
}

// ParsePreset decodes a preset document. The raw mapping is returned as well
// so audits can inspect keys the typed form does not carry. A document with
// no type takes the name of its source file.
func ParsePreset(data []byte, source string) (*Preset, map[string]any, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("workspace: parse preset %s: %w", source, err)
	}
	if raw == nil {
		return nil, nil, fmt.Errorf("workspace: preset %s is empty", source)
	}
	var p Preset
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, nil, fmt.Errorf("workspace: decode preset %s: %w", source, err)
	}
	if p.Type == "" {
		p.Type = strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	}
	p.Type = strings.ToLower(strings.TrimSpace(p.Type))
	return &p, raw, nil
}

type catalogEntry struct {
	preset *Preset
	raw    map[string]any
}

// Catalog holds the known presets keyed by workspace type.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]catalogEntry
}

// NewCatalog returns a catalog holding the embedded presets.
func NewCatalog() (*Catalog, error) {
	c := &Catalog{entries: make(map[string]catalogEntry)}
	files, err := fs.Glob(builtinFS, "presets/*.yaml")
	if err != nil {
		return nil, err
	}
	for _, name := range files {
		data, err := builtinFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		if err := c.AddDocument(data, name); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// LoadCatalog returns the embedded presets plus any YAML files under dir.
// Files in dir override embedded presets of the same type.
func LoadCatalog(dir string) (*Catalog, error) {
	c, err := NewCatalog()
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return c, nil
	}
	n, err := c.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	log.Infof("Loaded %d workspace presets from %s", n, dir)
	return c, nil
}

// LoadDir adds every .yaml or .yml file directly under dir.
func (c *Catalog) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warnf("workspace presets directory does not exist: %s", dir)
			return 0, nil
		}
		return 0, fmt.Errorf("workspace: read presets dir: %w", err)
	}
	count := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return count, fmt.Errorf("workspace: read preset %s: %w", path, err)
		}
		if err := c.AddDocument(data, path); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// AddDocument parses and registers a preset document.
func (c *Catalog) AddDocument(data []byte, source string) error {
	p, raw, err := ParsePreset(data, source)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[p.Type] = catalogEntry{preset: p, raw: raw}
	c.mu.Unlock()
	return nil
}

// Get returns the preset for workspaceType.
func (c *Catalog) Get(workspaceType string) (*Preset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[strings.ToLower(strings.TrimSpace(workspaceType))]
	return e.preset, ok
}

// Types lists the known workspace types in sorted order.
func (c *Catalog) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	types := make([]string, 0, len(c.entries))
	for t := range c.entries {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// PresetMaps returns the raw preset documents keyed by type.
func (c *Catalog) PresetMaps() map[string]map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]map[string]any, len(c.entries))
	for t, e := range c.entries {
		out[t] = e.raw
	}
	return out
}
