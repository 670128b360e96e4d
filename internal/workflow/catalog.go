// ABOUTME: Workflow catalog: named behavioral modes loaded from YAML definitions
// ABOUTME: The state machine treats workflow names as opaque tokens declared here

package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition describes one workflow: what the agent does on entry and
// what identity it requires.
type Definition struct {
	Name                   string   `yaml:"name"`
	RequiresAuth           bool     `yaml:"requires_auth"`
	InitialAction          string   `yaml:"initial_action"`
	RequiredIdentityFields []string `yaml:"required_identity_fields"`
	// AuthFallback is the workflow to jump to when a start targets this
	// workflow but the session is already authenticated.
	AuthFallback string `yaml:"auth_fallback"`
	SystemPrompt string `yaml:"system_prompt"`
}

// Catalog is a read-only lookup of workflow definitions.
type Catalog interface {
	Lookup(name string) (*Definition, bool)
	Names() []string
}

// DirCatalog loads workflow definitions from a directory of YAML files.
type DirCatalog struct {
	defs map[string]*Definition
}

// LoadDir reads every .yaml/.yml file in dir as one workflow definition.
func LoadDir(dir string) (*DirCatalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading workflow directory: %w", err)
	}

	defs := make(map[string]*Definition)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading workflow file %s: %w", entry.Name(), err)
		}

		var def Definition
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("parsing workflow file %s: %w", entry.Name(), err)
		}
		if def.Name == "" {
			return nil, fmt.Errorf("workflow file %s: name is required", entry.Name())
		}
		if _, exists := defs[def.Name]; exists {
			return nil, fmt.Errorf("duplicate workflow name %q in %s", def.Name, entry.Name())
		}
		defs[def.Name] = &def
	}

	if len(defs) == 0 {
		return nil, fmt.Errorf("no workflow definitions found in %s", dir)
	}

	// Fallback targets must themselves exist
	for name, def := range defs {
		if def.AuthFallback != "" {
			if _, ok := defs[def.AuthFallback]; !ok {
				return nil, fmt.Errorf("workflow %q declares unknown auth_fallback %q", name, def.AuthFallback)
			}
		}
	}

	return &DirCatalog{defs: defs}, nil
}

// Lookup returns the definition for a workflow name.
func (c *DirCatalog) Lookup(name string) (*Definition, bool) {
	def, ok := c.defs[name]
	return def, ok
}

// Names returns all declared workflow names, sorted.
func (c *DirCatalog) Names() []string {
	names := make([]string, 0, len(c.defs))
	for name := range c.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StaticCatalog is an in-memory catalog for tests.
type StaticCatalog struct {
	Defs map[string]*Definition
}

// Lookup returns the definition for a workflow name.
func (c *StaticCatalog) Lookup(name string) (*Definition, bool) {
	def, ok := c.Defs[name]
	return def, ok
}

// Names returns all declared workflow names, sorted.
func (c *StaticCatalog) Names() []string {
	names := make([]string, 0, len(c.Defs))
	for name := range c.Defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
