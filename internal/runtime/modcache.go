package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"
)

// ModuleExtension is the file extension of importable source modules.
const ModuleExtension = ".risor"

// Origin says where a cached module was loaded from.
type Origin int

const (
	OriginUser Origin = iota
	OriginLibrary
	OriginBuiltin
	OriginHelper
)

func (o Origin) String() string {
	switch o {
	case OriginLibrary:
		return "library"
	case OriginBuiltin:
		return "builtin"
	case OriginHelper:
		return "helper"
	}
	return "user"
}

type cached struct {
	module *object.Module
	origin Origin
}

// ModuleCache is the process-wide registry of loaded modules and the Risor
// importer for injected code. Modules are resolved against the search path
// first, then the library paths, then Risor's builtin modules and
// registered helpers. Loaded modules stay cached until evicted.
type ModuleCache struct {
	mu          sync.Mutex
	modules     map[string]cached
	path        []string
	libraries   []string
	builtins    map[string]*object.Module
	helpers     map[string]func() *object.Module
	globalNames []string
}

// NewModuleCache returns an empty cache resolving library modules under
// libraryPaths.
func NewModuleCache(libraryPaths ...string) *ModuleCache {
	return &ModuleCache{
		modules:   make(map[string]cached),
		libraries: append([]string(nil), libraryPaths...),
		builtins:  make(map[string]*object.Module),
		helpers:   make(map[string]func() *object.Module),
	}
}

// RegisterBuiltin makes a Go-implemented module importable by name.
func (c *ModuleCache) RegisterBuiltin(name string, m *object.Module) {
	c.mu.Lock()
	c.builtins[name] = m
	c.mu.Unlock()
}

// RegisterHelper makes a run-scoped module importable by name. build is
// called on each load, so an evicted helper starts fresh.
func (c *ModuleCache) RegisterHelper(name string, build func() *object.Module) {
	c.mu.Lock()
	c.helpers[name] = build
	c.mu.Unlock()
}

// IsBuiltin reports whether name is a Go-implemented module.
func (c *ModuleCache) IsBuiltin(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.builtins[name]
	return ok
}

// LibraryPaths returns the directories holding library modules.
func (c *ModuleCache) LibraryPaths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.libraries...)
}

// Path returns the user module search path.
func (c *ModuleCache) Path() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.path...)
}

// SetPath replaces the user module search path.
func (c *ModuleCache) SetPath(path []string) {
	c.mu.Lock()
	c.path = append([]string(nil), path...)
	c.mu.Unlock()
}

func (c *ModuleCache) setGlobalNames(names []string) {
	c.mu.Lock()
	c.globalNames = names
	c.mu.Unlock()
}

// Names returns the names of all loaded modules, sorted.
func (c *ModuleCache) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.modules))
	for name := range c.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is loaded.
func (c *ModuleCache) Has(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.modules[name]
	return ok
}

// Origin returns where a loaded module came from.
func (c *ModuleCache) Origin(name string) (Origin, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.modules[name]
	return m.origin, ok
}

// Evict drops name from the cache so the next import reloads it. Unknown
// names are ignored.
func (c *ModuleCache) Evict(name string) {
	c.mu.Lock()
	delete(c.modules, name)
	c.mu.Unlock()
}

// Import implements importer.Importer.
func (c *ModuleCache) Import(ctx context.Context, name string) (*object.Module, error) {
	c.mu.Lock()
	if m, ok := c.modules[name]; ok {
		c.mu.Unlock()
		return m.module, nil
	}
	c.mu.Unlock()

	m, origin, err := c.load(ctx, name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.modules[name] = cached{module: m, origin: origin}
	c.mu.Unlock()
	return m, nil
}

func (c *ModuleCache) load(ctx context.Context, name string) (*object.Module, Origin, error) {
	c.mu.Lock()
	helper := c.helpers[name]
	builtin := c.builtins[name]
	path := append([]string(nil), c.path...)
	libraries := append([]string(nil), c.libraries...)
	globalNames := c.globalNames
	c.mu.Unlock()

	if helper != nil {
		return helper(), OriginHelper, nil
	}
	for _, dir := range path {
		if m, ok, err := loadFrom(ctx, dir, name, globalNames); ok || err != nil {
			return m, OriginUser, err
		}
	}
	for _, dir := range libraries {
		if m, ok, err := loadFrom(ctx, dir, name, globalNames); ok || err != nil {
			return m, OriginLibrary, err
		}
	}
	if builtin != nil {
		return builtin, OriginBuiltin, nil
	}
	return nil, OriginUser, fmt.Errorf("import error: module %q not found", name)
}

// ModuleFile returns the path dir would hold module name at.
func ModuleFile(dir, name string) string {
	rel := strings.ReplaceAll(name, ".", string(filepath.Separator))
	return filepath.Join(dir, filepath.FromSlash(rel)+ModuleExtension)
}

// loadFrom compiles module name from dir when the file exists. Dotted and
// slashed names resolve into subdirectories.
func loadFrom(ctx context.Context, dir, name string, globalNames []string) (*object.Module, bool, error) {
	file := ModuleFile(dir, name)
	if _, err := os.Stat(file); err != nil {
		return nil, false, nil
	}
	imp := importer.NewLocalImporter(importer.LocalImporterOptions{
		GlobalNames: globalNames,
		SourceDir:   filepath.Dir(file),
		Extensions:  []string{ModuleExtension},
	})
	m, err := imp.Import(ctx, strings.TrimSuffix(filepath.Base(file), ModuleExtension))
	if err != nil {
		return nil, true, fmt.Errorf("import %s: %w", name, err)
	}
	return m, true, nil
}
