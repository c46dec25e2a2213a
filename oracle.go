package livescope

import (
	"os"
	"path/filepath"

	"github.com/jward/livescope/internal/runtime"
)

// Oracle classifies top-level module names as library (kept cached across
// runs) or user (reloaded every run).
type Oracle interface {
	IsLibrary(name string) bool
}

// LibraryOracle treats Risor's builtin modules, modules found under the
// library paths, and explicitly named packages as libraries.
type LibraryOracle struct {
	modules *runtime.ModuleCache
	names   map[string]bool
}

// NewLibraryOracle returns an oracle backed by the builtin modules and
// library paths of modules, plus names.
func NewLibraryOracle(modules *runtime.ModuleCache, names ...string) *LibraryOracle {
	o := &LibraryOracle{modules: modules, names: make(map[string]bool, len(names))}
	for _, n := range names {
		o.names[n] = true
	}
	return o
}

// IsLibrary implements Oracle.
func (o *LibraryOracle) IsLibrary(name string) bool {
	top := topLevel(name)
	if o.names[top] {
		return true
	}
	if o.modules == nil {
		return false
	}
	if o.modules.IsBuiltin(top) {
		return true
	}
	for _, dir := range o.modules.LibraryPaths() {
		if _, err := os.Stat(runtime.ModuleFile(dir, top)); err == nil {
			return true
		}
		if info, err := os.Stat(filepath.Join(dir, top)); err == nil && info.IsDir() {
			return true
		}
	}
	return false
}
