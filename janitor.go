package livescope

import (
	"slices"
	"strings"

	"github.com/jward/livescope/internal/dump"
)

// Evicter is the module cache the janitor prunes.
type Evicter interface {
	Evict(name string)
}

// EvictUserModules evicts every module loaded since before whose top-level
// package is not a library, along with its submodules, so the next run
// reloads user modules from disk. The dump helper module is always evicted.
// It returns the evicted names.
func EvictUserModules(before, after []string, oracle Oracle, cache Evicter) []string {
	existing := make(map[string]bool, len(before))
	for _, name := range before {
		existing[name] = true
	}

	var evicted []string
	evict := func(name string) {
		cache.Evict(name)
		evicted = append(evicted, name)
	}
	for _, name := range after {
		top := topLevel(name)
		switch {
		case top == dump.ModuleName:
			evict(name)
		case existing[name]:
		case oracle != nil && oracle.IsLibrary(top):
		default:
			evict(name)
		}
	}
	if !slices.Contains(evicted, dump.ModuleName) {
		cache.Evict(dump.ModuleName)
	}
	return evicted
}

// topLevel returns the first segment of a dotted or slashed module name.
func topLevel(name string) string {
	if i := strings.IndexAny(name, "./"); i >= 0 {
		return name[:i]
	}
	return name
}
