package livescope

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jward/livescope/internal/dump"
)

type recordingCache struct {
	evicted []string
}

func (c *recordingCache) Evict(name string) { c.evicted = append(c.evicted, name) }

type namedOracle map[string]bool

func (o namedOracle) IsLibrary(name string) bool { return o[name] }

func TestEvictUserModules(t *testing.T) {
	t.Parallel()
	cache := &recordingCache{}
	before := []string{"json", "preloaded"}
	after := []string{"json", "preloaded", "mine", "mine.sub", "lib", "lib.sub", dump.ModuleName}

	evicted := EvictUserModules(before, after, namedOracle{"lib": true}, cache)

	assert.Equal(t, []string{"mine", "mine.sub", dump.ModuleName}, evicted)
	assert.Equal(t, evicted, cache.evicted)
}

func TestEvictUserModules_AlwaysEvictsDumpHelper(t *testing.T) {
	t.Parallel()
	cache := &recordingCache{}

	evicted := EvictUserModules(nil, nil, nil, cache)

	assert.Empty(t, evicted)
	assert.Equal(t, []string{dump.ModuleName}, cache.evicted)
}

func TestTopLevel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "a", topLevel("a.b.c"))
	assert.Equal(t, "a", topLevel("a/b"))
	assert.Equal(t, "a", topLevel("a"))
}
