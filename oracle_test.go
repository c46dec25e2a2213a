package livescope

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/livescope/internal/runtime"
)

func TestLibraryOracle(t *testing.T) {
	lib := t.TempDir()
	writeModule(t, lib, "shared", "x := 1")
	require.NoError(t, os.Mkdir(filepath.Join(lib, "pkg"), 0o755))

	cache := runtime.NewModuleCache(lib)
	cache.RegisterBuiltin("json", nil)
	o := NewLibraryOracle(cache, "named")

	assert.True(t, o.IsLibrary("shared"))
	assert.True(t, o.IsLibrary("pkg.inner"))
	assert.True(t, o.IsLibrary("named"))
	assert.True(t, o.IsLibrary("json"))
	assert.False(t, o.IsLibrary("mine"))
}

func TestLibraryOracle_NilCache(t *testing.T) {
	t.Parallel()
	o := NewLibraryOracle(nil, "named")
	assert.True(t, o.IsLibrary("named.sub"))
	assert.False(t, o.IsLibrary("other"))
}
