package scope

import (
	"testing"

	"github.com/risor-io/risor/compiler"
	"github.com/risor-io/risor/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetKeepsInsertionOrder(t *testing.T) {
	t.Parallel()

	s := New()
	s.Set("b", object.NewInt(1))
	s.Set("a", object.NewInt(2))
	s.Set("b", object.NewInt(3))

	assert.Equal(t, []string{"b", "a"}, s.Names())
	v, ok := s.Get("b")
	require.True(t, ok)
	assert.Equal(t, int64(3), v.(*object.Int).Value())
}

func TestSetNilBecomesRisorNil(t *testing.T) {
	t.Parallel()

	s := New()
	s.Set("x", nil)
	v, ok := s.Get("x")
	require.True(t, ok)
	assert.Equal(t, object.Nil, v)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	s := New()
	s.Set("a", object.NewInt(1))
	s.Set("b", object.NewInt(2))
	s.Delete("a")
	s.Delete("missing")

	assert.Equal(t, []string{"b"}, s.Names())
	assert.False(t, s.Has("a"))
	assert.Equal(t, 1, s.Len())
}

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()

	inner := object.NewList([]object.Object{object.NewInt(1)})
	s := New()
	s.Set("xs", inner)
	s.Set("m", object.NewMap(map[string]object.Object{"k": inner}))

	c := s.Clone()
	cl, _ := c.Get("xs")
	cloned := cl.(*object.List)
	require.NotSame(t, inner, cloned)
	cloned.Value()[0] = object.NewInt(99)

	assert.Equal(t, int64(1), inner.Value()[0].(*object.Int).Value())

	// Shared references stay shared inside the copy.
	cm, _ := c.Get("m")
	assert.Same(t, cloned, cm.(*object.Map).Value()["k"])
}

func TestCloneHandlesCycles(t *testing.T) {
	t.Parallel()

	items := make([]object.Object, 1)
	l := object.NewList(items)
	items[0] = l

	s := New()
	s.Set("l", l)
	c := s.Clone()

	v, _ := c.Get("l")
	cl := v.(*object.List)
	assert.Same(t, cl, cl.Value()[0])
}

func TestPortable(t *testing.T) {
	t.Parallel()

	s := New()
	s.Set("mod", object.NewBuiltinsModule("helpers", map[string]object.Object{}))
	s.Set("x", object.NewInt(1))
	s.Set("f", object.NewFunction(compiler.NewFunction(compiler.FunctionOpts{Name: "f"})))

	out, dropped := s.Portable()
	assert.Equal(t, []string{"x"}, out.Names())
	assert.Equal(t, []string{"mod", "f"}, dropped)
	assert.True(t, s.Has("mod"), "source scope is not modified")
	assert.True(t, s.Has("f"))
}

func TestMergeOverridesAndAppends(t *testing.T) {
	t.Parallel()

	base := New()
	base.Set("a", object.NewInt(1))
	base.Set("b", object.NewInt(2))

	other := New()
	other.Set("b", object.NewInt(20))
	other.Set("c", object.NewInt(30))

	base.Merge(other)
	assert.Equal(t, []string{"a", "b", "c"}, base.Names())
	v, _ := base.Get("b")
	assert.Equal(t, int64(20), v.(*object.Int).Value())
}
