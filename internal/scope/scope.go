// Package scope holds the ordered name → value mapping that a run executes
// against. Order is insertion order; rebinding a name keeps its position.
package scope

import (
	"github.com/risor-io/risor/object"
)

// Scope is an ordered mapping from binding name to Risor value.
// It is not safe for concurrent use.
type Scope struct {
	names  []string
	values map[string]object.Object
}

// New returns an empty Scope.
func New() *Scope {
	return &Scope{values: make(map[string]object.Object)}
}

// Set binds name to v, appending name if it is new.
func (s *Scope) Set(name string, v object.Object) {
	if v == nil {
		v = object.Nil
	}
	if _, ok := s.values[name]; !ok {
		s.names = append(s.names, name)
	}
	s.values[name] = v
}

// Get returns the value bound to name.
func (s *Scope) Get(name string) (object.Object, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Has reports whether name is bound.
func (s *Scope) Has(name string) bool {
	_, ok := s.values[name]
	return ok
}

// Delete removes name. Deleting an unbound name is a no-op.
func (s *Scope) Delete(name string) {
	if _, ok := s.values[name]; !ok {
		return
	}
	delete(s.values, name)
	for i, n := range s.names {
		if n == name {
			s.names = append(s.names[:i], s.names[i+1:]...)
			break
		}
	}
}

// Len returns the number of bindings.
func (s *Scope) Len() int {
	return len(s.names)
}

// Names returns the binding names in order.
func (s *Scope) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Each calls fn for every binding in order.
func (s *Scope) Each(fn func(name string, v object.Object)) {
	for _, name := range s.names {
		fn(name, s.values[name])
	}
}

// Merge copies every binding of other into s. Bindings of other win.
func (s *Scope) Merge(other *Scope) {
	if other == nil {
		return
	}
	other.Each(func(name string, v object.Object) {
		s.Set(name, v)
	})
}

// Portable returns a shallow copy of s without the bindings that only work
// inside the VM that created them, modules and functions, and the names it
// left out.
func (s *Scope) Portable() (*Scope, []string) {
	out := New()
	var dropped []string
	s.Each(func(name string, v object.Object) {
		switch v.(type) {
		case *object.Module, *object.Function:
			dropped = append(dropped, name)
			return
		}
		out.Set(name, v)
	})
	return out, dropped
}

// Clone returns a deep, independent copy of s. Mutating containers reachable
// from the copy never affects s.
func (s *Scope) Clone() *Scope {
	out := New()
	seen := make(map[object.Object]object.Object)
	s.Each(func(name string, v object.Object) {
		out.Set(name, deepCopy(v, seen))
	})
	return out
}

func deepCopy(v object.Object, seen map[object.Object]object.Object) object.Object {
	switch val := v.(type) {
	case *object.List:
		if c, ok := seen[val]; ok {
			return c
		}
		src := val.Value()
		items := make([]object.Object, len(src))
		cp := object.NewList(items)
		seen[val] = cp
		for i, item := range src {
			items[i] = deepCopy(item, seen)
		}
		return cp
	case *object.Map:
		if c, ok := seen[val]; ok {
			return c
		}
		src := val.Value()
		items := make(map[string]object.Object, len(src))
		cp := object.NewMap(items)
		seen[val] = cp
		for k, item := range src {
			items[k] = deepCopy(item, seen)
		}
		return cp
	case *object.Set:
		if c, ok := seen[val]; ok {
			return c
		}
		// Set members are hashable and therefore immutable.
		items := make([]object.Object, 0, len(val.Value()))
		for _, item := range val.Value() {
			items = append(items, item)
		}
		cp := object.NewSet(items)
		seen[val] = cp
		return cp
	default:
		return v
	}
}
