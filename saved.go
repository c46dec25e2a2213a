package livescope

import (
	"context"
	"log/slog"

	"github.com/risor-io/risor/object"

	"github.com/jward/livescope/internal/runtime"
	"github.com/jward/livescope/internal/scope"
	"github.com/jward/livescope/internal/snapshot"
)

// Identity binding names, present in every fresh scope and never shown in
// snapshots.
const (
	FileBinding   = "__file__"
	NameBinding   = "__name__"
	DocBinding    = "__doc__"
	SpecBinding   = "__spec__"
	LoaderBinding = "__loader__"
	ArgvBinding   = "argv"

	mainName = "__main__"
)

var identityNames = map[string]bool{
	FileBinding:            true,
	NameBinding:            true,
	DocBinding:             true,
	SpecBinding:            true,
	LoaderBinding:          true,
	ArgvBinding:            true,
	snapshot.FilterBinding: true,
}

func isIdentityBinding(name string) bool {
	return identityNames[name]
}

// identity returns a fresh scope holding the identity bindings for path and
// the current persistent store.
func (e *Engine) identity(path string) *scope.Scope {
	sc := scope.New()
	sc.Set(FileBinding, object.NewString(path))
	sc.Set(NameBinding, object.NewString(mainName))
	sc.Set(DocBinding, object.Nil)
	sc.Set(SpecBinding, object.Nil)
	sc.Set(LoaderBinding, object.Nil)
	sc.Set(ArgvBinding, object.NewList([]object.Object{object.NewString(path)}))
	sc.Set(snapshot.StoreBinding, e.liveStore)
	return sc
}

// setFile points __file__ and argv[0] at path.
func setFile(sc *scope.Scope, path string) {
	sc.Set(FileBinding, object.NewString(path))
	argv, ok := sc.Get(ArgvBinding)
	if list, isList := argv.(*object.List); ok && isList && len(list.Value()) > 0 {
		items := append([]object.Object{object.NewString(path)}, list.Value()[1:]...)
		sc.Set(ArgvBinding, object.NewList(items))
		return
	}
	sc.Set(ArgvBinding, object.NewList([]object.Object{object.NewString(path)}))
}

// SavedScope builds working scopes from the prelude, executing the prelude
// only when its text differs from the last one seen.
type SavedScope struct {
	runtime  *runtime.Runtime
	logger   *slog.Logger
	prelude  string
	bindings *scope.Scope
}

// NewSavedScope returns an empty cache.
func NewSavedScope(rt *runtime.Runtime, logger *slog.Logger) *SavedScope {
	return &SavedScope{runtime: rt, logger: logger}
}

// Cached reports whether prelude would be served from the cache.
func (s *SavedScope) Cached(prelude string) bool {
	return s.bindings != nil && s.prelude == prelude
}

// WorkingScope returns a scope for the next run: an independent copy of the
// prelude's bindings overlaid with identity. An empty prelude yields a copy
// of identity. Modules and functions are not cached; the run declares them
// again from the prelude source (see Carry).
//
// When a changed prelude fails, the error is returned together with the
// partial scope it left behind, and the cache is cleared.
func (s *SavedScope) WorkingScope(ctx context.Context, prelude, file string, identity *scope.Scope) (*scope.Scope, error) {
	if prelude == "" {
		return identity.Clone(), nil
	}
	if !s.Cached(prelude) {
		sc := identity.Clone()
		if err := s.runtime.Exec(ctx, prelude, file, sc); err != nil {
			s.prelude, s.bindings = "", nil
			return sc, err
		}
		var dropped []string
		s.prelude = prelude
		s.bindings, dropped = sc.Portable()
		s.logger.Debug("prelude rebuilt", "bindings", s.bindings.Len(), "redeclared", dropped)
	}

	out := s.bindings.Clone()
	out.Merge(identity)
	return out, nil
}
