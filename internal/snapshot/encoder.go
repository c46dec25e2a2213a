// Package snapshot converts a run's scope into a transport-safe JSON document.
//
// Encoding never fails as a whole: a value that cannot be represented is
// replaced by the [Unencodable] placeholder, containers nested deeper than
// the depth ceiling collapse to a short representation, and non-finite
// floats become the strings "Infinity", "-Infinity" and "NaN".
//
// Type-specific flattening lives in a [Registry] of adapters consulted before
// the structural traversal, so new host types can be supported without
// changing the Encoder.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/risor-io/risor/object"

	"github.com/jward/livescope/internal/scope"
)

const (
	// DefaultMaxDepth bounds container nesting. Deeper structures cost
	// sharply more to encode and are rarely inspected.
	DefaultMaxDepth = 100

	// Unencodable replaces any value the encoder cannot represent.
	Unencodable = "livescope could not encode this object"

	// FilterBinding names the scope binding holding a user exclusion list.
	FilterBinding = "live_filter"

	// StoreBinding names the persistent-store binding. It is shown whenever
	// it holds a value.
	StoreBinding = "live_store"
)

// Filter selects which top-level bindings appear in a snapshot.
type Filter struct {
	// Hidden reports names that are never shown (identity bindings, host
	// builtins). May be nil.
	Hidden func(name string) bool
	// Vars are names excluded by settings.
	Vars []string
	// Types are type names excluded by settings: Risor type names such as
	// "list", or Go type names of proxied host values such as "*os.File".
	Types []string
}

// Encoder produces snapshot documents.
type Encoder struct {
	registry *Registry
	maxDepth int
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithMaxDepth overrides DefaultMaxDepth. Values below 1 are ignored.
func WithMaxDepth(depth int) EncoderOption {
	return func(e *Encoder) {
		if depth > 0 {
			e.maxDepth = depth
		}
	}
}

// NewEncoder returns an Encoder using reg for type-specific flattening.
// A nil reg uses DefaultRegistry.
func NewEncoder(reg *Registry, opts ...EncoderOption) *Encoder {
	if reg == nil {
		reg = DefaultRegistry()
	}
	e := &Encoder{registry: reg, maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Encode returns the snapshot of s after applying f and the built-in
// exclusion rules.
func (e *Encoder) Encode(s *scope.Scope, f Filter) string {
	if s == nil {
		return "{}"
	}

	excluded := make(map[string]bool, len(f.Vars))
	for _, name := range f.Vars {
		excluded[name] = true
	}
	if fv, ok := s.Get(FilterBinding); ok {
		for _, name := range stringList(fv) {
			excluded[name] = true
		}
	}
	excludedTypes := make(map[string]bool, len(f.Types))
	for _, t := range f.Types {
		excludedTypes[t] = true
	}

	fields := make(Fields, 0, s.Len())
	s.Each(func(name string, v object.Object) {
		if name == FilterBinding || excluded[name] {
			return
		}
		if name == StoreBinding {
			return // appended below when set
		}
		if f.Hidden != nil && f.Hidden(name) {
			return
		}
		if !Inspectable(v) || excludedTypes[TypeName(v)] {
			return
		}
		fields = append(fields, Field{Key: name, Value: v})
	})
	if store, ok := s.Get(StoreBinding); ok && store != object.Nil {
		fields = append(fields, Field{Key: StoreBinding, Value: store})
	}
	return e.EncodeFields(fields)
}

// EncodeFields encodes an ordered document. Values may be Risor objects or
// any of the plain values an Adapter may return.
func (e *Encoder) EncodeFields(fields Fields) string {
	w := &writer{enc: e, ancestors: make(map[object.Object]bool)}
	if err := w.value(fields, 0); err != nil {
		return "{}"
	}
	return w.buf.String()
}

// Inspectable reports whether a top-level binding carries state worth
// showing. Modules, functions and builtins do not.
func Inspectable(v object.Object) bool {
	switch v.(type) {
	case *object.Module, *object.Function, *object.Builtin:
		return false
	}
	return true
}

// TypeName returns the name used for type filtering: the Go type of a proxied
// host value, otherwise the Risor type name.
func TypeName(v object.Object) string {
	if p, ok := v.(*object.Proxy); ok {
		return fmt.Sprintf("%T", p.Interface())
	}
	return string(v.Type())
}

// Field is one key/value pair of an ordered document.
type Field struct {
	Key   string
	Value any
}

// Fields is an ordered JSON object.
type Fields []Field

type writer struct {
	enc       *Encoder
	buf       bytes.Buffer
	ancestors map[object.Object]bool
}

// value writes v at the given depth. Containers encode each element into a
// scratch buffer first so one bad element degrades to the placeholder
// instead of failing its parent.
func (w *writer) value(v any, depth int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("snapshot: panic encoding %T: %v", v, r)
		}
	}()

	switch val := v.(type) {
	case nil:
		w.buf.WriteString("null")
	case bool:
		w.buf.WriteString(strconv.FormatBool(val))
	case int:
		w.buf.WriteString(strconv.Itoa(val))
	case int64:
		w.buf.WriteString(strconv.FormatInt(val, 10))
	case uint64:
		w.buf.WriteString(strconv.FormatUint(val, 10))
	case float64:
		w.float(val)
	case string:
		w.str(val)
	case json.RawMessage:
		if !json.Valid(val) {
			return fmt.Errorf("snapshot: invalid raw JSON")
		}
		w.buf.Write(val)
	case Fields:
		return w.object(val, depth)
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make(Fields, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, Field{Key: k, Value: val[k]})
		}
		return w.object(fields, depth)
	case []any:
		return w.array(val, depth)
	case []string:
		items := make([]any, len(val))
		for i, s := range val {
			items[i] = s
		}
		return w.array(items, depth)
	case object.Object:
		return w.risor(val, depth)
	default:
		return fmt.Errorf("snapshot: unsupported adapter value %T", v)
	}
	return nil
}

func (w *writer) risor(v object.Object, depth int) error {
	if depth > w.enc.maxDepth {
		w.str(shortRepr(v))
		return nil
	}

	if a, ok := w.enc.registry.lookup(v); ok {
		flat, err := a(v)
		if err != nil {
			return err
		}
		if o, isObj := flat.(object.Object); isObj && o == v {
			return fmt.Errorf("snapshot: adapter for %s returned its input", v.Type())
		}
		return w.value(flat, depth)
	}

	switch val := v.(type) {
	case *object.NilType:
		w.buf.WriteString("null")
	case *object.Bool:
		w.buf.WriteString(strconv.FormatBool(val.Value()))
	case *object.Int:
		w.buf.WriteString(strconv.FormatInt(val.Value(), 10))
	case *object.Float:
		w.float(val.Value())
	case *object.String:
		w.str(val.Value())
	case *object.List:
		if w.ancestors[val] {
			w.str("<recursive list>")
			return nil
		}
		w.ancestors[val] = true
		defer delete(w.ancestors, val)
		src := val.Value()
		items := make([]any, len(src))
		for i, item := range src {
			items[i] = item
		}
		return w.array(items, depth)
	case *object.Map:
		if w.ancestors[val] {
			w.str("<recursive map>")
			return nil
		}
		w.ancestors[val] = true
		defer delete(w.ancestors, val)
		src := val.Value()
		keys := make([]string, 0, len(src))
		for k := range src {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make(Fields, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, Field{Key: k, Value: src[k]})
		}
		return w.object(fields, depth)
	default:
		return w.object(Fields{
			{Key: "type", Value: string(v.Type())},
			{Key: "repr", Value: v.Inspect()},
		}, depth)
	}
	return nil
}

func (w *writer) object(fields Fields, depth int) error {
	w.buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			w.buf.WriteByte(',')
		}
		w.str(f.Key)
		w.buf.WriteByte(':')
		w.element(f.Value, depth+1)
	}
	w.buf.WriteByte('}')
	return nil
}

func (w *writer) array(items []any, depth int) error {
	w.buf.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			w.buf.WriteByte(',')
		}
		w.element(item, depth+1)
	}
	w.buf.WriteByte(']')
	return nil
}

// element encodes one container member, degrading to the placeholder.
func (w *writer) element(v any, depth int) {
	sub := &writer{enc: w.enc, ancestors: w.ancestors}
	if err := sub.value(v, depth); err != nil {
		w.str(Unencodable)
		return
	}
	w.buf.Write(sub.buf.Bytes())
}

func (w *writer) float(f float64) {
	switch {
	case math.IsInf(f, 1):
		w.str("Infinity")
	case math.IsInf(f, -1):
		w.str("-Infinity")
	case math.IsNaN(f):
		w.str("NaN")
	default:
		w.buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	}
}

func (w *writer) str(s string) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	// Encoding a string cannot fail.
	_ = enc.Encode(s)
	w.buf.Write(bytes.TrimSuffix(b.Bytes(), []byte("\n")))
}

// shortRepr is used past the depth ceiling. Containers are not inspected
// because their representation is as deep as the container itself.
func shortRepr(v object.Object) string {
	switch v.(type) {
	case *object.List, *object.Map, *object.Set:
		return fmt.Sprintf("<%s>", v.Type())
	}
	return v.Inspect()
}

// stringList extracts the string members of a Risor list.
func stringList(v object.Object) []string {
	l, ok := v.(*object.List)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range l.Value() {
		if s, ok := item.(*object.String); ok {
			out = append(out, s.Value())
		}
	}
	return out
}
