package snapshot

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"reflect"
	"regexp"
	"sort"
	"time"

	"github.com/risor-io/risor/object"
)

// Adapter flattens one value. It may return nil, bool, int, int64, uint64,
// float64, string, []any, []string, map[string]any, Fields,
// json.RawMessage, or another Risor object to be encoded in its place.
type Adapter func(v object.Object) (any, error)

// HostAdapter flattens a Go value carried by a Risor proxy.
type HostAdapter func(v any) (any, error)

// Registry maps runtime types to adapters. Lookups check the Risor object's
// Go type first, then object interface adapters, then, for proxies, the
// proxied Go type, then host interface adapters in registration order.
type Registry struct {
	objects          map[reflect.Type]Adapter
	objectInterfaces []objectInterfaceAdapter
	hosts            map[reflect.Type]HostAdapter
	interfaces       []interfaceAdapter
}

type interfaceAdapter struct {
	iface reflect.Type
	fn    HostAdapter
}

type objectInterfaceAdapter struct {
	iface reflect.Type
	fn    Adapter
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		objects: make(map[reflect.Type]Adapter),
		hosts:   make(map[reflect.Type]HostAdapter),
	}
}

// Register installs an adapter for Risor objects with the same Go type as
// sample.
func (r *Registry) Register(sample object.Object, a Adapter) {
	r.objects[reflect.TypeOf(sample)] = a
}

// RegisterObjectInterface installs an adapter for Risor objects implementing
// the interface pointed to by ifacePtr, e.g. (*object.Iterator)(nil).
func (r *Registry) RegisterObjectInterface(ifacePtr any, a Adapter) {
	t := reflect.TypeOf(ifacePtr).Elem()
	r.objectInterfaces = append(r.objectInterfaces, objectInterfaceAdapter{iface: t, fn: a})
}

// RegisterHost installs an adapter for proxied Go values with the same type
// as sample.
func (r *Registry) RegisterHost(sample any, a HostAdapter) {
	r.hosts[reflect.TypeOf(sample)] = a
}

// RegisterInterface installs an adapter for proxied Go values implementing
// the interface pointed to by ifacePtr, e.g. (*fs.DirEntry)(nil).
func (r *Registry) RegisterInterface(ifacePtr any, a HostAdapter) {
	t := reflect.TypeOf(ifacePtr).Elem()
	r.interfaces = append(r.interfaces, interfaceAdapter{iface: t, fn: a})
}

func (r *Registry) lookup(v object.Object) (Adapter, bool) {
	vt := reflect.TypeOf(v)
	if a, ok := r.objects[vt]; ok {
		return a, true
	}
	for _, oa := range r.objectInterfaces {
		if vt.Implements(oa.iface) {
			return oa.fn, true
		}
	}
	p, ok := v.(*object.Proxy)
	if !ok {
		return nil, false
	}
	host := p.Interface()
	if host == nil {
		return func(object.Object) (any, error) { return nil, nil }, true
	}
	ht := reflect.TypeOf(host)
	if a, ok := r.hosts[ht]; ok {
		return proxyAdapter(a), true
	}
	for _, ia := range r.interfaces {
		if ht.Implements(ia.iface) {
			return proxyAdapter(ia.fn), true
		}
	}
	return proxyAdapter(hostJSON), true
}

func proxyAdapter(a HostAdapter) Adapter {
	return func(v object.Object) (any, error) {
		return a(v.(*object.Proxy).Interface())
	}
}

// DefaultRegistry returns a Registry with adapters for Risor's non-JSON
// types and common host values: times, errors, sets, byte slices,
// functions, modules, iterators, file handles, directory entries, compiled
// regular expressions, durations and big numbers.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(&object.Time{}, func(v object.Object) (any, error) {
		return Fields{{Key: "date/time", Value: v.(*object.Time).Value().String()}}, nil
	})
	r.Register(&object.Error{}, func(v object.Object) (any, error) {
		msg := v.Inspect()
		if err := v.(*object.Error).Value(); err != nil {
			msg = err.Error()
		}
		return Fields{{Key: "error", Value: msg}}, nil
	})
	r.Register(&object.Set{}, func(v object.Object) (any, error) {
		members := make([]object.Object, 0, len(v.(*object.Set).Value()))
		for _, item := range v.(*object.Set).Value() {
			members = append(members, item)
		}
		sort.Slice(members, func(i, j int) bool {
			return members[i].Inspect() < members[j].Inspect()
		})
		items := make([]any, len(members))
		for i, m := range members {
			items[i] = m
		}
		return Fields{{Key: "set", Value: items}}, nil
	})
	r.Register(&object.ByteSlice{}, func(v object.Object) (any, error) {
		return Fields{{Key: "bytes", Value: string(v.(*object.ByteSlice).Value())}}, nil
	})
	r.Register(&object.Function{}, func(v object.Object) (any, error) {
		return Fields{{Key: "function", Value: v.Inspect()}}, nil
	})
	r.Register(&object.Builtin{}, func(v object.Object) (any, error) {
		return Fields{{Key: "builtin", Value: v.Inspect()}}, nil
	})
	r.Register(&object.Module{}, func(v object.Object) (any, error) {
		return Fields{{Key: "module", Value: v.Inspect()}}, nil
	})

	// Iterators are shown, never drained.
	r.RegisterObjectInterface((*object.Iterator)(nil), func(v object.Object) (any, error) {
		return Fields{
			{Key: "iterator", Value: string(v.Type())},
			{Key: "source", Value: v.Inspect()},
		}, nil
	})

	r.RegisterHost(&os.File{}, func(v any) (any, error) {
		f := v.(*os.File)
		return Fields{
			{Key: "type", Value: "file"},
			{Key: "name", Value: f.Name()},
		}, nil
	})
	r.RegisterHost(&regexp.Regexp{}, func(v any) (any, error) {
		return Fields{{Key: "pattern", Value: v.(*regexp.Regexp).String()}}, nil
	})
	r.RegisterHost(time.Duration(0), func(v any) (any, error) {
		return Fields{{Key: "duration", Value: v.(time.Duration).String()}}, nil
	})
	r.RegisterHost(time.Time{}, func(v any) (any, error) {
		return Fields{{Key: "date/time", Value: v.(time.Time).String()}}, nil
	})
	r.RegisterHost(&big.Float{}, func(v any) (any, error) {
		f, _ := v.(*big.Float).Float64()
		return f, nil
	})
	r.RegisterHost(&big.Int{}, func(v any) (any, error) {
		n := v.(*big.Int)
		if n.IsInt64() {
			return n.Int64(), nil
		}
		return n.String(), nil
	})
	r.RegisterInterface((*fs.DirEntry)(nil), func(v any) (any, error) {
		d := v.(fs.DirEntry)
		return Fields{
			{Key: "type", Value: "dir_entry"},
			{Key: "name", Value: d.Name()},
			{Key: "is_dir", Value: d.IsDir()},
		}, nil
	})
	r.RegisterInterface((*error)(nil), func(v any) (any, error) {
		return Fields{{Key: "error", Value: v.(error).Error()}}, nil
	})
	return r
}

// hostJSON is the fallback for proxied Go values without an adapter.
func hostJSON(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("snapshot: marshal %T: %w", v, err)
	}
	return json.RawMessage(data), nil
}
