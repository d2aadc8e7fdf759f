// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package estimate

import (
	"encoding"
	"reflect"
	"strconv"
)

var (
	litNull  = []byte("null")
	litTrue  = []byte("true")
	litFalse = []byte("false")
)

// Fallback reasons passed to sink.fallback.
const (
	reasonDepth  = "depth"
	reasonCycle  = "cycle"
	reasonOpaque = "opaque"
)

// sink receives the token stream of a compact JSON-like rendering. The
// walker never builds the rendering itself; sizeSink only counts and
// textSink keeps a bounded prefix.
type sink interface {
	str(s string)
	blob(b []byte)
	key(k string)
	raw(b []byte)
	punct(c byte)
	fallback(reason string)
	full() bool
}

type identity struct {
	ptr uintptr
	typ reflect.Type
}

type walker struct {
	limit   int
	out     sink
	visited map[identity]struct{}
	scratch [64]byte
}

func newWalker(limit int, out sink) *walker {
	if limit < 1 {
		limit = DefaultDepthLimit
	}
	return &walker{limit: limit, out: out, visited: make(map[identity]struct{})}
}

func (w *walker) walk(v reflect.Value, depth int) {
	if w.out.full() {
		return
	}
	if depth > w.limit {
		w.out.fallback(reasonDepth)
		return
	}
	if !v.IsValid() || isNil(v) {
		w.out.raw(litNull)
		return
	}

	if id, ok := identityOf(v); ok {
		if _, seen := w.visited[id]; seen {
			w.out.fallback(reasonCycle)
			return
		}
		w.visited[id] = struct{}{}
		defer delete(w.visited, id)
	}

	if v.CanInterface() {
		if al, ok := v.Interface().(AttributeLister); ok {
			w.attrs(al.LeashAttributes(), depth)
			return
		}
	}

	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		w.walk(v.Elem(), depth)
	case reflect.String:
		w.out.str(v.String())
	case reflect.Bool:
		if v.Bool() {
			w.out.raw(litTrue)
		} else {
			w.out.raw(litFalse)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		w.out.raw(strconv.AppendInt(w.scratch[:0], v.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		w.out.raw(strconv.AppendUint(w.scratch[:0], v.Uint(), 10))
	case reflect.Float32:
		w.out.raw(strconv.AppendFloat(w.scratch[:0], v.Float(), 'g', -1, 32))
	case reflect.Float64:
		w.out.raw(strconv.AppendFloat(w.scratch[:0], v.Float(), 'g', -1, 64))
	case reflect.Complex64, reflect.Complex128:
		w.out.str(strconv.FormatComplex(v.Complex(), 'g', -1, 128))
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			w.out.blob(v.Bytes())
			return
		}
		w.seq(v, depth)
	case reflect.Array:
		w.seq(v, depth)
	case reflect.Map:
		w.mapping(v, depth)
	case reflect.Struct:
		w.record(v, depth)
	default:
		w.out.fallback(reasonOpaque)
	}
}

func (w *walker) seq(v reflect.Value, depth int) {
	w.out.punct('[')
	n := v.Len()
	for i := 0; i < n; i++ {
		if i > 0 {
			w.out.punct(',')
		}
		w.walk(v.Index(i), depth+1)
		if w.out.full() {
			return
		}
	}
	w.out.punct(']')
}

func (w *walker) mapping(v reflect.Value, depth int) {
	w.out.punct('{')
	first := true
	iter := v.MapRange()
	for iter.Next() {
		if !first {
			w.out.punct(',')
		}
		first = false
		w.out.key(keyText(iter.Key(), w.scratch[:0]))
		w.out.punct(':')
		w.walk(iter.Value(), depth+1)
		if w.out.full() {
			return
		}
	}
	w.out.punct('}')
}

func (w *walker) record(v reflect.Value, depth int) {
	fields := fieldsOf(v.Type())
	if len(fields) == 0 {
		// Types like time.Time keep their state unexported and describe
		// themselves through MarshalText.
		if v.CanInterface() {
			if tm, ok := v.Interface().(encoding.TextMarshaler); ok {
				if b, err := tm.MarshalText(); err == nil {
					w.out.blob(b)
					return
				}
			}
		}
	}

	w.out.punct('{')
	first := true
	for _, f := range fields {
		fv := v.Field(f.index)
		if f.omitEmpty && fv.IsZero() {
			continue
		}
		if !first {
			w.out.punct(',')
		}
		first = false
		w.out.key(f.name)
		w.out.punct(':')
		w.walk(fv, depth+1)
		if w.out.full() {
			return
		}
	}
	w.out.punct('}')
}

func (w *walker) attrs(attrs []Attr, depth int) {
	w.out.punct('{')
	for i, a := range attrs {
		if i > 0 {
			w.out.punct(',')
		}
		w.out.key(a.Name)
		w.out.punct(':')
		w.walk(reflect.ValueOf(a.Value), depth+1)
		if w.out.full() {
			return
		}
	}
	w.out.punct('}')
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return v.IsNil()
	}
	return false
}

// identityOf returns the identity of reference-like values that can form
// cycles. Empty slices cannot contain anything and are not tracked.
func identityOf(v reflect.Value) (identity, bool) {
	switch v.Kind() {
	case reflect.Pointer, reflect.Map:
		return identity{ptr: v.Pointer(), typ: v.Type()}, true
	case reflect.Slice:
		if v.Len() == 0 {
			return identity{}, false
		}
		return identity{ptr: v.Pointer(), typ: v.Type()}, true
	}
	return identity{}, false
}

func keyText(k reflect.Value, buf []byte) string {
	switch k.Kind() {
	case reflect.String:
		return k.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return string(strconv.AppendInt(buf, k.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return string(strconv.AppendUint(buf, k.Uint(), 10))
	case reflect.Bool:
		return strconv.FormatBool(k.Bool())
	case reflect.Float32, reflect.Float64:
		return string(strconv.AppendFloat(buf, k.Float(), 'g', -1, 64))
	case reflect.Interface:
		if !k.IsNil() {
			return keyText(k.Elem(), buf)
		}
	}
	return k.Type().String()
}
