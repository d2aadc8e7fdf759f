// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package estimate

import "reflect"

// Find collects every value stored under key anywhere inside v: map entries
// with that key, struct fields with that JSON name, and declared attributes
// with that name. Nested maps, slices, structs and attribute listers are
// searched up to maxDepth levels (DefaultDepthLimit when maxDepth <= 0),
// with v itself at level 1. Results are in traversal order; map iteration
// order is unspecified.
func Find(v any, key string, maxDepth int) []any {
	if maxDepth <= 0 {
		maxDepth = DefaultDepthLimit
	}
	f := finder{key: key, limit: maxDepth, visited: make(map[identity]struct{})}
	func() {
		defer func() { _ = recover() }()
		f.search(reflect.ValueOf(v), 1)
	}()
	return f.found
}

type finder struct {
	key     string
	limit   int
	visited map[identity]struct{}
	found   []any
}

func (f *finder) search(v reflect.Value, depth int) {
	if depth > f.limit || !v.IsValid() || isNil(v) {
		return
	}

	if id, ok := identityOf(v); ok {
		if _, seen := f.visited[id]; seen {
			return
		}
		f.visited[id] = struct{}{}
		defer delete(f.visited, id)
	}

	if v.CanInterface() {
		if al, ok := v.Interface().(AttributeLister); ok {
			for _, a := range al.LeashAttributes() {
				if a.Name == f.key {
					f.found = append(f.found, a.Value)
				}
				f.search(reflect.ValueOf(a.Value), depth+1)
			}
			return
		}
	}

	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		f.search(v.Elem(), depth)
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			k := iter.Key()
			if k.Kind() == reflect.Interface && !k.IsNil() {
				k = k.Elem()
			}
			if k.Kind() == reflect.String && k.String() == f.key {
				f.collect(iter.Value())
			}
			f.search(iter.Value(), depth+1)
		}
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return
		}
		for i := 0; i < v.Len(); i++ {
			f.search(v.Index(i), depth+1)
		}
	case reflect.Struct:
		for _, fi := range fieldsOf(v.Type()) {
			fv := v.Field(fi.index)
			if fi.name == f.key {
				f.collect(fv)
			}
			f.search(fv, depth+1)
		}
	}
}

func (f *finder) collect(v reflect.Value) {
	if !v.IsValid() {
		f.found = append(f.found, nil)
		return
	}
	if v.CanInterface() {
		f.found = append(f.found, v.Interface())
	}
}
