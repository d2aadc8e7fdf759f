// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package estimate

import (
	"reflect"
	"strings"
	"sync"
)

// Attr is one declared attribute of a value.
type Attr struct {
	Name  string
	Value any
}

// AttributeLister is implemented by values that declare a fixed attribute
// set. Such values are measured and searched through their declared
// attributes only, so types that keep their payload in unexported fields or
// behind handles are not undercounted.
type AttributeLister interface {
	LeashAttributes() []Attr
}

type fieldInfo struct {
	name      string
	index     int
	omitEmpty bool
}

var fieldCache sync.Map // reflect.Type -> []fieldInfo

// fieldsOf lists the exported fields of a struct type under their JSON
// names. Fields tagged `json:"-"` are skipped.
func fieldsOf(t reflect.Type) []fieldInfo {
	if cached, ok := fieldCache.Load(t); ok {
		return cached.([]fieldInfo)
	}

	fields := make([]fieldInfo, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := sf.Name
		var omitEmpty bool
		if tag, ok := sf.Tag.Lookup("json"); ok {
			if tag == "-" {
				continue
			}
			tagName, opts, _ := strings.Cut(tag, ",")
			if tagName != "" {
				name = tagName
			}
			omitEmpty = strings.Contains(opts, "omitempty")
		}
		fields = append(fields, fieldInfo{name: name, index: i, omitEmpty: omitEmpty})
	}

	actual, _ := fieldCache.LoadOrStore(t, fields)
	return actual.([]fieldInfo)
}
