// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

/*
Package typeinfo reflects over structs carrying "db" tags so they can be
used as statement rows. As much as possible, reflection code is limited to
this package.
*/
package typeinfo

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Field represents a single tagged field of a struct type.
type Field struct {
	// Column is the name given in the "db" tag.
	Column string

	// Index of this field in the structure.
	Index int

	// OmitEmpty is true when "omitempty" is a property of the field's "db"
	// tag. Zero values of such fields are left out of rows.
	OmitEmpty bool
}

// Info represents reflected information about a struct type.
type Info struct {
	Type reflect.Type

	// Fields holds the tagged fields in declaration order.
	Fields []Field
}

var cacheMutex sync.RWMutex
var cache = make(map[reflect.Type]*Info)

// GetTypeInfo returns the Info of the struct type of value, generating and
// caching it as required. Pointers are dereferenced.
func GetTypeInfo(value any) (*Info, error) {
	if value == nil {
		return nil, fmt.Errorf("cannot reflect nil value")
	}

	t := reflect.TypeOf(value)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	cacheMutex.RLock()
	info, found := cache[t]
	cacheMutex.RUnlock()
	if found {
		return info, nil
	}

	info, err := generate(t)
	if err != nil {
		return nil, err
	}

	cacheMutex.Lock()
	cache[t] = info
	cacheMutex.Unlock()

	return info, nil
}

func generate(t reflect.Type) (*Info, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("cannot use %s as a row, need a struct", t)
	}

	info := &Info{Type: t}
	seen := map[string]bool{}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("db")
		if tag == "" || !field.IsExported() {
			continue
		}
		column, omitEmpty, err := parseTag(tag)
		if err != nil {
			return nil, fmt.Errorf("cannot parse tag for field %s.%s: %s", t.Name(), field.Name, err)
		}
		if seen[column] {
			return nil, fmt.Errorf("column %q appears more than once in %s", column, t.Name())
		}
		seen[column] = true
		info.Fields = append(info.Fields, Field{Column: column, Index: i, OmitEmpty: omitEmpty})
	}
	if len(info.Fields) == 0 {
		return nil, fmt.Errorf("no db tags found in struct %s", t.Name())
	}
	return info, nil
}

var validColNameRx = regexp.MustCompile(`^([a-zA-Z_])+([a-zA-Z_0-9])*$`)

// parseTag parses the input tag string and returns its
// name and whether it contains the "omitempty" option.
func parseTag(tag string) (string, bool, error) {
	options := strings.Split(tag, ",")

	var omitEmpty bool
	if len(options) > 2 {
		return "", false, fmt.Errorf("too many options in 'db' tag")
	}
	if len(options) == 2 {
		if strings.ToLower(options[1]) != "omitempty" {
			return "", false, fmt.Errorf("unexpected tag value %q", options[1])
		}
		omitEmpty = true
	}

	name := options[0]
	if len(name) == 0 {
		return "", false, fmt.Errorf("empty db tag")
	}
	if !validColNameRx.MatchString(name) {
		return "", false, fmt.Errorf("invalid column name in 'db' tag")
	}
	return name, omitEmpty, nil
}

// Row returns the columns and values of a tagged struct, or of a map with
// string keys. Map keys are sorted so the column order is stable.
func Row(value any) (columns []string, values []any, err error) {
	v := reflect.ValueOf(value)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, nil, fmt.Errorf("cannot use nil pointer as a row")
		}
		v = v.Elem()
	}

	if v.Kind() == reflect.Map {
		if v.Type().Key().Kind() != reflect.String {
			return nil, nil, fmt.Errorf("cannot use %s as a row, map keys must be strings", v.Type())
		}
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		for _, k := range keys {
			columns = append(columns, k.String())
			values = append(values, v.MapIndex(k).Interface())
		}
		return columns, values, nil
	}

	info, err := GetTypeInfo(value)
	if err != nil {
		return nil, nil, err
	}
	for _, f := range info.Fields {
		fv := v.Field(f.Index)
		if f.OmitEmpty && fv.IsZero() {
			continue
		}
		columns = append(columns, f.Column)
		values = append(values, fv.Interface())
	}
	return columns, values, nil
}
