// Copyright (C) 2016 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package util

import (
	"reflect"
	"strconv"
	"strings"
)

type defaultParser interface {
	ParseDefault(string) error
}

// SetDefaults sets default values on a struct, based on the default
// annotation. Only fields that still hold their zero value are touched, so
// callers may preset some fields and fill in the rest.
func SetDefaults(data interface{}) {
	s := reflect.ValueOf(data).Elem()
	t := s.Type()

	for i := 0; i < s.NumField(); i++ {
		f := s.Field(i)
		if !f.CanSet() {
			continue
		}
		tag := t.Field(i).Tag

		v := tag.Get("default")
		if len(v) == 0 {
			if f.Kind() == reflect.Struct && f.CanAddr() {
				SetDefaults(f.Addr().Interface())
			}
			continue
		}
		if !f.IsZero() {
			continue
		}

		if parser, ok := f.Addr().Interface().(defaultParser); ok {
			if err := parser.ParseDefault(v); err != nil {
				panic(err)
			}
			continue
		}

		switch f.Kind() {
		case reflect.String:
			f.SetString(v)

		case reflect.Int, reflect.Int32, reflect.Int64:
			i, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				panic(err)
			}
			f.SetInt(i)

		case reflect.Uint, reflect.Uint32, reflect.Uint64:
			i, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				panic(err)
			}
			f.SetUint(i)

		case reflect.Float64, reflect.Float32:
			i, err := strconv.ParseFloat(v, 64)
			if err != nil {
				panic(err)
			}
			f.SetFloat(i)

		case reflect.Bool:
			f.SetBool(v == "true")

		case reflect.Slice:
			if f.Type().Elem().Kind() != reflect.String {
				panic(f.Type())
			}
			f.Set(reflect.ValueOf(UniqueTrimmedStrings(strings.Split(v, ","))))

		default:
			panic(f.Type())
		}
	}
}

// UniqueTrimmedStrings returns a list on unique strings, trimming at the same time.
func UniqueTrimmedStrings(ss []string) []string {
	// Trim all first
	for i, v := range ss {
		ss[i] = strings.Trim(v, " ")
	}

	var m = make(map[string]struct{}, len(ss))
	var us = make([]string, 0, len(ss))
	for _, v := range ss {
		if _, ok := m[v]; ok {
			continue
		}
		m[v] = struct{}{}
		us = append(us, v)
	}

	return us
}
