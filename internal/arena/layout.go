// Copyright 2024 The glimpse Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package arena

import (
	"fmt"
	"reflect"
	"sync"
)

type layout struct {
	size  uint64
	align uint64
}

// reflect.Type -> layout, filled in the first time a type is allocated or
// borrowed.
var layouts sync.Map

// layoutOf returns the size and alignment of T, panicking if T can't live in
// an arena.  Values in the mapping outlive the process, so anything the Go
// runtime would need to trace (pointers, slices, strings, maps, interfaces,
// funcs, chans) is rejected.
func layoutOf[T any]() layout {
	t := reflect.TypeFor[T]()
	if l, ok := layouts.Load(t); ok {
		return l.(layout)
	}
	if err := checkStorable(t); err != nil {
		panic(fmt.Errorf("invariant broken: %w", err))
	}
	if t.Size() == 0 {
		panic(fmt.Errorf("invariant broken: zero-sized type %s in arena", t))
	}
	l := layout{
		size:  uint64(t.Size()),
		align: uint64(t.Align()),
	}
	layouts.Store(t, l)
	return l
}

func checkStorable(t reflect.Type) error {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128:
		return nil
	case reflect.Array:
		if err := checkStorable(t.Elem()); err != nil {
			return fmt.Errorf("%s: %w", t, err)
		}
		return nil
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if err := checkStorable(f.Type); err != nil {
				return fmt.Errorf("%s.%s: %w", t, f.Name, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("type %s (%s) can't be stored in an arena", t, t.Kind())
	}
}
