package validator

import (
	"fmt"
	"reflect"
)

// Validate fails when any dep is nil or is a zero scalar such as "" or 0.
// Struct values always count as present, so stateless adapters pass.
func Validate(name string, deps ...any) error {
	for i, dep := range deps {
		if missing(dep) {
			return fmt.Errorf("missing required dep %d for component: %s", i, name)
		}
	}

	return nil
}

func missing(dep any) bool {
	if dep == nil {
		return true
	}

	v := reflect.ValueOf(dep)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	case reflect.Struct:
		return false
	default:
		return v.IsZero()
	}
}
