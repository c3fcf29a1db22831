package validator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dep struct{}

type stringer struct{}

func (stringer) String() string { return "stringer" }

func TestValidate(t *testing.T) {
	var nilDep *dep
	var nilFunc func()

	tests := []struct {
		name    string
		deps    []any
		wantErr bool
	}{
		{name: "all present", deps: []any{&dep{}, "bucket", 10, func() {}}},
		{name: "untyped nil", deps: []any{nil}, wantErr: true},
		{name: "nil pointer", deps: []any{&dep{}, nilDep}, wantErr: true},
		{name: "nil func", deps: []any{nilFunc}, wantErr: true},
		{name: "empty string", deps: []any{""}, wantErr: true},
		{name: "zero int", deps: []any{0}, wantErr: true},
		{name: "zero struct", deps: []any{dep{}}},
		{name: "zero struct in interface", deps: []any{fmt.Stringer(stringer{})}},
		{name: "no deps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate("component", tt.deps...)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "component")
				return
			}
			assert.NoError(t, err)
		})
	}
}
