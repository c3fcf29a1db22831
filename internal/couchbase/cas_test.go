package couchbase

import (
	"testing"

	"github.com/couchbase/gocb/v2"
	"github.com/stretchr/testify/assert"
)

type doc struct {
	ID string `json:"id"`

	Cas `json:"-"`
}

func TestSetCas(t *testing.T) {
	d := &doc{ID: "a"}
	setCas(d, gocb.Cas(42))
	assert.Equal(t, uint64(42), d.GetCas())

	var g CasGetter = d
	assert.Equal(t, uint64(42), g.GetCas())
}

func TestSetCasIgnoresPlainValues(t *testing.T) {
	v := &struct{ ID string }{ID: "a"}
	assert.NotPanics(t, func() { setCas(v, gocb.Cas(1)) })
}

func TestNewStoreRejectsNil(t *testing.T) {
	_, err := NewStore[doc](nil, nil)
	assert.Error(t, err)
}
