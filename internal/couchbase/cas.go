package couchbase

// CasSetter is implemented by documents that record their CAS value.
type CasSetter interface {
	SetCas(cas uint64)
}

// CasGetter is implemented by documents that carry a CAS value for
// optimistic concurrency control.
type CasGetter interface {
	GetCas() uint64
}

// Cas provides a simple implementation of CAS value management.
// It can be embedded in document structs.
type Cas struct {
	c uint64
}

// GetCas returns the current CAS value.
func (c *Cas) GetCas() uint64 {
	return c.c
}

// SetCas updates the CAS value.
func (c *Cas) SetCas(cas uint64) {
	c.c = cas
}
