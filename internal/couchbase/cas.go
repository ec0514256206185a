package couchbase

// CasSetter is implemented by documents that keep the CAS value they were read at.
type CasSetter interface {
	SetCas(cas uint64)
}

// Cas is embedded in documents to receive their CAS value on Get.
type Cas struct {
	c uint64
}

func (c *Cas) SetCas(cas uint64) {
	c.c = cas
}
