// Package couchbase wraps one Couchbase collection as a typed key-value store
// and runs distributed transactions against a cluster.
package couchbase

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchbase/gocb/v2"
)

// Couchbase stores documents of type T in a single collection.
type Couchbase[T any] struct {
	collection *gocb.Collection
}

func NewCouchbase[T any](collection *gocb.Collection) (*Couchbase[T], error) {
	if collection == nil {
		return nil, errors.New("invalid Couchbase parameters: collection must not be nil")
	}

	return &Couchbase[T]{collection: collection}, nil
}

// Insert creates the document at key. It fails with an error wrapping
// gocb.ErrDocumentExists if the key is taken.
func (c *Couchbase[T]) Insert(ctx context.Context, key string, value T, insertOptions *gocb.InsertOptions) error {
	if insertOptions == nil {
		insertOptions = new(gocb.InsertOptions)
	}
	insertOptions.Context = ctx

	_, err := c.collection.Insert(key, value, insertOptions)
	if err != nil {
		return fmt.Errorf("failed to insert document with key %s: %w", key, err)
	}

	return nil
}

// Get reads the document at key. Documents embedding Cas receive the CAS
// value of the read.
func (c *Couchbase[T]) Get(ctx context.Context, key string, opts *gocb.GetOptions) (*T, error) {
	if opts == nil {
		opts = new(gocb.GetOptions)
	}
	opts.Context = ctx

	res, err := c.collection.Get(key, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get document with key %s: %w", key, err)
	}

	var v T
	if err := res.Content(&v); err != nil {
		return nil, fmt.Errorf("failed to parse document content for key %s: %w", key, err)
	}

	if s, ok := any(&v).(CasSetter); ok {
		s.SetCas(uint64(res.Cas()))
	}

	return &v, nil
}

// Exists reports whether a document is stored at key without reading it.
func (c *Couchbase[T]) Exists(ctx context.Context, key string) (bool, error) {
	res, err := c.collection.Exists(key, &gocb.ExistsOptions{Context: ctx})
	if err != nil {
		return false, fmt.Errorf("failed to check document with key %s: %w", key, err)
	}

	return res.Exists(), nil
}

// Collection returns the underlying collection so transactions can address it.
func (c *Couchbase[T]) Collection() *gocb.Collection {
	return c.collection
}
