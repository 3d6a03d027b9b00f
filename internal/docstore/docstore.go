// Package docstore abstracts the document-oriented key-value store the
// registry persists into: named collections of JSON documents with get/set,
// ordered listing, and batched atomic writes. The registry store runs against
// memory, Redis, or Postgres without rewiring.
package docstore

import (
	"context"

	dErrors "oaphub/pkg/domain-errors"
)

// ErrNotFound keeps store-specific 404s consistent across implementations.
var ErrNotFound = dErrors.New(dErrors.CodeNotFound, "document not found")

// Document is one stored JSON payload with its key.
type Document struct {
	Key  string
	Data []byte
}

// Store is the persistence surface. List returns documents ordered by key so
// range-style reads are deterministic. ApplyBatch commits all operations
// atomically: concurrent readers observe either none or all of a batch's
// writes for any single document, and a failed batch leaves the store
// untouched.
type Store interface {
	Get(ctx context.Context, collection, key string) ([]byte, error)
	Set(ctx context.Context, collection, key string, data []byte) error
	Delete(ctx context.Context, collection, key string) error
	List(ctx context.Context, collection string) ([]Document, error)
	ApplyBatch(ctx context.Context, batch *Batch) error
}

type opKind int

const (
	opSet opKind = iota
	opDelete
)

type op struct {
	kind       opKind
	collection string
	key        string
	data       []byte
}

// Batch accumulates write operations for one atomic commit.
type Batch struct {
	ops []op
}

// NewBatch creates an empty batch.
func NewBatch() *Batch { return &Batch{} }

// Set queues a document write.
func (b *Batch) Set(collection, key string, data []byte) *Batch {
	b.ops = append(b.ops, op{kind: opSet, collection: collection, key: key, data: data})
	return b
}

// Delete queues a document removal. Removing an absent document is a no-op.
func (b *Batch) Delete(collection, key string) *Batch {
	b.ops = append(b.ops, op{kind: opDelete, collection: collection, key: key})
	return b
}

// Len reports the number of queued operations.
func (b *Batch) Len() int { return len(b.ops) }
