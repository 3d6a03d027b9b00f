package docstore

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps collections in process memory. It is the default backend
// for development and the reference implementation for the Store contract in
// tests. It intentionally favors clarity over performance.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, collection, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if data, ok := s.collections[collection][key]; ok {
		return append([]byte(nil), data...), nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Set(_ context.Context, collection, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(collection, key, data)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections[collection], key)
	return nil
}

func (s *MemoryStore) List(_ context.Context, collection string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]Document, 0, len(s.collections[collection]))
	for key, data := range s.collections[collection] {
		docs = append(docs, Document{Key: key, Data: append([]byte(nil), data...)})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Key < docs[j].Key })
	return docs, nil
}

// ApplyBatch commits all operations under one lock acquisition, which gives
// the batch its atomicity for this backend.
func (s *MemoryStore) ApplyBatch(_ context.Context, batch *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range batch.ops {
		switch o.kind {
		case opSet:
			s.set(o.collection, o.key, o.data)
		case opDelete:
			delete(s.collections[o.collection], o.key)
		}
	}
	return nil
}

// set stores a copy. Caller holds s.mu.
func (s *MemoryStore) set(collection, key string, data []byte) {
	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string][]byte)
		s.collections[collection] = coll
	}
	coll[key] = append([]byte(nil), data...)
}
