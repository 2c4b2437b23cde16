// Package memkv is an in-memory implementation of the kv contract, used by
// tests and by deployments that run without a database.
package memkv

import (
	"context"
	"sync"

	"github.com/finledger/ledgercore/internal/kv"
)

type Store struct {
	mu      sync.Mutex
	records map[kv.Key]kv.Record
}

func NewStore() *Store {
	return &Store{records: make(map[kv.Key]kv.Record)}
}

func (s *Store) Read(ctx context.Context, key kv.Key) (kv.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return kv.Record{}, kv.ErrNotFound
	}
	return clone(rec), nil
}

func (s *Store) Put(ctx context.Context, rec kv.Record, pred kv.Predicate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.records[rec.Key]
	if !pred.Holds(existing, exists) {
		return &kv.ConditionError{Index: 0, Key: rec.Key}
	}
	s.records[rec.Key] = clone(rec)
	return nil
}

func (s *Store) Commit(ctx context.Context, writes []kv.Write) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check every predicate before touching anything so a failure leaves the
	// store untouched.
	for i, w := range writes {
		existing, exists := s.records[w.Record.Key]
		if !w.Predicate.Holds(existing, exists) {
			return &kv.ConditionError{Index: i, Key: w.Record.Key}
		}
	}

	for _, w := range writes {
		if w.Delete {
			delete(s.records, w.Record.Key)
			continue
		}
		s.records[w.Record.Key] = clone(w.Record)
	}
	return nil
}

// Len reports the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Keys returns the keys of all stored records, in no particular order.
func (s *Store) Keys() []kv.Key {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]kv.Key, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	return keys
}

func clone(rec kv.Record) kv.Record {
	out := rec
	out.Attributes = make(map[string]string, len(rec.Attributes))
	for k, v := range rec.Attributes {
		out.Attributes[k] = v
	}
	return out
}
