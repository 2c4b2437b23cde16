// Package kv defines the durable-store contract the ledger engine runs
// against: point reads, single-record conditional writes and atomic
// multi-record commits over composite (partition, sort) keys. The engine
// never talks to a backend directly; implementations live in subpackages.
package kv

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("RECORD_NOT_FOUND")
	ErrConditionFailed = errors.New("CONDITION_FAILED")
)

// Key addresses one record in the store.
type Key struct {
	PK string
	SK string
}

func (k Key) String() string {
	return k.PK + "/" + k.SK
}

// Record is the unit of storage. Version and Status are first-class because
// predicates are expressed against them; everything else rides in Attributes.
type Record struct {
	Key        Key
	Version    int64
	Status     string
	Attributes map[string]string
}

type PredicateKind int

const (
	PredicateNone PredicateKind = iota
	PredicateAbsent
	PredicateVersionIs
	PredicateAbsentOrVersionIs
	PredicateStatusIs
)

// Predicate guards a write. A failed predicate rejects the write (and, inside
// a Commit, the whole batch).
type Predicate struct {
	Kind    PredicateKind
	Version int64
	Status  string
}

func Unconditional() Predicate { return Predicate{Kind: PredicateNone} }

func IfAbsent() Predicate { return Predicate{Kind: PredicateAbsent} }

func IfVersion(v int64) Predicate {
	return Predicate{Kind: PredicateVersionIs, Version: v}
}

func IfAbsentOrVersion(v int64) Predicate {
	return Predicate{Kind: PredicateAbsentOrVersionIs, Version: v}
}

func IfStatus(s string) Predicate {
	return Predicate{Kind: PredicateStatusIs, Status: s}
}

// Holds reports whether the predicate passes against the current state of a
// record. exists is false when no record is stored under the key.
func (p Predicate) Holds(existing Record, exists bool) bool {
	switch p.Kind {
	case PredicateNone:
		return true
	case PredicateAbsent:
		return !exists
	case PredicateVersionIs:
		return exists && existing.Version == p.Version
	case PredicateAbsentOrVersionIs:
		return !exists || existing.Version == p.Version
	case PredicateStatusIs:
		return exists && existing.Status == p.Status
	}
	return false
}

// Write is one element of an atomic batch. When Delete is set the record under
// Record.Key is removed instead of written.
type Write struct {
	Record    Record
	Predicate Predicate
	Delete    bool
}

// ConditionError reports which write of a batch failed its predicate.
type ConditionError struct {
	Index int
	Key   Key
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("condition failed for write %d (%s)", e.Index, e.Key)
}

func (e *ConditionError) Unwrap() error { return ErrConditionFailed }

// Store is the capability the engine requires from the backend.
//
// Commit applies every write in the batch or none of them. A predicate
// failure anywhere aborts the batch and surfaces as a *ConditionError.
type Store interface {
	Read(ctx context.Context, key Key) (Record, error)
	Put(ctx context.Context, rec Record, pred Predicate) error
	Commit(ctx context.Context, writes []Write) error
}
