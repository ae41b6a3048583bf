// Package inmemory provides an ephemeral, thread-safe, in-memory
// implementation of the runstore.Store interface.
//
// Records are kept in a sync.Map keyed by run id: each run is written once
// when it finishes and then only read, which is the access pattern sync.Map
// is optimized for. Everything is lost when the process exits.
package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/vk/stagegrid/internal/runstore"
)

// Store is an in-memory implementation of runstore.Store.
type Store struct {
	records sync.Map // Key: run id, Value: *runstore.Record
}

// New creates a new, empty in-memory run store.
func New() runstore.Store {
	return &Store{}
}

// Save stores a copy of the record.
func (s *Store) Save(_ context.Context, rec *runstore.Record) error {
	cp := rec.Clone()
	if prev, ok := s.records.Load(rec.RunID); ok {
		// History is append-only: never let a shorter log replace a longer one.
		if old := prev.(*runstore.Record); len(old.History) > len(cp.History) {
			cp.History = append(cp.History, old.History[len(cp.History):]...)
		}
	}
	s.records.Store(rec.RunID, cp)
	return nil
}

// Get returns a copy of the stored record.
func (s *Store) Get(_ context.Context, runID string) (*runstore.Record, error) {
	v, ok := s.records.Load(runID)
	if !ok {
		return nil, runstore.ErrNotFound
	}
	return v.(*runstore.Record).Clone(), nil
}

// List returns copies of the stored records, newest first.
func (s *Store) List(_ context.Context, definitionID string) ([]*runstore.Record, error) {
	var out []*runstore.Record
	s.records.Range(func(_, v any) bool {
		rec := v.(*runstore.Record)
		if definitionID == "" || rec.DefinitionID == definitionID {
			out = append(out, rec.Clone())
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
