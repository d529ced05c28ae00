// Package memory is the in-process doc.Store used for development and tests.
// One mutex guards everything, which trivially gives the atomicity the
// Store contract asks of Delete, Create and DeleteBatch.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dropDatabas3/idbroker/internal/store/core"
	"github.com/dropDatabas3/idbroker/internal/store/doc"
)

type Store struct {
	mu    sync.Mutex
	colls map[string]map[string]doc.Fields
}

func New() *Store {
	return &Store{colls: make(map[string]map[string]doc.Fields)}
}

var _ doc.Store = (*Store)(nil)

func (s *Store) Get(ctx context.Context, collection, id string) (doc.Fields, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.colls[collection][id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return clone(f), nil
}

func (s *Store) Query(ctx context.Context, collection string, limit int, conds ...doc.Cond) ([]doc.Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []doc.Doc
	for id, f := range s.colls[collection] {
		if matches(f, conds) {
			out = append(out, doc.Doc{ID: id, Fields: clone(f)})
		}
	}
	// map iteration order is random; keep results stable for callers
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Set(ctx context.Context, collection, id string, fields doc.Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coll(collection)[id] = clone(fields)
	return nil
}

func (s *Store) Create(ctx context.Context, collection, id string, fields doc.Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)
	if _, exists := c[id]; exists {
		return fmt.Errorf("memory: create %s/%s: %w", collection, id, core.ErrConflict)
	}
	c[id] = clone(fields)
	return nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields doc.Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.colls[collection][id]
	if !ok {
		return core.ErrNotFound
	}
	for k, v := range fields {
		cur[k] = v
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.colls[collection]
	if !ok {
		return false, nil
	}
	if _, exists := c[id]; !exists {
		return false, nil
	}
	delete(c, id)
	return true, nil
}

func (s *Store) DeleteBatch(ctx context.Context, refs []doc.Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range refs {
		if c, ok := s.colls[r.Collection]; ok {
			delete(c, r.ID)
		}
	}
	return nil
}

func (s *Store) Truncate(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.colls, collection)
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close() error                   { return nil }

func (s *Store) coll(name string) map[string]doc.Fields {
	c, ok := s.colls[name]
	if !ok {
		c = make(map[string]doc.Fields)
		s.colls[name] = c
	}
	return c
}

func matches(f doc.Fields, conds []doc.Cond) bool {
	for _, c := range conds {
		v, ok := f[c.Field]
		if !ok || !doc.ValuesEqual(v, c.Value) {
			return false
		}
	}
	return true
}

func clone(f doc.Fields) doc.Fields {
	out := make(doc.Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
