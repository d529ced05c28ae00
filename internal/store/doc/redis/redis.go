// Package redis backs doc.Store with Redis. Documents are JSON strings under
// doc:<collection>:<id>; equality queries are served by set indexes under
// idx:<collection>:<field>:<token>, maintained for the fields declared in
// Config.Indexes. GETDEL makes Delete's existed report exactly-once, and
// SET NX makes Create an atomic conditional write.
package redis

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/idbroker/internal/store/core"
	"github.com/dropDatabas3/idbroker/internal/store/doc"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string

	// Indexes lists, per collection, the fields equality queries may use.
	Indexes map[string][]string
}

type Store struct {
	c       *goredis.Client
	prefix  string
	indexes map[string][]string
}

func New(cfg Config) *Store {
	if cfg.Prefix != "" && !strings.HasSuffix(cfg.Prefix, ":") {
		cfg.Prefix += ":"
	}
	return &Store{
		c: goredis.NewClient(&goredis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix:  cfg.Prefix,
		indexes: cfg.Indexes,
	}
}

var _ doc.Store = (*Store)(nil)

func (s *Store) docKey(coll, id string) string {
	return s.prefix + "doc:" + coll + ":" + id
}

func (s *Store) idxKey(coll, field string, value any) string {
	return s.prefix + "idx:" + coll + ":" + field + ":" + doc.IndexKey(value)
}

func (s *Store) indexed(coll, field string) bool {
	for _, f := range s.indexes[coll] {
		if f == field {
			return true
		}
	}
	return false
}

func (s *Store) Get(ctx context.Context, collection, id string) (doc.Fields, error) {
	b, err := s.c.Get(ctx, s.docKey(collection, id)).Bytes()
	if err == goredis.Nil {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get: %w", err)
	}
	return doc.Decode(b)
}

func (s *Store) Query(ctx context.Context, collection string, limit int, conds ...doc.Cond) ([]doc.Doc, error) {
	if len(conds) == 0 {
		return nil, fmt.Errorf("redis: query without conditions is not supported")
	}
	keys := make([]string, 0, len(conds))
	for _, c := range conds {
		if !s.indexed(collection, c.Field) {
			return nil, fmt.Errorf("redis: field %q is not indexed in collection %q", c.Field, collection)
		}
		keys = append(keys, s.idxKey(collection, c.Field, c.Value))
	}

	ids, err := s.c.SInter(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: query: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var out []doc.Doc
	for _, id := range ids {
		f, err := s.Get(ctx, collection, id)
		if err == core.ErrNotFound {
			continue // stale index entry
		}
		if err != nil {
			return nil, err
		}
		// re-check: index tokens are hashes, equality must be confirmed
		ok := true
		for _, c := range conds {
			if v, has := f[c.Field]; !has || !doc.ValuesEqual(v, c.Value) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, doc.Doc{ID: id, Fields: f})
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) Set(ctx context.Context, collection, id string, fields doc.Fields) error {
	old, err := s.Get(ctx, collection, id)
	if err != nil && err != core.ErrNotFound {
		return err
	}
	b, err := doc.Encode(fields)
	if err != nil {
		return err
	}
	p := s.c.TxPipeline()
	s.unindex(ctx, p, collection, id, old)
	p.Set(ctx, s.docKey(collection, id), b, 0)
	s.index(ctx, p, collection, id, fields)
	_, err = p.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis: set: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, collection, id string, fields doc.Fields) error {
	b, err := doc.Encode(fields)
	if err != nil {
		return err
	}
	ok, err := s.c.SetNX(ctx, s.docKey(collection, id), b, 0).Result()
	if err != nil {
		return fmt.Errorf("redis: create: %w", err)
	}
	if !ok {
		return fmt.Errorf("redis: create %s/%s: %w", collection, id, core.ErrConflict)
	}
	p := s.c.TxPipeline()
	s.index(ctx, p, collection, id, fields)
	if _, err := p.Exec(ctx); err != nil {
		return fmt.Errorf("redis: create index: %w", err)
	}
	return nil
}

// Update merges under WATCH so a concurrent writer aborts the transaction
// instead of having its fields overwritten by a stale read.
func (s *Store) Update(ctx context.Context, collection, id string, fields doc.Fields) error {
	key := s.docKey(collection, id)
	for attempt := 0; attempt < 5; attempt++ {
		err := s.c.Watch(ctx, func(tx *goredis.Tx) error {
			b, err := tx.Get(ctx, key).Bytes()
			if err == goredis.Nil {
				return core.ErrNotFound
			}
			if err != nil {
				return err
			}
			cur, err := doc.Decode(b)
			if err != nil {
				return err
			}
			old := make(doc.Fields, len(cur))
			for k, v := range cur {
				old[k] = v
			}
			for k, v := range fields {
				cur[k] = v
			}
			nb, err := doc.Encode(cur)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
				s.unindex(ctx, p, collection, id, old)
				p.Set(ctx, key, nb, 0)
				s.index(ctx, p, collection, id, cur)
				return nil
			})
			return err
		}, key)
		if err == goredis.TxFailedErr {
			continue
		}
		if err == core.ErrNotFound {
			return core.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("redis: update: %w", err)
		}
		return nil
	}
	return fmt.Errorf("redis: update %s/%s: contention retries exhausted", collection, id)
}

func (s *Store) Delete(ctx context.Context, collection, id string) (bool, error) {
	b, err := s.c.GetDel(ctx, s.docKey(collection, id)).Bytes()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis: delete: %w", err)
	}
	old, derr := doc.Decode(b)
	if derr == nil {
		p := s.c.TxPipeline()
		s.unindex(ctx, p, collection, id, old)
		_, _ = p.Exec(ctx)
	}
	return true, nil
}

func (s *Store) DeleteBatch(ctx context.Context, refs []doc.Ref) error {
	// fetch old bodies first so index members can be removed in the same tx
	olds := make([]doc.Fields, len(refs))
	for i, r := range refs {
		f, err := s.Get(ctx, r.Collection, r.ID)
		if err != nil && err != core.ErrNotFound {
			return err
		}
		olds[i] = f
	}
	p := s.c.TxPipeline()
	for i, r := range refs {
		p.Del(ctx, s.docKey(r.Collection, r.ID))
		s.unindex(ctx, p, r.Collection, r.ID, olds[i])
	}
	if _, err := p.Exec(ctx); err != nil {
		return fmt.Errorf("redis: delete batch: %w", err)
	}
	return nil
}

func (s *Store) Truncate(ctx context.Context, collection string) error {
	for _, pattern := range []string{
		s.prefix + "doc:" + collection + ":*",
		s.prefix + "idx:" + collection + ":*",
	} {
		var cursor uint64
		for {
			keys, next, err := s.c.Scan(ctx, cursor, pattern, 256).Result()
			if err != nil {
				return fmt.Errorf("redis: truncate: %w", err)
			}
			if len(keys) > 0 {
				if err := s.c.Del(ctx, keys...).Err(); err != nil {
					return fmt.Errorf("redis: truncate: %w", err)
				}
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.c.Ping(ctx).Err() }
func (s *Store) Close() error                   { return s.c.Close() }

func (s *Store) index(ctx context.Context, p goredis.Pipeliner, coll, id string, f doc.Fields) {
	for _, field := range s.indexes[coll] {
		if v, ok := f[field]; ok {
			p.SAdd(ctx, s.idxKey(coll, field, v), id)
		}
	}
}

func (s *Store) unindex(ctx context.Context, p goredis.Pipeliner, coll, id string, old doc.Fields) {
	if old == nil {
		return
	}
	for _, field := range s.indexes[coll] {
		if v, ok := old[field]; ok {
			p.SRem(ctx, s.idxKey(coll, field, v), id)
		}
	}
}
