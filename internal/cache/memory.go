package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type Mem struct{ c *gocache.Cache }

// NewMemory builds an in-process cache with the given default TTL.
func NewMemory(defaultTTL time.Duration) *Mem {
	return &Mem{c: gocache.New(defaultTTL, time.Minute)}
}

var _ Cache = (*Mem)(nil)

func (m *Mem) Get(k string) ([]byte, bool) {
	v, ok := m.c.Get(k)
	if !ok {
		return nil, false
	}
	b, _ := v.([]byte)
	return b, true
}

func (m *Mem) Set(k string, v []byte, ttl time.Duration) { m.c.Set(k, v, ttl) }
func (m *Mem) Delete(k string)                           { m.c.Delete(k) }
