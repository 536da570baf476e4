package position

import (
	"errors"
	"hash/fnv"
	"sort"
	"sync"

	"tradefunnel/src/model"
)

const shardCount = 16

var (
	ErrNotFound  = errors.New("position not found")
	ErrDuplicate = errors.New("position already tracked")
)

type shard struct {
	mu        sync.RWMutex
	positions map[string]*model.Position
}

// Store holds the active working set of positions, sharded by id.
type Store struct {
	shards [shardCount]*shard
}

func NewStore() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i] = &shard{positions: make(map[string]*model.Position)}
	}
	return s
}

func (s *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return s.shards[h.Sum32()%shardCount]
}

func (s *Store) Add(p model.Position) error {
	sh := s.shardFor(p.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.positions[p.ID]; ok {
		return ErrDuplicate
	}
	cp := p
	sh.positions[p.ID] = &cp
	return nil
}

// Get returns a copy of the stored position.
func (s *Store) Get(id string) (model.Position, bool) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	p, ok := sh.positions[id]
	if !ok {
		return model.Position{}, false
	}
	return *p, true
}

// Update applies fn to the stored position under its shard lock and returns the result.
func (s *Store) Update(id string, fn func(p *model.Position)) (model.Position, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	p, ok := sh.positions[id]
	if !ok {
		return model.Position{}, ErrNotFound
	}
	fn(p)
	return *p, nil
}

func (s *Store) Remove(id string) (model.Position, bool) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	p, ok := sh.positions[id]
	if !ok {
		return model.Position{}, false
	}
	delete(sh.positions, id)
	return *p, true
}

// Open lists copies of all tracked positions ordered by open time then id.
func (s *Store) Open() []model.Position {
	out := make([]model.Position, 0)
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, p := range sh.positions {
			out = append(out, *p)
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) HasSymbol(symbol string) bool {
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, p := range sh.positions {
			if p.Symbol == symbol {
				sh.mu.RUnlock()
				return true
			}
		}
		sh.mu.RUnlock()
	}
	return false
}

func (s *Store) Count() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.positions)
		sh.mu.RUnlock()
	}
	return n
}
