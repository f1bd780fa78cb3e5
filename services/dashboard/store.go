// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dashboard

import (
	"context"
	"errors"
	"hash/fnv"
	"sort"
	"sync"
)

// ErrNotFound is returned when a store has no entity with the given id.
var ErrNotFound = errors.New("entity not found")

// Entity is anything addressable by a stable id.
type Entity interface {
	EntityID() string
}

// Store is the shared queryable entity store injected into the transport
// layer and background tasks. Implementations must be safe for concurrent
// use; List returns entities in ascending id order.
type Store[T Entity] interface {
	Get(ctx context.Context, id string) (T, error)
	List(ctx context.Context) ([]T, error)
	Upsert(ctx context.Context, entity T) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore is the in-memory Store backing zones and poles. Incidents
// that must survive restarts use the badger store instead.
type MemoryStore[T Entity] struct {
	mu    sync.RWMutex
	items map[string]T
}

// NewMemoryStore creates a store pre-seeded with the given entities.
func NewMemoryStore[T Entity](seed ...T) *MemoryStore[T] {
	s := &MemoryStore[T]{items: make(map[string]T, len(seed))}
	for _, item := range seed {
		s.items[item.EntityID()] = item
	}
	return s
}

func (s *MemoryStore[T]) Get(_ context.Context, id string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return item, nil
}

func (s *MemoryStore[T]) List(_ context.Context) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID() < out[j].EntityID() })
	return out, nil
}

func (s *MemoryStore[T]) Upsert(_ context.Context, entity T) error {
	s.mu.Lock()
	s.items[entity.EntityID()] = entity
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore[T]) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}

// keyedMutexStripes fixes the lock table size. Collisions only cost
// unnecessary serialization, never incorrect results.
const keyedMutexStripes = 64

// KeyedMutex provides per-entity mutual exclusion for pipeline side
// effects: two simulations mutating the same zone serialize, while
// unrelated zones proceed concurrently. Striped so the lock table stays
// bounded regardless of how many ids ever pass through.
type KeyedMutex struct {
	stripes [keyedMutexStripes]sync.Mutex
}

// Lock acquires the stripe for id and returns its unlock function.
func (m *KeyedMutex) Lock(id string) func() {
	h := fnv.New32a()
	h.Write([]byte(id))
	stripe := &m.stripes[h.Sum32()%keyedMutexStripes]
	stripe.Lock()
	return stripe.Unlock
}
