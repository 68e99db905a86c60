package cache

import (
	"sync"

	"github.com/disgoorg/snowflake/v2"
)

type entry[V any] struct {
	value V
	stamp uint64
}

// bucket holds one entity type. Methods ending in Locked expect the caller
// to hold mu in the right mode.
type bucket[K comparable, V any] struct {
	mu         sync.RWMutex
	entries    map[K]entry[V]
	tombstones map[K]uint64

	// ownerOf groups keys by the id of the entity that owns them. nil for
	// buckets without an owner.
	ownerOf func(V) snowflake.ID
	owned   map[snowflake.ID]map[K]struct{}
}

func newBucket[K comparable, V any](ownerOf func(V) snowflake.ID) *bucket[K, V] {
	b := &bucket[K, V]{ownerOf: ownerOf}
	b.resetLocked()
	return b
}

func (b *bucket[K, V]) resetLocked() {
	b.entries = make(map[K]entry[V])
	b.tombstones = make(map[K]uint64)
	b.owned = make(map[snowflake.ID]map[K]struct{})
}

func (b *bucket[K, V]) getLocked(key K) (V, bool) {
	e, ok := b.entries[key]
	return e.value, ok
}

func (b *bucket[K, V]) get(key K) (V, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.getLocked(key)
}

// putLocked stores value unless a newer write or delete already happened.
// The second result reports whether the write was applied. When it was
// rejected by a newer entry, that entry is returned.
func (b *bucket[K, V]) putLocked(key K, value V, stamp uint64) (V, bool) {
	if deletedAt, ok := b.tombstones[key]; ok && stamp < deletedAt {
		return value, false
	}
	current, exists := b.entries[key]
	if exists && stamp < current.stamp {
		return current.value, false
	}
	delete(b.tombstones, key)
	if exists {
		b.unindexLocked(key, current.value)
	}
	b.entries[key] = entry[V]{value: value, stamp: stamp}
	b.indexLocked(key, value)
	return value, true
}

// replaceLocked rewrites a stored value in place, keeping its stamp.
func (b *bucket[K, V]) replaceLocked(key K, value V) {
	current, ok := b.entries[key]
	if !ok {
		return
	}
	b.unindexLocked(key, current.value)
	b.entries[key] = entry[V]{value: value, stamp: current.stamp}
	b.indexLocked(key, value)
}

// removeLocked deletes key unless it was written after stamp.
func (b *bucket[K, V]) removeLocked(key K, stamp uint64) (V, bool) {
	current, exists := b.entries[key]
	if exists && stamp < current.stamp {
		var zero V
		return zero, false
	}
	return b.forceRemoveLocked(key, stamp)
}

// forceRemoveLocked deletes key whatever its stamp, used when the owner of
// the entity goes away.
func (b *bucket[K, V]) forceRemoveLocked(key K, stamp uint64) (V, bool) {
	current, exists := b.entries[key]
	if exists {
		if current.stamp > stamp {
			stamp = current.stamp
		}
		b.unindexLocked(key, current.value)
		delete(b.entries, key)
	}
	if stamp > b.tombstones[key] {
		b.tombstones[key] = stamp
	}
	return current.value, exists
}

func (b *bucket[K, V]) ownedLocked(owner snowflake.ID) []K {
	keys := make([]K, 0, len(b.owned[owner]))
	for key := range b.owned[owner] {
		keys = append(keys, key)
	}
	return keys
}

func (b *bucket[K, V]) ownedValuesLocked(owner snowflake.ID) []V {
	values := make([]V, 0, len(b.owned[owner]))
	for key := range b.owned[owner] {
		values = append(values, b.entries[key].value)
	}
	return values
}

func (b *bucket[K, V]) valuesLocked() []V {
	values := make([]V, 0, len(b.entries))
	for _, e := range b.entries {
		values = append(values, e.value)
	}
	return values
}

func (b *bucket[K, V]) len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

func (b *bucket[K, V]) indexLocked(key K, value V) {
	if b.ownerOf == nil {
		return
	}
	owner := b.ownerOf(value)
	if owner == 0 {
		return
	}
	keys, ok := b.owned[owner]
	if !ok {
		keys = make(map[K]struct{})
		b.owned[owner] = keys
	}
	keys[key] = struct{}{}
}

func (b *bucket[K, V]) unindexLocked(key K, value V) {
	if b.ownerOf == nil {
		return
	}
	owner := b.ownerOf(value)
	keys, ok := b.owned[owner]
	if !ok {
		return
	}
	delete(keys, key)
	if len(keys) == 0 {
		delete(b.owned, owner)
	}
}

// removeOwned drops an entity whose owner is going away. With force it goes
// whatever its stamp, otherwise only when it is not newer than stamp.
func removeOwned[K comparable, V any](b *bucket[K, V], key K, stamp uint64, force bool) bool {
	if force {
		_, ok := b.forceRemoveLocked(key, stamp)
		return ok
	}
	_, ok := b.removeLocked(key, stamp)
	return ok
}
