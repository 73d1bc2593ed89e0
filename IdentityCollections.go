package hnswdb

import "golang.org/x/exp/slices"


//============================================= Identity Collections


// Identifiable is implemented by anything that can be deduplicated by a stable
// identity key inside an IdentitySet/IdentityMap.
type Identifiable interface {
	identityKey() LazyItemID
}

// IdentitySet is an insertion-ordered, dedup-on-insert collection keyed by
// Identifiable.identityKey(). Snapshots returned by Iter are stable against
// concurrent Insert calls on the owning collection.
type IdentitySet[T Identifiable] struct {
	order []T
	index map[LazyItemID]int
}

// NewIdentitySet allocates an empty set.
func NewIdentitySet[T Identifiable]() *IdentitySet[T] {
	return &IdentitySet[T]{ index: make(map[LazyItemID]int) }
}

// Insert adds item if its identity key hasn't been seen before; otherwise it
// replaces the existing slot in place, preserving original insertion order.
func (set *IdentitySet[T]) Insert(item T) {
	key := item.identityKey()

	if pos, exists := set.index[key]; exists {
		set.order[pos] = item
		return
	}

	set.index[key] = len(set.order)
	set.order = append(set.order, item)
}

// Iter returns a snapshot slice in insertion order.
func (set *IdentitySet[T]) Iter() []T {
	out := make([]T, len(set.order))
	copy(out, set.order)
	return out
}

func (set *IdentitySet[T]) Len() int { return len(set.order) }
func (set *IdentitySet[T]) IsEmpty() bool { return len(set.order) == 0 }

// Clone produces an independent copy, used by the RCU-style collections when
// building a new snapshot to swap in.
func (set *IdentitySet[T]) Clone() *IdentitySet[T] {
	clone := &IdentitySet[T]{
		order: slices.Clone(set.order),
		index: make(map[LazyItemID]int, len(set.index)),
	}
	for k, v := range set.index { clone.index[k] = v }
	return clone
}

// IdentityMapKey is the tagged union used as IdentityMap's key: either a
// length-prefixed string or a raw 31-bit integer (the MSB of the serialized
// u32 discriminates the variant -- see Serialize.go).
type IdentityMapKey struct {
	isString bool
	str string
	num uint32
}

func IdentityMapKeyFromString(s string) IdentityMapKey { return IdentityMapKey{ isString: true, str: s } }
func IdentityMapKeyFromInt(n uint32) IdentityMapKey { return IdentityMapKey{ num: n } }

func (key IdentityMapKey) IsString() bool { return key.isString }
func (key IdentityMapKey) String() string { return key.str }
func (key IdentityMapKey) Int() uint32 { return key.num }

// IdentityMap is an insertion-ordered, dedup-on-insert map from
// IdentityMapKey to a LazyItem-wrapped value.
type IdentityMap[T any] struct {
	order []IdentityMapKey
	values map[IdentityMapKey]T
}

func NewIdentityMap[T any]() *IdentityMap[T] {
	return &IdentityMap[T]{ values: make(map[IdentityMapKey]T) }
}

func (m *IdentityMap[T]) Insert(key IdentityMapKey, value T) {
	if _, exists := m.values[key]; !exists {
		m.order = append(m.order, key)
	}
	m.values[key] = value
}

func (m *IdentityMap[T]) Iter() []struct{ Key IdentityMapKey; Value T } {
	out := make([]struct{ Key IdentityMapKey; Value T }, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, struct{ Key IdentityMapKey; Value T }{ Key: key, Value: m.values[key] })
	}
	return out
}

func (m *IdentityMap[T]) Len() int { return len(m.order) }
func (m *IdentityMap[T]) IsEmpty() bool { return len(m.order) == 0 }

func (m *IdentityMap[T]) Clone() *IdentityMap[T] {
	clone := &IdentityMap[T]{
		order: slices.Clone(m.order),
		values: make(map[IdentityMapKey]T, len(m.values)),
	}
	for k, v := range m.values { clone.values[k] = v }
	return clone
}
