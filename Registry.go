package hnswdb

import "io"
import "sync"

import "github.com/RoaringBitmap/roaring"


//============================================= Node Registry


// NodeRegistry guarantees that loading the same on-disk offset twice returns
// the same in-memory *LazyItem[MergedNode] handle, and bounds deserialization
// recursion so a cyclic graph (parent/child/neighbor links that loop back on
// themselves) terminates instead of recursing forever.
type NodeRegistry struct {
	reader io.ReaderAt
	mu sync.Mutex
	byOffset map[FileOffset]*LazyItem[MergedNode]
	maxLoads int
}

// NewNodeRegistry builds a registry reading nodes from reader, with maxLoads
// as the recursion budget for a single Load call chain; exceeding it yields
// an offset-only placeholder rather than loading forever on a malformed or
// pathological graph.
func NewNodeRegistry(reader io.ReaderAt, maxLoads int) *NodeRegistry {
	return &NodeRegistry{
		reader: reader,
		byOffset: make(map[FileOffset]*LazyItem[MergedNode]),
		maxLoads: maxLoads,
	}
}

// getOrInsert returns the registered handle for offset, registering
// placeholder as the handle if none exists yet. The returned bool is true
// when an existing handle was reused.
func (registry *NodeRegistry) getOrInsert(offset FileOffset, placeholder *LazyItem[MergedNode]) (*LazyItem[MergedNode], bool) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if existing, found := registry.byOffset[offset]; found { return existing, true }

	registry.byOffset[offset] = placeholder
	return placeholder, false
}

// skipSet tracks offsets already visited within one Load call tree, so a
// cycle in the on-disk graph (A references B, B references A) is walked at
// most once per offset instead of recursing indefinitely.
type skipSet struct {
	seen *roaring.Bitmap
	loads int
	maxLoads int
}

func newSkipSet(maxLoads int) *skipSet {
	return &skipSet{ seen: roaring.New(), maxLoads: maxLoads }
}

// visit records offset as seen and reports whether it was already visited
// (a cycle) or the load budget has been exhausted.
func (set *skipSet) visit(offset FileOffset) (alreadySeen bool, budgetExceeded bool) {
	set.loads++
	if set.loads > set.maxLoads { return false, true }

	if set.seen.Contains(offset) { return true, false }

	set.seen.Add(offset)
	return false, false
}

// Load resolves a persisted offset to a *LazyItem[MergedNode], faulting the
// node in via deserializeMergedNode exactly once per offset -- subsequent
// references to the same offset within or across calls return the
// previously registered handle, except references reached after the load
// budget is spent, which get a fresh offset-only placeholder (see resolve).
func (registry *NodeRegistry) Load(offset FileOffset) (*LazyItem[MergedNode], error) {
	placeholder := LazyItemFromOffset[MergedNode](offset)

	handle, reused := registry.getOrInsert(offset, placeholder)
	if reused { return handle, nil }

	set := newSkipSet(registry.maxLoads)
	set.seen.Add(offset)

	node, decodeErr := deserializeMergedNode(registry.reader, offset, registry, set)
	if decodeErr != nil { return nil, decodeErr }

	handle.SetData(*node)
	return handle, nil
}

// resolve returns the registered handle for offset if the current load path
// has already visited it (cycle termination), a fresh offset-only placeholder
// that is not registered if the recursion budget is exhausted, or nil if
// decode should proceed to fault it in normally.
func (registry *NodeRegistry) resolve(offset FileOffset, set *skipSet) *LazyItem[MergedNode] {
	alreadySeen, budgetExceeded := set.visit(offset)
	if budgetExceeded { return LazyItemFromOffset[MergedNode](offset) }
	if !alreadySeen { return nil }

	registry.mu.Lock()
	defer registry.mu.Unlock()

	if existing, found := registry.byOffset[offset]; found { return existing }
	return LazyItemFromOffset[MergedNode](offset)
}

// resolveLazyItem loads the node at offset, reusing the registered handle on a
// repeat reference or a cycle, and returning a plain offset-only placeholder
// once the current path has exhausted its recursion budget.
func (registry *NodeRegistry) resolveLazyItem(offset FileOffset, set *skipSet) (*LazyItem[MergedNode], error) {
	if cached := registry.resolve(offset, set); cached != nil { return cached, nil }

	placeholder := LazyItemFromOffset[MergedNode](offset)
	handle, reused := registry.getOrInsert(offset, placeholder)
	if reused { return handle, nil }

	node, err := deserializeMergedNode(registry.reader, offset, registry, set)
	if err != nil { return nil, err }

	handle.SetData(*node)
	return handle, nil
}

// Len reports how many distinct offsets have been registered, mostly useful
// for tests asserting that a cyclic graph was deduplicated correctly.
func (registry *NodeRegistry) Len() int {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return len(registry.byOffset)
}
