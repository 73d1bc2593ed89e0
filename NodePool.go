package hnswdb

import "sync"
import "sync/atomic"


//============================================= MergedNode Pool


// NodePool recycles *MergedNode allocations instead of leaving them to
// garbage collection, which matters once a graph's write pipeline is
// allocating and discarding nodes at a steady rate during indexing passes.
type NodePool struct {
	pool *sync.Pool
	MaxSize int64
	Size int64
}

// NewNodePool builds a pool pre-warmed with maxSize reset nodes, mirroring the
// teacher's node pool initialization.
func NewNodePool(maxSize int64) *NodePool {
	np := &NodePool{ MaxSize: maxSize }

	np.pool = &sync.Pool{
		New: func() interface{} { return np.reset(NewMergedNode(0, 0)) },
	}
	np.initializePool()

	return np
}

// Get returns a pre-allocated, reset node, decrementing the pool's tracked
// size. If the pool is empty, sync.Pool allocates a fresh one.
func (np *NodePool) Get(versionID VersionId, level HNSWLevel) *MergedNode {
	node := np.pool.Get().(*MergedNode)
	if atomic.LoadInt64(&np.Size) > 0 { atomic.AddInt64(&np.Size, -1) }

	node.VersionID = versionID
	node.HNSWLevelValue = level
	return node
}

// Put returns node to the pool once it has been serialized and is no longer
// referenced live in the graph. Dropped instead of pooled once MaxSize is
// reached, leaving the rest to the garbage collector.
func (np *NodePool) Put(node *MergedNode) {
	if atomic.LoadInt64(&np.Size) < np.MaxSize {
		np.pool.Put(np.reset(node))
		atomic.AddInt64(&np.Size, 1)
	}
}

func (np *NodePool) initializePool() {
	for range make([]int, np.MaxSize) {
		np.pool.Put(np.reset(NewMergedNode(0, 0)))
		atomic.AddInt64(&np.Size, 1)
	}
}

// reset restores a recycled node to its freshly-constructed state so a
// caller pulling it from the pool never observes a prior tenant's edges.
func (np *NodePool) reset(node *MergedNode) *MergedNode {
	node.VersionID = 0
	node.HNSWLevelValue = 0
	node.prop.Store(ptr(PendingPropState(PropPersistRef{})))
	node.Neighbors = NewEagerLazyItemSet[MergedNode, CosineSimilarity]()
	node.Parent = NewInvalidLazyItemRef[MergedNode]()
	node.Child = NewInvalidLazyItemRef[MergedNode]()
	node.Versions = NewLazyItemMap[MergedNode]()
	node.persistFlag.Store(true)

	return node
}
