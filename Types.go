package hnswdb

import "fmt"
import "sync/atomic"

import "github.com/cespare/xxhash/v2"


//============================================= Scalar Aliases


type HNSWLevel = uint8
type FileOffset = uint32
type BytesToRead = uint32
type VersionId = uint16
type CosineSimilarity = float32

// PropPersistRef locates a NodeProp's serialized bytes in the property file.
type PropPersistRef struct {
	Offset FileOffset
	Length BytesToRead
}

//============================================= VectorId


// VectorId is the caller-supplied identifier for an embedding: either a
// string key or an integer key, never both.
type VectorId struct {
	isString bool
	str string
	num int32
}

func VectorIdFromString(s string) VectorId { return VectorId{ isString: true, str: s } }
func VectorIdFromInt(n int32) VectorId { return VectorId{ num: n } }

func (id VectorId) IsString() bool { return id.isString }
func (id VectorId) String() string {
	if id.isString { return id.str }
	return fmt.Sprintf("%d", id.num)
}
func (id VectorId) Int() int32 { return id.num }

// bytes renders a stable byte encoding used for hashing and wire encoding.
func (id VectorId) bytes() []byte {
	if id.isString { return []byte(id.str) }
	return []byte(fmt.Sprintf("i:%d", id.num))
}

// Equal reports whether id and other name the same vector, regardless of
// which constructor built them.
func (id VectorId) Equal(other VectorId) bool {
	if id.isString != other.isString { return false }
	if id.isString { return id.str == other.str }
	return id.num == other.num
}

//============================================= Quantized Storage


// StorageKind discriminates how Storage.QuantVec is packed.
type StorageKind uint8

const (
	StorageUnsignedByte StorageKind = iota
	StorageSubByte
)

// Storage is the opaque, byte-addressable quantized vector payload attached
// to a NodeProp. UnsignedByte packs one byte per dimension; SubByte holds
// each dimension, scaled to Resolution bits, in its own one-byte row of SubVec.
type Storage struct {
	Kind StorageKind
	Mag uint32
	QuantVec []byte
	SubVec [][]byte
	Resolution uint8
}

func NewUnsignedByteStorage(mag uint32, quantVec []byte) *Storage {
	return &Storage{ Kind: StorageUnsignedByte, Mag: mag, QuantVec: quantVec }
}

func NewSubByteStorage(mag uint32, subVec [][]byte, resolution uint8) *Storage {
	return &Storage{ Kind: StorageSubByte, Mag: mag, SubVec: subVec, Resolution: resolution }
}

//============================================= Domain Interfaces


// Quantizer turns a raw embedding into its on-disk Storage representation.
// Implementations may be stateless (ScalarQuantizer) or carry trained
// parameters (a product quantizer's codebooks).
type Quantizer interface {
	Quantize(vector []float32, kind StorageKind) (*Storage, error)
	Train(vectors [][]float32) error
}

// DistanceFunction computes a similarity/distance between two quantized
// vectors. Implementations must reject mismatched Storage kinds or lengths.
type DistanceFunction interface {
	Calculate(x, y *Storage) (float32, error)
}

//============================================= NodeProp / PropState


// NodeProp is a node's materialized property payload: its caller-facing id,
// the quantized vector, and where it lives in the property file once flushed.
type NodeProp struct {
	Id VectorId
	Value *Storage
	Location *PropPersistRef
}

// PropState is either Ready (the NodeProp is resident) or Pending (only its
// file location -- possibly the zero location, meaning not yet written -- is
// known). Reading a Pending prop requires a PropertyFile fetch.
type PropState struct {
	ready bool
	node *NodeProp
	pending PropPersistRef
}

func ReadyPropState(node *NodeProp) PropState { return PropState{ ready: true, node: node } }
func PendingPropState(ref PropPersistRef) PropState { return PropState{ pending: ref } }

func (state PropState) IsReady() bool { return state.ready }
func (state PropState) Node() (*NodeProp, bool) {
	if state.ready { return state.node, true }
	return nil, false
}
func (state PropState) PendingRef() PropPersistRef {
	if state.ready {
		if state.node.Location != nil { return *state.node.Location }
		return PropPersistRef{}
	}
	return state.pending
}

//============================================= Neighbour


// Neighbour pairs a graph node with a score. Despite the field's name, the
// store's indexer and RankNeighbors record the store's DistanceFunction
// result there (for CosineDistance, 1 minus the cosine similarity), so
// smaller means closer.
type Neighbour struct {
	Node *LazyItem[MergedNode]
	CosineSimilarity CosineSimilarity
}

//============================================= MergedNode


// MergedNode is a single HNSW graph node at a fixed level, holding its
// quantized property, neighbor set, parent/child links for level traversal,
// and the chain of prior versions it supersedes.
type MergedNode struct {
	VersionID VersionId
	HNSWLevelValue HNSWLevel

	prop atomic.Pointer[PropState]

	Neighbors *EagerLazyItemSet[MergedNode, CosineSimilarity]
	Parent *LazyItemRef[MergedNode]
	Child *LazyItemRef[MergedNode]
	Versions *LazyItemMap[MergedNode]

	persistFlag atomic.Bool
}

// NewMergedNode builds a node with no prop materialized yet, empty edges, and
// the persist flag set -- a freshly built node is always dirty.
func NewMergedNode(versionID VersionId, level HNSWLevel) *MergedNode {
	node := &MergedNode{
		VersionID: versionID,
		HNSWLevelValue: level,
		Neighbors: NewEagerLazyItemSet[MergedNode, CosineSimilarity](),
		Parent: NewInvalidLazyItemRef[MergedNode](),
		Child: NewInvalidLazyItemRef[MergedNode](),
		Versions: NewLazyItemMap[MergedNode](),
	}
	node.prop.Store(ptr(PendingPropState(PropPersistRef{})))
	node.persistFlag.Store(true)
	return node
}

func ptr[T any](v T) *T { return &v }

// IdentityID satisfies Keyed: a node's identity is the hash of its vector id,
// not the node's address, so the same logical node always dedups to the same
// LazyItemID no matter how many in-memory copies of it exist.
func (node *MergedNode) IdentityID() uint64 {
	state := node.GetProp()
	if nodeProp, ok := state.Node(); ok { return xxhash.Sum64(nodeProp.Id.bytes()) }
	return xxhash.Sum64(nil)
}

func (node *MergedNode) AddReadyNeighbor(neighbor *LazyItem[MergedNode], cosineSimilarity CosineSimilarity) {
	node.Neighbors.Insert(EagerLazyItem[MergedNode, CosineSimilarity]{ Eager: cosineSimilarity, Lazy: neighbor })
}

func (node *MergedNode) AddReadyNeighbors(neighbors []Neighbour) {
	for _, neighbor := range neighbors { node.AddReadyNeighbor(neighbor.Node, neighbor.CosineSimilarity) }
}

func (node *MergedNode) SetParent(parent *LazyItem[MergedNode]) { node.Parent.Set(parent) }
func (node *MergedNode) SetChild(child *LazyItem[MergedNode]) { node.Child.Set(child) }
func (node *MergedNode) GetParent() *LazyItemRef[MergedNode] { return node.Parent }
func (node *MergedNode) GetChild() *LazyItemRef[MergedNode] { return node.Child }
func (node *MergedNode) GetNeighbors() *EagerLazyItemSet[MergedNode, CosineSimilarity] { return node.Neighbors }

// AddVersion links a prior revision of this node into the version chain,
// keyed by a fresh uuid-derived key rather than a constant so successive
// versions never collide into a single map slot.
func (node *MergedNode) AddVersion(version *LazyItem[MergedNode]) {
	node.Versions.Insert(IdentityMapKeyFromString(newVersionKey()), version)
}

func (node *MergedNode) GetVersions() *LazyItemMap[MergedNode] { return node.Versions }

func (node *MergedNode) SetPropLocation(location PropPersistRef) {
	node.prop.Store(ptr(PendingPropState(location)))
}

func (node *MergedNode) GetPropLocation() (PropPersistRef, bool) {
	state := node.GetProp()
	if nodeProp, ok := state.Node(); ok {
		if nodeProp.Location != nil { return *nodeProp.Location, true }
		return PropPersistRef{}, false
	}
	ref := state.PendingRef()
	return ref, ref != (PropPersistRef{})
}

func (node *MergedNode) GetProp() PropState { return *node.prop.Load() }
func (node *MergedNode) SetPropPending(ref PropPersistRef) { node.prop.Store(ptr(PendingPropState(ref))) }
func (node *MergedNode) SetPropReady(nodeProp *NodeProp) { node.prop.Store(ptr(ReadyPropState(nodeProp))) }

//============================================= SyncPersist


// SyncPersist marks whether a value has unflushed changes, so a commit pass
// can walk only the dirty subset of the graph.
type SyncPersist interface {
	SetPersistence(flag bool)
	NeedsPersistence() bool
}

func (node *MergedNode) SetPersistence(flag bool) { node.persistFlag.Store(flag) }
func (node *MergedNode) NeedsPersistence() bool { return node.persistFlag.Load() }

func (node *MergedNode) String() string {
	state := node.GetProp()
	propDesc := "Pending"
	if nodeProp, ok := state.Node(); ok { propDesc = fmt.Sprintf("Ready{id: %s}", nodeProp.Id.String()) }

	return fmt.Sprintf(
		"MergedNode{version: %d, level: %d, prop: %s, neighbors: %d, parent: %v, child: %v, versions: %d}",
		node.VersionID, node.HNSWLevelValue, propDesc, node.Neighbors.Len(),
		node.Parent.IsValid(), node.Child.IsValid(), node.Versions.Len(),
	)
}
