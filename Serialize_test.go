package hnswdb

import "os"
import "path/filepath"
import "testing"

import "github.com/stretchr/testify/require"


// openTestIndex opens a fresh BufferedWriter over a temp file, lets build
// populate it, then flushes/closes and reopens the same path as a read-only
// IndexFile for a NodeRegistry to read from.
func openTestIndex(t *testing.T, build func(writer *BufferedWriter) uint32) (*IndexFile, uint32) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "round-trip.index")
	writer, openErr := OpenBufferedWriter(path)
	require.NoError(t, openErr)

	offset := build(writer)

	require.NoError(t, writer.Sync())
	require.NoError(t, writer.Close())

	indexFile, openErr := OpenIndexFile(path)
	require.NoError(t, openErr)
	t.Cleanup(func() { indexFile.Close() })

	return indexFile, offset
}

func leafNode(id int32) *MergedNode {
	node := NewMergedNode(0, 0)
	node.SetPropReady(&NodeProp{ Id: VectorIdFromInt(id), Value: NewUnsignedByteStorage(1, []byte{ 1, 2, 3 }) })
	return node
}

func TestSerializeDeserializeAcyclicNode(t *testing.T) {
	node := leafNode(1)

	indexFile, offset := openTestIndex(t, func(writer *BufferedWriter) uint32 {
		off, err := serializeLazyItem(NewLazyItem(*node), writer)
		require.NoError(t, err)
		return off
	})

	registry := NewNodeRegistry(indexFile, 1000)
	handle, loadErr := registry.Load(offset)
	require.NoError(t, loadErr)

	got, ok := handle.GetData()
	require.True(t, ok)
	require.Equal(t, uint8(0), got.HNSWLevelValue)
	require.True(t, got.Child.IsInvalid())
	require.True(t, got.Parent.IsInvalid())
	require.True(t, got.Neighbors.IsEmpty())
}

func TestSerializeDeserializeWithNeighbors(t *testing.T) {
	root := leafNode(1)
	neighborA := NewLazyItem(*leafNode(2))
	neighborB := NewLazyItem(*leafNode(3))
	root.AddReadyNeighbor(neighborA, 0.1)
	root.AddReadyNeighbor(neighborB, 0.2)

	indexFile, offset := openTestIndex(t, func(writer *BufferedWriter) uint32 {
		off, err := serializeLazyItem(NewLazyItem(*root), writer)
		require.NoError(t, err)
		return off
	})

	registry := NewNodeRegistry(indexFile, 1000)
	handle, loadErr := registry.Load(offset)
	require.NoError(t, loadErr)

	got, ok := handle.GetData()
	require.True(t, ok)
	require.Equal(t, 2, got.Neighbors.Len())
}

func TestSerializeDeserializeChunkBoundary(t *testing.T) {
	root := leafNode(0)
	for i := 1; i <= 12; i++ {
		root.AddReadyNeighbor(NewLazyItem(*leafNode(int32(i))), CosineSimilarity(i))
	}

	indexFile, offset := openTestIndex(t, func(writer *BufferedWriter) uint32 {
		off, err := serializeLazyItem(NewLazyItem(*root), writer)
		require.NoError(t, err)
		return off
	})

	registry := NewNodeRegistry(indexFile, 1000)
	handle, loadErr := registry.Load(offset)
	require.NoError(t, loadErr)

	got, ok := handle.GetData()
	require.True(t, ok)
	require.Equal(t, 12, got.Neighbors.Len())
}

func TestSerializeDeserializeWithVersions(t *testing.T) {
	root := leafNode(1)
	root.AddVersion(NewLazyItem(*leafNode(2)))
	root.AddVersion(NewLazyItem(*leafNode(3)))

	indexFile, offset := openTestIndex(t, func(writer *BufferedWriter) uint32 {
		off, err := serializeLazyItem(NewLazyItem(*root), writer)
		require.NoError(t, err)
		return off
	})

	registry := NewNodeRegistry(indexFile, 1000)
	handle, loadErr := registry.Load(offset)
	require.NoError(t, loadErr)

	got, ok := handle.GetData()
	require.True(t, ok)
	require.Equal(t, 2, got.Versions.Len())
}

func TestSerializeDeserializeParentChild(t *testing.T) {
	parent := leafNode(1)
	child := leafNode(2)
	childLazy := NewLazyItem(*child)
	parentLazy := NewLazyItem(*parent)
	child.SetParent(parentLazy)
	parent.SetChild(childLazy)

	indexFile, offset := openTestIndex(t, func(writer *BufferedWriter) uint32 {
		off, err := serializeLazyItem(parentLazy, writer)
		require.NoError(t, err)
		return off
	})

	registry := NewNodeRegistry(indexFile, 1000)
	handle, loadErr := registry.Load(offset)
	require.NoError(t, loadErr)

	got, ok := handle.GetData()
	require.True(t, ok)
	require.True(t, got.Child.IsValid())

	childHandle := got.Child.Get()
	childData, ok := childHandle.GetData()
	require.True(t, ok)
	require.True(t, childData.Parent.IsValid())
}

// TestSerializeDeserializeCycle builds a node whose child points back to
// itself through the serialized graph (A.Child -> B, B.Parent -> A) and
// verifies NodeRegistry dedups the repeat reference to a single handle
// instead of recursing forever.
func TestSerializeDeserializeCycle(t *testing.T) {
	a := leafNode(1)
	b := leafNode(2)
	aLazy := NewLazyItem(*a)
	bLazy := NewLazyItem(*b)

	a.SetChild(bLazy)
	b.SetParent(aLazy)
	b.SetChild(aLazy)

	indexFile, offset := openTestIndex(t, func(writer *BufferedWriter) uint32 {
		off, err := serializeLazyItem(aLazy, writer)
		require.NoError(t, err)
		return off
	})

	registry := NewNodeRegistry(indexFile, 1000)
	handle, loadErr := registry.Load(offset)
	require.NoError(t, loadErr)

	require.Equal(t, 2, registry.Len())

	got, ok := handle.GetData()
	require.True(t, ok)
	require.True(t, got.Child.IsValid())
}

func TestSerializeDeserializeComplexCycle(t *testing.T) {
	a := leafNode(1)
	b := leafNode(2)
	c := leafNode(3)
	aLazy := NewLazyItem(*a)
	bLazy := NewLazyItem(*b)
	cLazy := NewLazyItem(*c)

	a.SetChild(bLazy)
	b.SetChild(cLazy)
	c.SetChild(aLazy)
	a.AddReadyNeighbor(cLazy, 0.5)

	indexFile, offset := openTestIndex(t, func(writer *BufferedWriter) uint32 {
		off, err := serializeLazyItem(aLazy, writer)
		require.NoError(t, err)
		return off
	})

	registry := NewNodeRegistry(indexFile, 1000)
	handle, loadErr := registry.Load(offset)
	require.NoError(t, loadErr)

	require.Equal(t, 3, registry.Len())

	got, ok := handle.GetData()
	require.True(t, ok)
	require.Equal(t, 1, got.Neighbors.Len())
}

// TestSerializeLazyItemRefReserializesAcrossFiles pins the exact scenario a
// write pipeline hits every commit after its first: the same long-lived root
// LazyItem cell gets handed to SerializeLazyItemRef again for a second,
// brand new file. It must come out fully written into *that* file too, not
// short-circuited to an offset that only resolves in the first file.
func TestSerializeLazyItemRefReserializesAcrossFiles(t *testing.T) {
	root := leafNode(1)
	rootLazy := NewLazyItem(*root)

	firstIndex, firstOffset := openTestIndex(t, func(writer *BufferedWriter) uint32 {
		off, err := SerializeLazyItemRef(LazyItemRefFromItem(rootLazy), writer)
		require.NoError(t, err)
		return off
	})

	firstRegistry := NewNodeRegistry(firstIndex, 1000)
	firstHandle, err := firstRegistry.Load(firstOffset)
	require.NoError(t, err)
	_, ok := firstHandle.GetData()
	require.True(t, ok)

	secondIndex, secondOffset := openTestIndex(t, func(writer *BufferedWriter) uint32 {
		off, err := SerializeLazyItemRef(LazyItemRefFromItem(rootLazy), writer)
		require.NoError(t, err)
		return off
	})

	secondRegistry := NewNodeRegistry(secondIndex, 1000)
	secondHandle, err := secondRegistry.Load(secondOffset)
	require.NoError(t, err)

	got, ok := secondHandle.GetData()
	require.True(t, ok, "second file's root offset must resolve to a real node, not an empty file")
	require.False(t, got.GetProp().IsReady(), "a deserialized node's prop is Pending until fetched from the property file")
}

func TestBufferedWriterPatchPastFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patch-past-flush.index")
	writer, openErr := OpenBufferedWriter(path)
	require.NoError(t, openErr)

	require.NoError(t, writer.WriteUint32(1))
	require.NoError(t, writer.Flush())

	err := writer.Patch(0, 99)
	require.ErrorIs(t, err, ErrPatchPastFlush)

	require.NoError(t, writer.Close())
}

func TestNodeRegistryLoadDedupsSameOffset(t *testing.T) {
	node := leafNode(1)

	indexFile, offset := openTestIndex(t, func(writer *BufferedWriter) uint32 {
		off, err := serializeLazyItem(NewLazyItem(*node), writer)
		require.NoError(t, err)
		return off
	})

	registry := NewNodeRegistry(indexFile, 1000)

	first, err := registry.Load(offset)
	require.NoError(t, err)
	second, err := registry.Load(offset)
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, 1, registry.Len())
}

func TestNodeRegistryMaxLoadsBudget(t *testing.T) {
	root := leafNode(0)
	current := root
	for i := 1; i <= 10; i++ {
		next := leafNode(int32(i))
		current.SetChild(NewLazyItem(*next))
		current = next
	}

	indexFile, offset := openTestIndex(t, func(writer *BufferedWriter) uint32 {
		off, err := serializeLazyItem(NewLazyItem(*root), writer)
		require.NoError(t, err)
		return off
	})

	registry := NewNodeRegistry(indexFile, 2)
	handle, err := registry.Load(offset)
	require.NoError(t, err)

	got, ok := handle.GetData()
	require.True(t, ok)
	require.True(t, got.Child.IsValid())
}

func TestIdentityMapKeyWireRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.bin")
	writer, openErr := OpenBufferedWriter(path)
	require.NoError(t, openErr)

	stringOffset := writer.Position()
	require.NoError(t, writeIdentityMapKey(writer, IdentityMapKeyFromString("abc")))
	intOffset := writer.Position()
	require.NoError(t, writeIdentityMapKey(writer, IdentityMapKeyFromInt(5)))

	require.NoError(t, writer.Sync())
	require.NoError(t, writer.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	stringKey, length, err := readIdentityMapKey(file, stringOffset)
	require.NoError(t, err)
	require.True(t, stringKey.IsString())
	require.Equal(t, "abc", stringKey.String())
	require.Equal(t, uint32(4+3), length)

	intKey, length, err := readIdentityMapKey(file, intOffset)
	require.NoError(t, err)
	require.False(t, intKey.IsString())
	require.Equal(t, uint32(5), intKey.Int())
	require.Equal(t, uint32(4), length)
}
