package hnswdb

import "encoding/binary"
import "io"
import "math"


//============================================= Wire Format


// absentOffset is the sentinel written in place of any reference that does
// not exist: an Invalid LazyItemRef, an empty chunked collection, or the end
// of a chunk's linked list.
const absentOffset uint32 = math.MaxUint32

// identityMapKeyMSB discriminates IdentityMapKey's two variants within a
// single serialized u32: set means "the low 31 bits are a string length
// followed by that many UTF-8 bytes", clear means "this u32 is the int key".
const identityMapKeyMSB uint32 = 1 << 31

func readUint32At(reader io.ReaderAt, offset uint32) (uint32, error) {
	var buf [4]byte
	if _, err := reader.ReadAt(buf[:], int64(offset)); err != nil {
		return 0, newErr(ErrDeserialization, "reading u32 at %d: %w", offset, err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readUint16At(reader io.ReaderAt, offset uint32) (uint16, error) {
	var buf [2]byte
	if _, err := reader.ReadAt(buf[:], int64(offset)); err != nil {
		return 0, newErr(ErrDeserialization, "reading u16 at %d: %w", offset, err)
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func readByteAt(reader io.ReaderAt, offset uint32) (byte, error) {
	var buf [1]byte
	if _, err := reader.ReadAt(buf[:], int64(offset)); err != nil {
		return 0, newErr(ErrDeserialization, "reading byte at %d: %w", offset, err)
	}
	return buf[0], nil
}

func readBytesAt(reader io.ReaderAt, offset uint32, length uint32) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := reader.ReadAt(buf, int64(offset)); err != nil {
		return nil, newErr(ErrDeserialization, "reading %d bytes at %d: %w", length, offset, err)
	}
	return buf, nil
}

//============================================= IdentityMapKey


func writeIdentityMapKey(writer *BufferedWriter, key IdentityMapKey) error {
	if key.IsString() {
		raw := []byte(key.String())
		if uint64(len(raw)) >= uint64(identityMapKeyMSB) {
			return newErr(ErrSerialization, "identity map key string too long: %d bytes", len(raw))
		}
		if err := writer.WriteUint32(identityMapKeyMSB | uint32(len(raw))); err != nil { return err }
		_, err := writer.Write(raw)
		return err
	}

	return writer.WriteUint32(key.Int())
}

// readIdentityMapKey decodes the key at offset and returns it along with the
// number of bytes it occupied, so the caller can locate the entry's
// companion item-offset slot immediately after.
func readIdentityMapKey(reader io.ReaderAt, offset uint32) (IdentityMapKey, uint32, error) {
	num, err := readUint32At(reader, offset)
	if err != nil { return IdentityMapKey{}, 0, err }

	if num&identityMapKeyMSB == 0 { return IdentityMapKeyFromInt(num), 4, nil }

	length := num &^ identityMapKeyMSB
	raw, err := readBytesAt(reader, offset+4, length)
	if err != nil { return IdentityMapKey{}, 0, err }

	return IdentityMapKeyFromString(string(raw)), 4 + length, nil
}

//============================================= LazyItem[MergedNode]


// claimedOffsets tracks, for a single serialization pass over one
// BufferedWriter, which LazyItem cells have already had an offset claimed in
// *this* file -- keyed by cell identity, not by the cell's possibly-stale
// GetOffset() value. Each commit opens a brand new version file, so an offset
// claimed during a previous commit's pass is meaningless here: the node must
// be written again, into the new file, every time it's reachable from a root
// being serialized, regardless of whether it was ever serialized before.
type claimedOffsets map[*LazyItem[MergedNode]]uint32

// serializeLazyItem writes the node behind item if it hasn't been claimed
// yet in this pass, claiming its offset before recursing into its own
// parent/child/neighbor links so a reference cycle back to item resolves to
// the already-claimed offset instead of serializing the node a second time.
func serializeLazyItem(item *LazyItem[MergedNode], writer *BufferedWriter) (uint32, error) {
	return serializeLazyItemClaimed(item, writer, claimedOffsets{})
}

func serializeLazyItemClaimed(item *LazyItem[MergedNode], writer *BufferedWriter, claimed claimedOffsets) (uint32, error) {
	if item == nil || item.IsInvalid() { return absentOffset, nil }

	if existing, ok := claimed[item]; ok { return existing, nil }

	claim := writer.Position()
	claimed[item] = claim
	item.SetOffset(&claim)

	data, ok := item.GetData()
	if !ok { return claim, nil }

	if err := serializeMergedNodeBody(&data, writer, claimed); err != nil { return 0, err }

	return claim, nil
}

func serializeLazyItemRef(ref *LazyItemRef[MergedNode], writer *BufferedWriter, claimed claimedOffsets) (uint32, error) {
	if ref == nil || ref.IsInvalid() { return absentOffset, nil }
	return serializeLazyItemClaimed(ref.Get(), writer, claimed)
}

// SerializeLazyItemRef is the public entry point mirroring the original
// CustomSerialize impl on LazyItemRef: serialize whatever ref points to and
// return its offset. Each call starts its own claim scope, so two calls
// against the same writer (as happens once per commit, one writer per
// version file) never see each other's claims -- exactly what a brand new
// version file needs, since nothing it references has been written into it
// yet.
func SerializeLazyItemRef(ref *LazyItemRef[MergedNode], writer *BufferedWriter) (uint32, error) {
	return serializeLazyItemRef(ref, writer, claimedOffsets{})
}

//============================================= MergedNode record


// MergedNode's fixed-size header: versionID(u16) + level(u8) + propOffset(u32)
// + propLength(u32) + parent(u32) + child(u32) + neighbors(u32) + versions(u32).
const mergedNodeHeaderSize = 2 + 1 + 4 + 4 + 4 + 4 + 4 + 4

func serializeMergedNodeBody(node *MergedNode, writer *BufferedWriter, claimed claimedOffsets) error {
	if err := writer.WriteUint16(node.VersionID); err != nil { return err }
	if err := writer.WriteByte(node.HNSWLevelValue); err != nil { return err }

	propRef := node.GetProp().PendingRef()
	if err := writer.WriteUint32(propRef.Offset); err != nil { return err }
	if err := writer.WriteUint32(propRef.Length); err != nil { return err }

	parentPos := writer.Position()
	if err := writer.WriteUint32(absentOffset); err != nil { return err }
	childPos := writer.Position()
	if err := writer.WriteUint32(absentOffset); err != nil { return err }
	neighborsPos := writer.Position()
	if err := writer.WriteUint32(absentOffset); err != nil { return err }
	versionsPos := writer.Position()
	if err := writer.WriteUint32(absentOffset); err != nil { return err }

	parentOffset, err := serializeLazyItemRef(node.Parent, writer, claimed)
	if err != nil { return err }
	if err := writer.Patch(parentPos, parentOffset); err != nil { return err }

	childOffset, err := serializeLazyItemRef(node.Child, writer, claimed)
	if err != nil { return err }
	if err := writer.Patch(childPos, childOffset); err != nil { return err }

	neighborsOffset, err := serializeEagerLazyItemSet(node.Neighbors, writer, claimed)
	if err != nil { return err }
	if err := writer.Patch(neighborsPos, neighborsOffset); err != nil { return err }

	versionsOffset, err := serializeLazyItemMap(node.Versions, writer, claimed)
	if err != nil { return err }
	if err := writer.Patch(versionsPos, versionsOffset); err != nil { return err }

	return nil
}

// SerializeMergedNode writes node as a freshly allocated node (no existing
// offset claim) and returns its start offset. The write pipeline does not use
// it: WritePipeline.commit goes through SerializeLazyItemRef so the root's
// offset is claimed like every other reference to it.
func SerializeMergedNode(node *MergedNode, writer *BufferedWriter) (uint32, error) {
	start := writer.Position()
	if err := serializeMergedNodeBody(node, writer, claimedOffsets{}); err != nil { return 0, err }
	return start, nil
}

func deserializeMergedNode(reader io.ReaderAt, offset uint32, registry *NodeRegistry, set *skipSet) (*MergedNode, error) {
	versionID, err := readUint16At(reader, offset)
	if err != nil { return nil, err }
	level, err := readByteAt(reader, offset+2)
	if err != nil { return nil, err }
	propOffset, err := readUint32At(reader, offset+3)
	if err != nil { return nil, err }
	propLength, err := readUint32At(reader, offset+7)
	if err != nil { return nil, err }
	parentOffset, err := readUint32At(reader, offset+11)
	if err != nil { return nil, err }
	childOffset, err := readUint32At(reader, offset+15)
	if err != nil { return nil, err }
	neighborsOffset, err := readUint32At(reader, offset+19)
	if err != nil { return nil, err }
	versionsOffset, err := readUint32At(reader, offset+23)
	if err != nil { return nil, err }

	node := NewMergedNode(versionID, level)
	node.SetPropPending(PropPersistRef{ Offset: propOffset, Length: propLength })

	if parentOffset != absentOffset {
		parentItem, err := registry.resolveLazyItem(parentOffset, set)
		if err != nil { return nil, err }
		node.Parent.Set(parentItem)
	}

	if childOffset != absentOffset {
		childItem, err := registry.resolveLazyItem(childOffset, set)
		if err != nil { return nil, err }
		node.Child.Set(childItem)
	}

	if neighborsOffset != absentOffset {
		neighbors, err := deserializeEagerLazyItemSet(reader, neighborsOffset, registry, set)
		if err != nil { return nil, err }
		node.Neighbors = neighbors
	}

	if versionsOffset != absentOffset {
		versions, err := deserializeLazyItemMap(reader, versionsOffset, registry, set)
		if err != nil { return nil, err }
		node.Versions = versions
	}

	return node, nil
}

//============================================= Chunked: EagerLazyItemSet (neighbors)


func serializeEagerLazyItemSet(set *EagerLazyItemSet[MergedNode, CosineSimilarity], writer *BufferedWriter, claimed claimedOffsets) (uint32, error) {
	entries := set.Iter()
	if len(entries) == 0 { return absentOffset, nil }

	start := writer.Position()
	total := len(entries)

	for chunkStart := 0; chunkStart < total; chunkStart += CHUNK_SIZE {
		chunkEnd := min(chunkStart+CHUNK_SIZE, total)
		isLast := chunkEnd == total

		slotPos := make([]uint32, CHUNK_SIZE)
		for i := range slotPos {
			slotPos[i] = writer.Position()
			if err := writer.WriteUint32(absentOffset); err != nil { return 0, err }
		}
		nextLinkPos := writer.Position()
		if err := writer.WriteUint32(absentOffset); err != nil { return 0, err }

		for i := chunkStart; i < chunkEnd; i++ {
			entryOffset := writer.Position()
			if err := writer.WriteUint32(math.Float32bits(entries[i].Eager)); err != nil { return 0, err }

			itemPos := writer.Position()
			if err := writer.WriteUint32(absentOffset); err != nil { return 0, err }

			itemOffset, err := serializeLazyItemClaimed(entries[i].Lazy, writer, claimed)
			if err != nil { return 0, err }
			if err := writer.Patch(itemPos, itemOffset); err != nil { return 0, err }

			if err := writer.Patch(slotPos[i-chunkStart], entryOffset); err != nil { return 0, err }
		}

		if isLast {
			if err := writer.Patch(nextLinkPos, absentOffset); err != nil { return 0, err }
		} else {
			next := writer.Position()
			if err := writer.Patch(nextLinkPos, next); err != nil { return 0, err }
		}
	}

	return start, nil
}

func deserializeEagerLazyItemSet(reader io.ReaderAt, offset uint32, registry *NodeRegistry, set *skipSet) (*EagerLazyItemSet[MergedNode, CosineSimilarity], error) {
	result := NewEagerLazyItemSet[MergedNode, CosineSimilarity]()
	if offset == absentOffset { return result, nil }

	currentChunk := offset
	for {
		for i := 0; i < CHUNK_SIZE; i++ {
			slotOffset := currentChunk + uint32(i*4)
			entryOffset, err := readUint32At(reader, slotOffset)
			if err != nil { return nil, err }
			if entryOffset == absentOffset { continue }

			eagerBits, err := readUint32At(reader, entryOffset)
			if err != nil { return nil, err }

			itemOffset, err := readUint32At(reader, entryOffset+4)
			if err != nil { return nil, err }

			lazyItem, err := registry.resolveLazyItem(itemOffset, set)
			if err != nil { return nil, err }

			result.Insert(EagerLazyItem[MergedNode, CosineSimilarity]{
				Eager: math.Float32frombits(eagerBits),
				Lazy: lazyItem,
			})
		}

		nextLinkOffset := currentChunk + uint32(CHUNK_SIZE*4)
		nextChunk, err := readUint32At(reader, nextLinkOffset)
		if err != nil { return nil, err }
		if nextChunk == absentOffset { break }
		currentChunk = nextChunk
	}

	return result, nil
}

//============================================= Chunked: LazyItemMap (versions)


func serializeLazyItemMap(m *LazyItemMap[MergedNode], writer *BufferedWriter, claimed claimedOffsets) (uint32, error) {
	entries := m.Iter()
	if len(entries) == 0 { return absentOffset, nil }

	start := writer.Position()
	total := len(entries)

	for chunkStart := 0; chunkStart < total; chunkStart += CHUNK_SIZE {
		chunkEnd := min(chunkStart+CHUNK_SIZE, total)
		isLast := chunkEnd == total

		slotPos := make([]uint32, CHUNK_SIZE)
		for i := range slotPos {
			slotPos[i] = writer.Position()
			if err := writer.WriteUint32(absentOffset); err != nil { return 0, err }
		}
		nextLinkPos := writer.Position()
		if err := writer.WriteUint32(absentOffset); err != nil { return 0, err }

		for i := chunkStart; i < chunkEnd; i++ {
			entryOffset := writer.Position()
			if err := writeIdentityMapKey(writer, entries[i].Key); err != nil { return 0, err }

			itemPos := writer.Position()
			if err := writer.WriteUint32(absentOffset); err != nil { return 0, err }

			itemOffset, err := serializeLazyItemClaimed(entries[i].Value, writer, claimed)
			if err != nil { return 0, err }
			if err := writer.Patch(itemPos, itemOffset); err != nil { return 0, err }

			if err := writer.Patch(slotPos[i-chunkStart], entryOffset); err != nil { return 0, err }
		}

		if isLast {
			if err := writer.Patch(nextLinkPos, absentOffset); err != nil { return 0, err }
		} else {
			next := writer.Position()
			if err := writer.Patch(nextLinkPos, next); err != nil { return 0, err }
		}
	}

	return start, nil
}

func deserializeLazyItemMap(reader io.ReaderAt, offset uint32, registry *NodeRegistry, set *skipSet) (*LazyItemMap[MergedNode], error) {
	result := NewLazyItemMap[MergedNode]()
	if offset == absentOffset { return result, nil }

	currentChunk := offset
	for {
		for i := 0; i < CHUNK_SIZE; i++ {
			slotOffset := currentChunk + uint32(i*4)
			entryOffset, err := readUint32At(reader, slotOffset)
			if err != nil { return nil, err }
			if entryOffset == absentOffset { continue }

			key, keyLen, err := readIdentityMapKey(reader, entryOffset)
			if err != nil { return nil, err }

			itemOffset, err := readUint32At(reader, entryOffset+keyLen)
			if err != nil { return nil, err }

			lazyItem, err := registry.resolveLazyItem(itemOffset, set)
			if err != nil { return nil, err }

			result.Insert(key, lazyItem)
		}

		nextLinkOffset := currentChunk + uint32(CHUNK_SIZE*4)
		nextChunk, err := readUint32At(reader, nextLinkOffset)
		if err != nil { return nil, err }
		if nextChunk == absentOffset { break }
		currentChunk = nextChunk
	}

	return result, nil
}
