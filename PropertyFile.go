package hnswdb

import "encoding/binary"
import "os"
import "sync"

import lru "github.com/hashicorp/golang-lru/v2"


//============================================= Property File


// PropertyFile is the append-only store backing NodeProp payloads: "prop.data".
// Every NodeProp is written once and never rewritten in place; a node's
// PropPersistRef addresses its record for the lifetime of the store. Reads
// go through a bounded LRU so repeated queries against popular nodes don't
// pay a disk round trip every time.
type PropertyFile struct {
	mu sync.Mutex
	file *os.File
	cursor int64

	cache *lru.Cache[PropPersistRef, *NodeProp]
}

func OpenPropertyFile(path string, cacheSize int) (*PropertyFile, error) {
	file, openErr := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if openErr != nil { return nil, newErr(ErrIO, "opening property file %s: %w", path, openErr) }

	info, statErr := file.Stat()
	if statErr != nil { file.Close(); return nil, newErr(ErrIO, "stat %s: %w", path, statErr) }

	cache, cacheErr := lru.New[PropPersistRef, *NodeProp](cacheSize)
	if cacheErr != nil { file.Close(); return nil, newErr(ErrIO, "building property cache: %w", cacheErr) }

	return &PropertyFile{ file: file, cursor: info.Size(), cache: cache }, nil
}

// Append writes prop's wire encoding at the current end of the file and
// returns the PropPersistRef a MergedNode should record to find it again.
func (pf *PropertyFile) Append(prop *NodeProp) (PropPersistRef, error) {
	encoded, encodeErr := encodeNodeProp(prop)
	if encodeErr != nil { return PropPersistRef{}, encodeErr }

	pf.mu.Lock()
	defer pf.mu.Unlock()

	offset := pf.cursor
	if _, writeErr := pf.file.Write(encoded); writeErr != nil {
		return PropPersistRef{}, newErr(ErrIO, "appending property: %w", writeErr)
	}
	pf.cursor += int64(len(encoded))

	ref := PropPersistRef{ Offset: FileOffset(offset), Length: BytesToRead(len(encoded)) }
	pf.cache.Add(ref, prop)

	return ref, nil
}

// Fetch resolves a PropPersistRef to its NodeProp, consulting the LRU cache
// before reading the property file.
func (pf *PropertyFile) Fetch(ref PropPersistRef) (*NodeProp, error) {
	if cached, found := pf.cache.Get(ref); found { return cached, nil }

	buf := make([]byte, ref.Length)

	pf.mu.Lock()
	_, readErr := pf.file.ReadAt(buf, int64(ref.Offset))
	pf.mu.Unlock()

	if readErr != nil { return nil, newErr(ErrIO, "reading property at %d: %w", ref.Offset, readErr) }

	prop, decodeErr := decodeNodeProp(buf)
	if decodeErr != nil { return nil, decodeErr }

	pf.cache.Add(ref, prop)
	return prop, nil
}

func (pf *PropertyFile) Sync() error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	return pf.file.Sync()
}

func (pf *PropertyFile) Close() error { return pf.file.Close() }

//============================================= NodeProp wire encoding


// encodeNodeProp lays out: id-kind(u8) + id-length-or-value(u32) + id-bytes?
// + storage-kind(u8) + mag(u32) + quant-vec-length(u32) + quant-vec-bytes.
// SubByte instead writes row-count(u32) + resolution(u8), then each row as
// row-length(u32) + row-bytes.
func encodeNodeProp(prop *NodeProp) ([]byte, error) {
	var buf []byte

	if prop.Id.IsString() {
		idBytes := []byte(prop.Id.String())
		buf = append(buf, 1)
		buf = appendUint32(buf, uint32(len(idBytes)))
		buf = append(buf, idBytes...)
	} else {
		buf = append(buf, 0)
		buf = appendUint32(buf, uint32(prop.Id.Int()))
	}

	buf = append(buf, byte(prop.Value.Kind))
	buf = appendUint32(buf, prop.Value.Mag)

	switch prop.Value.Kind {
		case StorageUnsignedByte:
			buf = appendUint32(buf, uint32(len(prop.Value.QuantVec)))
			buf = append(buf, prop.Value.QuantVec...)
		case StorageSubByte:
			buf = appendUint32(buf, uint32(len(prop.Value.SubVec)))
			buf = append(buf, prop.Value.Resolution)
			for _, row := range prop.Value.SubVec {
				buf = appendUint32(buf, uint32(len(row)))
				buf = append(buf, row...)
			}
		default:
			return nil, newErr(ErrSerialization, "unrecognized storage kind %d", prop.Value.Kind)
	}

	return buf, nil
}

func decodeNodeProp(buf []byte) (*NodeProp, error) {
	cursor := 0
	readByte := func() (byte, error) {
		if cursor >= len(buf) { return 0, ErrTruncated }
		b := buf[cursor]
		cursor++
		return b, nil
	}
	readU32 := func() (uint32, error) {
		if cursor+4 > len(buf) { return 0, ErrTruncated }
		v := binary.LittleEndian.Uint32(buf[cursor:cursor+4])
		cursor += 4
		return v, nil
	}
	readBytes := func(n uint32) ([]byte, error) {
		if cursor+int(n) > len(buf) { return nil, ErrTruncated }
		out := buf[cursor:cursor+int(n)]
		cursor += int(n)
		return out, nil
	}

	idKind, err := readByte()
	if err != nil { return nil, newErr(ErrDeserialization, "reading prop id kind: %w", err) }

	var id VectorId
	if idKind == 1 {
		length, err := readU32()
		if err != nil { return nil, newErr(ErrDeserialization, "reading prop id length: %w", err) }
		idBytes, err := readBytes(length)
		if err != nil { return nil, newErr(ErrDeserialization, "reading prop id bytes: %w", err) }
		id = VectorIdFromString(string(idBytes))
	} else {
		num, err := readU32()
		if err != nil { return nil, newErr(ErrDeserialization, "reading prop id int: %w", err) }
		id = VectorIdFromInt(int32(num))
	}

	storageKindByte, err := readByte()
	if err != nil { return nil, newErr(ErrDeserialization, "reading storage kind: %w", err) }
	mag, err := readU32()
	if err != nil { return nil, newErr(ErrDeserialization, "reading storage magnitude: %w", err) }

	var storage *Storage
	switch StorageKind(storageKindByte) {
		case StorageUnsignedByte:
			length, err := readU32()
			if err != nil { return nil, newErr(ErrDeserialization, "reading quant vec length: %w", err) }
			quantVec, err := readBytes(length)
			if err != nil { return nil, newErr(ErrDeserialization, "reading quant vec: %w", err) }
			storage = NewUnsignedByteStorage(mag, append([]byte(nil), quantVec...))
		case StorageSubByte:
			rows, err := readU32()
			if err != nil { return nil, newErr(ErrDeserialization, "reading sub-byte row count: %w", err) }
			resolution, err := readByte()
			if err != nil { return nil, newErr(ErrDeserialization, "reading sub-byte resolution: %w", err) }
			subVec := make([][]byte, rows)
			for i := range subVec {
				rowLen, err := readU32()
				if err != nil { return nil, newErr(ErrDeserialization, "reading sub-byte row length: %w", err) }
				row, err := readBytes(rowLen)
				if err != nil { return nil, newErr(ErrDeserialization, "reading sub-byte row: %w", err) }
				subVec[i] = append([]byte(nil), row...)
			}
			storage = NewSubByteStorage(mag, subVec, resolution)
		default:
			return nil, newErr(ErrDeserialization, "unrecognized storage kind %d", storageKindByte)
	}

	return &NodeProp{ Id: id, Value: storage }, nil
}

func appendUint32(buf []byte, value uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], value)
	return append(buf, tmp[:]...)
}
