package hnswdb

import "bytes"
import "encoding/gob"
import "os"
import "sync"

import natomic "github.com/natefinch/atomic"


//============================================= Metadata Store


// MetadataStore persists the small amount of bookkeeping the write pipeline
// needs outside the graph itself: which version is current, how many
// embeddings are waiting for an indexing pass, and the on-disk offset of the
// graph's entry point as of the last commit.
type MetadataStore interface {
	Begin() MetadataTx
	CurrentVersion() (VersionHash, bool)
	CountUnindexed() uint32
	RootOffset() (FileOffset, bool)
}

// MetadataTx stages a set of metadata updates; nothing is visible to
// CurrentVersion/CountUnindexed/RootOffset until Commit returns.
type MetadataTx interface {
	SetCurrentVersion(version VersionHash)
	SetCountUnindexed(count uint32)
	SetRootOffset(offset FileOffset)
	Commit() error
}

// metaSnapshot is the serialized shape of the whole metadata store: small
// enough to rewrite wholesale on every commit rather than incrementally.
type metaSnapshot struct {
	HasVersion bool
	VersionID uint64
	VersionTag string
	CountUnindexed uint32
	HasRoot bool
	RootOffset uint32
}

// MemMetadataStore keeps the live snapshot in memory and durably persists it
// to path via an atomic rename on every Commit, so a crash mid-write never
// leaves a torn metadata file -- the reader always sees the prior snapshot
// or the new one, never a mix.
type MemMetadataStore struct {
	mu sync.RWMutex
	path string
	snapshot metaSnapshot
}

// OpenMetadataStore loads path if it exists, or starts from an empty
// snapshot (no current version, nothing unindexed) if this is a fresh store.
func OpenMetadataStore(path string) (*MemMetadataStore, error) {
	store := &MemMetadataStore{ path: path }

	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) { return store, nil }
		return nil, newErr(ErrIO, "reading metadata store %s: %w", path, readErr)
	}

	var snapshot metaSnapshot
	if decodeErr := gob.NewDecoder(bytes.NewReader(data)).Decode(&snapshot); decodeErr != nil {
		return nil, newErr(ErrDeserialization, "decoding metadata store %s: %w", path, decodeErr)
	}

	store.snapshot = snapshot
	return store, nil
}

func (store *MemMetadataStore) CurrentVersion() (VersionHash, bool) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	if !store.snapshot.HasVersion { return VersionHash{}, false }
	return VersionHash{ id: store.snapshot.VersionID, tag: store.snapshot.VersionTag }, true
}

func (store *MemMetadataStore) CountUnindexed() uint32 {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return store.snapshot.CountUnindexed
}

// RootOffset returns the on-disk offset of the graph's top-level entry
// point, persisted across restarts so a reopened Store can resume without
// rebuilding its entry chain.
func (store *MemMetadataStore) RootOffset() (FileOffset, bool) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	if !store.snapshot.HasRoot { return 0, false }
	return store.snapshot.RootOffset, true
}

func (store *MemMetadataStore) Begin() MetadataTx {
	store.mu.RLock()
	staged := store.snapshot
	store.mu.RUnlock()

	return &memMetadataTx{ store: store, staged: staged }
}

type memMetadataTx struct {
	store *MemMetadataStore
	staged metaSnapshot
}

func (tx *memMetadataTx) SetCurrentVersion(version VersionHash) {
	tx.staged.HasVersion = true
	tx.staged.VersionID = version.id
	tx.staged.VersionTag = version.tag
}

func (tx *memMetadataTx) SetCountUnindexed(count uint32) { tx.staged.CountUnindexed = count }

func (tx *memMetadataTx) SetRootOffset(offset FileOffset) {
	tx.staged.HasRoot = true
	tx.staged.RootOffset = offset
}

// Commit encodes the staged snapshot and swaps it onto disk with an atomic
// rename (natefinch/atomic.WriteFile), then publishes it in memory -- the
// atomic-rename bump of current_version is the write pipeline's commit point.
func (tx *memMetadataTx) Commit() error {
	var buf bytes.Buffer
	if encodeErr := gob.NewEncoder(&buf).Encode(tx.staged); encodeErr != nil {
		return newErr(ErrSerialization, "encoding metadata store: %w", encodeErr)
	}

	if writeErr := natomic.WriteFile(tx.store.path, &buf); writeErr != nil {
		return newErr(ErrIO, "committing metadata store: %w", writeErr)
	}

	tx.store.mu.Lock()
	tx.store.snapshot = tx.staged
	tx.store.mu.Unlock()

	return nil
}
