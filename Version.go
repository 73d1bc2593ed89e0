package hnswdb

import "fmt"

import "github.com/google/uuid"


//============================================= Version Hash


// VersionHash identifies one committed write generation of the store. Every
// call to WritePipeline.Commit mints a new VersionHash and bumps the
// metadata store's current_version to it -- that bump is the commit point.
type VersionHash struct {
	id uint64
	tag string
}

// newVersionHash mints a fresh VersionHash, monotonic on id so version files
// sort and compare numerically, carrying a uuid tag for the versions-map key
// collision fix (see newVersionKey).
func newVersionHash(id uint64) VersionHash {
	return VersionHash{ id: id, tag: uuid.NewString() }
}

func (hash VersionHash) ID() uint64 { return hash.id }
func (hash VersionHash) String() string { return fmt.Sprintf("%d-%s", hash.id, hash.tag) }

// indexFileName is the on-disk name of the per-version node-delta file,
// "<version>.index" per the write pipeline's file-per-version layout.
func (hash VersionHash) indexFileName() string { return fmt.Sprintf("%d.index", hash.id) }

// newVersionKey mints a collision-free key for MergedNode.AddVersion. The
// original map-key scheme keyed every version of a node identically, so a
// node's second version silently overwrote its first; a fresh uuid per call
// keeps every version chain entry distinct.
func newVersionKey() string { return uuid.NewString() }
