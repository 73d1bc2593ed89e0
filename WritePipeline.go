package hnswdb

import "path/filepath"
import "sync"


//============================================= Write Pipeline


// PendingEmbedding is a quantized vector staged for an indexing pass: it has
// been accepted and counted toward count_unindexed, but not yet inserted
// into the graph or assigned a MergedNode.
type PendingEmbedding struct {
	Id VectorId
	Storage *Storage
}

// Indexer inserts a drained batch of pending embeddings into the live
// graph. Building the graph edges themselves -- where in the HNSW levels a
// vector lands, which neighbors it earns -- is the ANN layer's job; the
// write pipeline only owns when indexing runs and what happens to its
// output afterward. IndexBatch returns the graph's (possibly unchanged)
// entry-point handle and every node that became dirty as a result, ready
// for the pipeline's next commit pass.
type Indexer interface {
	IndexBatch(batch []PendingEmbedding) (root *LazyItem[MergedNode], dirty []*MergedNode, err error)
}

// WritePipeline owns the three things spec.md's write path actually needs
// mechanically: the count_unindexed threshold gate, the dirty-node
// serialize-then-flush pass, and the atomic current_version bump that is
// the commit point. dir is the directory holding "<version>.index" files.
type WritePipeline struct {
	dir string
	config Config

	props *PropertyFile
	meta MetadataStore
	quantizer Quantizer
	indexer Indexer

	mu sync.Mutex
	pending []PendingEmbedding

	// commitMu serializes the commit pass -- opening the next version file,
	// serializing the dirty set, and bumping current_version -- mirroring
	// the teacher's RWResizeLock discipline around UpdateTx's single-writer
	// assumption (Transaction.go), simplified to a plain Mutex since this
	// store has no mmap to resize underneath a reader.
	commitMu sync.Mutex
}

// NewWritePipeline wires together the property store, metadata store,
// quantizer, and the caller's graph indexer into one pipeline writing
// version files under dir.
func NewWritePipeline(dir string, config Config, props *PropertyFile, meta MetadataStore, quantizer Quantizer, indexer Indexer) *WritePipeline {
	return &WritePipeline{
		dir: dir,
		config: config,
		props: props,
		meta: meta,
		quantizer: quantizer,
		indexer: indexer,
	}
}

func (pipeline *WritePipeline) Props() *PropertyFile { return pipeline.props }
func (pipeline *WritePipeline) Meta() MetadataStore { return pipeline.meta }

// Upload quantizes vector, stages it as a PendingEmbedding, and records the
// new count_unindexed -- mirroring run_upload's per-embedding quantize
// step, deferring the actual graph insertion to the indexing pass once
// count_unindexed crosses Config.Threshold.
func (pipeline *WritePipeline) Upload(id VectorId, vector []float32) error {
	storage, quantErr := pipeline.quantizer.Quantize(vector, StorageUnsignedByte)
	if quantErr != nil { return quantErr }

	pipeline.mu.Lock()
	pipeline.pending = append(pipeline.pending, PendingEmbedding{ Id: id, Storage: storage })
	count := uint32(len(pipeline.pending))
	pipeline.mu.Unlock()

	tx := pipeline.meta.Begin()
	tx.SetCountUnindexed(count)
	if commitErr := tx.Commit(); commitErr != nil {
		return newErr(ErrDatabase, "recording count_unindexed: %w", commitErr)
	}

	if count < pipeline.config.Threshold { return nil }
	_, indexErr := pipeline.indexAndCommit()
	return indexErr
}

// RootOffset returns the on-disk offset of the graph's entry point as of
// the last commit, for a reopened Store to resume from.
func (pipeline *WritePipeline) RootOffset() (FileOffset, bool) { return pipeline.meta.RootOffset() }

// PersistProp appends prop to the property file and marks node's prop Ready
// at the resulting location, flagging node dirty so the next commit pass
// writes it. Exposed for Indexer implementations, which build MergedNodes
// but don't otherwise touch the property file directly.
func (pipeline *WritePipeline) PersistProp(node *MergedNode, prop *NodeProp) error {
	ref, appendErr := pipeline.props.Append(prop)
	if appendErr != nil { return appendErr }

	prop.Location = &ref
	node.SetPropReady(prop)
	node.SetPersistence(true)
	return nil
}

// indexAndCommit drains up to Config.BatchSize pending embeddings, hands
// them to the Indexer, and commits the resulting graph.
func (pipeline *WritePipeline) indexAndCommit() (VersionHash, error) {
	pipeline.mu.Lock()
	batchSize := int(pipeline.config.BatchSize)
	if batchSize > len(pipeline.pending) { batchSize = len(pipeline.pending) }
	batch := append([]PendingEmbedding(nil), pipeline.pending[:batchSize]...)
	pipeline.pending = pipeline.pending[batchSize:]
	remaining := uint32(len(pipeline.pending))
	pipeline.mu.Unlock()

	root, dirty, indexErr := pipeline.indexer.IndexBatch(batch)
	if indexErr != nil { return VersionHash{}, indexErr }

	return pipeline.commit(root, dirty, remaining)
}

// Commit runs a commit pass rooted at root without draining the pending
// queue -- the path Store.Init uses to persist its freshly built
// entry-point chain before any embedding has ever been uploaded.
func (pipeline *WritePipeline) Commit(root *LazyItem[MergedNode], dirty []*MergedNode) (VersionHash, error) {
	pipeline.mu.Lock()
	remaining := uint32(len(pipeline.pending))
	pipeline.mu.Unlock()

	return pipeline.commit(root, dirty, remaining)
}

// commit opens the next "<version>.index" file and serializes root through
// the same offset-claiming path (SerializeLazyItemRef) every other
// reference to a node uses. That matters for root specifically: claiming
// its offset here means any other node that also points at root (a
// bottom-level node's Parent, say) resolves to this same offset during its
// own serialization instead of writing a second duplicate copy of it.
// serializeMergedNodeBody's placeholder-and-patch recursion walks root's
// entire reachable subgraph (parent/child chain, neighbors, versions) in
// one pass, so writing root is sufficient to persist everything dirty
// touched -- dirty only needs clearing its persistence flags here. Every
// commit targets a brand new, otherwise empty file, so that walk always
// re-serializes the whole reachable graph into it regardless of whether any
// individual node was written into some earlier version's file: root's
// LazyItem cell is long-lived and reused across commits (Store.Init builds
// it once, graphIndexer always hands the same pointer back), but
// SerializeLazyItemRef's offset claims are scoped to this one call, so they
// never carry a stale offset in from a previous commit's pass. Bumping
// current_version via the atomic MetadataTx.Commit rename is the commit
// point spec.md §4.7 names: readers never observe a version whose index
// file is only partially written.
func (pipeline *WritePipeline) commit(root *LazyItem[MergedNode], dirty []*MergedNode, remainingUnindexed uint32) (VersionHash, error) {
	pipeline.commitMu.Lock()
	defer pipeline.commitMu.Unlock()

	nextID := uint64(0)
	if prev, ok := pipeline.meta.CurrentVersion(); ok { nextID = prev.ID() + 1 }
	version := newVersionHash(nextID)

	writer, openErr := OpenBufferedWriter(filepath.Join(pipeline.dir, version.indexFileName()))
	if openErr != nil { return VersionHash{}, openErr }

	rootOffset, serializeErr := SerializeLazyItemRef(LazyItemRefFromItem(root), writer)
	if serializeErr != nil { writer.Close(); return VersionHash{}, serializeErr }

	for _, node := range dirty { node.SetPersistence(false) }

	if syncErr := writer.Sync(); syncErr != nil { writer.Close(); return VersionHash{}, syncErr }
	if closeErr := writer.Close(); closeErr != nil { return VersionHash{}, closeErr }

	tx := pipeline.meta.Begin()
	tx.SetCurrentVersion(version)
	tx.SetCountUnindexed(remainingUnindexed)
	tx.SetRootOffset(rootOffset)
	if commitErr := tx.Commit(); commitErr != nil {
		return VersionHash{}, newErr(ErrDatabase, "committing version %s: %w", version.String(), commitErr)
	}

	log.Infow("committed version", "version", version.String(), "rootOffset", rootOffset, "dirty", len(dirty), "unindexed", remainingUnindexed)
	return version, nil
}
