package hnswdb

import "math/rand"
import "os"
import "path/filepath"
import "sync"


//============================================= Store


// Store is the façade a caller opens one of per named graph: a directory
// holding the property file, metadata store, and version-numbered index
// files, plus the in-memory pieces (node pool, registry, write pipeline)
// that make Init/Upload/Query/FetchNeighbors work end to end.
type Store struct {
	Name string
	dir string
	config Config

	quantizer Quantizer
	distance DistanceFunction

	props *PropertyFile
	meta MetadataStore
	pipeline *WritePipeline
	nodePool *NodePool

	mu sync.RWMutex
	index *IndexFile
	registry *NodeRegistry
	rootRef *LazyItemRef[MergedNode]
}

// OpenStore opens (creating if absent) the on-disk state for a graph named
// name under baseDir, wiring the property file, metadata store, and write
// pipeline together. Call Init on a freshly created store before Upload or
// Query; a store reopened from existing state resumes from its last commit.
func OpenStore(baseDir string, name string, config Config, quantizer Quantizer, distance DistanceFunction) (*Store, error) {
	if name == "" { return nil, newErr(ErrInvalidParams, "store name must not be empty") }

	dir := filepath.Join(baseDir, name)
	if mkdirErr := os.MkdirAll(dir, 0755); mkdirErr != nil {
		return nil, newErr(ErrIO, "creating store directory %s: %w", dir, mkdirErr)
	}

	props, propsErr := OpenPropertyFile(filepath.Join(dir, "prop.data"), config.PropCacheSize)
	if propsErr != nil { return nil, propsErr }

	meta, metaErr := OpenMetadataStore(filepath.Join(dir, "meta.store"))
	if metaErr != nil { props.Close(); return nil, metaErr }

	store := &Store{
		Name: name,
		dir: dir,
		config: config,
		quantizer: quantizer,
		distance: distance,
		props: props,
		meta: meta,
		nodePool: NewNodePool(config.NodePoolSize),
		rootRef: NewInvalidLazyItemRef[MergedNode](),
	}
	store.pipeline = NewWritePipeline(dir, config, props, meta, quantizer, &graphIndexer{ store: store })

	if version, hasVersion := meta.CurrentVersion(); hasVersion {
		if reopenErr := store.reopenIndex(version); reopenErr != nil { return nil, reopenErr }

		if rootOffset, hasRoot := meta.RootOffset(); hasRoot {
			rootHandle, loadErr := store.registry.Load(rootOffset)
			if loadErr != nil { return nil, loadErr }
			store.rootRef.Set(rootHandle)
		}

		log.Infow("reopened store", "name", name, "version", version.String())
	} else {
		log.Infow("opened fresh store", "name", name)
	}

	GetAppEnv().RegisterStore(store)
	return store, nil
}

// Close flushes and releases every file the store holds open.
func (store *Store) Close() error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if store.index != nil { store.index.Close() }
	store.props.Sync()
	err := store.props.Close()
	GetAppEnv().UnregisterStore(store.Name)
	log.Infow("closed store", "name", store.Name)
	return err
}

//============================================= Init


// Init builds the store's entry-point chain: one MergedNode per HNSW level
// from maxCacheLevel down to 0, a placeholder vector quantized the same way
// every real upload will be, parent/child links threading the chain
// together, and commits it as version 0. Grounded on
// init_vector_store's construction of a random root vector and its
// per-level node chain, adapted to this package's own entry-point
// convention: root is the top level, and Child links descend toward level
// 0 (GreedyDescend walks Child from root down to the bottom level).
func (store *Store) Init(dim int, maxCacheLevel HNSWLevel, lowerBound, upperBound float32) error {
	if name := store.Name; name == "" { return newErr(ErrInvalidParams, "store name must not be empty") }
	if dim <= 0 { return newErr(ErrInvalidParams, "vector dimension must be positive, got %d", dim) }

	if _, hasVersion := store.meta.CurrentVersion(); hasVersion {
		return newErr(ErrInvalidParams, "store %q is already initialized", store.Name)
	}

	vector := randomVector(dim, lowerBound, upperBound)
	storage, quantErr := store.quantizer.Quantize(vector, StorageUnsignedByte)
	if quantErr != nil { return quantErr }

	prop := &NodeProp{ Id: VectorIdFromInt(-1), Value: storage }

	var prevNode *MergedNode
	var prevLazy *LazyItem[MergedNode]
	var rootNode *MergedNode
	var rootLazy *LazyItem[MergedNode]

	for level := int(maxCacheLevel); level >= 0; level-- {
		node := NewMergedNode(0, HNSWLevel(level))
		node.SetPropReady(prop)

		if level == 0 {
			if persistErr := store.pipeline.PersistProp(node, prop); persistErr != nil { return persistErr }
		}
		if prevNode != nil { node.SetParent(prevLazy) }

		lazy := NewLazyItem[MergedNode](*node)
		if prevNode != nil { prevNode.SetChild(lazy) }

		if level == int(maxCacheLevel) { rootNode, rootLazy = node, lazy }
		prevNode, prevLazy = node, lazy
	}

	version, commitErr := store.pipeline.Commit(rootLazy, []*MergedNode{ rootNode })
	if commitErr != nil { return commitErr }

	if reopenErr := store.reopenIndex(version); reopenErr != nil { return reopenErr }

	store.rootRef.Set(rootLazy)
	log.Infow("initialized store", "name", store.Name, "maxCacheLevel", maxCacheLevel, "version", version.String())
	return nil
}

// reopenIndex swaps the store's read-side mmap to version's index file,
// rebuilding the node registry against it so readers see the just-committed
// bytes. Closes the previous mapping, if any.
func (store *Store) reopenIndex(version VersionHash) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	indexFile, openErr := OpenIndexFile(filepath.Join(store.dir, version.indexFileName()))
	if openErr != nil { return openErr }

	if store.index != nil { store.index.Close() }
	store.index = indexFile
	store.registry = NewNodeRegistry(indexFile, store.config.MaxLoads)
	return nil
}

//============================================= Upload / Query / FetchNeighbors


// Upload stages id/vector for indexing, triggering an indexing-and-commit
// pass once count_unindexed reaches Config.Threshold. Mirrors run_upload.
func (store *Store) Upload(id VectorId, vector []float32) error {
	store.mu.RLock()
	initialized := store.rootRef.IsValid()
	store.mu.RUnlock()

	if !initialized { return newErr(ErrInvalidParams, "store %q has not been initialized", store.Name) }

	return store.pipeline.Upload(id, vector)
}

// Query quantizes the raw vector, greedily descends the graph from the
// entry point, and ranks the landing node and its neighbors by distance to
// the query. Mirrors ann_vector_query, minus the tuned multi-candidate beam
// search that stays the ANN layer's responsibility (see Search.go).
func (store *Store) Query(vector []float32, k int) ([]Neighbour, error) {
	storage, quantErr := store.quantizer.Quantize(vector, StorageUnsignedByte)
	if quantErr != nil { return nil, quantErr }

	store.mu.RLock()
	root := store.rootRef.Get()
	store.mu.RUnlock()

	if root == nil || root.IsInvalid() {
		return nil, newErr(ErrInvalidParams, "store %q has not been initialized", store.Name)
	}

	nearest, descendErr := GreedyDescend(root, storage, store.distance, store.props)
	if descendErr != nil { return nil, descendErr }

	return RankNeighbors(nearest, storage, store.distance, store.props, k)
}

// FetchNeighbors returns the stored neighbor list of the node whose
// VectorId equals id, without running a fresh distance search.
// Mirrors fetch_vector_neighbors.
func (store *Store) FetchNeighbors(id VectorId) ([]Neighbour, error) {
	store.mu.RLock()
	root := store.rootRef.Get()
	store.mu.RUnlock()

	if root == nil || root.IsInvalid() {
		return nil, newErr(ErrInvalidParams, "store %q has not been initialized", store.Name)
	}

	node, found, err := store.findByID(root, id, make(map[LazyItemID]bool))
	if err != nil { return nil, err }
	if !found { return nil, newErr(ErrInvalidParams, "no node found for id %s", id.String()) }

	data, ok := node.GetData()
	if !ok { return nil, newErr(ErrDeserialization, "fetch neighbors: unresolved node handle") }

	neighbors := data.GetNeighbors().Iter()
	out := make([]Neighbour, 0, len(neighbors))
	for _, neighbor := range neighbors { out = append(out, Neighbour{ Node: neighbor.Lazy, CosineSimilarity: neighbor.Eager }) }
	return out, nil
}

// findByID walks the graph depth-first from current via Child then
// Neighbors, looking for a node whose prop's VectorId equals id; a prop that
// is only Pending (as on nodes loaded from disk) is fetched from the property
// file to compare. visited guards against revisiting a node through more
// than one edge, since the neighbor graph is not a tree.
func (store *Store) findByID(current *LazyItem[MergedNode], id VectorId, visited map[LazyItemID]bool) (*LazyItem[MergedNode], bool, error) {
	if current == nil || current.IsInvalid() { return nil, false, nil }

	key := current.identityKey()
	if visited[key] { return nil, false, nil }
	visited[key] = true

	node, ok := current.GetData()
	if !ok { return nil, false, nil }

	state := node.GetProp()
	nodeProp, ready := state.Node()
	if !ready {
		fetched, fetchErr := store.props.Fetch(state.PendingRef())
		if fetchErr != nil { return nil, false, fetchErr }
		nodeProp = fetched
	}
	if nodeProp.Id.Equal(id) { return current, true, nil }

	if child := node.GetChild().Get(); child != nil && child.IsValid() {
		if found, ok, err := store.findByID(child, id, visited); err != nil { return nil, false, err } else if ok { return found, true, nil }
	}

	for _, neighbor := range node.GetNeighbors().Iter() {
		if found, ok, err := store.findByID(neighbor.Lazy, id, visited); err != nil { return nil, false, err } else if ok { return found, true, nil }
	}

	return nil, false, nil
}

//============================================= Graph Indexer


// graphIndexer is the minimal Indexer wired into every Store's write
// pipeline: each pending embedding is linked as a mutual neighbor of the
// nearest existing node (found via GreedyDescend), and root gets a one-way
// neighbor edge to it, so it stays reachable from the entry point across a
// commit and reload.
// Capping neighbor count stays the ANN layer's job -- this never prunes.
type graphIndexer struct {
	store *Store
}

func (idx *graphIndexer) IndexBatch(batch []PendingEmbedding) (*LazyItem[MergedNode], []*MergedNode, error) {
	store := idx.store

	store.mu.RLock()
	root := store.rootRef.Get()
	store.mu.RUnlock()

	if root == nil || root.IsInvalid() {
		return nil, nil, newErr(ErrInvalidParams, "index batch: store %q has no entry point", store.Name)
	}

	rootNode, ok := root.GetData()
	if !ok { return nil, nil, newErr(ErrDeserialization, "index batch: unresolved root handle") }

	dirty := make([]*MergedNode, 0, len(batch))
	for _, embedding := range batch {
		nearest, descendErr := GreedyDescend(root, embedding.Storage, store.distance, store.props)
		if descendErr != nil { return nil, nil, descendErr }

		node := store.nodePool.Get(0, 0)
		prop := &NodeProp{ Id: embedding.Id, Value: embedding.Storage }
		if persistErr := store.pipeline.PersistProp(node, prop); persistErr != nil { return nil, nil, persistErr }

		rootStorage, rootStorageErr := resolveStorage(&rootNode, store.props)
		if rootStorageErr != nil { return nil, nil, rootStorageErr }

		rootDist, rootDistErr := store.distance.Calculate(embedding.Storage, rootStorage)
		if rootDistErr != nil { return nil, nil, rootDistErr }

		lazy := NewLazyItem[MergedNode](*node)

		if nearestNode, ok := nearest.GetData(); ok {
			nearestStorage, nearestStorageErr := resolveStorage(&nearestNode, store.props)
			if nearestStorageErr != nil { return nil, nil, nearestStorageErr }

			nearestDist, nearestDistErr := store.distance.Calculate(embedding.Storage, nearestStorage)
			if nearestDistErr != nil { return nil, nil, nearestDistErr }

			node.AddReadyNeighbor(nearest, nearestDist)
			nearestNode.AddReadyNeighbor(lazy, nearestDist)
		}

		rootNode.AddReadyNeighbor(lazy, rootDist)
		dirty = append(dirty, node)
	}

	return root, dirty, nil
}

//============================================= Helpers


func randomVector(dim int, lowerBound, upperBound float32) []float32 {
	if lowerBound == 0 && upperBound == 0 { lowerBound, upperBound = -1.0, 1.0 }

	vec := make([]float32, dim)
	for i := range vec { vec[i] = lowerBound + rand.Float32()*(upperBound-lowerBound) }
	return vec
}
