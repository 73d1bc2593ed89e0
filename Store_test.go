package hnswdb

import "testing"

import "github.com/stretchr/testify/require"


func testStoreConfig() Config {
	cfg := DefaultConfig()
	cfg.Threshold = 1
	cfg.BatchSize = 10
	cfg.NodePoolSize = 4
	cfg.PropCacheSize = 16
	cfg.MaxLoads = 1000
	return cfg
}

func TestOpenStoreRejectsEmptyName(t *testing.T) {
	_, err := OpenStore(t.TempDir(), "", testStoreConfig(), NewScalarQuantizer(-1, 1), CosineDistance{})
	require.Error(t, err)
	require.True(t, IsKind(err, ErrInvalidParams))
}

func TestStoreInitBuildsEntryChainAndCommitsVersionZero(t *testing.T) {
	store, err := OpenStore(t.TempDir(), "graph", testStoreConfig(), NewScalarQuantizer(-1, 1), CosineDistance{})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Init(4, 2, -1, 1))

	version, hasVersion := store.meta.CurrentVersion()
	require.True(t, hasVersion)
	require.Equal(t, uint64(0), version.ID())

	_, hasRoot := store.meta.RootOffset()
	require.True(t, hasRoot)
}

func TestStoreInitRejectsDoubleInit(t *testing.T) {
	store, err := OpenStore(t.TempDir(), "graph", testStoreConfig(), NewScalarQuantizer(-1, 1), CosineDistance{})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Init(4, 1, -1, 1))
	err = store.Init(4, 1, -1, 1)
	require.Error(t, err)
	require.True(t, IsKind(err, ErrInvalidParams))
}

func TestStoreUploadRequiresInit(t *testing.T) {
	store, err := OpenStore(t.TempDir(), "graph", testStoreConfig(), NewScalarQuantizer(-1, 1), CosineDistance{})
	require.NoError(t, err)
	defer store.Close()

	err = store.Upload(VectorIdFromInt(1), []float32{ 0.1, 0.2, 0.3, 0.4 })
	require.Error(t, err)
	require.True(t, IsKind(err, ErrInvalidParams))
}

func TestStoreUploadQueryFetchNeighborsRoundTrip(t *testing.T) {
	store, err := OpenStore(t.TempDir(), "graph", testStoreConfig(), NewScalarQuantizer(-1, 1), CosineDistance{})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Init(4, 1, -1, 1))

	vectors := map[int32][]float32{
		1: { 0.9, 0.8, 0.7, 0.6 },
		2: { -0.9, -0.8, -0.7, -0.6 },
		3: { 0.85, 0.82, 0.68, 0.58 },
	}

	for id, vector := range vectors {
		require.NoError(t, store.Upload(VectorIdFromInt(id), vector))
	}

	results, queryErr := store.Query([]float32{ 0.88, 0.8, 0.7, 0.6 }, 5)
	require.NoError(t, queryErr)
	require.NotEmpty(t, results)

	neighbors, fetchErr := store.FetchNeighbors(VectorIdFromInt(-1))
	require.NoError(t, fetchErr)
	require.NotNil(t, neighbors)
}

func TestStoreFetchNeighborsUnknownIDFails(t *testing.T) {
	store, err := OpenStore(t.TempDir(), "graph", testStoreConfig(), NewScalarQuantizer(-1, 1), CosineDistance{})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Init(4, 1, -1, 1))

	_, err = store.FetchNeighbors(VectorIdFromInt(999))
	require.Error(t, err)
	require.True(t, IsKind(err, ErrInvalidParams))
}

func TestStoreReopenResumesFromCommittedRoot(t *testing.T) {
	dir := t.TempDir()
	cfg := testStoreConfig()

	store, err := OpenStore(dir, "graph", cfg, NewScalarQuantizer(-1, 1), CosineDistance{})
	require.NoError(t, err)

	require.NoError(t, store.Init(4, 1, -1, 1))
	require.NoError(t, store.Upload(VectorIdFromInt(1), []float32{ 0.5, 0.5, 0.5, 0.5 }))
	require.NoError(t, store.Close())

	reopened, err := OpenStore(dir, "graph", cfg, NewScalarQuantizer(-1, 1), CosineDistance{})
	require.NoError(t, err)
	defer reopened.Close()

	reopened.mu.RLock()
	valid := reopened.rootRef.IsValid()
	reopened.mu.RUnlock()
	require.True(t, valid)

	results, err := reopened.Query([]float32{ 0.5, 0.5, 0.5, 0.5 }, 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
}
