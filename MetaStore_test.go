package hnswdb

import "path/filepath"
import "testing"

import "github.com/stretchr/testify/require"


func TestMetadataStoreFreshHasNothing(t *testing.T) {
	store, err := OpenMetadataStore(filepath.Join(t.TempDir(), "meta.store"))
	require.NoError(t, err)

	_, hasVersion := store.CurrentVersion()
	require.False(t, hasVersion)
	require.Equal(t, uint32(0), store.CountUnindexed())
	_, hasRoot := store.RootOffset()
	require.False(t, hasRoot)
}

func TestMetadataStoreCommitPublishesSnapshot(t *testing.T) {
	store, err := OpenMetadataStore(filepath.Join(t.TempDir(), "meta.store"))
	require.NoError(t, err)

	version := newVersionHash(0)

	tx := store.Begin()
	tx.SetCurrentVersion(version)
	tx.SetCountUnindexed(5)
	tx.SetRootOffset(123)
	require.NoError(t, tx.Commit())

	gotVersion, hasVersion := store.CurrentVersion()
	require.True(t, hasVersion)
	require.Equal(t, version.ID(), gotVersion.ID())
	require.Equal(t, uint32(5), store.CountUnindexed())

	rootOffset, hasRoot := store.RootOffset()
	require.True(t, hasRoot)
	require.Equal(t, uint32(123), rootOffset)
}

func TestMetadataStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.store")
	store, err := OpenMetadataStore(path)
	require.NoError(t, err)

	tx := store.Begin()
	tx.SetCurrentVersion(newVersionHash(2))
	tx.SetRootOffset(55)
	require.NoError(t, tx.Commit())

	reopened, err := OpenMetadataStore(path)
	require.NoError(t, err)

	version, hasVersion := reopened.CurrentVersion()
	require.True(t, hasVersion)
	require.Equal(t, uint64(2), version.ID())

	rootOffset, hasRoot := reopened.RootOffset()
	require.True(t, hasRoot)
	require.Equal(t, uint32(55), rootOffset)
}

func TestMetadataTxStagingIsIsolatedUntilCommit(t *testing.T) {
	store, err := OpenMetadataStore(filepath.Join(t.TempDir(), "meta.store"))
	require.NoError(t, err)

	tx := store.Begin()
	tx.SetCountUnindexed(9)

	require.Equal(t, uint32(0), store.CountUnindexed())

	require.NoError(t, tx.Commit())
	require.Equal(t, uint32(9), store.CountUnindexed())
}
