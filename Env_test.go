package hnswdb

import "testing"

import "github.com/stretchr/testify/require"


func TestAppEnvRegistersAndLooksUpStoreByName(t *testing.T) {
	env := GetAppEnv()

	store, err := OpenStore(t.TempDir(), "env-lookup-test", testStoreConfig(), NewScalarQuantizer(-1, 1), CosineDistance{})
	require.NoError(t, err)

	found, ok := env.LookupStore("env-lookup-test")
	require.True(t, ok)
	require.Same(t, store, found)

	require.NoError(t, store.Close())

	_, ok = env.LookupStore("env-lookup-test")
	require.False(t, ok)
}

func TestAppEnvLookupUnknownNameMisses(t *testing.T) {
	_, ok := GetAppEnv().LookupStore("no-such-store")
	require.False(t, ok)
}
