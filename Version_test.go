package hnswdb

import "testing"

import "github.com/stretchr/testify/require"


func TestNewVersionHashMonotonicID(t *testing.T) {
	v0 := newVersionHash(0)
	v1 := newVersionHash(1)

	require.Equal(t, uint64(0), v0.ID())
	require.Equal(t, uint64(1), v1.ID())
	require.NotEqual(t, v0.String(), v1.String())
}

func TestVersionHashIndexFileName(t *testing.T) {
	v := newVersionHash(3)
	require.Equal(t, "3.index", v.indexFileName())
}

func TestNewVersionKeyUnique(t *testing.T) {
	a := newVersionKey()
	b := newVersionKey()
	require.NotEqual(t, a, b)
}
