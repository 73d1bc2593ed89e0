package hnswdb

import "testing"

import "github.com/stretchr/testify/require"


func TestScalarQuantizerUnsignedByteClampsToBounds(t *testing.T) {
	quantizer := NewScalarQuantizer(-1, 1)

	storage, err := quantizer.Quantize([]float32{ -10, -1, 0, 1, 10 }, StorageUnsignedByte)
	require.NoError(t, err)
	require.Equal(t, StorageUnsignedByte, storage.Kind)
	require.Equal(t, []byte{ 0, 0, 128, 255, 255 }, storage.QuantVec)
}

func TestScalarQuantizerSubByteResolution(t *testing.T) {
	quantizer := NewScalarQuantizer(0, 1)

	storage, err := quantizer.Quantize([]float32{ 0, 0.5, 1 }, StorageSubByte)
	require.NoError(t, err)
	require.Equal(t, StorageSubByte, storage.Kind)
	require.Equal(t, uint8(4), storage.Resolution)
	require.Len(t, storage.SubVec, 3)
}

func TestScalarQuantizerRejectsUnknownKind(t *testing.T) {
	quantizer := NewScalarQuantizer(0, 1)

	_, err := quantizer.Quantize([]float32{ 0 }, StorageKind(99))
	require.Error(t, err)
	require.True(t, IsKind(err, ErrQuantization))
}

func TestScalarQuantizerZeroSpanYieldsZero(t *testing.T) {
	quantizer := NewScalarQuantizer(1, 1)

	storage, err := quantizer.Quantize([]float32{ 5 }, StorageUnsignedByte)
	require.NoError(t, err)
	require.Equal(t, []byte{ 0 }, storage.QuantVec)
}

func TestScalarQuantizerTrainIsNoop(t *testing.T) {
	quantizer := NewScalarQuantizer(0, 1)
	require.NoError(t, quantizer.Train([][]float32{ { 1, 2, 3 } }))
}
