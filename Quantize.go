package hnswdb

import "math"


//============================================= Scalar Quantization


// ScalarQuantizer maps each float32 dimension independently to a single byte
// by linear rescaling against a fixed [lower, upper] bound, the simplest
// quantization scheme and the store's zero-value Quantizer.
type ScalarQuantizer struct {
	Lower float32
	Upper float32
}

func NewScalarQuantizer(lower, upper float32) *ScalarQuantizer {
	return &ScalarQuantizer{ Lower: lower, Upper: upper }
}

func (quantizer *ScalarQuantizer) Quantize(vector []float32, kind StorageKind) (*Storage, error) {
	switch kind {
		case StorageUnsignedByte:
			return quantizer.quantizeUnsignedByte(vector), nil
		case StorageSubByte:
			return quantizer.quantizeSubByte(vector, 4), nil
		default:
			return nil, newErr(ErrQuantization, "unrecognized storage kind %d", kind)
	}
}

// Train is a no-op: a scalar quantizer has no learned parameters, only the
// fixed bounds supplied at construction.
func (quantizer *ScalarQuantizer) Train(vectors [][]float32) error { return nil }

func (quantizer *ScalarQuantizer) quantizeUnsignedByte(vector []float32) *Storage {
	quantVec := make([]byte, len(vector))
	var magSq uint32

	for i, dim := range vector {
		b := quantizer.scaleToByte(dim)
		quantVec[i] = b
		magSq += uint32(b) * uint32(b)
	}

	return NewUnsignedByteStorage(magSq, quantVec)
}

// quantizeSubByte scales each dimension to the range 0..2^resolution-1 and
// stores it as one byte in its own single-byte row. Values are not bit-packed,
// so the result is not smaller than unsigned-byte storage; only the precision
// is reduced.
func (quantizer *ScalarQuantizer) quantizeSubByte(vector []float32, resolution uint8) *Storage {
	subVec := make([][]byte, len(vector))
	maxVal := float32((uint32(1) << resolution) - 1)
	var magSq uint32

	for i, dim := range vector {
		scaled := quantizer.scaleToRange(dim, maxVal)
		subVec[i] = []byte{ byte(scaled) }
		magSq += uint32(scaled) * uint32(scaled)
	}

	return NewSubByteStorage(magSq, subVec, resolution)
}

func (quantizer *ScalarQuantizer) scaleToByte(dim float32) byte {
	return byte(quantizer.scaleToRange(dim, 255))
}

func (quantizer *ScalarQuantizer) scaleToRange(dim float32, maxVal float32) float32 {
	span := quantizer.Upper - quantizer.Lower
	if span <= 0 { return 0 }

	clamped := dim
	if clamped < quantizer.Lower { clamped = quantizer.Lower }
	if clamped > quantizer.Upper { clamped = quantizer.Upper }

	normalized := (clamped - quantizer.Lower) / span
	return float32(math.Round(float64(normalized * maxVal)))
}
