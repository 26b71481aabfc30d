// Package embedding turns text into fixed-dimension normalized vectors
// and provides the binary codec used to persist them.
package embedding

import (
	"encoding/binary"
	"math"
)

// Serialize packs a vector into a little-endian float32 blob for storage.
func Serialize(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// Deserialize unpacks a little-endian float32 blob into a vector.
// A truncated trailing fragment is ignored.
func Deserialize(blob []byte) []float32 {
	n := len(blob) / 4
	if n == 0 {
		return nil
	}
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}

// CosineSimilarity computes the similarity of two vectors as a plain dot
// product, relying on both being unit-length (Encode normalizes its
// output). A dimension mismatch returns 0 rather than an error so one
// stale vector cannot abort a whole retrieval pass.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// normalize scales vec to unit length in place. A zero vector is left as-is.
func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
