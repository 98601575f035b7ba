package database

import "math"

// CosineDistance computes the cosine distance between two descriptor
// vectors. Returns a value between 0 (identical) and 2 (opposite);
// invalid or zero input yields the maximum distance.
//
// Cosine is the one distance function used across enrollment, matching
// and the HNSW index. Do not mix in Euclidean anywhere.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2.0
	}

	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to absorb floating point error.
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}

	return 1 - similarity
}

// CosineSimilarity converts cosine distance into the similarity the
// match threshold is expressed in: 1 identical, -1 opposite.
func CosineSimilarity(a, b []float32) float64 {
	return 1 - CosineDistance(a, b)
}
