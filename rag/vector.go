package rag

import (
	"gonum.org/v1/gonum/mat"

	"github.com/LlamaEdge/llama-api-server/qdrant"
)

// cosineSimilarity ranges from -1 to 1, where 1 means the vectors
// point the same way.
func cosineSimilarity(a, b *mat.VecDense) float64 {
	norms := mat.Norm(a, 2) * mat.Norm(b, 2)
	if norms == 0 {
		return 0
	}
	return mat.Dot(a, b) / norms
}

// cosineInversions counts adjacent hit pairs whose locally computed
// cosine similarity increases where the backend ranked them the other
// way around. Retrieval order always follows the backend result; this
// pass only flags drift between the collection's distance metric and
// cosine. Hits without matching vectors are skipped.
func cosineInversions(query []float64, hits []qdrant.ScoredPoint) int {
	if len(query) == 0 || len(hits) < 2 {
		return 0
	}
	for _, hit := range hits {
		if len(hit.Vector) != len(query) {
			return 0
		}
	}

	q := mat.NewVecDense(len(query), query)
	sims := make([]float64, len(hits))
	for i, hit := range hits {
		sims[i] = cosineSimilarity(q, mat.NewVecDense(len(hit.Vector), hit.Vector))
	}

	inversions := 0
	for i := 1; i < len(sims); i++ {
		if sims[i] > sims[i-1] {
			inversions++
		}
	}
	return inversions
}
