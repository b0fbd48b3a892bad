package linkprop

import (
	"github.com/gomlx/recommenders/sparse"
)

// Matchers serves a model's precomputed top-k predictions as per-user
// candidate items. It implements sampler.Matcher, so the baseline can supply
// the negative candidates of evaluation-mode subgraph building.
type Matchers struct {
	topK [][]int32
}

// Matchers fits the model on m and precomputes every user's top-k items, in
// row batches of batchSize.
func (lp *Model) Matchers(m *sparse.Matrix, batchSize int) *Matchers {
	lp.FitForScore(m)
	topK := make([][]int32, 0, m.Rows())
	for start := 0; start < m.Rows(); start += batchSize {
		end := min(start+batchSize, m.Rows())
		topK = append(topK, lp.PredictK(start, end, lp.k)...)
	}
	return &Matchers{topK: topK}
}

// GetMatches returns the precomputed top-k items for the user.
func (ms *Matchers) GetMatches(userID int32) []int32 {
	return ms.topK[userID]
}
