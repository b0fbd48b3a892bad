// Package linkprop implements the LinkProp non-parametric link-prediction
// baseline from "Revisiting Neighborhood-based Link Prediction for
// Collaborative Filtering" (https://arxiv.org/abs/2203.15789).
//
// Scores are a degree-reweighted bilinear propagation over the user/item
// interaction matrix M: a user's score for an item is the (α,β)-reweighted
// row of M propagated through Mᵀ and the (γ,δ)-reweighted M. No training
// happens, FitForScore only precomputes the reweighted matrices.
package linkprop

import (
	"math"
	"sort"

	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/gomlx/recommenders/sparse"
	"gonum.org/v1/gonum/mat"
)

// observedPenalty is subtracted from the score of already-observed links so
// they never reach the predicted top-k (unless fewer unobserved candidates
// than k exist).
const observedPenalty = 1e5

// Model holds the LinkProp hyperparameters, fixed at construction, and the
// reweighted matrices built by FitForScore.
//
// TODO: multi-round refit (LinkProp-Multi): merge the top-k predicted links
// back into M, recompute degrees and refit, rounds-1 times.
type Model struct {
	rounds, k                 int
	alpha, beta, gamma, delta float64

	fitted         *sparse.Matrix
	observedByRow  *sparse.Compressed // Rows of the fitted matrix, for suppression.
	observedByCol  *sparse.Compressed
	alphaBetaRows  *sparse.Compressed // Rows of M_αβ.
	gammaDeltaRows *sparse.Compressed // Rows of M_γδ.
}

// New creates a Model with the given hyperparameters: k is the top-k cutoff
// of predictions and of the MAP metric; alpha/beta (resp. gamma/delta)
// exponentiate the user/item degrees reweighting the propagation source
// (resp. target) matrix.
func New(rounds, k int, alpha, beta, gamma, delta float64) *Model {
	return &Model{rounds: rounds, k: k, alpha: alpha, beta: beta, gamma: gamma, delta: delta}
}

// K returns the model's top-k cutoff.
func (lp *Model) K() int { return lp.k }

// FitForScore precomputes the degree-reweighted matrices M_αβ and M_γδ over
// m's nonzero coordinates only -- the dense outer product of the degree
// weight vectors is never materialized. Degree-zero users/items get weight 0
// instead of the +Inf a negative exponent would give them.
func (lp *Model) FitForScore(m *sparse.Matrix) {
	userAlpha := degreeWeights(m.RowSums(), lp.alpha)
	itemBeta := degreeWeights(m.ColSums(), lp.beta)
	userGamma := degreeWeights(m.RowSums(), lp.gamma)
	itemDelta := degreeWeights(m.ColSums(), lp.delta)

	rows, cols, values := m.NonZero()
	alphaBeta := make([]float32, len(values))
	gammaDelta := make([]float32, len(values))
	for ii := range values {
		v := float64(values[ii])
		alphaBeta[ii] = float32(v * userAlpha[rows[ii]] * itemBeta[cols[ii]])
		gammaDelta[ii] = float32(v * userGamma[rows[ii]] * itemDelta[cols[ii]])
	}

	lp.fitted = m
	lp.observedByRow = m.CompressRows()
	lp.observedByCol = m.CompressCols()
	lp.alphaBetaRows = sparse.FromCOO(m.Rows(), m.Cols(), rows, cols, alphaBeta).CompressRows()
	lp.gammaDeltaRows = sparse.FromCOO(m.Rows(), m.Cols(), rows, cols, gammaDelta).CompressRows()
}

// degreeWeights returns degree^(-exponent) per entity, with the +Inf of
// zero-degree entities corrected to 0.
func degreeWeights(degrees []float32, exponent float64) []float64 {
	weights := make([]float64, len(degrees))
	for ii, degree := range degrees {
		w := math.Pow(float64(degree), -exponent)
		if math.IsInf(w, 0) {
			w = 0
		}
		weights[ii] = w
	}
	return weights
}

// PredictK returns, per user in [start, end), the top k unobserved items by
// propagation score: M_αβ[start:end] · Mᵀ · M_γδ, densified only for the
// requested row range, with observed entries suppressed. FitForScore must
// have been called.
func (lp *Model) PredictK(start, end, k int) [][]int32 {
	scores := lp.scoreBlock(start, end)
	numRows, _ := scores.Dims()
	predictions := make([][]int32, numRows)
	for row := 0; row < numRows; row++ {
		predictions[row] = topKIndices(scores.RawRowView(row), k)
	}
	return predictions
}

// scoreBlock computes the dense [end-start, numItems] propagation scores with
// observed entries suppressed and clamped at 0.
func (lp *Model) scoreBlock(start, end int) *mat.Dense {
	if lp.fitted == nil {
		exceptions.Panicf("PredictK called before FitForScore")
	}
	if start < 0 || end > lp.fitted.Rows() || start > end {
		exceptions.Panicf("invalid user range [%d, %d) for %d users", start, end, lp.fitted.Rows())
	}
	numUsers, numItems := lp.fitted.Rows(), lp.fitted.Cols()
	scores := mat.NewDense(end-start, numItems, nil)

	// Per-row accumulators, cleared via the touched list between rows.
	userScores := make([]float64, numUsers)
	userTouched := make([]bool, numUsers)
	var touchedUsers []int32
	for row := start; row < end; row++ {
		// userScores = M_αβ[row] · Mᵀ.
		items, weights := lp.alphaBetaRows.Span(int32(row))
		for ii, item := range items {
			coUsers, coValues := lp.observedByCol.Span(item)
			for jj, user := range coUsers {
				if !userTouched[user] {
					userTouched[user] = true
					touchedUsers = append(touchedUsers, user)
				}
				userScores[user] += float64(weights[ii]) * float64(coValues[jj])
			}
		}

		// itemScores = userScores · M_γδ, written straight into the block.
		out := scores.RawRowView(row - start)
		for _, user := range touchedUsers {
			items, weights := lp.gammaDeltaRows.Span(user)
			for ii, item := range items {
				out[item] += userScores[user] * float64(weights[ii])
			}
		}

		// Suppress observed links and clamp at zero.
		items, values := lp.observedByRow.Span(int32(row))
		for ii, item := range items {
			if values[ii] == 1 {
				out[item] -= observedPenalty
			}
		}
		for ii := range out {
			if out[ii] < 0 {
				out[ii] = 0
			}
		}

		for _, user := range touchedUsers {
			userScores[user] = 0
			userTouched[user] = false
		}
		touchedUsers = touchedUsers[:0]
	}
	return scores
}

// topKIndices returns the indices of the k largest values, ties broken by the
// lower index. If k exceeds len(values) all indices are returned.
func topKIndices(values []float64, k int) []int32 {
	order := make([]int32, len(values))
	for ii := range order {
		order[ii] = int32(ii)
	}
	sort.SliceStable(order, func(a, b int) bool {
		return values[order[a]] > values[order[b]]
	})
	if k > len(order) {
		k = len(order)
	}
	return order[:k]
}
