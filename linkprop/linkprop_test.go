package linkprop

import (
	"math/rand/v2"
	"testing"

	"github.com/gomlx/recommenders/sparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 3 users × 4 items: u0→{0,1}, u1→{1,2}, u2→{3}.
func testMatrix() *sparse.Matrix {
	return sparse.FromCOO(3, 4,
		[]int32{0, 0, 1, 1, 2},
		[]int32{0, 1, 1, 2, 3},
		[]float32{1, 1, 1, 1, 1})
}

func TestDegreeWeights(t *testing.T) {
	weights := degreeWeights([]float32{4, 1, 0}, 0.5)
	assert.InDelta(t, 0.5, weights[0], 1e-9)
	assert.InDelta(t, 1.0, weights[1], 1e-9)
	// Zero degree gives weight 0, not +Inf.
	assert.Equal(t, 0.0, weights[2])

	// Exponent 0 keeps every weight at 1, including zero-degree entities.
	flat := degreeWeights([]float32{4, 0}, 0)
	assert.Equal(t, []float64{1, 1}, flat)
}

func TestPredictKUnweighted(t *testing.T) {
	// With all exponents 0 the score block is plain M·Mᵀ·M with observed
	// entries suppressed, small enough to check by hand.
	lp := New(1, 2, 0, 0, 0, 0)
	lp.FitForScore(testMatrix())

	predictions := lp.PredictK(0, 3, 2)
	require.Len(t, predictions, 3)
	// u0 scores: item2 gets 1 through u1, the rest is observed or zero; ties
	// resolve to the lowest index.
	assert.Equal(t, []int32{2, 0}, predictions[0])
	// u1 scores: item0 gets 1 through u0, items 1 and 2 are suppressed.
	assert.Equal(t, []int32{0, 3}, predictions[1])
	// u2 interacts with an island item: everything unobserved scores 0.
	assert.Equal(t, []int32{0, 1}, predictions[2])

	require.Panics(t, func() { lp.PredictK(0, 4, 2) })
	require.Panics(t, func() { New(1, 2, 0, 0, 0, 0).PredictK(0, 1, 2) })
}

func TestPredictKReweighted(t *testing.T) {
	// 2×2: u0→{0}, u1→{0,1}. With α=1, δ=1 the propagation through the
	// shared item 0 gives u0 the scores [1, 1] before suppression, so item 1
	// wins once item 0 is suppressed.
	m := sparse.FromCOO(2, 2, []int32{0, 1, 1}, []int32{0, 0, 1}, []float32{1, 1, 1})
	lp := New(1, 1, 1, 0, 0, 1)
	lp.FitForScore(m)
	predictions := lp.PredictK(0, 1, 1)
	assert.Equal(t, []int32{1}, predictions[0])
}

func TestScoreMAPK(t *testing.T) {
	x := testMatrix()
	// Held-out truth: u0 later bought item 2, u1 item 0, u2 nothing.
	y := sparse.FromCOO(3, 4, []int32{0, 1}, []int32{2, 0}, []float32{1, 1})

	lp := New(1, 2, 0, 0, 0, 0)
	mapk, predictions := lp.ScoreMAPK(x, y, 2)
	require.Len(t, predictions, 3)
	assert.Equal(t, []int32{2, 0}, predictions[0])

	// u0: hit at rank 1 of 2 → 0.5; u1: hit at rank 1 → 0.5; u2: no truth → 0.
	assert.InDelta(t, 1.0/3.0, mapk, 1e-9)
}

func TestMatchers(t *testing.T) {
	lp := New(1, 2, 0, 0, 0, 0)
	matchers := lp.Matchers(testMatrix(), 2)
	assert.Equal(t, []int32{2, 0}, matchers.GetMatches(0))
	assert.Equal(t, []int32{0, 3}, matchers.GetMatches(1))
}

func TestSplitUserItems(t *testing.T) {
	// 4 users: three with 2 items each, one with a single item that must
	// never be held out.
	m := sparse.FromCOO(4, 4,
		[]int32{0, 0, 1, 1, 2, 2, 3},
		[]int32{0, 1, 1, 2, 2, 3, 0},
		[]float32{1, 1, 1, 1, 1, 1, 1})
	rng := rand.New(rand.NewPCG(7, 7))
	train, target := SplitUserItems(rng, m, 0.9)

	// Disjoint, and together they cover the original entries.
	assert.Equal(t, 7, train.NNZ()+target.NNZ())
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			both := train.At(i, j) + target.At(i, j)
			assert.Equal(t, m.At(i, j), both, "coordinate (%d, %d)", i, j)
			assert.False(t, train.At(i, j) == 1 && target.At(i, j) == 1)
		}
	}

	// The single-item user keeps its interaction in train.
	assert.Equal(t, float32(1), train.At(3, 0))

	// Ratio 0 holds nothing out.
	train, target = SplitUserItems(rng, m, 0)
	assert.Equal(t, 7, train.NNZ())
	assert.Equal(t, 0, target.NNZ())
}

func TestMeanAveragePrecisionK(t *testing.T) {
	// One row: truth {1,2,3}, predicted [1,5,2] → relevance [1,0,1],
	// precisions [1, 0, 2/3] → AP = (1 + 2/3)/3 ≈ 0.556.
	mapk := MeanAveragePrecisionK([][]int32{{1, 2, 3}}, [][]int32{{1, 5, 2}}, 3)
	assert.InDelta(t, 0.5556, mapk, 1e-3)

	// Perfect ranking scores 1.
	mapk = MeanAveragePrecisionK([][]int32{{4, 7}, {1, 0}}, [][]int32{{4, 7}, {1, 0}}, 2)
	assert.InDelta(t, 1.0, mapk, 1e-9)

	// No overlap scores 0.
	mapk = MeanAveragePrecisionK([][]int32{{1}}, [][]int32{{2, 3}}, 2)
	assert.Equal(t, 0.0, mapk)

	// Truth shorter than k divides by k, not by the truth size.
	mapk = MeanAveragePrecisionK([][]int32{{5}}, [][]int32{{5, 6, 7}}, 3)
	assert.InDelta(t, 1.0/3.0, mapk, 1e-9)
}
