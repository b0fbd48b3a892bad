package linkprop

import (
	"math/rand/v2"

	"github.com/gomlx/recommenders/sparse"
)

// SplitUserItems splits the interaction matrix into a train matrix and a
// held-out target matrix for evaluation. Only users with more than one item
// can lose edges: their entries are marked (masked fill with a sentinel
// value) and each marked entry is held out with probability
// ratio·(marked/total), so roughly a ratio-scaled share of the splittable
// interactions lands in the target. Train and target are disjoint and their
// union is the original nonzero set, all values 1.
//
// Users whose every interaction happens to be held out end up with an empty
// train row; downstream samplers skip such users.
func SplitUserItems(rng *rand.Rand, m *sparse.Matrix, ratio float64) (train, target *sparse.Matrix) {
	const sentinel = 2

	degrees := m.RowSums()
	splittable := make([]bool, m.Rows())
	for user, degree := range degrees {
		splittable[user] = degree > 1
	}
	rows, cols, values := m.FillOnMask(splittable, sentinel, 0).NonZero()
	if len(values) == 0 {
		return sparse.New(m.Rows(), m.Cols()), sparse.New(m.Rows(), m.Cols())
	}

	numMarked := 0
	for _, value := range values {
		if value == sentinel {
			numMarked++
		}
	}
	holdOutProb := ratio * float64(numMarked) / float64(len(values))

	var trainRows, trainCols, targetRows, targetCols []int32
	for ii, value := range values {
		if value == sentinel && rng.Float64() < holdOutProb {
			targetRows = append(targetRows, rows[ii])
			targetCols = append(targetCols, cols[ii])
		} else {
			trainRows = append(trainRows, rows[ii])
			trainCols = append(trainCols, cols[ii])
		}
	}
	train = sparse.FromCOO(m.Rows(), m.Cols(), trainRows, trainCols, ones(len(trainRows)))
	target = sparse.FromCOO(m.Rows(), m.Cols(), targetRows, targetCols, ones(len(targetRows)))
	return train, target
}

func ones(n int) []float32 {
	values := make([]float32, n)
	for ii := range values {
		values[ii] = 1
	}
	return values
}
