package linkprop

import (
	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/gomlx/recommenders/sparse"
	"github.com/schollz/progressbar/v3"
)

// ScoreMAPK fits the model on the train matrix x, predicts top-k items per
// user in row batches of batchSize, and scores them with MAP@k against the
// held-out target matrix y (whose positive entries per user are the truth
// set). It returns the metric and the per-user predictions.
func (lp *Model) ScoreMAPK(x, y *sparse.Matrix, batchSize int) (mapk float64, predictions [][]int32) {
	if x.Rows() != y.Rows() || x.Cols() != y.Cols() {
		exceptions.Panicf("train matrix is %dx%d but target matrix is %dx%d, they must match",
			x.Rows(), x.Cols(), y.Rows(), y.Cols())
	}
	lp.FitForScore(x)
	targetRows := y.CompressRows()

	numUsers := x.Rows()
	predictions = make([][]int32, 0, numUsers)
	bar := progressbar.Default(int64(numUsers), "MAP@k")
	var weightedSum float64
	for start := 0; start < numUsers; start += batchSize {
		end := min(start+batchSize, numUsers)
		batchPredictions := lp.PredictK(start, end, lp.k)
		batchTruth := make([][]int32, end-start)
		for row := range batchTruth {
			batchTruth[row] = positiveItems(targetRows, int32(start+row))
		}
		weightedSum += MeanAveragePrecisionK(batchTruth, batchPredictions, lp.k) * float64(end-start)
		predictions = append(predictions, batchPredictions...)
		_ = bar.Add(end - start)
	}
	_ = bar.Finish()
	return weightedSum / float64(numUsers), predictions
}

// positiveItems returns the items with positive value in the given row.
func positiveItems(rows *sparse.Compressed, row int32) []int32 {
	items, values := rows.Span(row)
	positives := make([]int32, 0, len(items))
	for ii, item := range items {
		if values[ii] > 0 {
			positives = append(positives, item)
		}
	}
	return positives
}
