package linkprop

// MeanAveragePrecisionK scores ranked predictions against true item sets.
//
// Per row: each of the first k predicted positions is relevant if the item
// appears in the row's true set; position p contributes
// (relevant-so-far / (p+1)) when relevant, 0 otherwise; the row's average
// precision is the sum of contributions divided by k. The result is the mean
// over rows. Rows must be parallel between yTrue and yPred; true sets may
// have fewer than k items.
func MeanAveragePrecisionK(yTrue, yPred [][]int32, k int) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	var sum float64
	for row := range yTrue {
		relevant := make(map[int32]bool, len(yTrue[row]))
		for _, item := range yTrue[row] {
			relevant[item] = true
		}
		predicted := yPred[row]
		if len(predicted) > k {
			predicted = predicted[:k]
		}
		var hits int
		var averagePrecision float64
		for position, item := range predicted {
			if relevant[item] {
				hits++
				averagePrecision += float64(hits) / float64(position+1)
			}
		}
		sum += averagePrecision / float64(k)
	}
	return sum / float64(len(yTrue))
}
