package sampler

import (
	"math/rand/v2"
	"sort"
)

// sparseRegimeRatio selects the unfiltered uniform sampling branch: when the
// graph has more than this many edges per requested negative, accidental
// collisions with the positive set are rare enough to be ignored.
const sparseRegimeRatio = 100

// SampleNegatives draws count item ids to serve as negative examples for a
// user whose positive items are given. numItems is the size of the item id
// space and totalEdges the number of edges in the whole graph.
//
// Two regimes:
//
//   - Sparse (totalEdges/count > 100): independent uniform draws over
//     [0, numItems), without filtering collisions with positives.
//   - Dense: the exact complement of positives is computed, and count ids are
//     drawn from it without replacement. If the complement holds fewer than
//     count ids, all of them are returned.
//
// With deterministic set, the dense branch is always taken and the count
// highest ids of the complement are returned, for reproducible tests.
func SampleNegatives(rng *rand.Rand, positives []int32, numItems int32, count, totalEdges int, deterministic bool) []int32 {
	if count <= 0 {
		return nil
	}
	if !deterministic && count*sparseRegimeRatio < totalEdges {
		negatives := make([]int32, count)
		for ii := range negatives {
			negatives[ii] = rng.Int32N(numItems)
		}
		return negatives
	}

	complement := complementOf(positives, numItems)
	if count >= len(complement) {
		return complement
	}
	if deterministic {
		return complement[len(complement)-count:]
	}
	picks := make([]int32, count)
	randKOfN(rng, picks, len(complement))
	negatives := make([]int32, count)
	for ii, pick := range picks {
		negatives[ii] = complement[pick]
	}
	return negatives
}

// complementOf returns, in increasing order, the ids in [0, numItems) that are
// not in positives.
func complementOf(positives []int32, numItems int32) []int32 {
	isPositive := make([]bool, numItems)
	numPositives := int32(0)
	for _, item := range positives {
		if !isPositive[item] {
			isPositive[item] = true
			numPositives++
		}
	}
	complement := make([]int32, 0, numItems-numPositives)
	for item := int32(0); item < numItems; item++ {
		if !isPositive[item] {
			complement = append(complement, item)
		}
	}
	return complement
}

// sortedUnique returns the distinct values of ids in increasing order. It
// doesn't change ids.
func sortedUnique(ids []int32) []int32 {
	if len(ids) == 0 {
		return nil
	}
	unique := make([]int32, len(ids))
	copy(unique, ids)
	sort.Slice(unique, func(a, b int) bool { return unique[a] < unique[b] })
	to := 1
	for _, id := range unique[1:] {
		if id != unique[to-1] {
			unique[to] = id
			to++
		}
	}
	return unique[:to]
}

// randKOfN stores k=len(values) random values without replacement out of
// `0..n-1` into values.
func randKOfN(rng *rand.Rand, values []int32, n int) {
	k := len(values)
	if k*k < n {
		randKOfNLinear(rng, values, n)
	} else {
		randKOfNReservoir(rng, values, n)
	}
}

// randKOfNLinear is the linear implementation of randKOfN that works well when
// k is small: draws are retried against the previous choices, which is O(k^2).
func randKOfNLinear(rng *rand.Rand, values []int32, n int) {
	for ii := range values {
		var x int32
	takeANumber:
		for {
			x = int32(rng.IntN(n))
			for jj := range ii {
				if values[jj] == x {
					continue takeANumber
				}
			}
			break
		}
		values[ii] = x
	}
}

func randKOfNReservoir(rng *rand.Rand, values []int32, n int) {
	k := len(values)
	// Reservoir sampling: go over all n values and check whether it replaces a
	// previous value.
	for ii := range k {
		values[ii] = int32(ii)
	}
	for ii := k; ii < n; ii++ {
		pos := rng.IntN(ii + 1)
		if pos < k {
			values[pos] = int32(ii)
		}
	}
}
