package sampler

import (
	"sort"

	"github.com/gomlx/gomlx/pkg/support/exceptions"
)

// remapToBucket replaces every global id in ids with its rank (0-based
// position) within bucket, which must be sorted and duplicate-free -- callers
// build buckets with sortedUnique over the ids actually touched by the
// example. An id absent from the bucket is a caller bug and panics: clamping
// it would silently point the edge at the wrong local node.
func remapToBucket(ids []int32, bucket []int32) []int32 {
	local := make([]int32, len(ids))
	for ii, id := range ids {
		pos := sort.Search(len(bucket), func(jj int) bool { return bucket[jj] >= id })
		if pos == len(bucket) || bucket[pos] != id {
			exceptions.Panicf("id %d is not in its remapping bucket (%d ids): bucket must "+
				"cover every id being remapped", id, len(bucket))
		}
		local[ii] = int32(pos)
	}
	return local
}
