package sampler

import "math/rand/v2"

// expandNeighborhood grows an n-hop context neighborhood around the anchor
// user by alternating user→items and items→users frontier steps, and returns
// the (user, item) edges it visited as two parallel slices.
//
// Each hop fetches the full item lists of the frontier users and records those
// edges -- except on hop 0, whose edges are the anchor's direct positives and
// are already captured by the caller. The items then expanded (and the users
// reached through them) are capped at fanOut per hop, and users already
// explored are never re-expanded. Expansion stops early once the frontier
// empties.
func expandNeighborhood(rng *rand.Rand, g *Graph, anchor int32, numHops, fanOut int) (users, items []int32) {
	explored := make(map[int32]bool)
	frontier := []int32{anchor}
	for hop := 0; hop < numHops; hop++ {
		if len(frontier) == 0 {
			break
		}
		var hopUsers, hopItems []int32
		for _, user := range frontier {
			explored[user] = true
			for _, item := range g.UserItems.TargetsForSource(user) {
				hopUsers = append(hopUsers, user)
				hopItems = append(hopItems, item)
			}
		}
		if hop > 0 {
			users = append(users, hopUsers...)
			items = append(items, hopItems...)
		}

		candidates := subsample(rng, sortedUnique(hopItems), fanOut)
		var nextUsers []int32
		for _, item := range candidates {
			for _, user := range g.ItemUsers.TargetsForSource(item) {
				if !explored[user] {
					nextUsers = append(nextUsers, user)
				}
			}
		}
		frontier = subsample(rng, sortedUnique(nextUsers), fanOut)
	}
	return users, items
}

// subsample returns ids if it has at most max elements, otherwise max of them
// drawn uniformly without replacement. max <= 0 means no cap.
func subsample(rng *rand.Rand, ids []int32, max int) []int32 {
	if max <= 0 || len(ids) <= max {
		return ids
	}
	picks := make([]int32, max)
	randKOfN(rng, picks, len(ids))
	sampled := make([]int32, max)
	for ii, pick := range picks {
		sampled[ii] = ids[pick]
	}
	return sampled
}
