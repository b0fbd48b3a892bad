// Package sampler builds per-example training subgraphs over a bipartite
// user/item interaction graph.
//
// It holds the read-only global graph in adjacency-list form (both directions),
// and composes negative-edge sampling, n-hop neighborhood expansion and
// local-id remapping into self-contained labeled examples, exposed as a
// train.Dataset.
//
// There are three steps to using it:
//
// (1) Build the graph from the interaction edges:
//
//	g := sampler.NewGraph(numUsers, numItems, edges)
//
// (2) Configure a dataset over it:
//
//	ds, err := sampler.NewDataset("train", g, userFeatures, itemFeatures,
//		cfg, sampler.Training)
//
// (3) Yield examples, directly or through a training loop:
//
//	spec, inputs, labels, err := ds.Yield()
//
// The graph is immutable once built and safe for concurrent Yield calls from
// many dataset instances or from datasets.Parallel.
package sampler

import (
	"encoding/gob"
	"fmt"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/pkg/errors"
)

// Adjacency stores, for every source node, its list of target nodes, in the
// compact shifted-starts form: the targets of source i are
// Targets[Starts[i-1]:Starts[i]], except for i == 0 whose list begins at 0.
type Adjacency struct {
	// Starts has one entry per source node (shifted by 1): it points past the
	// end of that source's target list. It's normal for a span to be empty if
	// the source node has no edges.
	Starts []int32

	// Targets lists target nodes ordered by source node.
	Targets []int32
}

// NumSources returns the number of source nodes, whether or not they have edges.
func (a *Adjacency) NumSources() int { return len(a.Starts) }

// TargetsForSource returns the target nodes of the given source node. Don't
// modify the returned slice, it's in use by the Adjacency -- make a copy if you
// need to modify.
func (a *Adjacency) TargetsForSource(src int32) []int32 {
	if src < 0 || int(src) >= len(a.Starts) {
		exceptions.Panicf("invalid source node index %d, adjacency only has %d source nodes",
			src, len(a.Starts))
	}
	var start int32
	if src > 0 {
		start = a.Starts[src-1]
	}
	return a.Targets[start:a.Starts[src]]
}

// Graph is the read-only bipartite interaction graph: users on one side, items
// on the other, and the "buys" relation from users to items stored in both
// directions for traversal.
type Graph struct {
	NumUsers, NumItems int32

	// UserItems maps a user to the items it interacted with.
	UserItems *Adjacency

	// ItemUsers maps an item to the users that interacted with it.
	ItemUsers *Adjacency
}

// NumEdges returns the total number of user→item interactions.
func (g *Graph) NumEdges() int { return len(g.UserItems.Targets) }

// String returns a short multi-line description of the graph.
func (g *Graph) String() string {
	return fmt.Sprintf("sampler.Graph: %s users, %s items, %s edges",
		humanize.Comma(int64(g.NumUsers)), humanize.Comma(int64(g.NumItems)),
		humanize.Comma(int64(g.NumEdges())))
}

// NewGraph builds the bipartite graph from interaction edges given as pairs
// (user, item). The edges tensor must be shaped (Int32)[N, 2]; its contents are
// not modified. It panics if any id falls outside [0, numUsers) or
// [0, numItems).
func NewGraph(numUsers, numItems int, edges *tensors.Tensor) *Graph {
	if edges.Rank() != 2 || edges.DType() != dtypes.Int32 || edges.Shape().Dimensions[1] != 2 {
		exceptions.Panicf("invalid edges shape %s for NewGraph: it must be shaped like (Int32)[N, 2]",
			edges.Shape())
	}
	numEdges := edges.Shape().Dimensions[0]
	users := make([]int32, numEdges)
	items := make([]int32, numEdges)
	tensors.MustConstFlatData[int32](edges, func(flat []int32) {
		for row := 0; row < numEdges; row++ {
			users[row], items[row] = flat[row<<1], flat[row<<1+1]
		}
	})
	g := &Graph{
		NumUsers:  int32(numUsers),
		NumItems:  int32(numItems),
		UserItems: buildAdjacency(numUsers, numItems, users, items),
		ItemUsers: buildAdjacency(numItems, numUsers, items, users),
	}
	return g
}

// buildAdjacency sorts the edge pairs by source and lays them out in the
// shifted-starts form.
func buildAdjacency(numSources, numTargets int, sources, targets []int32) *Adjacency {
	order := make([]int, len(sources))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return sources[order[a]] < sources[order[b]]
	})

	adj := &Adjacency{
		Starts:  make([]int32, numSources),
		Targets: make([]int32, len(targets)),
	}
	currentSource := int32(0)
	for row, idx := range order {
		src, tgt := sources[idx], targets[idx]
		if src < 0 || int(src) >= numSources {
			exceptions.Panicf("edge %d has source node %d, but only %d source nodes exist", idx, src, numSources)
		}
		if tgt < 0 || int(tgt) >= numTargets {
			exceptions.Panicf("edge %d has target node %d, but only %d target nodes exist", idx, tgt, numTargets)
		}
		adj.Targets[row] = tgt
		for currentSource < src {
			adj.Starts[currentSource] = int32(row)
			currentSource++
		}
	}
	for ; int(currentSource) < numSources; currentSource++ {
		adj.Starts[currentSource] = int32(len(targets))
	}
	return adj
}

func initGob() {
	gob.Register(&Adjacency{})
	gob.Register(&Graph{})
}

// Save writes the graph, including both adjacency directions, so it can be
// reloaded ready to sample from.
func (g *Graph) Save(filePath string) (err error) {
	initGob()
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating %q to save Graph", filePath)
	}
	enc := gob.NewEncoder(f)
	if err = enc.Encode(g); err != nil {
		return errors.WithMessagef(err, "encoding Graph to save to %q", filePath)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "closing %q, where Graph was saved", filePath)
	}
	return nil
}

// LoadGraph reloads a previously saved Graph.
// If filePath doesn't exist, it returns an error that can be checked with
// os.IsNotExist.
func LoadGraph(filePath string) (g *Graph, err error) {
	initGob()
	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "trying to load Graph from %q", filePath)
	}
	dec := gob.NewDecoder(f)
	g = &Graph{}
	if err = dec.Decode(g); err != nil {
		return nil, errors.Wrapf(err, "trying to decode Graph from %q", filePath)
	}
	_ = f.Close()
	return g, nil
}
