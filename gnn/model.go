// Package gnn defines an encoder-decoder link-prediction model over the
// sampled per-user subgraphs, and the training/evaluation orchestration
// around it.
//
// The model encodes user and item features into a shared embedding space,
// refines the embeddings with a few rounds of mean-pooled message passing
// along the subgraph's structural edges (both directions of the bipartite
// relation), and decodes the scored edges into logits of "this user buys this
// item".
package gnn

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/fnn"
)

// Context hyperparameters used by the model.
const (
	// ParamEmbeddingDim is the width of the user/item embeddings.
	ParamEmbeddingDim = "gnn_embedding_dim"

	// ParamNumGraphUpdates is how many rounds of message passing refine the
	// embeddings.
	ParamNumGraphUpdates = "gnn_num_messages"
)

// DType used by the model.
var DType = dtypes.Float32

// ModelGraph builds the model for one sampled subgraph. It is a
// train.ModelFn; inputs follow the sampler.Dataset.Yield layout:
//
//	[userFeatures, itemFeatures, edgeIndex, reverseEdgeIndex,
//	 labelIndex, reverseLabelIndex]
//
// and it returns one output, the logits per scored edge, shaped [L].
func ModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	_ = spec
	userFeatures, itemFeatures := inputs[0], inputs[1]
	edges, reverseEdges := inputs[2], inputs[3]
	labelEdges := inputs[4]

	embedDim := context.GetParamOr(ctx, ParamEmbeddingDim, 32)
	userState := fnn.New(ctx.In("user_encoder"), userFeatures, embedDim).Done()
	itemState := fnn.New(ctx.In("item_encoder"), itemFeatures, embedDim).Done()

	numUpdates := context.GetParamOr(ctx, ParamNumGraphUpdates, 2)
	for round := 0; round < numUpdates; round++ {
		roundCtx := ctx.In(fmt.Sprintf("graph_update_%d", round))
		// Items first receive from users, users then receive from the
		// updated items.
		itemMessages := meanPoolMessages(userState, edges, numRows(itemState))
		newItemState := updateState(roundCtx.In("items"), itemState, itemMessages, embedDim)
		userMessages := meanPoolMessages(newItemState, reverseEdges, numRows(userState))
		userState = updateState(roundCtx.In("users"), userState, userMessages, embedDim)
		itemState = newItemState
	}

	// Decode the scored edges: the user and item embeddings at each edge's
	// endpoints plus their elementwise product.
	edgeUsers := Gather(userState, InsertAxes(edgeRow(labelEdges, 0), -1))
	edgeItems := Gather(itemState, InsertAxes(edgeRow(labelEdges, 1), -1))
	decoderInputs := Concatenate([]*Node{edgeUsers, edgeItems, Mul(edgeUsers, edgeItems)}, -1)
	logits := fnn.New(ctx.In("decoder"), decoderInputs, 1).Done()
	return []*Node{Reshape(logits, logits.Shape().Dimensions[0])}
}

// meanPoolMessages pools the source-node states along the edges into their
// target nodes, averaging over each target's in-edges. edges is shaped
// (Int32)[2, E] with rows [source; target] indexing into source rows (resp.
// the returned [targetSize, dim] rows).
func meanPoolMessages(source, edges *Node, targetSize int) *Node {
	g := source.Graph()
	dim := source.Shape().Dimensions[1]
	numEdges := edges.Shape().Dimensions[1]

	sourceIdx := InsertAxes(edgeRow(edges, 0), -1)
	targetIdx := InsertAxes(edgeRow(edges, 1), -1)
	values := Gather(source, sourceIdx)
	pooled := Scatter(targetIdx, values, shapes.Make(source.DType(), targetSize, dim), false, false)

	ones := Ones(g, shapes.Make(source.DType(), numEdges, 1))
	counts := Scatter(targetIdx, ones, shapes.Make(source.DType(), targetSize, 1), false, false)
	return Div(pooled, MaxScalar(counts, 1)) // Targets without in-edges stay 0.
}

// updateState mixes a node state with its pooled incoming messages.
func updateState(ctx *context.Context, state, messages *Node, embedDim int) *Node {
	updated := fnn.New(ctx, Concatenate([]*Node{state, messages}, -1), embedDim).Done()
	return Add(state, updated)
}

// edgeRow extracts row i of a (Int32)[2, E] edge tensor, shaped [E].
func edgeRow(edges *Node, i int) *Node {
	return Squeeze(Slice(edges, AxisElem(i), AxisRange()), 0)
}

func numRows(state *Node) int {
	return state.Shape().Dimensions[0]
}
