package sampler

import (
	"io"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/pkg/errors"
)

// Mode selects how a Dataset acquires negative edges.
type Mode int

const (
	// Training samples negatives from the item id space (see SampleNegatives).
	Training Mode = iota

	// Evaluation takes negative candidates from externally supplied Matchers,
	// typically a baseline scorer's per-user top-k.
	Evaluation
)

// Matcher supplies candidate items for a user, used as the negative-edge
// source in Evaluation mode.
type Matcher interface {
	// GetMatches returns candidate item ids for the given user. Candidates
	// that are actually positives for the user are filtered out by the caller.
	GetMatches(userID int32) []int32
}

// ErrMissingMatchers is returned by NewDataset when Evaluation mode is
// requested without any Matcher to supply negative candidates.
var ErrMissingMatchers = errors.New("evaluation mode requires at least one Matcher to supply candidate items")

// Config holds the example-building knobs of a Dataset. The zero value is not
// usable: K, NumHops, FanOut and the ratios must be set.
type Config struct {
	// K is the cutoff of the downstream top-k evaluation. It also floors the
	// number of scored edges per example: when an example keeps ≤1 positive,
	// the negative ratio is overridden to K-1 so at least K candidates exist.
	K int

	// NumHops is the number of frontier expansion hops of context
	// neighborhood around the anchor user. Values below 2 yield no context
	// edges, since the first hop covers the anchor's own positives.
	NumHops int

	// FanOut caps, per hop, how many items are expanded and how many users
	// form the next frontier. <= 0 means no cap.
	FanOut int

	// PositiveEdgesRatio is the fraction of the anchor's positive edges kept
	// for scoring, with a floor of one edge.
	PositiveEdgesRatio float64

	// NegativeEdgesRatio is the number of negative edges sampled per kept
	// positive edge.
	NegativeEdgesRatio float64

	// EvaluateBreakAt, if > 0, bounds how many examples an epoch yields.
	EvaluateBreakAt int

	// Deterministic replaces random draws by fixed extremal-id picks, for
	// reproducible tests.
	Deterministic bool

	// Seed for the dataset's random generator. 0 seeds from the global
	// generator.
	Seed uint64
}

// Example is one self-contained labeled subgraph around an anchor user. All
// node references in the edge tensors are local: row r of UserFeatures (resp.
// ItemFeatures) is the user UserBucket[r] (resp. item ItemBucket[r]) of the
// global graph.
type Example struct {
	// UserBucket and ItemBucket map local ids back to global ids, in sorted
	// order.
	UserBucket, ItemBucket []int32

	// UserFeatures is shaped [len(UserBucket), Fu] and ItemFeatures
	// [len(ItemBucket), Fi].
	UserFeatures, ItemFeatures *tensors.Tensor

	// EdgeIndex holds the structural user→item edges (anchor positives plus
	// context neighborhood), shaped (Int32)[2, E] with rows [users; items].
	// ReverseEdgeIndex is the same edges with the rows swapped, since message
	// passing needs both directions of the relation.
	EdgeIndex, ReverseEdgeIndex *tensors.Tensor

	// LabelIndex holds the edges to be scored (kept positives then sampled
	// negatives), shaped (Int32)[2, L], and ReverseLabelIndex its mirror.
	LabelIndex, ReverseLabelIndex *tensors.Tensor

	// Labels is shaped (Float32)[L]: 1 per kept positive, 0 per negative, in
	// LabelIndex order.
	Labels *tensors.Tensor

	// NumPositives is the number of leading 1-labels.
	NumPositives int
}

// Dataset yields one Example per anchor user and implements train.Dataset. Use
// NewDataset to create one, and optionally chain Shuffle, Epochs or Infinite
// before the first Yield:
//
//	ds, err := sampler.NewDataset("train", g, userF, itemF, cfg, sampler.Training)
//	...
//	ds.Shuffle().Infinite()
//
// It is safe for concurrent Yield calls (so it can be wrapped by
// datasets.Parallel), the backing Graph being read-only.
type Dataset struct {
	name                       string
	graph                      *Graph
	userFeatures, itemFeatures *tensors.Tensor
	cfg                        Config
	mode                       Mode
	matchers                   []Matcher

	mu           sync.Mutex
	rng          *rand.Rand
	shuffle      bool
	infinite     bool
	numEpochs    int
	currentEpoch int
	startOfEpoch bool
	exhausted    bool
	position     int
	order        []int32 // Anchor visit order, shuffled per epoch if requested.
}

// Assert *Dataset implements train.Dataset.
var _ train.Dataset = &Dataset{}

// NewDataset creates a Dataset over the graph that builds one Example per
// anchor user. userFeatures must be shaped [g.NumUsers, Fu] and itemFeatures
// [g.NumItems, Fi], both Float32. In Evaluation mode at least one Matcher is
// required, otherwise ErrMissingMatchers is returned.
//
// By default it yields each user once (one epoch), in order.
func NewDataset(name string, g *Graph, userFeatures, itemFeatures *tensors.Tensor,
	cfg Config, mode Mode, matchers ...Matcher) (*Dataset, error) {
	if mode == Evaluation && len(matchers) == 0 {
		return nil, errors.WithMessagef(ErrMissingMatchers, "NewDataset(%q)", name)
	}
	checkFeaturesShape(name, "userFeatures", userFeatures, int(g.NumUsers))
	checkFeaturesShape(name, "itemFeatures", itemFeatures, int(g.NumItems))
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	ds := &Dataset{
		name:         name,
		graph:        g,
		userFeatures: userFeatures,
		itemFeatures: itemFeatures,
		cfg:          cfg,
		mode:         mode,
		matchers:     matchers,
		rng:          rand.New(rand.NewPCG(seed, seed)),
		numEpochs:    1,
		startOfEpoch: true,
		order:        xslices.Iota[int32](0, int(g.NumUsers)),
	}
	return ds, nil
}

func checkFeaturesShape(name, what string, t *tensors.Tensor, numRows int) {
	if t.Rank() != 2 || t.Shape().Dimensions[0] != numRows {
		exceptions.Panicf("Dataset %q: %s must be shaped [%d, features], got %s",
			name, what, numRows, t.Shape())
	}
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// Shuffle configures the dataset to visit anchor users in random order,
// reshuffled at the start of every epoch. It returns the updated dataset.
func (ds *Dataset) Shuffle() *Dataset {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.shuffle = true
	return ds
}

// Epochs configures the dataset to yield each user n times before reporting
// io.EOF. It returns the updated dataset.
func (ds *Dataset) Epochs(n int) *Dataset {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.numEpochs = n
	ds.infinite = false
	return ds
}

// Infinite configures the dataset to loop over the users indefinitely. It
// returns the updated dataset.
func (ds *Dataset) Infinite() *Dataset {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.infinite = true
	return ds
}

// Reset implements train.Dataset: the dataset restarts from a fresh first
// epoch.
func (ds *Dataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.currentEpoch = 0
	ds.exhausted = false
	ds.startOfEpoch = true
}

// Yield implements train.Dataset. It builds the next user's Example and
// returns its tensors:
//
//	inputs: [UserFeatures, ItemFeatures, EdgeIndex, ReverseEdgeIndex,
//	         LabelIndex, ReverseLabelIndex]
//	labels: [Labels]
//
// spec is the *Dataset itself. Users without any positive edge are skipped.
// It returns io.EOF permanently after the configured number of epochs.
func (ds *Dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	for {
		anchor, ok := ds.nextAnchorLocked()
		if !ok {
			return nil, nil, nil, io.EOF
		}
		if len(ds.graph.UserItems.TargetsForSource(anchor)) == 0 {
			continue // Nothing to predict for a user with no interactions.
		}
		example, err := ds.buildExampleLocked(anchor)
		if err != nil {
			return nil, nil, nil, err
		}
		inputs = []*tensors.Tensor{
			example.UserFeatures, example.ItemFeatures,
			example.EdgeIndex, example.ReverseEdgeIndex,
			example.LabelIndex, example.ReverseLabelIndex,
		}
		labels = []*tensors.Tensor{example.Labels}
		return ds, inputs, labels, nil
	}
}

// nextAnchorLocked advances the epoch state machine and returns the next
// anchor user, or ok=false once the dataset is exhausted.
func (ds *Dataset) nextAnchorLocked() (anchor int32, ok bool) {
	for {
		if ds.exhausted {
			return 0, false
		}
		if ds.startOfEpoch {
			ds.startEpochLocked()
		}
		if ds.position >= ds.epochLen() {
			ds.startOfEpoch = true
			ds.currentEpoch++
			if !ds.infinite && ds.currentEpoch >= ds.numEpochs {
				ds.exhausted = true
			}
			continue
		}
		anchor = ds.order[ds.position]
		ds.position++
		return anchor, true
	}
}

func (ds *Dataset) epochLen() int {
	n := len(ds.order)
	if ds.cfg.EvaluateBreakAt > 0 && ds.cfg.EvaluateBreakAt < n {
		n = ds.cfg.EvaluateBreakAt
	}
	return n
}

func (ds *Dataset) startEpochLocked() {
	ds.startOfEpoch = false
	ds.position = 0
	if !ds.shuffle {
		return
	}
	for ii := range ds.order {
		jj := ds.rng.IntN(len(ds.order))
		ds.order[ii], ds.order[jj] = ds.order[jj], ds.order[ii]
	}
}

// BuildExample builds the Example for the given anchor user, outside of the
// epoch iteration -- mostly useful for tests and for serving a single user.
func (ds *Dataset) BuildExample(anchor int32) (*Example, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.buildExampleLocked(anchor)
}

func (ds *Dataset) buildExampleLocked(anchor int32) (*Example, error) {
	g, cfg, rng := ds.graph, ds.cfg, ds.rng
	positives := g.UserItems.TargetsForSource(anchor)
	if len(positives) == 0 {
		return nil, errors.Errorf("user %d has no interactions, no example can be built for it", anchor)
	}

	// Keep a ratio-sized subset of the positives for scoring.
	kept := keepPositives(rng, positives, cfg.PositiveEdgesRatio, cfg.Deterministic)

	// Per kept positive, how many negatives: ratio, floored to K-1 when a
	// single positive survived so a top-K evaluation has K candidates.
	negativeRatio := cfg.NegativeEdgesRatio
	if len(kept) <= 1 {
		negativeRatio = float64(cfg.K - 1)
	}
	negativeCount := int(negativeRatio * float64(len(kept)))

	var negatives []int32
	if ds.mode == Training {
		negatives = SampleNegatives(rng, positives, g.NumItems, negativeCount,
			g.NumEdges(), cfg.Deterministic)
	} else {
		negatives = ds.matchedNegatives(anchor, positives)
	}

	ctxUsers, ctxItems := expandNeighborhood(rng, g, anchor, cfg.NumHops, cfg.FanOut)

	// Structural edges: the anchor's full positive list plus the context
	// neighborhood.
	edgeUsers := make([]int32, 0, len(positives)+len(ctxUsers))
	edgeItems := make([]int32, 0, len(positives)+len(ctxItems))
	for _, item := range positives {
		edgeUsers = append(edgeUsers, anchor)
		edgeItems = append(edgeItems, item)
	}
	edgeUsers = append(edgeUsers, ctxUsers...)
	edgeItems = append(edgeItems, ctxItems...)

	// Scoring edges: kept positives then negatives, all anchored.
	labelItems := make([]int32, 0, len(kept)+len(negatives))
	labelItems = append(labelItems, kept...)
	labelItems = append(labelItems, negatives...)
	labelUsers := make([]int32, len(labelItems))
	for ii := range labelUsers {
		labelUsers[ii] = anchor
	}

	// Local id spaces cover every touched node.
	userBucket := sortedUnique(append(append([]int32{anchor}, edgeUsers...), labelUsers...))
	itemBucket := sortedUnique(append(append([]int32{}, edgeItems...), labelItems...))

	localEdgeUsers := remapToBucket(edgeUsers, userBucket)
	localEdgeItems := remapToBucket(edgeItems, itemBucket)
	localLabelUsers := remapToBucket(labelUsers, userBucket)
	localLabelItems := remapToBucket(labelItems, itemBucket)

	labels := make([]float32, len(labelItems))
	for ii := range kept {
		labels[ii] = 1
	}

	example := &Example{
		UserBucket:        userBucket,
		ItemBucket:        itemBucket,
		UserFeatures:      gatherRows(ds.userFeatures, userBucket),
		ItemFeatures:      gatherRows(ds.itemFeatures, itemBucket),
		EdgeIndex:         edgeIndexTensor(localEdgeUsers, localEdgeItems),
		ReverseEdgeIndex:  edgeIndexTensor(localEdgeItems, localEdgeUsers),
		LabelIndex:        edgeIndexTensor(localLabelUsers, localLabelItems),
		ReverseLabelIndex: edgeIndexTensor(localLabelItems, localLabelUsers),
		Labels:            tensors.FromFlatDataAndDimensions(labels, len(labels)),
		NumPositives:      len(kept),
	}
	return example, nil
}

// keepPositives sub-samples the anchor's positive items: max(1, ⌊n·ratio⌋) of
// them, drawn without replacement -- or, in deterministic mode, exactly the
// lowest- and highest-id items.
func keepPositives(rng *rand.Rand, positives []int32, ratio float64, deterministic bool) []int32 {
	if deterministic {
		low, high := positives[0], positives[0]
		for _, item := range positives[1:] {
			low, high = min(low, item), max(high, item)
		}
		if low == high {
			return []int32{low}
		}
		return []int32{low, high}
	}
	count := int(math.Floor(float64(len(positives)) * ratio))
	if count < 1 {
		count = 1
	}
	if count >= len(positives) {
		return positives
	}
	picks := make([]int32, count)
	randKOfN(rng, picks, len(positives))
	kept := make([]int32, count)
	for ii, pick := range picks {
		kept[ii] = positives[pick]
	}
	return kept
}

// matchedNegatives unions the matchers' candidates for the user and removes
// the user's positives from them.
func (ds *Dataset) matchedNegatives(anchor int32, positives []int32) []int32 {
	var candidates []int32
	for _, matcher := range ds.matchers {
		candidates = append(candidates, matcher.GetMatches(anchor)...)
	}
	candidates = sortedUnique(candidates)
	isPositive := make(map[int32]bool, len(positives))
	for _, item := range positives {
		isPositive[item] = true
	}
	negatives := candidates[:0]
	for _, item := range candidates {
		if !isPositive[item] {
			negatives = append(negatives, item)
		}
	}
	return negatives
}

// gatherRows copies the given rows of a Float32 [N, width] tensor into a fresh
// [len(rows), width] tensor.
func gatherRows(t *tensors.Tensor, rows []int32) *tensors.Tensor {
	width := t.Shape().Dimensions[1]
	out := make([]float32, len(rows)*width)
	tensors.MustConstFlatData[float32](t, func(flat []float32) {
		for ii, row := range rows {
			copy(out[ii*width:(ii+1)*width], flat[int(row)*width:(int(row)+1)*width])
		}
	})
	return tensors.FromFlatDataAndDimensions(out, len(rows), width)
}

// edgeIndexTensor lays out parallel source/target slices as an (Int32)[2, E]
// tensor, rows [sources; targets].
func edgeIndexTensor(sources, targets []int32) *tensors.Tensor {
	flat := make([]int32, 0, 2*len(sources))
	flat = append(flat, sources...)
	flat = append(flat, targets...)
	return tensors.FromFlatDataAndDimensions(flat, 2, len(sources))
}
