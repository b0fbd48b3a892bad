package gnn

import (
	"fmt"
	"os"
	"time"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/layers/fnn"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/recommenders/linkprop"
	"github.com/gomlx/recommenders/retail"
	"github.com/gomlx/recommenders/sampler"
	"github.com/janpfeifer/must"
)

// ParamsExcludedFromLoading are the hyperparameters that shouldn't be saved
// along the model checkpoints, and may be overwritten in further training
// sessions.
var ParamsExcludedFromLoading = []string{"train_steps", "num_checkpoints"}

// CreateDefaultContext sets the context with the default hyperparameters to
// use with TrainModel.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.ResetRNGState()
	ctx.SetParams(map[string]any{
		"train_steps":     10_000,
		"num_checkpoints": 3,

		// Subgraph sampling parameters.
		"sampler_k":            12,  // Top-k cutoff of the downstream evaluation.
		"sampler_num_hops":     3,   // Context neighborhood hops around the anchor user.
		"sampler_fan_out":      64,  // Per-hop cap on expanded neighbors.
		"positive_edges_ratio": 0.5, // Share of a user's edges kept for scoring (at least 1).
		"negative_edges_ratio": 3.0, // Negatives sampled per kept positive.
		"evaluate_break_at":    0,   // If > 0, bound evaluation to this many users.

		// LinkProp baseline, used as the evaluation-mode candidate source.
		"linkprop_alpha": 0.1,
		"linkprop_beta":  0.1,
		"linkprop_gamma": 0.2,
		"linkprop_delta": 0.5,

		// Model parameters.
		ParamEmbeddingDim:    64,
		ParamNumGraphUpdates: 2,

		optimizers.ParamOptimizer:    "adamw",
		optimizers.ParamLearningRate: 0.001,

		fnn.ParamNumHiddenLayers: 1,
		fnn.ParamNumHiddenNodes:  128,
	})
	return ctx
}

// samplerConfig reads the sampling hyperparameters off the context.
func samplerConfig(ctx *context.Context) sampler.Config {
	return sampler.Config{
		K:                  context.GetParamOr(ctx, "sampler_k", 12),
		NumHops:            context.GetParamOr(ctx, "sampler_num_hops", 3),
		FanOut:             context.GetParamOr(ctx, "sampler_fan_out", 64),
		PositiveEdgesRatio: context.GetParamOr(ctx, "positive_edges_ratio", 0.5),
		NegativeEdgesRatio: context.GetParamOr(ctx, "negative_edges_ratio", 3.0),
		EvaluateBreakAt:    context.GetParamOr(ctx, "evaluate_break_at", 0),
	}
}

// TrainModel trains the link-prediction model over the retail dataset in
// dataDir, with hyperparameters from ctx. If checkpointPath is not empty the
// model context is loaded from / saved to it periodically. paramsSet names
// hyperparameters overridden on the command line, which are excluded from
// checkpoint loading.
func TrainModel(ctx *context.Context, dataDir, checkpointPath string, paramsSet []string, verbosity int) {
	dataDir = fsutil.MustReplaceTildeInDir(dataDir)
	data := must.M1(retail.Load(dataDir))
	if verbosity >= 1 {
		fmt.Println(data)
	}
	graph := sampler.NewGraph(data.NumCustomers(), data.NumArticles(), data.Edges)
	if verbosity >= 1 {
		fmt.Println(graph)
	}

	backend := backends.MustNew()
	if verbosity >= 1 {
		fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())
	}

	trainDS := must.M1(sampler.NewDataset("train", graph,
		data.CustomerFeatures, data.ArticleFeatures, samplerConfig(ctx), sampler.Training))
	trainDS.Shuffle().Infinite()

	// Checkpoints saving.
	var checkpoint *checkpoints.Handler
	if checkpointPath != "" {
		numCheckpointsToKeep := context.GetParamOr(ctx, "num_checkpoints", 3)
		checkpoint = must.M1(checkpoints.Build(ctx).
			DirFromBase(checkpointPath, dataDir).
			Keep(numCheckpointsToKeep).
			ExcludeParams(append(paramsSet, ParamsExcludedFromLoading...)...).
			Done())
		fmt.Printf("Checkpoint: %q\n", checkpoint.Dir())
	}
	if verbosity >= 2 {
		fmt.Println(commandline.SprintContextSettings(ctx))
	}

	meanAccuracyMetric := metrics.NewMeanBinaryLogitsAccuracy("Mean Accuracy", "#acc")
	movingAccuracyMetric := metrics.NewMovingAverageBinaryLogitsAccuracy("Moving Average Accuracy", "~acc", 0.01)

	ctx = ctx.In("model")
	trainer := train.NewTrainer(backend, ctx, ModelGraph,
		losses.BinaryCrossentropyLogits,
		optimizers.FromContext(ctx),
		[]metrics.Interface{movingAccuracyMetric},
		[]metrics.Interface{meanAccuracyMetric})

	loop := train.NewLoop(trainer)
	if verbosity >= 0 {
		commandline.AttachProgressBar(loop)
	}
	if checkpoint != nil {
		period := 3 * time.Minute
		train.PeriodicCallback(loop, period, true, "saving checkpoint", 100,
			func(loop *train.Loop, metrics []*tensors.Tensor) error {
				return checkpoint.Save()
			})
	}

	numTrainSteps := context.GetParamOr(ctx, "train_steps", 0)
	globalStep := int(optimizers.GetGlobalStep(ctx))
	if globalStep > 0 {
		trainer.SetContext(ctx.Reuse())
	}
	if globalStep < numTrainSteps {
		_ = must.M1(loop.RunSteps(datasets.Parallel(trainDS), numTrainSteps-globalStep))
		if verbosity >= 1 {
			fmt.Printf("\t[Step %d] median train step: %d microseconds\n",
				loop.LoopStep, loop.MedianTrainStepDuration().Microseconds())
		}
	} else {
		fmt.Printf("\t - target train_steps=%d already reached. To train further, set a number larger than "+
			"current global step.\n", numTrainSteps)
	}
	if checkpoint != nil {
		must.M(checkpoint.Save())
	}
	_ = os.Stdout.Sync()
}

// EvalModel evaluates a trained model: it holds out part of the interaction
// matrix, fits the LinkProp baseline on the remainder to supply evaluation
// candidates, and reports the model's metrics over evaluation-mode examples.
// checkpointPath must hold a trained model.
func EvalModel(ctx *context.Context, dataDir, checkpointPath string, verbosity int) {
	dataDir = fsutil.MustReplaceTildeInDir(dataDir)
	data := must.M1(retail.Load(dataDir))
	if verbosity >= 1 {
		fmt.Println(data)
	}
	graph := sampler.NewGraph(data.NumCustomers(), data.NumArticles(), data.Edges)

	backend := backends.MustNew()
	if checkpointPath == "" {
		fmt.Fprintln(os.Stderr, "EvalModel requires a checkpoint with a trained model")
		os.Exit(1)
	}
	_ = must.M1(checkpoints.Build(ctx).
		DirFromBase(checkpointPath, dataDir).
		ExcludeParams(ParamsExcludedFromLoading...).
		Done())

	// LinkProp top-k serves the evaluation candidates.
	cfg := samplerConfig(ctx)
	baseline := linkprop.New(1, cfg.K,
		context.GetParamOr(ctx, "linkprop_alpha", 0.1),
		context.GetParamOr(ctx, "linkprop_beta", 0.1),
		context.GetParamOr(ctx, "linkprop_gamma", 0.2),
		context.GetParamOr(ctx, "linkprop_delta", 0.5))
	matchers := baseline.Matchers(data.InteractionMatrix(), 1024)

	evalDS := must.M1(sampler.NewDataset("eval", graph,
		data.CustomerFeatures, data.ArticleFeatures, cfg, sampler.Evaluation, matchers))

	trainer := train.NewTrainer(backend, ctx.In("model").Reuse(), ModelGraph,
		losses.BinaryCrossentropyLogits,
		optimizers.FromContext(ctx),
		nil,
		[]metrics.Interface{metrics.NewMeanBinaryLogitsAccuracy("Mean Accuracy", "#acc")})
	if verbosity >= 2 {
		fmt.Println(commandline.SprintContextSettings(ctx))
	}
	must.M(commandline.ReportEval(trainer, datasets.Parallel(evalDS)))
	_ = os.Stdout.Sync()
}
