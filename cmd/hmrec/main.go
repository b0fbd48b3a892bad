// hmrec trains and evaluates link-prediction recommendation models over a
// retail transactions dataset: either the GNN over sampled subgraphs
// (default), or the LinkProp baseline with -linkprop.
//
// Hyperparameters can be set with -set, e.g.:
//
//	hmrec -data=~/work/hmrec -set="train_steps=50000;gnn_embedding_dim=128"
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/recommenders/gnn"
	"github.com/gomlx/recommenders/linkprop"
	"github.com/gomlx/recommenders/retail"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagDataDir = flag.String("data", "~/work/hmrec",
		"Directory with customers.csv, articles.csv and transactions_train.csv. Derived artifacts are cached under it.")
	flagCheckpoint = flag.String("checkpoint", "",
		"Checkpoint subdirectory under --data directory. If empty does not use checkpoints.")
	flagLinkProp = flag.Bool("linkprop", false,
		"Run the LinkProp baseline (MAP@k over a held-out split) instead of the GNN.")
	flagEval = flag.Bool("eval", false, "Run evaluation of a trained model instead of training.")
	flagHoldOut = flag.Float64("holdout", 0.4,
		"Share of splittable interactions held out as the baseline's evaluation target.")
	flagSeed      = flag.Uint64("seed", 42, "Seed of the held-out split.")
	flagVerbosity = flag.Int("verbosity", 1, "Level of verbosity, the higher the more verbose.")
)

func main() {
	ctx := gnn.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))

	switch {
	case *flagLinkProp:
		runLinkProp(ctx)
	case *flagEval:
		gnn.EvalModel(ctx, *flagDataDir, *flagCheckpoint, *flagVerbosity)
	default:
		gnn.TrainModel(ctx, *flagDataDir, *flagCheckpoint, paramsSet, *flagVerbosity)
	}
}

func runLinkProp(ctx *context.Context) {
	dataDir := fsutil.MustReplaceTildeInDir(*flagDataDir)
	data := must.M1(retail.Load(dataDir))
	if *flagVerbosity >= 1 {
		fmt.Println(data)
	}

	rng := rand.New(rand.NewPCG(*flagSeed, *flagSeed))
	trainMatrix, targetMatrix := linkprop.SplitUserItems(rng, data.InteractionMatrix(), *flagHoldOut)

	k := context.GetParamOr(ctx, "sampler_k", 12)
	model := linkprop.New(1, k,
		context.GetParamOr(ctx, "linkprop_alpha", 0.1),
		context.GetParamOr(ctx, "linkprop_beta", 0.1),
		context.GetParamOr(ctx, "linkprop_gamma", 0.2),
		context.GetParamOr(ctx, "linkprop_delta", 0.5))
	mapk, _ := model.ScoreMAPK(trainMatrix, targetMatrix, 400)
	fmt.Printf("MAP@%d: %.5f\n", k, mapk)
}
