package gnn

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/assert"
)

func TestSamplerConfigFromContext(t *testing.T) {
	ctx := CreateDefaultContext()
	cfg := samplerConfig(ctx)
	assert.Equal(t, 12, cfg.K)
	assert.Equal(t, 3, cfg.NumHops)
	assert.Equal(t, 64, cfg.FanOut)
	assert.Equal(t, 0.5, cfg.PositiveEdgesRatio)
	assert.Equal(t, 3.0, cfg.NegativeEdgesRatio)
	assert.Equal(t, 0, cfg.EvaluateBreakAt)

	ctx.SetParam("sampler_fan_out", 8)
	ctx.SetParam("evaluate_break_at", 100)
	cfg = samplerConfig(ctx)
	assert.Equal(t, 8, cfg.FanOut)
	assert.Equal(t, 100, cfg.EvaluateBreakAt)
}

func TestDefaultContextModelParams(t *testing.T) {
	ctx := CreateDefaultContext()
	assert.Equal(t, 64, context.GetParamOr(ctx, ParamEmbeddingDim, 0))
	assert.Equal(t, 2, context.GetParamOr(ctx, ParamNumGraphUpdates, 0))
	assert.Greater(t, context.GetParamOr(ctx, "train_steps", 0), 0)
}
